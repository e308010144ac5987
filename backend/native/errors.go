// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import "errors"

// Package errors for the HAL backend.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrNoBackend is returned when the requested HAL backend is not
	// compiled in.
	ErrNoBackend = errors.New("native: HAL backend not available")

	// ErrNilProvider is returned when a nil DeviceProvider is passed.
	ErrNilProvider = errors.New("native: nil DeviceProvider")

	// ErrNoHAL is returned when a DeviceProvider does not expose its HAL
	// device and queue.
	ErrNoHAL = errors.New("native: provider does not expose HAL types")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("native: adapter closed")

	// ErrGPUTimeout is returned when a submission does not complete in time.
	ErrGPUTimeout = errors.New("native: timed out waiting for GPU")
)
