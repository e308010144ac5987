// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"

	"github.com/gogpu/ptrace/gpucore"
)

// Backend names.
const (
	// BackendNative is the HAL device backend (backend/native).
	BackendNative = "native"

	// BackendSoftware is the host-memory backend (backend/software).
	BackendSoftware = "software"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or none could be opened.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Device is an opened GPU device. Close releases every resource created
// through it and, if the backend owns it, the device itself.
type Device interface {
	gpucore.GPUAdapter
	Close()
}

// Factory opens a device. It returns an error when the backend cannot run
// on this machine, for example when no GPU is present.
type Factory func() (Device, error)
