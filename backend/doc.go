// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package backend selects the device the tracer runs on.
//
// Device backends register a factory from init() and are chosen at
// runtime. Importing a backend package registers it:
//
//	import (
//		_ "github.com/gogpu/ptrace/backend/native"
//		_ "github.com/gogpu/ptrace/backend/software"
//	)
//
// # Backend Selection
//
// Use Default() to open the best available device, or Open() to request a
// specific backend by name:
//
//	name, dev, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
//	dev, err := backend.Open(backend.BackendSoftware)
//
// # Available Backends
//
//   - "native": gogpu/wgpu HAL device (Vulkan)
//   - "software": host memory, always available
package backend
