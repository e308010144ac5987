// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucore provides the GPU abstractions shared by the ptrace frame
// driver and its backends.
//
// This package defines the [GPUAdapter] interface, which abstracts over the
// backends that can host the path tracer:
//   - backend/native (gogpu/wgpu HAL, real GPU)
//   - backend/software (host memory, CPU fallback and test device)
//
// # Resource Management
//
// GPU resources are managed via opaque IDs ([BufferID], [BindGroupID], etc.).
// The [GPUAdapter] interface provides creation and destruction methods for
// each resource type. Adapters are responsible for tracking the mapping
// between IDs and actual GPU resources.
//
// # Buffer Synchronization
//
// [BufferSync] owns one storage buffer per [BufferKind] and keeps its
// element count and stride equal to the host-side source array:
//
//	sync := gpucore.NewBufferSync(adapter)
//	defer sync.ReleaseAll()
//
//	// Reallocates only when count or stride changed, otherwise re-uploads.
//	if err := gpucore.ReconcileRecords(sync, "Spheres", spheres, 56); err != nil {
//	    return err
//	}
//
//	if b, ok := sync.Binding("Spheres"); ok {
//	    // bind b.Buffer for the dispatch
//	}
package gpucore
