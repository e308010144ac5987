// Package ptrace drives a progressive GPU path tracer.
//
// # Overview
//
// Every frame the tracer packs the scene into GPU storage buffers, runs a
// compute kernel that writes one noisy sample per pixel, and folds that
// sample into a running average. As long as nothing moves the image
// converges; when the camera, the light or any object moves, accumulation
// restarts.
//
// The tracing kernel itself is opaque. ptrace owns everything around it:
//   - Scene objects ([Sphere], [Mesh]) and their versioned snapshots
//   - Scene buffers, kept in shape by [gpucore.BufferSync]
//   - Motion detection ([ChangeDetector])
//   - Render targets and the sample counter ([Accumulator])
//   - The per-frame sequence ([Tracer])
//
// # Quick Start
//
//	adapter := software.NewAdapter()
//	scene := ptrace.NewScene()
//	scene.Add(ptrace.NewSphere(f32.Vec3{0, 0, 0}, 1, ptrace.Material{Albedo: f32.Vec3{1, 0, 0}}))
//
//	t, err := ptrace.New(adapter, kernel, scene)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	t.OnEnable()
//	defer t.OnDisable()
//	for {
//	    frame, err := t.OnFrameTick(width, height)
//	    ...
//	}
//
// # Kernel Contract
//
// The kernel receives a [KernelUniforms] block in slot 0, the single-sample
// target in slot 1 and, only when non-empty, the Spheres, MeshObjects,
// Vertices, Indices and Skybox buffers in slots 2 to 6. Record layouts are
// fixed: see [SphereRecord], [MeshRecord] and the stride constants.
// It is dispatched in [TileSize] x [TileSize] workgroups.
//
// # Backends
//
// Any [gpucore.GPUAdapter] can host the tracer. backend/native runs on
// Vulkan through gogpu/wgpu; backend/software keeps everything in host
// memory and runs kernels written in Go.
//
// # Logging
//
// ptrace is silent by default. See [SetLogger].
package ptrace
