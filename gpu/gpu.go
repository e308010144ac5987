// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu runs the tracing kernel and the accumulation blend as compute
// shaders on any gpucore.GPUAdapter.
//
// Shaders are written in WGSL and compiled to SPIR-V with gogpu/naga.
// [Kernel] binds the uniform block, the Result target and whichever scene
// buffers are present, caching one pipeline per binding combination.
// [Compositor] folds the Result target into the running mean on the device.
//
// Usage:
//
//	kernel, err := gpu.NewKernel(adapter, gpu.WGSLSource(body), gpu.KernelConfig{})
//	compositor, err := gpu.NewCompositor(adapter)
//	tracer, err := ptrace.New(adapter, kernel, scene, ptrace.WithCompositor(compositor))
package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
)

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("gpu: compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("gpu: SPIR-V size %d is not a whole number of words", len(spirvBytes))
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[4*i:])
	}
	return words, nil
}
