// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gogpu/ptrace"
	"github.com/gogpu/ptrace/gpucore"
)

//go:embed shaders/accumulate.wgsl
var accumulateWGSL string

// AccumulateLabel is the shader module label of the accumulation blend.
const AccumulateLabel = "accumulate"

const compositeParamsSize = 16

// Compositor blends the Result target into the accumulation target with a
// compute shader. It implements ptrace.Compositor.
//
// The blend weights are exact, but the shader evaluates
// (n*mean + current)/(n+1) in float32, so rounding error grows with the
// sample count. ptrace.CPUCompositor evaluates the same expression in
// float64 and only rounds the stored result.
type Compositor struct {
	mu       sync.Mutex
	adapter  gpucore.GPUAdapter
	pipe     *variant
	params   gpucore.BufferID
	released bool
}

var _ ptrace.Compositor = (*Compositor)(nil)

// AccumulateWGSL returns the WGSL source of the accumulation blend.
func AccumulateWGSL() string { return accumulateWGSL }

// NewCompositor compiles the accumulation shader with naga and builds its
// pipeline on adapter.
func NewCompositor(adapter gpucore.GPUAdapter) (*Compositor, error) {
	if adapter == nil {
		return nil, ptrace.ErrNilAdapter
	}
	spirv, err := CompileWGSL(accumulateWGSL)
	if err != nil {
		return nil, fmt.Errorf("gpu: accumulate shader: %w", err)
	}
	return NewCompositorFromSPIRV(adapter, spirv)
}

// NewCompositorFromSPIRV builds the compositor from precompiled SPIR-V.
func NewCompositorFromSPIRV(adapter gpucore.GPUAdapter, spirv []uint32) (*Compositor, error) {
	if adapter == nil {
		return nil, ptrace.ErrNilAdapter
	}
	pipe, err := buildPipeline(adapter, AccumulateLabel, spirv, "main", []gpucore.BindGroupLayoutEntry{
		{Binding: 0, Type: gpucore.BindingTypeUniformBuffer, MinBindingSize: compositeParamsSize},
		{Binding: 1, Type: gpucore.BindingTypeReadOnlyStorageBuffer},
		{Binding: 2, Type: gpucore.BindingTypeStorageBuffer},
	})
	if err != nil {
		return nil, err
	}
	params, err := adapter.CreateBuffer(compositeParamsSize,
		gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst, "accumulate_params")
	if err != nil {
		pipe.destroy(adapter)
		return nil, fmt.Errorf("gpu: create accumulate params: %w", err)
	}
	return &Compositor{adapter: adapter, pipe: pipe, params: params}, nil
}

// Composite implements ptrace.Compositor.
func (c *Compositor) Composite(p *ptrace.CompositeParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if p.Single.Size() != p.Accumulated.Size() {
		return fmt.Errorf("gpu: composite size mismatch: %d vs %d bytes", p.Single.Size(), p.Accumulated.Size())
	}

	var block [compositeParamsSize]byte
	binary.LittleEndian.PutUint32(block[0:], uint32(p.Width))  //nolint:gosec // validated by the tracer
	binary.LittleEndian.PutUint32(block[4:], uint32(p.Height)) //nolint:gosec // validated by the tracer
	binary.LittleEndian.PutUint32(block[8:], p.Sample)
	c.adapter.WriteBuffer(c.params, 0, block[:])

	group, err := c.adapter.CreateBindGroup(c.pipe.bindLayout, []gpucore.BindGroupEntry{
		{Binding: 0, Buffer: c.params, Size: compositeParamsSize},
		{Binding: 1, Buffer: p.Single.Buffer, Size: p.Single.Size()},
		{Binding: 2, Buffer: p.Accumulated.Buffer, Size: p.Accumulated.Size()},
	})
	if err != nil {
		return fmt.Errorf("gpu: create accumulate bind group: %w", err)
	}
	defer c.adapter.DestroyBindGroup(group)

	pass := c.adapter.BeginComputePass()
	pass.SetPipeline(c.pipe.pipeline)
	pass.SetBindGroup(0, group)
	pass.Dispatch(gpucore.WorkgroupCount(p.Width, ptrace.TileSize), gpucore.WorkgroupCount(p.Height, ptrace.TileSize), 1)
	pass.End()
	if err := c.adapter.Submit(); err != nil {
		return fmt.Errorf("gpu: submit accumulate: %w", err)
	}
	return nil
}

// Release destroys the pipeline and the params buffer.
func (c *Compositor) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.pipe.destroy(c.adapter)
	c.adapter.DestroyBuffer(c.params)
	c.released = true
}
