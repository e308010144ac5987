// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/ptrace"
	"github.com/gogpu/ptrace/gpucore"
)

// ErrReleased is returned by Dispatch and Composite after Release.
var ErrReleased = errors.New("gpu: released")

// KernelConfig configures a Kernel.
type KernelConfig struct {
	// Label names the shader modules. Default: "path_trace".
	Label string

	// EntryPoint is the compute entry point. Default: "main".
	EntryPoint string
}

func (c KernelConfig) withDefaults() KernelConfig {
	if c.Label == "" {
		c.Label = "path_trace"
	}
	if c.EntryPoint == "" {
		c.EntryPoint = "main"
	}
	return c
}

// ShaderSource returns SPIR-V for the kernel variant binding exactly the
// scene buffers in mask.
type ShaderSource func(mask ptrace.BindingMask) ([]uint32, error)

// WGSLSource builds a ShaderSource from a WGSL kernel body. Each variant is
// Prelude(mask) followed by body, compiled with naga.
func WGSLSource(body string) ShaderSource {
	return func(mask ptrace.BindingMask) ([]uint32, error) {
		return CompileWGSL(Prelude(mask) + "\n" + body)
	}
}

// SPIRVSource returns a ShaderSource that hands out the same module for
// every mask. Useful when the device ignores the shader code.
func SPIRVSource(spirv []uint32) ShaderSource {
	return func(ptrace.BindingMask) ([]uint32, error) { return spirv, nil }
}

type variant struct {
	module     gpucore.ShaderModuleID
	bindLayout gpucore.BindGroupLayoutID
	pipeLayout gpucore.PipelineLayoutID
	pipeline   gpucore.ComputePipelineID
}

// Kernel dispatches a tracing compute shader. It implements ptrace.Kernel.
//
// The bind group layout differs per set of present scene buffers, so one
// pipeline is built and cached per binding mask. The uniform buffer is
// owned by the Kernel; the Result target and scene buffers belong to the
// caller.
type Kernel struct {
	mu       sync.Mutex
	adapter  gpucore.GPUAdapter
	source   ShaderSource
	cfg      KernelConfig
	uniforms gpucore.BufferID
	variants map[ptrace.BindingMask]*variant
	released bool
}

var _ ptrace.Kernel = (*Kernel)(nil)

// NewKernel creates a kernel on adapter. Pipelines are built lazily.
func NewKernel(adapter gpucore.GPUAdapter, source ShaderSource, cfg KernelConfig) (*Kernel, error) {
	if adapter == nil {
		return nil, ptrace.ErrNilAdapter
	}
	if source == nil {
		return nil, fmt.Errorf("gpu: nil shader source")
	}
	return &Kernel{
		adapter:  adapter,
		source:   source,
		cfg:      cfg.withDefaults(),
		variants: make(map[ptrace.BindingMask]*variant),
	}, nil
}

// Dispatch implements ptrace.Kernel. It binds the uniforms, the Result
// target and every buffer in p.Buffers, dispatches one workgroup per
// 8x8 tile and submits.
func (k *Kernel) Dispatch(p *ptrace.KernelParams) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return ErrReleased
	}

	if k.uniforms == gpucore.InvalidID {
		id, err := k.adapter.CreateBuffer(ptrace.UniformsSize,
			gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst, k.cfg.Label+"_uniforms")
		if err != nil {
			return fmt.Errorf("gpu: create uniform buffer: %w", err)
		}
		k.uniforms = id
	}

	mask := p.Mask()
	v, err := k.variantLocked(mask)
	if err != nil {
		return err
	}

	k.adapter.WriteBuffer(k.uniforms, 0, p.Uniforms.Bytes())

	entries := []gpucore.BindGroupEntry{
		{Binding: ptrace.SlotUniforms, Buffer: k.uniforms, Size: ptrace.UniformsSize},
		{Binding: ptrace.SlotResult, Buffer: p.Result.Buffer, Size: p.Result.Size()},
	}
	for _, kind := range ptrace.SceneKinds {
		b, ok := p.Buffers[kind]
		if !ok {
			continue
		}
		slot, _ := ptrace.BindingSlot(kind)
		entries = append(entries, gpucore.BindGroupEntry{Binding: slot, Buffer: b.Buffer, Size: b.Size()})
	}
	group, err := k.adapter.CreateBindGroup(v.bindLayout, entries)
	if err != nil {
		return fmt.Errorf("gpu: create kernel bind group: %w", err)
	}
	defer k.adapter.DestroyBindGroup(group)

	gx, gy := p.Groups()
	pass := k.adapter.BeginComputePass()
	pass.SetPipeline(v.pipeline)
	pass.SetBindGroup(0, group)
	pass.Dispatch(gx, gy, 1)
	pass.End()
	if err := k.adapter.Submit(); err != nil {
		return fmt.Errorf("gpu: submit kernel: %w", err)
	}
	return nil
}

func (k *Kernel) variantLocked(mask ptrace.BindingMask) (*variant, error) {
	if v, ok := k.variants[mask]; ok {
		return v, nil
	}
	spirv, err := k.source(mask)
	if err != nil {
		return nil, fmt.Errorf("gpu: kernel source for bindings %#x: %w", uint32(mask), err)
	}

	entries := []gpucore.BindGroupLayoutEntry{
		{Binding: ptrace.SlotUniforms, Type: gpucore.BindingTypeUniformBuffer, MinBindingSize: ptrace.UniformsSize},
		{Binding: ptrace.SlotResult, Type: gpucore.BindingTypeStorageBuffer},
	}
	for _, kind := range ptrace.SceneKinds {
		if mask.Has(kind) {
			slot, _ := ptrace.BindingSlot(kind)
			entries = append(entries, gpucore.BindGroupLayoutEntry{
				Binding: slot, Type: gpucore.BindingTypeReadOnlyStorageBuffer,
			})
		}
	}

	label := k.cfg.Label
	v, err := buildPipeline(k.adapter, label, spirv, k.cfg.EntryPoint, entries)
	if err != nil {
		return nil, err
	}
	k.variants[mask] = v
	ptrace.Logger().Debug("gpu: kernel pipeline created", "label", label, "bindings", uint32(mask))
	return v, nil
}

// buildPipeline creates a shader module, layouts and a compute pipeline,
// releasing whatever was created if a later step fails.
func buildPipeline(a gpucore.GPUAdapter, label string, spirv []uint32, entryPoint string,
	entries []gpucore.BindGroupLayoutEntry,
) (*variant, error) {
	v := &variant{}
	var err error
	if v.module, err = a.CreateShaderModule(spirv, label); err != nil {
		return nil, fmt.Errorf("gpu: create %s shader module: %w", label, err)
	}
	if v.bindLayout, err = a.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: label + "_bind_layout", Entries: entries,
	}); err != nil {
		v.destroy(a)
		return nil, fmt.Errorf("gpu: create %s bind group layout: %w", label, err)
	}
	if v.pipeLayout, err = a.CreatePipelineLayout([]gpucore.BindGroupLayoutID{v.bindLayout}); err != nil {
		v.destroy(a)
		return nil, fmt.Errorf("gpu: create %s pipeline layout: %w", label, err)
	}
	if v.pipeline, err = a.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label: label, Layout: v.pipeLayout, ShaderModule: v.module, EntryPoint: entryPoint,
	}); err != nil {
		v.destroy(a)
		return nil, fmt.Errorf("gpu: create %s pipeline: %w", label, err)
	}
	return v, nil
}

func (v *variant) destroy(a gpucore.GPUAdapter) {
	if v.pipeline != gpucore.InvalidID {
		a.DestroyComputePipeline(v.pipeline)
	}
	if v.pipeLayout != gpucore.InvalidID {
		a.DestroyPipelineLayout(v.pipeLayout)
	}
	if v.bindLayout != gpucore.InvalidID {
		a.DestroyBindGroupLayout(v.bindLayout)
	}
	if v.module != gpucore.InvalidID {
		a.DestroyShaderModule(v.module)
	}
}

// Pipelines returns the number of cached pipeline variants.
func (k *Kernel) Pipelines() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.variants)
}

// Release destroys every pipeline and the uniform buffer. The Kernel is
// unusable afterwards.
func (k *Kernel) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return
	}
	for mask, v := range k.variants {
		v.destroy(k.adapter)
		delete(k.variants, mask)
	}
	if k.uniforms != gpucore.InvalidID {
		k.adapter.DestroyBuffer(k.uniforms)
		k.uniforms = gpucore.InvalidID
	}
	k.released = true
}
