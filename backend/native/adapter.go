// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native implements gpucore.GPUAdapter on gogpu/wgpu/hal.
package native

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/ptrace"
	"github.com/gogpu/ptrace/gpucore"
	"github.com/gogpu/wgpu/hal"
)

// DefaultTimeout bounds every wait for submitted work.
const DefaultTimeout = 5 * time.Second

// pollInterval is the sleep between completion polls.
const pollInterval = 100 * time.Microsecond

// HALAdapter implements gpucore.GPUAdapter using gogpu/wgpu/hal directly.
//
// Compute passes are recorded into one command encoder which Submit ends,
// submits and waits for. ReadBuffer copies through a mappable staging
// buffer and blocks until the copy has completed.
//
// Encoder and upload failures cannot be reported where they happen, since
// BeginComputePass and WriteBuffer return no error. They are held and
// returned by the next Submit, which discards the recorded work.
//
// HALAdapter is safe for concurrent use.
type HALAdapter struct {
	mu      sync.RWMutex
	device  hal.Device
	queue   hal.Queue
	timeout time.Duration

	// owned is set when Close must destroy the device and instance.
	owned    bool
	instance hal.Instance
	name     string

	nextID atomic.Uint64

	buffers          map[gpucore.BufferID]hal.Buffer
	shaderModules    map[gpucore.ShaderModuleID]hal.ShaderModule
	computePipelines map[gpucore.ComputePipelineID]hal.ComputePipeline
	bindGroupLayouts map[gpucore.BindGroupLayoutID]hal.BindGroupLayout
	pipelineLayouts  map[gpucore.PipelineLayoutID]hal.PipelineLayout
	bindGroups       map[gpucore.BindGroupID]hal.BindGroup

	encoder hal.CommandEncoder
	passes  int
	pending error
	closed  bool
}

var _ gpucore.GPUAdapter = (*HALAdapter)(nil)

// NewHALAdapter wraps a device and queue owned by the caller. Close
// releases the adapter's resources but not the device.
func NewHALAdapter(device hal.Device, queue hal.Queue) *HALAdapter {
	a := &HALAdapter{
		device:           device,
		queue:            queue,
		timeout:          DefaultTimeout,
		buffers:          make(map[gpucore.BufferID]hal.Buffer),
		shaderModules:    make(map[gpucore.ShaderModuleID]hal.ShaderModule),
		computePipelines: make(map[gpucore.ComputePipelineID]hal.ComputePipeline),
		bindGroupLayouts: make(map[gpucore.BindGroupLayoutID]hal.BindGroupLayout),
		pipelineLayouts:  make(map[gpucore.PipelineLayoutID]hal.PipelineLayout),
		bindGroups:       make(map[gpucore.BindGroupID]hal.BindGroup),
	}
	// 0 is gpucore.InvalidID
	a.nextID.Store(1)
	return a
}

func (a *HALAdapter) newID() uint64 {
	return a.nextID.Add(1) - 1
}

// SetTimeout changes the fence wait timeout. Non-positive values restore
// DefaultTimeout.
func (a *HALAdapter) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	a.mu.Lock()
	a.timeout = d
	a.mu.Unlock()
}

// Name returns the adapter name reported by the driver, if known.
func (a *HALAdapter) Name() string { return a.name }

// LiveResources returns the number of tracked HAL objects.
func (a *HALAdapter) LiveResources() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.buffers) + len(a.shaderModules) + len(a.computePipelines) +
		len(a.bindGroupLayouts) + len(a.pipelineLayouts) + len(a.bindGroups)
}

func (a *HALAdapter) checkOpen() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	return nil
}

// === Shader Compilation ===

// CreateShaderModule creates a shader module from SPIR-V bytecode.
func (a *HALAdapter) CreateShaderModule(spirv []uint32, label string) (gpucore.ShaderModuleID, error) {
	if err := a.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	if len(spirv) == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: empty SPIR-V bytecode")
	}
	module, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create shader module %q: %w", label, err)
	}
	id := gpucore.ShaderModuleID(a.newID())
	a.mu.Lock()
	a.shaderModules[id] = module
	a.mu.Unlock()
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (a *HALAdapter) DestroyShaderModule(id gpucore.ShaderModuleID) {
	a.mu.Lock()
	module, ok := a.shaderModules[id]
	delete(a.shaderModules, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyShaderModule(module)
	}
}

// === Buffer Management ===

// CreateBuffer creates a GPU buffer.
func (a *HALAdapter) CreateBuffer(size int, usage gpucore.BufferUsage, label string) (gpucore.BufferID, error) {
	if err := a.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	if size <= 0 {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q size %d must be positive", label, size)
	}
	buffer, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(size),
		Usage: convertBufferUsage(usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer %q (%d bytes): %w", label, size, err)
	}
	id := gpucore.BufferID(a.newID())
	a.mu.Lock()
	a.buffers[id] = buffer
	a.mu.Unlock()
	ptrace.Logger().Debug("native: buffer created", "label", label, "bytes", size)
	return id, nil
}

// DestroyBuffer releases a GPU buffer.
func (a *HALAdapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	buffer, ok := a.buffers[id]
	delete(a.buffers, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyBuffer(buffer)
	}
}

// WriteBuffer writes data to a buffer. A failed write is returned by the
// next Submit.
func (a *HALAdapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) {
	a.mu.RLock()
	buffer, ok := a.buffers[id]
	a.mu.RUnlock()
	if !ok || len(data) == 0 {
		return
	}
	if err := a.queue.WriteBuffer(buffer, offset, data); err != nil {
		ptrace.Logger().Error("native: write buffer", "buffer", id, "err", err)
		a.mu.Lock()
		a.holdLocked(fmt.Errorf("native: write buffer %d: %w", id, err))
		a.mu.Unlock()
	}
}

// holdLocked records err for the next Submit. The first error wins.
func (a *HALAdapter) holdLocked(err error) {
	if a.pending == nil {
		a.pending = err
	}
}

// ReadBuffer copies size bytes at offset into a staging buffer and returns
// them once the copy has completed.
func (a *HALAdapter) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	a.mu.RLock()
	buffer, ok := a.buffers[id]
	timeout, closed := a.timeout, a.closed
	a.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("native: buffer %d not found", id)
	}
	if size == 0 {
		return nil, nil
	}

	staging, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create staging buffer: %w", err)
	}
	defer a.device.DestroyBuffer(staging)

	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback_encoder"})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("readback"); err != nil {
		return nil, fmt.Errorf("native: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(buffer, staging, []hal.BufferCopy{
		{SrcOffset: offset, DstOffset: 0, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmdBuf)

	if err := a.submitAndWait(cmdBuf, timeout); err != nil {
		return nil, err
	}
	mapping, err := a.device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("native: map staging buffer: %w", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(mapping.Ptr), size))
	if err := a.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("native: unmap staging buffer: %w", err)
	}
	return out, nil
}

// === Pipeline Management ===

// CreateBindGroupLayout creates a bind group layout. Every entry is visible
// to the compute stage.
func (a *HALAdapter) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if err := a.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil bind group layout descriptor")
	}
	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entries[i] = convertBindGroupLayoutEntry(e)
	}
	layout, err := a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create bind group layout %q: %w", desc.Label, err)
	}
	id := gpucore.BindGroupLayoutID(a.newID())
	a.mu.Lock()
	a.bindGroupLayouts[id] = layout
	a.mu.Unlock()
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (a *HALAdapter) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	a.mu.Lock()
	layout, ok := a.bindGroupLayouts[id]
	delete(a.bindGroupLayouts, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyBindGroupLayout(layout)
	}
}

// CreatePipelineLayout creates a pipeline layout.
func (a *HALAdapter) CreatePipelineLayout(layouts []gpucore.BindGroupLayoutID) (gpucore.PipelineLayoutID, error) {
	a.mu.RLock()
	halLayouts := make([]hal.BindGroupLayout, len(layouts))
	for i, id := range layouts {
		layout, ok := a.bindGroupLayouts[id]
		if !ok {
			a.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("native: bind group layout %d not found", id)
		}
		halLayouts[i] = layout
	}
	a.mu.RUnlock()

	pipelineLayout, err := a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "pipeline_layout",
		BindGroupLayouts: halLayouts,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create pipeline layout: %w", err)
	}
	id := gpucore.PipelineLayoutID(a.newID())
	a.mu.Lock()
	a.pipelineLayouts[id] = pipelineLayout
	a.mu.Unlock()
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (a *HALAdapter) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	a.mu.Lock()
	layout, ok := a.pipelineLayouts[id]
	delete(a.pipelineLayouts, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyPipelineLayout(layout)
	}
}

// CreateComputePipeline creates a compute pipeline.
func (a *HALAdapter) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil compute pipeline descriptor")
	}
	a.mu.RLock()
	layout, layoutOK := a.pipelineLayouts[desc.Layout]
	module, moduleOK := a.shaderModules[desc.ShaderModule]
	a.mu.RUnlock()
	if !layoutOK {
		return gpucore.InvalidID, fmt.Errorf("native: pipeline layout %d not found", desc.Layout)
	}
	if !moduleOK {
		return gpucore.InvalidID, fmt.Errorf("native: shader module %d not found", desc.ShaderModule)
	}

	pipeline, err := a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Compute: hal.ComputeState{Module: module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create compute pipeline %q: %w", desc.Label, err)
	}
	id := gpucore.ComputePipelineID(a.newID())
	a.mu.Lock()
	a.computePipelines[id] = pipeline
	a.mu.Unlock()
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (a *HALAdapter) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	a.mu.Lock()
	pipeline, ok := a.computePipelines[id]
	delete(a.computePipelines, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyComputePipeline(pipeline)
	}
}

// CreateBindGroup creates a bind group of buffer bindings.
func (a *HALAdapter) CreateBindGroup(layout gpucore.BindGroupLayoutID, entries []gpucore.BindGroupEntry) (gpucore.BindGroupID, error) {
	a.mu.RLock()
	halLayout, ok := a.bindGroupLayouts[layout]
	if !ok {
		a.mu.RUnlock()
		return gpucore.InvalidID, fmt.Errorf("native: bind group layout %d not found", layout)
	}
	halEntries := make([]gputypes.BindGroupEntry, len(entries))
	for i, e := range entries {
		buffer, ok := a.buffers[e.Buffer]
		if !ok {
			a.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("native: binding %d: buffer %d not found", e.Binding, e.Buffer)
		}
		halEntries[i] = gputypes.BindGroupEntry{
			Binding: e.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: buffer.NativeHandle(),
				Offset: e.Offset,
				Size:   e.Size,
			},
		}
	}
	a.mu.RUnlock()

	group, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "bind_group",
		Layout:  halLayout,
		Entries: halEntries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create bind group: %w", err)
	}
	id := gpucore.BindGroupID(a.newID())
	a.mu.Lock()
	a.bindGroups[id] = group
	a.mu.Unlock()
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (a *HALAdapter) DestroyBindGroup(id gpucore.BindGroupID) {
	a.mu.Lock()
	group, ok := a.bindGroups[id]
	delete(a.bindGroups, id)
	a.mu.Unlock()
	if ok {
		a.device.DestroyBindGroup(group)
	}
}

// === Command Recording and Execution ===

// BeginComputePass begins a compute pass on the pending command encoder,
// creating it if needed. If the encoder cannot be created the returned pass
// records nothing and the error is returned by the next Submit.
func (a *HALAdapter) BeginComputePass() gpucore.ComputePassEncoder {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.encoder == nil {
		encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "compute_encoder"})
		if err != nil {
			ptrace.Logger().Error("native: create command encoder", "err", err)
			a.holdLocked(fmt.Errorf("native: create command encoder: %w", err))
			return &computePass{adapter: a}
		}
		if err := encoder.BeginEncoding("compute"); err != nil {
			encoder.Destroy()
			ptrace.Logger().Error("native: begin encoding", "err", err)
			a.holdLocked(fmt.Errorf("native: begin encoding: %w", err))
			return &computePass{adapter: a}
		}
		a.encoder = encoder
	}
	a.passes++
	return &computePass{
		adapter: a,
		pass:    a.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "compute_pass"}),
	}
}

// Submit ends the pending encoder, submits it and waits for completion.
// If an encoder or upload failure was held since the last Submit, the
// recorded work is discarded and that error is returned. Submit without
// recorded passes is a no-op.
func (a *HALAdapter) Submit() error {
	a.mu.Lock()
	encoder, passes, timeout, closed, pending := a.encoder, a.passes, a.timeout, a.closed, a.pending
	a.encoder, a.passes, a.pending = nil, 0, nil
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if pending != nil {
		if encoder != nil {
			encoder.DiscardEncoding()
		}
		return pending
	}
	if encoder == nil {
		return nil
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmdBuf)
	if err := a.submitAndWait(cmdBuf, timeout); err != nil {
		return err
	}
	ptrace.Logger().Debug("native: submitted", "passes", passes)
	return nil
}

// submitAndWait submits cmdBuf and polls the queue until its submission
// index has completed.
func (a *HALAdapter) submitAndWait(cmdBuf hal.CommandBuffer, timeout time.Duration) error {
	index, err := a.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	deadline := time.Now().Add(timeout)
	for a.queue.PollCompleted() < index {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v (submission %d)", ErrGPUTimeout, timeout, index)
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// Close destroys every resource created through the adapter. The device
// and instance are destroyed only when the adapter opened them.
func (a *HALAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.encoder != nil {
		a.encoder.DiscardEncoding()
	}
	a.encoder, a.passes, a.pending = nil, 0, nil
	for id, g := range a.bindGroups {
		a.device.DestroyBindGroup(g)
		delete(a.bindGroups, id)
	}
	for id, p := range a.computePipelines {
		a.device.DestroyComputePipeline(p)
		delete(a.computePipelines, id)
	}
	for id, l := range a.pipelineLayouts {
		a.device.DestroyPipelineLayout(l)
		delete(a.pipelineLayouts, id)
	}
	for id, l := range a.bindGroupLayouts {
		a.device.DestroyBindGroupLayout(l)
		delete(a.bindGroupLayouts, id)
	}
	for id, m := range a.shaderModules {
		a.device.DestroyShaderModule(m)
		delete(a.shaderModules, id)
	}
	for id, b := range a.buffers {
		a.device.DestroyBuffer(b)
		delete(a.buffers, id)
	}
	if a.owned {
		a.device.Destroy()
		if a.instance != nil {
			a.instance.Destroy()
		}
	}
}

// === Type Conversion Helpers ===

func convertBufferUsage(usage gpucore.BufferUsage) gputypes.BufferUsage {
	var result gputypes.BufferUsage
	if usage.Contains(gpucore.BufferUsageMapRead) {
		result |= gputypes.BufferUsageMapRead
	}
	if usage.Contains(gpucore.BufferUsageCopySrc) {
		result |= gputypes.BufferUsageCopySrc
	}
	if usage.Contains(gpucore.BufferUsageCopyDst) {
		result |= gputypes.BufferUsageCopyDst
	}
	if usage.Contains(gpucore.BufferUsageUniform) {
		result |= gputypes.BufferUsageUniform
	}
	if usage.Contains(gpucore.BufferUsageStorage) {
		result |= gputypes.BufferUsageStorage
	}
	return result
}

func convertBindGroupLayoutEntry(entry gpucore.BindGroupLayoutEntry) gputypes.BindGroupLayoutEntry {
	result := gputypes.BindGroupLayoutEntry{
		Binding:    entry.Binding,
		Visibility: gputypes.ShaderStageCompute,
	}
	var kind gputypes.BufferBindingType
	switch entry.Type {
	case gpucore.BindingTypeUniformBuffer:
		kind = gputypes.BufferBindingTypeUniform
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		kind = gputypes.BufferBindingTypeReadOnlyStorage
	default:
		kind = gputypes.BufferBindingTypeStorage
	}
	result.Buffer = &gputypes.BufferBindingLayout{Type: kind, MinBindingSize: entry.MinBindingSize}
	return result
}

// === Compute Pass Encoder ===

// computePass implements gpucore.ComputePassEncoder.
type computePass struct {
	adapter *HALAdapter
	pass    hal.ComputePassEncoder
}

func (e *computePass) SetPipeline(pipeline gpucore.ComputePipelineID) {
	if e.pass == nil {
		return
	}
	e.adapter.mu.RLock()
	p, ok := e.adapter.computePipelines[pipeline]
	e.adapter.mu.RUnlock()
	if ok {
		e.pass.SetPipeline(p)
	}
}

func (e *computePass) SetBindGroup(index uint32, group gpucore.BindGroupID) {
	if e.pass == nil {
		return
	}
	e.adapter.mu.RLock()
	g, ok := e.adapter.bindGroups[group]
	e.adapter.mu.RUnlock()
	if ok {
		e.pass.SetBindGroup(index, g, nil)
	}
}

func (e *computePass) Dispatch(x, y, z uint32) {
	if e.pass != nil {
		e.pass.Dispatch(x, y, z)
	}
}

func (e *computePass) End() {
	if e.pass != nil {
		e.pass.End()
	}
}
