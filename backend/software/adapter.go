// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package software provides a host-memory implementation of
// gpucore.GPUAdapter.
//
// Buffers are plain byte slices and compute pipelines run Go functions
// registered per shader module label. It serves as the CPU fallback device
// and as the device used by tests that need to observe GPU traffic.
package software

import (
	"fmt"
	"sync"

	"github.com/gogpu/ptrace/backend"
	"github.com/gogpu/ptrace/gpucore"
)

func init() {
	backend.Register(backend.BackendSoftware, func() (backend.Device, error) {
		return NewAdapter(), nil
	})
}

// Invocation describes one compute dispatch handed to a Program.
type Invocation struct {
	// Label is the shader module label.
	Label string

	// EntryPoint is the pipeline entry point.
	EntryPoint string

	// Groups is the dispatched workgroup count.
	Groups [3]uint32

	// Buffers maps binding index to the live backing store of the bound
	// buffer range. Writes are visible to later ReadBuffer calls.
	Buffers map[uint32][]byte
}

// Program emulates a compute shader on the CPU. It runs with the adapter
// locked and must not call back into the adapter.
type Program func(inv *Invocation) error

// Stats counts adapter activity.
type Stats struct {
	BuffersCreated   int
	BuffersDestroyed int
	LiveBuffers      int
	LiveBindGroups   int
	Writes           int
	Dispatches       int
	Submits          int
}

type pipeline struct {
	label      string
	entryPoint string
}

type dispatch struct {
	pipeline  gpucore.ComputePipelineID
	bindGroup gpucore.BindGroupID
	groups    [3]uint32
}

// Adapter is a gpucore.GPUAdapter backed by host memory.
//
// Adapter is safe for concurrent use. Dispatches are recorded by compute
// passes and executed, in order, on Submit.
type Adapter struct {
	mu     sync.Mutex
	nextID uint64

	buffers          map[gpucore.BufferID][]byte
	modules          map[gpucore.ShaderModuleID]string
	bindGroupLayouts map[gpucore.BindGroupLayoutID]gpucore.BindGroupLayoutDesc
	pipelineLayouts  map[gpucore.PipelineLayoutID][]gpucore.BindGroupLayoutID
	pipelines        map[gpucore.ComputePipelineID]pipeline
	bindGroups       map[gpucore.BindGroupID][]gpucore.BindGroupEntry

	programs map[string]Program
	pending  []dispatch

	failAllocs int
	memLimit   int
	memUsed    int
	stats      Stats
}

var _ backend.Device = (*Adapter)(nil)

// NewAdapter creates an empty software device.
func NewAdapter() *Adapter {
	return &Adapter{
		nextID:           1,
		buffers:          make(map[gpucore.BufferID][]byte),
		modules:          make(map[gpucore.ShaderModuleID]string),
		bindGroupLayouts: make(map[gpucore.BindGroupLayoutID]gpucore.BindGroupLayoutDesc),
		pipelineLayouts:  make(map[gpucore.PipelineLayoutID][]gpucore.BindGroupLayoutID),
		pipelines:        make(map[gpucore.ComputePipelineID]pipeline),
		bindGroups:       make(map[gpucore.BindGroupID][]gpucore.BindGroupEntry),
		programs:         make(map[string]Program),
	}
}

// Register installs the program run for pipelines built from shader
// modules with the given label.
func (a *Adapter) Register(label string, p Program) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.programs[label] = p
}

// FailAllocations makes the next n CreateBuffer calls fail with
// gpucore.ErrOutOfMemory.
func (a *Adapter) FailAllocations(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failAllocs = n
}

// SetMemoryLimit caps the total bytes of live buffers. Zero means unlimited.
func (a *Adapter) SetMemoryLimit(bytes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memLimit = bytes
}

// Stats returns a snapshot of the activity counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.stats
	st.LiveBuffers = len(a.buffers)
	st.LiveBindGroups = len(a.bindGroups)
	return st
}

// Bytes returns a copy of the contents of a live buffer, or nil.
func (a *Adapter) Bytes(id gpucore.BufferID) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[id]
	if !ok {
		return nil
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

func (a *Adapter) newID() uint64 {
	id := a.nextID
	a.nextID++
	return id
}

// === Shader Compilation ===

// CreateShaderModule records the module label. The SPIR-V is not executed;
// dispatches run the Program registered for the label.
func (a *Adapter) CreateShaderModule(spirv []uint32, label string) (gpucore.ShaderModuleID, error) {
	if len(spirv) == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: empty SPIR-V bytecode")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.ShaderModuleID(a.newID())
	a.modules[id] = label
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (a *Adapter) DestroyShaderModule(id gpucore.ShaderModuleID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.modules, id)
}

// === Buffer Management ===

// CreateBuffer allocates a zeroed host buffer.
func (a *Adapter) CreateBuffer(size int, _ gpucore.BufferUsage, label string) (gpucore.BufferID, error) {
	if size <= 0 {
		return gpucore.InvalidID, fmt.Errorf("software: buffer size must be positive")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAllocs > 0 {
		a.failAllocs--
		return gpucore.InvalidID, fmt.Errorf("software: %s (%d bytes): %w", label, size, gpucore.ErrOutOfMemory)
	}
	if a.memLimit > 0 && a.memUsed+size > a.memLimit {
		return gpucore.InvalidID, fmt.Errorf("software: %s (%d bytes, %d in use): %w",
			label, size, a.memUsed, gpucore.ErrOutOfMemory)
	}
	id := gpucore.BufferID(a.newID())
	a.buffers[id] = make([]byte, size)
	a.memUsed += size
	a.stats.BuffersCreated++
	return id, nil
}

// DestroyBuffer releases a buffer. Unknown IDs are ignored.
func (a *Adapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.buffers[id]; ok {
		a.memUsed -= len(buf)
		delete(a.buffers, id)
		a.stats.BuffersDestroyed++
	}
}

// WriteBuffer copies data into a buffer. Writes past the end are truncated.
func (a *Adapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[id]
	if !ok || offset >= uint64(len(buf)) {
		return
	}
	copy(buf[offset:], data)
	a.stats.Writes++
}

// ReadBuffer returns a copy of size bytes starting at offset.
func (a *Adapter) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[id]
	if !ok {
		return nil, fmt.Errorf("software: buffer %d not found", id)
	}
	if offset+size > uint64(len(buf)) {
		return nil, fmt.Errorf("software: read %d+%d past buffer size %d", offset, size, len(buf))
	}
	out := make([]byte, size)
	copy(out, buf[offset:offset+size])
	return out, nil
}

// === Pipeline Management ===

// CreateBindGroupLayout records a bind group layout.
func (a *Adapter) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("software: nil bind group layout descriptor")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id := gpucore.BindGroupLayoutID(a.newID())
	d := *desc
	d.Entries = append([]gpucore.BindGroupLayoutEntry(nil), desc.Entries...)
	a.bindGroupLayouts[id] = d
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (a *Adapter) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.bindGroupLayouts, id)
}

// CreatePipelineLayout records a pipeline layout.
func (a *Adapter) CreatePipelineLayout(layouts []gpucore.BindGroupLayoutID) (gpucore.PipelineLayoutID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range layouts {
		if _, ok := a.bindGroupLayouts[l]; !ok {
			return gpucore.InvalidID, fmt.Errorf("software: bind group layout %d not found", l)
		}
	}
	id := gpucore.PipelineLayoutID(a.newID())
	a.pipelineLayouts[id] = append([]gpucore.BindGroupLayoutID(nil), layouts...)
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (a *Adapter) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pipelineLayouts, id)
}

// CreateComputePipeline records a compute pipeline.
func (a *Adapter) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("software: nil compute pipeline descriptor")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pipelineLayouts[desc.Layout]; !ok {
		return gpucore.InvalidID, fmt.Errorf("software: pipeline layout %d not found", desc.Layout)
	}
	label, ok := a.modules[desc.ShaderModule]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("software: shader module %d not found", desc.ShaderModule)
	}
	id := gpucore.ComputePipelineID(a.newID())
	a.pipelines[id] = pipeline{label: label, entryPoint: desc.EntryPoint}
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (a *Adapter) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pipelines, id)
}

// CreateBindGroup validates entries against the layout and records them.
func (a *Adapter) CreateBindGroup(layout gpucore.BindGroupLayoutID, entries []gpucore.BindGroupEntry) (gpucore.BindGroupID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	desc, ok := a.bindGroupLayouts[layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("software: bind group layout %d not found", layout)
	}
	if len(entries) != len(desc.Entries) {
		return gpucore.InvalidID, fmt.Errorf("software: %d entries for layout %q with %d bindings",
			len(entries), desc.Label, len(desc.Entries))
	}
	for _, e := range entries {
		if _, ok := a.buffers[e.Buffer]; !ok {
			return gpucore.InvalidID, fmt.Errorf("software: binding %d: buffer %d not found", e.Binding, e.Buffer)
		}
	}
	id := gpucore.BindGroupID(a.newID())
	a.bindGroups[id] = append([]gpucore.BindGroupEntry(nil), entries...)
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (a *Adapter) DestroyBindGroup(id gpucore.BindGroupID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.bindGroups, id)
}

// === Command Recording and Execution ===

// BeginComputePass begins recording a compute pass.
func (a *Adapter) BeginComputePass() gpucore.ComputePassEncoder {
	return &computePass{adapter: a}
}

// Submit runs every recorded dispatch in order.
func (a *Adapter) Submit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	pending := a.pending
	a.pending = nil
	a.stats.Submits++
	for i, d := range pending {
		if err := a.runLocked(d); err != nil {
			return fmt.Errorf("software: dispatch %d: %w", i, err)
		}
	}
	return nil
}

func (a *Adapter) runLocked(d dispatch) error {
	p, ok := a.pipelines[d.pipeline]
	if !ok {
		return fmt.Errorf("pipeline %d not found", d.pipeline)
	}
	entries, ok := a.bindGroups[d.bindGroup]
	if !ok {
		return fmt.Errorf("bind group %d not found", d.bindGroup)
	}
	prog, ok := a.programs[p.label]
	if !ok {
		return fmt.Errorf("no program registered for shader %q", p.label)
	}
	inv := &Invocation{
		Label:      p.label,
		EntryPoint: p.entryPoint,
		Groups:     d.groups,
		Buffers:    make(map[uint32][]byte, len(entries)),
	}
	for _, e := range entries {
		buf, ok := a.buffers[e.Buffer]
		if !ok {
			return fmt.Errorf("binding %d: buffer %d destroyed before submit", e.Binding, e.Buffer)
		}
		end := uint64(len(buf))
		if e.Size > 0 && e.Offset+e.Size < end {
			end = e.Offset + e.Size
		}
		inv.Buffers[e.Binding] = buf[e.Offset:end]
	}
	a.stats.Dispatches++
	return prog(inv)
}

// computePass records dispatches until End.
type computePass struct {
	adapter   *Adapter
	pipeline  gpucore.ComputePipelineID
	bindGroup gpucore.BindGroupID
	recorded  []dispatch
	ended     bool
}

func (p *computePass) SetPipeline(pipeline gpucore.ComputePipelineID) { p.pipeline = pipeline }

func (p *computePass) SetBindGroup(index uint32, group gpucore.BindGroupID) {
	if index == 0 {
		p.bindGroup = group
	}
}

func (p *computePass) Dispatch(x, y, z uint32) {
	if p.ended {
		return
	}
	p.recorded = append(p.recorded, dispatch{
		pipeline:  p.pipeline,
		bindGroup: p.bindGroup,
		groups:    [3]uint32{x, y, z},
	})
}

func (p *computePass) End() {
	if p.ended {
		return
	}
	p.ended = true
	p.adapter.mu.Lock()
	p.adapter.pending = append(p.adapter.pending, p.recorded...)
	p.adapter.mu.Unlock()
}

// Close drops every resource and pending dispatch.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.BuffersDestroyed += len(a.buffers)
	clear(a.buffers)
	clear(a.modules)
	clear(a.bindGroupLayouts)
	clear(a.pipelineLayouts)
	clear(a.pipelines)
	clear(a.bindGroups)
	a.pending = nil
	a.memUsed = 0
}
