// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/ptrace/gpucore"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopAdapter opens a noop device and wraps it.
func createNoopAdapter(t *testing.T) (*HALAdapter, hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return NewHALAdapter(openDev.Device, openDev.Queue), openDev.Device, openDev.Queue
}

func TestHALAdapterPipelineLifecycle(t *testing.T) {
	a, _, _ := createNoopAdapter(t)

	buf, err := a.CreateBuffer(64, gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst, "spheres")
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	a.WriteBuffer(buf, 0, make([]byte, 64))

	mod, err := a.CreateShaderModule([]uint32{0x07230203, 0x00010000}, "path_trace")
	if err != nil {
		t.Fatalf("CreateShaderModule() error = %v", err)
	}
	bgl, err := a.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: "kernel",
		Entries: []gpucore.BindGroupLayoutEntry{
			{Binding: 2, Type: gpucore.BindingTypeReadOnlyStorageBuffer},
		},
	})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout() error = %v", err)
	}
	pl, err := a.CreatePipelineLayout([]gpucore.BindGroupLayoutID{bgl})
	if err != nil {
		t.Fatalf("CreatePipelineLayout() error = %v", err)
	}
	pipe, err := a.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label: "path_trace", Layout: pl, ShaderModule: mod, EntryPoint: "main",
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline() error = %v", err)
	}
	bg, err := a.CreateBindGroup(bgl, []gpucore.BindGroupEntry{{Binding: 2, Buffer: buf, Size: 64}})
	if err != nil {
		t.Fatalf("CreateBindGroup() error = %v", err)
	}
	if got := a.LiveResources(); got != 6 {
		t.Errorf("LiveResources() = %d, want 6", got)
	}

	a.DestroyBindGroup(bg)
	a.DestroyComputePipeline(pipe)
	a.DestroyPipelineLayout(pl)
	a.DestroyBindGroupLayout(bgl)
	a.DestroyShaderModule(mod)
	a.DestroyBuffer(buf)
	a.DestroyBuffer(buf)
	if got := a.LiveResources(); got != 0 {
		t.Errorf("LiveResources() = %d after destroy, want 0", got)
	}
}

func TestHALAdapterValidation(t *testing.T) {
	a, _, _ := createNoopAdapter(t)

	if _, err := a.CreateBuffer(0, gpucore.BufferUsageStorage, "empty"); err == nil {
		t.Error("zero size buffer: expected error")
	}
	if _, err := a.CreateShaderModule(nil, "none"); err == nil {
		t.Error("empty SPIR-V: expected error")
	}
	if _, err := a.CreateBindGroupLayout(nil); err == nil {
		t.Error("nil layout descriptor: expected error")
	}
	if _, err := a.CreatePipelineLayout([]gpucore.BindGroupLayoutID{42}); err == nil {
		t.Error("unknown bind group layout: expected error")
	}
	if _, err := a.CreateComputePipeline(&gpucore.ComputePipelineDesc{Layout: 7, ShaderModule: 8}); err == nil {
		t.Error("unknown pipeline layout: expected error")
	}
	bgl, err := a.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Entries: []gpucore.BindGroupLayoutEntry{{Binding: 0, Type: gpucore.BindingTypeUniformBuffer}},
	})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout() error = %v", err)
	}
	if _, err := a.CreateBindGroup(bgl, []gpucore.BindGroupEntry{{Binding: 0, Buffer: 99}}); err == nil {
		t.Error("unknown buffer: expected error")
	}
	if _, err := a.ReadBuffer(99, 0, 4); err == nil {
		t.Error("ReadBuffer of unknown buffer: expected error")
	}
}

func TestHALAdapterSubmitWithoutPasses(t *testing.T) {
	a, _, _ := createNoopAdapter(t)
	if err := a.Submit(); err != nil {
		t.Errorf("Submit() with nothing recorded error = %v", err)
	}
}

// failingEncoderDevice is a noop device whose command encoders cannot be
// created.
type failingEncoderDevice struct {
	hal.Device
	err error
}

func (d *failingEncoderDevice) CreateCommandEncoder(*hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return nil, d.err
}

// stalledQueue is a noop queue that never completes and rejects writes.
type stalledQueue struct {
	hal.Queue
	writeErr error
}

func (q *stalledQueue) PollCompleted() uint64 { return 0 }

func (q *stalledQueue) WriteBuffer(hal.Buffer, uint64, []byte) error { return q.writeErr }

func TestHALAdapterSubmitReportsEncoderFailure(t *testing.T) {
	_, device, queue := createNoopAdapter(t)
	errEncoder := errors.New("encoder pool exhausted")
	a := NewHALAdapter(&failingEncoderDevice{Device: device, err: errEncoder}, queue)

	pass := a.BeginComputePass()
	pass.Dispatch(4, 4, 1)
	pass.End()
	if err := a.Submit(); !errors.Is(err, errEncoder) {
		t.Fatalf("Submit() error = %v, want %v", err, errEncoder)
	}
	if err := a.Submit(); err != nil {
		t.Errorf("second Submit() error = %v, want the failure cleared", err)
	}
}

func TestHALAdapterSubmitReportsWriteFailure(t *testing.T) {
	_, device, queue := createNoopAdapter(t)
	errWrite := errors.New("staging belt full")
	a := NewHALAdapter(device, &stalledQueue{Queue: queue, writeErr: errWrite})
	buf, err := a.CreateBuffer(16, gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst, "target")
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}

	a.WriteBuffer(buf, 0, make([]byte, 16))
	pass := a.BeginComputePass()
	pass.End()
	if err := a.Submit(); !errors.Is(err, errWrite) {
		t.Errorf("Submit() error = %v, want %v", err, errWrite)
	}
}

func TestHALAdapterSubmitTimeout(t *testing.T) {
	_, device, queue := createNoopAdapter(t)
	a := NewHALAdapter(device, &stalledQueue{Queue: queue})
	a.SetTimeout(time.Millisecond)

	pass := a.BeginComputePass()
	pass.End()
	if err := a.Submit(); !errors.Is(err, ErrGPUTimeout) {
		t.Errorf("Submit() error = %v, want ErrGPUTimeout", err)
	}
}

func TestHALAdapterReadBuffer(t *testing.T) {
	a, _, _ := createNoopAdapter(t)
	buf, err := a.CreateBuffer(32, gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc, "result")
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	got, err := a.ReadBuffer(buf, 8, 16)
	if err != nil {
		t.Fatalf("ReadBuffer() error = %v", err)
	}
	if len(got) != 16 {
		t.Errorf("ReadBuffer() returned %d bytes, want 16", len(got))
	}
	if got, err := a.ReadBuffer(buf, 0, 0); err != nil || got != nil {
		t.Errorf("ReadBuffer(size 0) = %v, %v; want nil, nil", got, err)
	}
}

func TestHALAdapterCloseReleasesResources(t *testing.T) {
	a, _, _ := createNoopAdapter(t)
	for i := 0; i < 3; i++ {
		if _, err := a.CreateBuffer(16, gpucore.BufferUsageStorage, "target"); err != nil {
			t.Fatalf("CreateBuffer() error = %v", err)
		}
	}
	if _, err := a.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{}); err != nil {
		t.Fatalf("CreateBindGroupLayout() error = %v", err)
	}
	a.Close()
	a.Close()
	if got := a.LiveResources(); got != 0 {
		t.Errorf("LiveResources() = %d after Close, want 0", got)
	}
	if _, err := a.CreateBuffer(16, gpucore.BufferUsageStorage, "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateBuffer() after Close error = %v, want ErrClosed", err)
	}
	if err := a.Submit(); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrClosed", err)
	}
}

func TestOpenOnOwnsDevice(t *testing.T) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	a, err := openOn(instance, DeviceConfig{})
	if err != nil {
		instance.Destroy()
		t.Fatalf("openOn() error = %v", err)
	}
	if !a.owned || a.instance == nil {
		t.Error("adapter opened by openOn must own its device")
	}
	a.Close()
}

func TestConvertBufferUsage(t *testing.T) {
	tests := []struct {
		in   gpucore.BufferUsage
		want gputypes.BufferUsage
	}{
		{gpucore.BufferUsageStorage, gputypes.BufferUsageStorage},
		{gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst, gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst},
		{gpucore.BufferUsageMapRead | gpucore.BufferUsageCopySrc, gputypes.BufferUsageMapRead | gputypes.BufferUsageCopySrc},
		{0, 0},
	}
	for _, tt := range tests {
		if got := convertBufferUsage(tt.in); got != tt.want {
			t.Errorf("convertBufferUsage(%#x) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestConvertBindGroupLayoutEntry(t *testing.T) {
	tests := []struct {
		in   gpucore.BindingType
		want gputypes.BufferBindingType
	}{
		{gpucore.BindingTypeUniformBuffer, gputypes.BufferBindingTypeUniform},
		{gpucore.BindingTypeStorageBuffer, gputypes.BufferBindingTypeStorage},
		{gpucore.BindingTypeReadOnlyStorageBuffer, gputypes.BufferBindingTypeReadOnlyStorage},
	}
	for _, tt := range tests {
		got := convertBindGroupLayoutEntry(gpucore.BindGroupLayoutEntry{Binding: 3, Type: tt.in, MinBindingSize: 176})
		if got.Binding != 3 || got.Visibility != gputypes.ShaderStageCompute {
			t.Errorf("%v: entry = %+v", tt.in, got)
		}
		if got.Buffer == nil || got.Buffer.Type != tt.want || got.Buffer.MinBindingSize != 176 {
			t.Errorf("%v: buffer layout = %+v, want type %v", tt.in, got.Buffer, tt.want)
		}
	}
}

// mockProvider implements gpucontext.DeviceProvider and optionally exposes
// HAL objects.
type mockProvider struct {
	halDevice any
	halQueue  any
}

func (m *mockProvider) Device() gpucontext.Device   { return nil }
func (m *mockProvider) Queue() gpucontext.Queue     { return nil }
func (m *mockProvider) Adapter() gpucontext.Adapter { return nil }
func (m *mockProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatBGRA8Unorm
}
func (m *mockProvider) AdapterInfo() gpucontext.AdapterInfo { return gpucontext.AdapterInfo{} }

type halMockProvider struct{ mockProvider }

func (m *halMockProvider) HalDevice() any { return m.halDevice }
func (m *halMockProvider) HalQueue() any  { return m.halQueue }

func TestNewAdapterFromProvider(t *testing.T) {
	_, device, queue := createNoopAdapter(t)

	if _, err := NewAdapterFromProvider(nil); !errors.Is(err, ErrNilProvider) {
		t.Errorf("nil provider: error = %v, want ErrNilProvider", err)
	}
	if _, err := NewAdapterFromProvider(&mockProvider{}); !errors.Is(err, ErrNoHAL) {
		t.Errorf("provider without HAL: error = %v, want ErrNoHAL", err)
	}
	bad := &halMockProvider{mockProvider{halDevice: "device", halQueue: queue}}
	if _, err := NewAdapterFromProvider(bad); !errors.Is(err, ErrNoHAL) {
		t.Errorf("wrong HAL device type: error = %v, want ErrNoHAL", err)
	}

	a, err := NewAdapterFromProvider(&halMockProvider{mockProvider{halDevice: device, halQueue: queue}})
	if err != nil {
		t.Fatalf("NewAdapterFromProvider() error = %v", err)
	}
	if a.owned {
		t.Error("shared device must not be owned by the adapter")
	}
	a.Close()
}
