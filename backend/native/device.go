// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/ptrace"
	"github.com/gogpu/ptrace/backend"
	"github.com/gogpu/wgpu/hal"

	// Register the Vulkan HAL backend.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	backend.Register(backend.BackendNative, func() (backend.Device, error) {
		a, err := OpenDevice(DeviceConfig{})
		if err != nil {
			return nil, err
		}
		return a, nil
	})
}

var _ backend.Device = (*HALAdapter)(nil)

// DeviceConfig selects the device OpenDevice opens.
type DeviceConfig struct {
	// PreferIntegrated picks an integrated GPU over a discrete one.
	PreferIntegrated bool
}

// OpenDevice creates a Vulkan HAL instance, picks an adapter and opens a device.
// Discrete GPUs are preferred, then integrated ones, then whatever the
// driver lists first. The returned adapter owns the device; Close destroys
// it.
func OpenDevice(cfg DeviceConfig) (*HALAdapter, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan", ErrNoBackend)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}
	a, err := openOn(instance, cfg)
	if err != nil {
		instance.Destroy()
		return nil, err
	}
	return a, nil
}

func openOn(instance hal.Instance, cfg DeviceConfig) (*HALAdapter, error) {
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return nil, ErrNoGPU
	}
	selected := selectAdapter(adapters, cfg.PreferIntegrated)
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("native: open device: %w", err)
	}
	a := NewHALAdapter(openDev.Device, openDev.Queue)
	a.owned = true
	a.instance = instance
	a.name = selected.Info.Name
	ptrace.Logger().Info("native: device opened", "adapter", a.name, "type", selected.Info.DeviceType)
	return a, nil
}

func selectAdapter(adapters []hal.ExposedAdapter, preferIntegrated bool) *hal.ExposedAdapter {
	order := []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU}
	if preferIntegrated {
		order[0], order[1] = order[1], order[0]
	}
	for _, want := range order {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

// NewAdapterFromProvider shares the device of a gpucontext.DeviceProvider,
// such as a gogpu application. The provider must also implement
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue.
// The device stays owned by the provider.
func NewAdapterFromProvider(provider gpucontext.DeviceProvider) (*HALAdapter, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	return NewHALAdapter(device, queue), nil
}
