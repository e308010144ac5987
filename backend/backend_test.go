// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"
	"testing"

	"github.com/gogpu/ptrace/gpucore"
)

// fakeDevice is a Device that only records Close.
type fakeDevice struct {
	gpucore.GPUAdapter
	closed bool
}

func (d *fakeDevice) Close() { d.closed = true }

// withRegistry runs the test against an empty registry and restores the
// previous one afterwards.
func withRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = make(map[string]Factory)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

func TestRegisterAndOpen(t *testing.T) {
	withRegistry(t)
	dev := &fakeDevice{}
	Register("fake", func() (Device, error) { return dev, nil })

	if !IsRegistered("fake") {
		t.Fatal("IsRegistered(fake) = false")
	}
	if got := Available(); len(got) != 1 || got[0] != "fake" {
		t.Errorf("Available() = %v, want [fake]", got)
	}
	d, err := Open("fake")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if d != dev {
		t.Error("Open() returned a different device")
	}

	Unregister("fake")
	if _, err := Open("fake"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open() after Unregister error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestDefaultPriority(t *testing.T) {
	tests := []struct {
		name      string
		nativeErr error
		want      string
	}{
		{"native opens", nil, BackendNative},
		{"native fails over to software", errors.New("no GPU"), BackendSoftware},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withRegistry(t)
			Register("zzz", func() (Device, error) { return &fakeDevice{}, nil })
			Register(BackendSoftware, func() (Device, error) { return &fakeDevice{}, nil })
			Register(BackendNative, func() (Device, error) {
				if tt.nativeErr != nil {
					return nil, tt.nativeErr
				}
				return &fakeDevice{}, nil
			})

			name, d, err := Default()
			if err != nil {
				t.Fatalf("Default() error = %v", err)
			}
			if name != tt.want || d == nil {
				t.Errorf("Default() = %q, %v, want %q", name, d, tt.want)
			}
		})
	}
}

func TestDefaultFallsBackToOtherBackends(t *testing.T) {
	withRegistry(t)
	Register("custom", func() (Device, error) { return &fakeDevice{}, nil })
	name, _, err := Default()
	if err != nil || name != "custom" {
		t.Errorf("Default() = %q, %v, want custom", name, err)
	}
}

func TestDefaultNothingOpens(t *testing.T) {
	withRegistry(t)
	boom := errors.New("boom")
	Register(BackendNative, func() (Device, error) { return nil, boom })

	_, _, err := Default()
	if !errors.Is(err, ErrBackendNotAvailable) || !errors.Is(err, boom) {
		t.Errorf("Default() error = %v, want ErrBackendNotAvailable and boom", err)
	}
}
