// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/ptrace"
	"github.com/gogpu/ptrace/backend/software"
	"golang.org/x/image/math/f32"
)

func floats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func putFloats(dst []byte, f []float32) {
	for i, v := range f {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}

// accumulateProgram runs accumulate.wgsl on the host, one invocation per
// global id, in float32 like the shader.
func accumulateProgram(inv *software.Invocation) error {
	params := inv.Buffers[0]
	width := binary.LittleEndian.Uint32(params[0:])
	height := binary.LittleEndian.Uint32(params[4:])
	sample := binary.LittleEndian.Uint32(params[8:])
	current := floats(inv.Buffers[1])
	acc := floats(inv.Buffers[2])

	for y := uint32(0); y < inv.Groups[1]*ptrace.TileSize; y++ {
		for x := uint32(0); x < inv.Groups[0]*ptrace.TileSize; x++ {
			if x >= width || y >= height {
				continue
			}
			i := 4 * (y*width + x)
			for k := uint32(0); k < 4; k++ {
				if sample == 0 {
					acc[i+k] = current[i+k]
					continue
				}
				n := float32(sample)
				acc[i+k] = (n*acc[i+k] + current[i+k]) / (n + 1)
			}
		}
	}
	putFloats(inv.Buffers[2], acc)
	return nil
}

func TestCompositorBlendsRunningMean(t *testing.T) {
	dev := software.NewAdapter()
	var params []byte
	dev.Register(AccumulateLabel, func(inv *software.Invocation) error {
		params = append([]byte(nil), inv.Buffers[0]...)
		return accumulateProgram(inv)
	})
	c, err := NewCompositorFromSPIRV(dev, spirvStub)
	if err != nil {
		t.Fatalf("NewCompositorFromSPIRV() error = %v", err)
	}
	defer c.Release()

	single := newBinding(t, dev, ptrace.TargetResult, 1, ptrace.TargetStride)
	accum := newBinding(t, dev, ptrace.TargetAccumulated, 1, ptrace.TargetStride)
	tests := []struct {
		sample uint32
		value  float32
		want   float32
	}{
		{0, 4, 4},
		{1, 8, 6},
		{2, 0, 4},
		{0, 1, 1},
	}
	for _, tt := range tests {
		var px [16]byte
		putFloats(px[:], []float32{tt.value, tt.value, tt.value, 1})
		dev.WriteBuffer(single.Buffer, 0, px[:])
		p := &ptrace.CompositeParams{Width: 1, Height: 1, Sample: tt.sample, Single: single, Accumulated: accum}
		if err := c.Composite(p); err != nil {
			t.Fatalf("Composite(sample %d) error = %v", tt.sample, err)
		}
		if got := floats(dev.Bytes(accum.Buffer))[0]; got != tt.want {
			t.Errorf("sample %d value %v: mean = %v, want %v", tt.sample, tt.value, got, tt.want)
		}
		if got := binary.LittleEndian.Uint32(params[8:]); got != tt.sample {
			t.Errorf("params sample = %d, want %d", got, tt.sample)
		}
	}
	if w, h := binary.LittleEndian.Uint32(params[0:]), binary.LittleEndian.Uint32(params[4:]); w != 1 || h != 1 {
		t.Errorf("params size = %dx%d, want 1x1", w, h)
	}
}

func TestCompositorPrecisionAgainstHostBlend(t *testing.T) {
	dev := software.NewAdapter()
	dev.Register(AccumulateLabel, accumulateProgram)
	c, err := NewCompositorFromSPIRV(dev, spirvStub)
	if err != nil {
		t.Fatalf("NewCompositorFromSPIRV() error = %v", err)
	}
	defer c.Release()

	single := newBinding(t, dev, ptrace.TargetResult, 1, ptrace.TargetStride)
	accum := newBinding(t, dev, ptrace.TargetAccumulated, 1, ptrace.TargetStride)
	host := make([]float32, 4)
	px := []float32{0.1, 0.3, 0.7, 1}
	var raw [16]byte
	putFloats(raw[:], px)
	for n := uint32(0); n < 1000; n++ {
		dev.WriteBuffer(single.Buffer, 0, raw[:])
		p := &ptrace.CompositeParams{Width: 1, Height: 1, Sample: n, Single: single, Accumulated: accum}
		if err := c.Composite(p); err != nil {
			t.Fatalf("Composite(sample %d) error = %v", n, err)
		}
		ptrace.BlendMean(host, px, n)
	}
	got := floats(dev.Bytes(accum.Buffer))
	for k := range px {
		if d := math.Abs(float64(got[k] - host[k])); d > 1e-4 {
			t.Errorf("channel %d: device %v, host %v, diff %v", k, got[k], host[k], d)
		}
	}
}

func TestCompositorSizeMismatch(t *testing.T) {
	dev := software.NewAdapter()
	c, err := NewCompositorFromSPIRV(dev, spirvStub)
	if err != nil {
		t.Fatalf("NewCompositorFromSPIRV() error = %v", err)
	}
	p := &ptrace.CompositeParams{
		Width: 2, Height: 1,
		Single:      newBinding(t, dev, ptrace.TargetResult, 2, ptrace.TargetStride),
		Accumulated: newBinding(t, dev, ptrace.TargetAccumulated, 1, ptrace.TargetStride),
	}
	if err := c.Composite(p); err == nil {
		t.Error("Composite() with mismatched targets: expected error")
	}
	c.Release()
	if err := c.Composite(p); !errors.Is(err, ErrReleased) {
		t.Errorf("Composite() after Release error = %v, want ErrReleased", err)
	}
}

// TestTracerOnDevicePipeline runs the tracer with the device kernel and
// compositor, both emulated by host programs.
func TestTracerOnDevicePipeline(t *testing.T) {
	dev := software.NewAdapter()
	dev.Register(AccumulateLabel, accumulateProgram)

	call := 0
	dev.Register("path_trace", func(inv *software.Invocation) error {
		call++
		if _, ok := inv.Buffers[ptrace.SlotSpheres]; !ok {
			return errors.New("spheres not bound")
		}
		out := inv.Buffers[ptrace.SlotResult]
		px := make([]float32, len(out)/4)
		for i := range px {
			px[i] = float32(call)
		}
		putFloats(out, px)
		return nil
	})

	kernel, err := NewKernel(dev, SPIRVSource(spirvStub), KernelConfig{})
	if err != nil {
		t.Fatalf("NewKernel() error = %v", err)
	}
	defer kernel.Release()
	comp, err := NewCompositorFromSPIRV(dev, spirvStub)
	if err != nil {
		t.Fatalf("NewCompositorFromSPIRV() error = %v", err)
	}
	defer comp.Release()

	scene := ptrace.NewScene()
	scene.Add(ptrace.NewSphere(f32.Vec3{0, 0, 0}, 1, ptrace.DefaultMaterial()))
	tr, err := ptrace.New(dev, kernel, scene, ptrace.WithCompositor(comp), ptrace.WithSeed(7))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tr.OnEnable(); err != nil {
		t.Fatalf("OnEnable() error = %v", err)
	}
	defer tr.OnDisable()

	var fr *ptrace.Frame
	for i := 0; i < 4; i++ {
		if fr, err = tr.OnFrameTick(3, 2); err != nil {
			t.Fatalf("frame %d: error = %v", i, err)
		}
	}
	// Mean of 1..4.
	if got := fr.At(2, 1)[0]; got != 2.5 {
		t.Errorf("accumulated value = %v, want 2.5", got)
	}
	if fr.Samples != 4 {
		t.Errorf("Samples = %d, want 4", fr.Samples)
	}
	if kernel.Pipelines() != 1 {
		t.Errorf("Pipelines() = %d, want 1", kernel.Pipelines())
	}
}
