package ptrace

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gogpu/ptrace/gpucore"
	"golang.org/x/image/math/f32"
)

func TestKernelUniformsLayout(t *testing.T) {
	u := KernelUniforms{
		Light:       f32.Vec4{0, -1, 0, 2},
		Size:        [2]uint32{640, 480},
		PixelJitter: f32.Vec2{0.25, 0.75},
		Seed:        0.5,
		Bindings:    1<<SlotSpheres | 1<<SlotIndices,
		SkyboxSize:  [2]uint32{32, 16},
	}
	u.CameraToWorld[0] = 7
	u.InverseProjection[15] = 9

	b := u.Bytes()
	if len(b) != UniformsSize {
		t.Fatalf("len(Bytes()) = %d, want %d", len(b), UniformsSize)
	}
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[off:])) }
	w := func(off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"CameraToWorld[0]", f(0), float32(7)},
		{"InverseProjection[15]", f(64 + 60), float32(9)},
		{"Light.y", f(132), float32(-1)},
		{"Light.w", f(140), float32(2)},
		{"Size.x", w(144), uint32(640)},
		{"Size.y", w(148), uint32(480)},
		{"PixelJitter.y", f(156), float32(0.75)},
		{"Seed", f(160), float32(0.5)},
		{"Bindings", w(164), uint32(1<<2 | 1<<5)},
		{"SkyboxSize.x", w(168), uint32(32)},
		{"SkyboxSize.y", w(172), uint32(16)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestKernelParamsMaskAndGroups(t *testing.T) {
	p := &KernelParams{
		Width:  17,
		Height: 8,
		Buffers: map[gpucore.BufferKind]gpucore.BufferBinding{
			BufferSpheres:  {},
			BufferVertices: {},
			"Unrelated":    {},
		},
	}
	m := p.Mask()
	if !m.Has(BufferSpheres) || !m.Has(BufferVertices) {
		t.Errorf("mask %b missing bound kinds", m)
	}
	if m.Has(BufferMeshObjects) || m.Has(BufferSkybox) || m.Has("Unrelated") {
		t.Errorf("mask %b has unbound kinds", m)
	}
	if x, y := p.Groups(); x != 3 || y != 1 {
		t.Errorf("Groups() = %d, %d, want 3, 1", x, y)
	}
}

func TestBindingSlots(t *testing.T) {
	seen := map[uint32]bool{SlotUniforms: true, SlotResult: true}
	for _, kind := range SceneKinds {
		slot, ok := BindingSlot(kind)
		if !ok || seen[slot] {
			t.Errorf("kind %s: slot %d ok %v (duplicate or missing)", kind, slot, ok)
		}
		seen[slot] = true
	}
	if _, ok := BindingSlot(TargetResult); ok {
		t.Error("Result is not an optional scene binding")
	}
}

func TestKernelFunc(t *testing.T) {
	called := false
	var k Kernel = KernelFunc(func(*KernelParams) error {
		called = true
		return nil
	})
	if err := k.Dispatch(&KernelParams{}); err != nil || !called {
		t.Errorf("KernelFunc.Dispatch() = %v, called %v", err, called)
	}
}
