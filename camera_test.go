package ptrace

import (
	"math"
	"testing"

	"golang.org/x/image/math/f32"
)

func mul4(a, b f32.Mat4) f32.Mat4 {
	var out f32.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += a[4*r+k] * b[4*k+c]
			}
			out[4*r+c] = sum
		}
	}
	return out
}

func TestInverseProjection(t *testing.T) {
	tests := []struct {
		name   string
		fov    float32
		near   float32
		far    float32
		aspect float32
	}{
		{"default", 60, 0.3, 1000, 16.0 / 9.0},
		{"square narrow", 20, 1, 50, 1},
		{"tall wide", 110, 0.1, 100, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCamera()
			c.FieldOfView, c.Near, c.Far = tt.fov, tt.near, tt.far
			got := mul4(c.InverseProjection(tt.aspect), c.Projection(tt.aspect))
			want := identity4()
			for i := range got {
				if !near(got[i], want[i]) {
					t.Fatalf("inverse·projection = %v, want identity", got)
				}
			}
		})
	}
}

func TestInverseProjectionDegenerateStaysFinite(t *testing.T) {
	c := &Camera{}
	m := c.InverseProjection(1)
	for i, v := range m {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("element %d = %v", i, v)
		}
	}
	if c.CameraToWorld() != identity4() {
		t.Error("camera without transform should be at identity")
	}
}

func TestDirectionalLightVector(t *testing.T) {
	l := NewDirectionalLight(2.5)
	got := l.Vector()
	want := f32.Vec4{0, -1, 0, 2.5}
	for i := range got {
		if !near(got[i], want[i]) {
			t.Fatalf("Vector() = %v, want %v", got, want)
		}
	}
}
