package ptrace

import "golang.org/x/image/math/f32"

// Material holds the surface parameters shared by every traced primitive.
//
// Values are passed to the kernel verbatim. Nothing is clamped: emission
// above 1 describes a light source and out-of-range colors are the
// caller's business.
type Material struct {
	Albedo     f32.Vec3
	Specular   f32.Vec3
	Smoothness float32
	Emission   f32.Vec3
}

// DefaultMaterial returns a white diffuse material.
func DefaultMaterial() Material {
	return Material{
		Albedo:   f32.Vec3{1, 1, 1},
		Specular: f32.Vec3{0.04, 0.04, 0.04},
	}
}
