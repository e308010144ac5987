package ptrace

import "golang.org/x/image/math/f32"

// Sphere is an analytic sphere. Its radius is half the X scale of its
// transform, so a unit-scaled sphere has radius 0.5.
type Sphere struct {
	Transform *Transform

	material Material
	version  uint64
}

// NewSphere returns a sphere at center with the given radius.
func NewSphere(center f32.Vec3, radius float32, m Material) *Sphere {
	t := NewTransform()
	t.SetPosition(center)
	t.SetScale(f32.Vec3{2 * radius, 2 * radius, 2 * radius})
	return &Sphere{Transform: t, material: m}
}

// Radius returns the world-space radius.
func (s *Sphere) Radius() float32 { return s.Transform.Scale()[0] / 2 }

// SetRadius rescales the sphere uniformly.
func (s *Sphere) SetRadius(r float32) {
	s.Transform.SetScale(f32.Vec3{2 * r, 2 * r, 2 * r})
}

func (s *Sphere) Material() Material { return s.material }

func (s *Sphere) SetMaterial(m Material) {
	s.material = m
	s.version++
}

// Version implements SceneObject.
func (s *Sphere) Version() uint64 { return s.version + s.Transform.Version() }

// Snapshot implements SceneObject.
func (s *Sphere) Snapshot() SceneObjectInfo {
	m := s.material
	return SceneObjectInfo{
		Kind: KindSphere,
		Sphere: SphereRecord{
			Position:   s.Transform.Position(),
			Radius:     s.Radius(),
			Albedo:     m.Albedo,
			Specular:   m.Specular,
			Smoothness: m.Smoothness,
			Emission:   m.Emission,
		},
	}
}
