package ptrace

import (
	"math"

	"golang.org/x/image/math/f32"
)

// Camera is a perspective camera looking down its local -Z axis.
type Camera struct {
	Transform *Transform

	// FieldOfView is the vertical field of view in degrees.
	FieldOfView float32

	// Near and Far are the clip plane distances.
	Near, Far float32
}

// NewCamera returns a camera at the origin with a 60 degree field of view.
func NewCamera() *Camera {
	return &Camera{
		Transform:   NewTransform(),
		FieldOfView: 60,
		Near:        0.3,
		Far:         1000,
	}
}

// CameraToWorld returns the camera's local-to-world matrix (row-major).
func (c *Camera) CameraToWorld() f32.Mat4 {
	if c.Transform == nil {
		return identity4()
	}
	return c.Transform.Matrix()
}

// Projection returns the OpenGL-style perspective projection for the
// given aspect ratio (width / height), row-major.
func (c *Camera) Projection(aspect float32) f32.Mat4 {
	f, a, b := c.frustum(aspect)
	return f32.Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, a, b,
		0, 0, -1, 0,
	}
}

// InverseProjection returns the inverse of Projection(aspect), mapping
// clip space back to camera space.
func (c *Camera) InverseProjection(aspect float32) f32.Mat4 {
	f, a, b := c.frustum(aspect)
	return f32.Mat4{
		aspect / f, 0, 0, 0,
		0, 1 / f, 0, 0,
		0, 0, 0, -1,
		0, 0, 1 / b, a / b,
	}
}

// frustum returns the focal scale and the depth terms of the projection.
// Degenerate parameters are replaced so the matrices stay finite.
func (c *Camera) frustum(aspect float32) (f, a, b float32) {
	fov := c.FieldOfView
	if fov <= 0 || fov >= 180 {
		fov = 60
	}
	n, far := c.Near, c.Far
	if n <= 0 {
		n = 0.3
	}
	if far <= n {
		far = n + 1000
	}
	f = float32(1 / math.Tan(float64(fov)*math.Pi/360))
	a = (far + n) / (n - far)
	b = 2 * far * n / (n - far)
	return f, a, b
}

// DirectionalLight is a light at infinity shining along its forward axis.
type DirectionalLight struct {
	Transform *Transform
	Intensity float32
}

// NewDirectionalLight returns a light pointing straight down.
func NewDirectionalLight(intensity float32) *DirectionalLight {
	t := NewTransform()
	t.SetRotation(QuatFromAxisAngle(f32.Vec3{1, 0, 0}, math.Pi/2))
	return &DirectionalLight{Transform: t, Intensity: intensity}
}

// Vector returns the light direction in xyz and the intensity in w.
func (l *DirectionalLight) Vector() f32.Vec4 {
	if l.Transform == nil {
		return f32.Vec4{0, 0, 1, l.Intensity}
	}
	d := l.Transform.Forward()
	return f32.Vec4{d[0], d[1], d[2], l.Intensity}
}
