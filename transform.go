package ptrace

import (
	"math"

	"golang.org/x/image/math/f32"
)

// Quat is a rotation quaternion.
type Quat struct {
	X, Y, Z, W float32
}

// QuatIdentity returns the identity rotation.
func QuatIdentity() Quat { return Quat{W: 1} }

// QuatFromAxisAngle returns a rotation of angle radians about axis.
// A zero axis yields the identity.
func QuatFromAxisAngle(axis f32.Vec3, angle float64) Quat {
	l := math.Sqrt(float64(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2]))
	if l == 0 {
		return QuatIdentity()
	}
	s := math.Sin(angle/2) / l
	return Quat{
		X: float32(float64(axis[0]) * s),
		Y: float32(float64(axis[1]) * s),
		Z: float32(float64(axis[2]) * s),
		W: float32(math.Cos(angle / 2)),
	}
}

// Mul returns q·r, the rotation r followed by q.
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

// rows returns the 3x3 rotation matrix of the normalized quaternion.
func (q Quat) rows() [9]float32 {
	n := q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W
	if n == 0 {
		return [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1}
	}
	s := 2 / n
	xx, yy, zz := q.X*q.X*s, q.Y*q.Y*s, q.Z*q.Z*s
	xy, xz, yz := q.X*q.Y*s, q.X*q.Z*s, q.Y*q.Z*s
	wx, wy, wz := q.W*q.X*s, q.W*q.Y*s, q.W*q.Z*s
	return [9]float32{
		1 - yy - zz, xy - wz, xz + wy,
		xy + wz, 1 - xx - zz, yz - wx,
		xz - wy, yz + wx, 1 - xx - yy,
	}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v f32.Vec3) f32.Vec3 {
	m := q.rows()
	return f32.Vec3{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

// Transform is a position, rotation and scale in world space.
//
// Every setter bumps a version counter, which is how watchers notice
// motion without comparing matrices. A Transform is not safe for concurrent
// mutation; the host mutates it between frames.
type Transform struct {
	position f32.Vec3
	rotation Quat
	scale    f32.Vec3
	version  uint64
}

// NewTransform returns an identity transform at the origin.
func NewTransform() *Transform {
	return &Transform{rotation: QuatIdentity(), scale: f32.Vec3{1, 1, 1}}
}

func (t *Transform) Position() f32.Vec3 { return t.position }
func (t *Transform) Rotation() Quat     { return t.rotation }
func (t *Transform) Scale() f32.Vec3    { return t.scale }

// Version returns a counter that changes whenever the transform is set.
func (t *Transform) Version() uint64 { return t.version }

func (t *Transform) SetPosition(p f32.Vec3) {
	t.position = p
	t.version++
}

func (t *Transform) SetRotation(q Quat) {
	t.rotation = q
	t.version++
}

func (t *Transform) SetScale(s f32.Vec3) {
	t.scale = s
	t.version++
}

// Translate moves the transform by d in world space.
func (t *Transform) Translate(d f32.Vec3) {
	t.SetPosition(f32.Vec3{t.position[0] + d[0], t.position[1] + d[1], t.position[2] + d[2]})
}

// Rotate applies q after the current rotation.
func (t *Transform) Rotate(q Quat) {
	t.SetRotation(q.Mul(t.rotation))
}

// Matrix returns the local-to-world matrix T·R·S in row-major order.
func (t *Transform) Matrix() f32.Mat4 {
	r := t.rotation.rows()
	s := t.scale
	p := t.position
	return f32.Mat4{
		r[0] * s[0], r[1] * s[1], r[2] * s[2], p[0],
		r[3] * s[0], r[4] * s[1], r[5] * s[2], p[1],
		r[6] * s[0], r[7] * s[1], r[8] * s[2], p[2],
		0, 0, 0, 1,
	}
}

// Forward returns the local +Z axis in world space.
func (t *Transform) Forward() f32.Vec3 {
	return t.rotation.Rotate(f32.Vec3{0, 0, 1})
}

// identity4 returns the 4x4 identity matrix.
func identity4() f32.Mat4 {
	return f32.Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// transpose4 converts between row-major and column-major storage.
// Matrices handed to the kernel are column-major.
func transpose4(m f32.Mat4) f32.Mat4 {
	var out f32.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[4*c+r] = m[4*r+c]
		}
	}
	return out
}
