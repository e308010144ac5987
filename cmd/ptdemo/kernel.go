package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/ptrace"
	"github.com/gogpu/ptrace/gpucore"
	"golang.org/x/image/math/f32"
)

// hostKernel is a CPU rendition of the tracing kernel. It reads the bound
// scene buffers back from the device, traces one jittered sample per pixel
// with a shadow ray and up to maxBounces specular bounces, and uploads the
// result.
type hostKernel struct {
	adapter    gpucore.GPUAdapter
	maxBounces int
}

type hostScene struct {
	spheres  []ptrace.SphereRecord
	meshes   []ptrace.MeshRecord
	vertices []f32.Vec3
	indices  []uint32
	skybox   []f32.Vec4
	skyW     int
	skyH     int
	light    f32.Vec4
}

type hit struct {
	dist       float32
	pos, norm  f32.Vec3
	albedo     f32.Vec3
	specular   f32.Vec3
	emission   f32.Vec3
	smoothness float32
}

func readRecords[T any](a gpucore.GPUAdapter, p *ptrace.KernelParams, kind gpucore.BufferKind) ([]T, error) {
	b, ok := p.Buffers[kind]
	if !ok {
		return nil, nil
	}
	data, err := a.ReadBuffer(b.Buffer, 0, b.Size())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}
	out := make([]T, b.Count)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return out, nil
}

func (k *hostKernel) load(p *ptrace.KernelParams) (*hostScene, error) {
	s := &hostScene{light: p.Uniforms.Light}
	var err error
	if s.spheres, err = readRecords[ptrace.SphereRecord](k.adapter, p, ptrace.BufferSpheres); err != nil {
		return nil, err
	}
	if s.meshes, err = readRecords[ptrace.MeshRecord](k.adapter, p, ptrace.BufferMeshObjects); err != nil {
		return nil, err
	}
	if s.vertices, err = readRecords[f32.Vec3](k.adapter, p, ptrace.BufferVertices); err != nil {
		return nil, err
	}
	if s.indices, err = readRecords[uint32](k.adapter, p, ptrace.BufferIndices); err != nil {
		return nil, err
	}
	if s.skybox, err = readRecords[f32.Vec4](k.adapter, p, ptrace.BufferSkybox); err != nil {
		return nil, err
	}
	s.skyW, s.skyH = int(p.Uniforms.SkyboxSize[0]), int(p.Uniforms.SkyboxSize[1])
	return s, nil
}

// Dispatch implements ptrace.Kernel.
func (k *hostKernel) Dispatch(p *ptrace.KernelParams) error {
	s, err := k.load(p)
	if err != nil {
		return err
	}
	u := &p.Uniforms
	toWorld := rowMajor(u.CameraToWorld)
	invProj := rowMajor(u.InverseProjection)
	origin := transformPoint(toWorld, f32.Vec3{})

	w, h := p.Width, p.Height
	out := make([]byte, p.Result.Size())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ndcX := 2*(float32(x)+u.PixelJitter[0])/float32(w) - 1
			ndcY := 1 - 2*(float32(y)+u.PixelJitter[1])/float32(h)
			dir := transformPoint(invProj, f32.Vec3{ndcX, ndcY, 0})
			dir = normalize(transformDir(toWorld, dir))
			c := k.trace(s, origin, dir)
			off := 16 * (y*w + x)
			binary.LittleEndian.PutUint32(out[off:], math.Float32bits(c[0]))
			binary.LittleEndian.PutUint32(out[off+4:], math.Float32bits(c[1]))
			binary.LittleEndian.PutUint32(out[off+8:], math.Float32bits(c[2]))
			binary.LittleEndian.PutUint32(out[off+12:], math.Float32bits(1))
		}
	}
	k.adapter.WriteBuffer(p.Result.Buffer, 0, out)
	return nil
}

func (k *hostKernel) trace(s *hostScene, origin, dir f32.Vec3) f32.Vec3 {
	var result f32.Vec3
	energy := f32.Vec3{1, 1, 1}
	toLight := scale(f32.Vec3{s.light[0], s.light[1], s.light[2]}, -1)
	for bounce := 0; bounce <= k.maxBounces; bounce++ {
		h, ok := s.intersect(origin, dir)
		if !ok {
			return add(result, mul(energy, s.sky(dir)))
		}
		lit := float32(0)
		if d := dot(h.norm, toLight); d > 0 {
			if _, blocked := s.intersect(add(h.pos, scale(h.norm, 1e-3)), toLight); !blocked {
				lit = d * s.light[3]
			}
		}
		result = add(result, mul(energy, add(h.emission, scale(h.albedo, lit))))

		energy = mul(energy, h.specular)
		if energy[0]+energy[1]+energy[2] < 1e-3 {
			break
		}
		origin = add(h.pos, scale(h.norm, 1e-3))
		dir = reflect(dir, h.norm)
	}
	return result
}

func (s *hostScene) intersect(origin, dir f32.Vec3) (hit, bool) {
	best := hit{dist: float32(math.Inf(1))}
	found := false
	for i := range s.spheres {
		sp := &s.spheres[i]
		if t, ok := intersectSphere(origin, dir, sp.Position, sp.Radius); ok && t < best.dist {
			pos := add(origin, scale(dir, t))
			best = hit{
				dist: t, pos: pos, norm: normalize(sub(pos, sp.Position)),
				albedo: sp.Albedo, specular: sp.Specular, emission: sp.Emission, smoothness: sp.Smoothness,
			}
			found = true
		}
	}
	for i := range s.meshes {
		m := &s.meshes[i]
		toWorld := rowMajor(m.LocalToWorld)
		end := int(m.IndicesOffset + m.IndicesCount)
		for j := int(m.IndicesOffset); j+2 < end && j+2 < len(s.indices); j += 3 {
			a, b, c := s.indices[j], s.indices[j+1], s.indices[j+2]
			if int(a) >= len(s.vertices) || int(b) >= len(s.vertices) || int(c) >= len(s.vertices) {
				continue
			}
			v0 := transformPoint(toWorld, s.vertices[a])
			v1 := transformPoint(toWorld, s.vertices[b])
			v2 := transformPoint(toWorld, s.vertices[c])
			if t, ok := intersectTriangle(origin, dir, v0, v1, v2); ok && t < best.dist {
				best = hit{
					dist: t, pos: add(origin, scale(dir, t)), norm: normalize(cross(sub(v1, v0), sub(v2, v0))),
					albedo: m.Albedo, specular: m.Specular, emission: m.Emission, smoothness: m.Smoothness,
				}
				if dot(best.norm, dir) > 0 {
					best.norm = scale(best.norm, -1)
				}
				found = true
			}
		}
	}
	return best, found
}

// sky samples the equirectangular skybox, or a vertical gradient when none
// is bound.
func (s *hostScene) sky(dir f32.Vec3) f32.Vec3 {
	if len(s.skybox) == 0 || s.skyW == 0 || s.skyH == 0 {
		t := 0.5 * (dir[1] + 1)
		return add(scale(f32.Vec3{1, 1, 1}, 1-t), scale(f32.Vec3{0.5, 0.7, 1}, t))
	}
	theta := math.Acos(float64(clamp(dir[1], -1, 1))) / math.Pi
	phi := math.Atan2(float64(dir[0]), float64(-dir[2]))/(2*math.Pi) + 0.5
	x := min(int(phi*float64(s.skyW)), s.skyW-1)
	y := min(int(theta*float64(s.skyH)), s.skyH-1)
	c := s.skybox[y*s.skyW+x]
	return f32.Vec3{c[0], c[1], c[2]}
}

func intersectSphere(origin, dir, center f32.Vec3, radius float32) (float32, bool) {
	d := sub(origin, center)
	p1 := -dot(dir, d)
	p2 := p1*p1 - dot(d, d) + radius*radius
	if p2 < 0 {
		return 0, false
	}
	q := float32(math.Sqrt(float64(p2)))
	if t := p1 - q; t > 0 {
		return t, true
	}
	if t := p1 + q; t > 0 {
		return t, true
	}
	return 0, false
}

// intersectTriangle is the Möller-Trumbore test, two-sided.
func intersectTriangle(origin, dir, v0, v1, v2 f32.Vec3) (float32, bool) {
	const eps = 1e-7
	e1, e2 := sub(v1, v0), sub(v2, v0)
	pv := cross(dir, e2)
	det := dot(e1, pv)
	if det > -eps && det < eps {
		return 0, false
	}
	inv := 1 / det
	tv := sub(origin, v0)
	u := dot(tv, pv) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	qv := cross(tv, e1)
	v := dot(dir, qv) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := dot(e2, qv) * inv
	return t, t > eps
}

// rowMajor converts a column-major kernel matrix back to row-major.
func rowMajor(m f32.Mat4) f32.Mat4 {
	var out f32.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m[c*4+r]
		}
	}
	return out
}

func transformPoint(m f32.Mat4, p f32.Vec3) f32.Vec3 {
	x := m[0]*p[0] + m[1]*p[1] + m[2]*p[2] + m[3]
	y := m[4]*p[0] + m[5]*p[1] + m[6]*p[2] + m[7]
	z := m[8]*p[0] + m[9]*p[1] + m[10]*p[2] + m[11]
	w := m[12]*p[0] + m[13]*p[1] + m[14]*p[2] + m[15]
	if w != 0 && w != 1 {
		return f32.Vec3{x / w, y / w, z / w}
	}
	return f32.Vec3{x, y, z}
}

func transformDir(m f32.Mat4, d f32.Vec3) f32.Vec3 {
	return f32.Vec3{
		m[0]*d[0] + m[1]*d[1] + m[2]*d[2],
		m[4]*d[0] + m[5]*d[1] + m[6]*d[2],
		m[8]*d[0] + m[9]*d[1] + m[10]*d[2],
	}
}

func add(a, b f32.Vec3) f32.Vec3 { return f32.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func sub(a, b f32.Vec3) f32.Vec3 { return f32.Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func mul(a, b f32.Vec3) f32.Vec3 { return f32.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]} }
func scale(a f32.Vec3, s float32) f32.Vec3 { return f32.Vec3{a[0] * s, a[1] * s, a[2] * s} }
func dot(a, b f32.Vec3) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func cross(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

func normalize(a f32.Vec3) f32.Vec3 {
	l := float32(math.Sqrt(float64(dot(a, a))))
	if l == 0 {
		return a
	}
	return scale(a, 1/l)
}

func reflect(d, n f32.Vec3) f32.Vec3 { return sub(d, scale(n, 2*dot(d, n))) }

func clamp(v, lo, hi float32) float32 { return max(lo, min(hi, v)) }
