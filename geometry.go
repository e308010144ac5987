package ptrace

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/image/math/f32"
)

// GeometryBufferSet is the host-side content of the scene buffers.
//
// Mesh vertex and index lists are concatenated in scene order. Each
// MeshRecord owns the index range [IndicesOffset, IndicesOffset+IndicesCount)
// and the indices in that range are already rebased to the shared vertex
// array.
type GeometryBufferSet struct {
	Spheres  []SphereRecord
	Meshes   []MeshRecord
	Vertices []f32.Vec3
	Indices  []uint32
}

// BuildGeometry flattens snapshots into a GeometryBufferSet.
func BuildGeometry(objects []SceneObjectInfo) (*GeometryBufferSet, error) {
	g := &GeometryBufferSet{}
	for i, obj := range objects {
		switch obj.Kind {
		case KindSphere:
			g.Spheres = append(g.Spheres, obj.Sphere)
		case KindMesh:
			if obj.Mesh == nil {
				return nil, fmt.Errorf("%w: object %d has no mesh data", ErrInvalidMesh, i)
			}
			if err := g.appendMesh(obj.Mesh); err != nil {
				return nil, fmt.Errorf("object %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("ptrace: object %d has unknown kind %d", i, obj.Kind)
		}
	}
	return g, nil
}

func (g *GeometryBufferSet) appendMesh(m *MeshInstance) error {
	if err := checkMesh(m.Vertices, m.Indices); err != nil {
		return err
	}
	base := uint32(len(g.Vertices))   //nolint:gosec // vertex count fits in uint32 for any uploadable buffer
	offset := uint32(len(g.Indices)) //nolint:gosec // bounded by buffer size
	g.Vertices = append(g.Vertices, m.Vertices...)
	for _, idx := range m.Indices {
		g.Indices = append(g.Indices, idx+base)
	}
	g.Meshes = append(g.Meshes, MeshRecord{
		LocalToWorld:  transpose4(m.LocalToWorld),
		IndicesOffset: offset,
		IndicesCount:  uint32(len(m.Indices)), //nolint:gosec // bounded by buffer size
		Albedo:        m.Material.Albedo,
		Specular:      m.Material.Specular,
		Smoothness:    m.Material.Smoothness,
		Emission:      m.Material.Emission,
	})
	return nil
}

// Validate checks that every mesh range lies inside the index array and
// every index references a vertex.
func (g *GeometryBufferSet) Validate() error {
	for i, m := range g.Meshes {
		end := uint64(m.IndicesOffset) + uint64(m.IndicesCount)
		if end > uint64(len(g.Indices)) {
			return fmt.Errorf("%w: mesh %d range [%d, %d) exceeds %d indices",
				ErrInvalidGeometry, i, m.IndicesOffset, end, len(g.Indices))
		}
	}
	for i, idx := range g.Indices {
		if int(idx) >= len(g.Vertices) {
			return fmt.Errorf("%w: index %d references vertex %d of %d",
				ErrInvalidGeometry, i, idx, len(g.Vertices))
		}
	}
	return nil
}

// CheckLayout verifies that the encoded record sizes match the strides the
// kernel reads. A mismatch is a build defect.
func CheckLayout() error {
	checks := []struct {
		name   string
		value  any
		stride int
	}{
		{"SphereRecord", SphereRecord{}, SphereStride},
		{"MeshRecord", MeshRecord{}, MeshStride},
		{"vertex", f32.Vec3{}, VertexStride},
		{"index", uint32(0), IndexStride},
		{"skybox texel", f32.Vec4{}, SkyboxStride},
		{"KernelUniforms", KernelUniforms{}, UniformsSize},
	}
	for _, c := range checks {
		if got := binary.Size(c.value); got != c.stride {
			return fmt.Errorf("ptrace: %s encodes to %d bytes, kernel expects %d", c.name, got, c.stride)
		}
	}
	return nil
}
