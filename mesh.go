package ptrace

import (
	"fmt"

	"golang.org/x/image/math/f32"
)

// Mesh is an indexed triangle mesh placed by its transform.
type Mesh struct {
	Transform *Transform

	vertices []f32.Vec3
	indices  []uint32
	material Material
	version  uint64
}

// NewMesh returns a mesh at the origin. The slices are copied.
func NewMesh(vertices []f32.Vec3, indices []uint32, m Material) (*Mesh, error) {
	if err := checkMesh(vertices, indices); err != nil {
		return nil, err
	}
	return &Mesh{
		Transform: NewTransform(),
		vertices:  append([]f32.Vec3(nil), vertices...),
		indices:   append([]uint32(nil), indices...),
		material:  m,
	}, nil
}

// SetGeometry replaces the vertex and index lists.
func (m *Mesh) SetGeometry(vertices []f32.Vec3, indices []uint32) error {
	if err := checkMesh(vertices, indices); err != nil {
		return err
	}
	m.vertices = append(m.vertices[:0:0], vertices...)
	m.indices = append(m.indices[:0:0], indices...)
	m.version++
	return nil
}

func (m *Mesh) Material() Material { return m.material }

func (m *Mesh) SetMaterial(mat Material) {
	m.material = mat
	m.version++
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int { return len(m.indices) / 3 }

// Version implements SceneObject.
func (m *Mesh) Version() uint64 { return m.version + m.Transform.Version() }

// Snapshot implements SceneObject. The returned slices alias the mesh and
// must not be modified.
func (m *Mesh) Snapshot() SceneObjectInfo {
	return SceneObjectInfo{
		Kind: KindMesh,
		Mesh: &MeshInstance{
			LocalToWorld: m.Transform.Matrix(),
			Vertices:     m.vertices,
			Indices:      m.indices,
			Material:     m.material,
		},
	}
}

func checkMesh(vertices []f32.Vec3, indices []uint32) error {
	if len(indices)%3 != 0 {
		return fmt.Errorf("%w: %d indices is not a whole number of triangles", ErrInvalidMesh, len(indices))
	}
	for i, idx := range indices {
		if int(idx) >= len(vertices) {
			return fmt.Errorf("%w: index %d references vertex %d of %d", ErrInvalidMesh, i, idx, len(vertices))
		}
	}
	return nil
}
