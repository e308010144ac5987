package ptrace

import "golang.org/x/image/math/f32"

// Record strides in bytes, as read by the kernel.
const (
	SphereStride = 56
	MeshStride   = 112
	VertexStride = 12
	IndexStride  = 4
	SkyboxStride = 16
)

// ObjectKind tags the variant held by a SceneObjectInfo.
type ObjectKind uint8

const (
	KindSphere ObjectKind = iota + 1
	KindMesh
)

func (k ObjectKind) String() string {
	switch k {
	case KindSphere:
		return "Sphere"
	case KindMesh:
		return "Mesh"
	default:
		return "Unknown"
	}
}

// SphereRecord is the kernel's sphere layout: 14 little-endian float32.
type SphereRecord struct {
	Position   f32.Vec3
	Radius     float32
	Albedo     f32.Vec3
	Specular   f32.Vec3
	Smoothness float32
	Emission   f32.Vec3
}

// MeshRecord is the kernel's mesh descriptor layout. LocalToWorld is
// column-major. IndicesOffset and IndicesCount select a range of the shared
// index array.
type MeshRecord struct {
	LocalToWorld  f32.Mat4
	IndicesOffset uint32
	IndicesCount  uint32
	Albedo        f32.Vec3
	Specular      f32.Vec3
	Smoothness    float32
	Emission      f32.Vec3
}

// MeshInstance is the snapshot of one mesh: its transform (row-major), its
// own vertex and index lists, and its material. Indices are local to
// Vertices.
type MeshInstance struct {
	LocalToWorld f32.Mat4
	Vertices     []f32.Vec3
	Indices      []uint32
	Material     Material
}

// SceneObjectInfo is a snapshot of one traced primitive. Exactly one of
// Sphere or Mesh is meaningful, selected by Kind.
type SceneObjectInfo struct {
	Kind   ObjectKind
	Sphere SphereRecord
	Mesh   *MeshInstance
}

// SceneObject is a traced primitive that can be snapshotted.
//
// Version must change whenever anything that affects the snapshot changes:
// transform, material or geometry.
type SceneObject interface {
	Snapshot() SceneObjectInfo
	Version() uint64
}

// ObjectID identifies one entry of a Scene. IDs are issued by Scene.Add and
// never reused within a scene.
type ObjectID uint64

// SceneEntry pairs a scene object with the ID its scene issued for it.
type SceneEntry struct {
	ID     ObjectID
	Object SceneObject
}
