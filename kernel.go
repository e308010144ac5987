package ptrace

import (
	"bytes"
	"encoding/binary"

	"github.com/gogpu/ptrace/gpucore"
	"golang.org/x/image/math/f32"
)

// TileSize is the edge length of the kernel's workgroup tile.
const TileSize = 8

// UniformsSize is the byte size of the kernel uniform block.
const UniformsSize = 176

// Scene buffer kinds bound to the kernel when non-empty.
const (
	BufferSpheres     gpucore.BufferKind = "Spheres"
	BufferMeshObjects gpucore.BufferKind = "MeshObjects"
	BufferVertices    gpucore.BufferKind = "Vertices"
	BufferIndices     gpucore.BufferKind = "Indices"
	BufferSkybox      gpucore.BufferKind = "Skybox"
)

// Binding slots of the kernel's bind group 0.
const (
	SlotUniforms    uint32 = 0
	SlotResult      uint32 = 1
	SlotSpheres     uint32 = 2
	SlotMeshObjects uint32 = 3
	SlotVertices    uint32 = 4
	SlotIndices     uint32 = 5
	SlotSkybox      uint32 = 6
)

// SceneKinds lists the optional scene buffers in slot order.
var SceneKinds = []gpucore.BufferKind{
	BufferSpheres, BufferMeshObjects, BufferVertices, BufferIndices, BufferSkybox,
}

// BindingSlot returns the slot of an optional scene buffer kind.
func BindingSlot(kind gpucore.BufferKind) (uint32, bool) {
	switch kind {
	case BufferSpheres:
		return SlotSpheres, true
	case BufferMeshObjects:
		return SlotMeshObjects, true
	case BufferVertices:
		return SlotVertices, true
	case BufferIndices:
		return SlotIndices, true
	case BufferSkybox:
		return SlotSkybox, true
	}
	return 0, false
}

// BindingMask has one bit per bound optional slot (1 << slot).
type BindingMask uint32

// Has reports whether kind is bound.
func (m BindingMask) Has(kind gpucore.BufferKind) bool {
	slot, ok := BindingSlot(kind)
	return ok && m&(1<<slot) != 0
}

// KernelUniforms is the kernel's uniform block. Matrices are column-major.
//
//	offset   0  CameraToWorld      mat4x4<f32>
//	offset  64  InverseProjection  mat4x4<f32>
//	offset 128  Light              vec4<f32>   direction xyz, intensity w
//	offset 144  Size               vec2<u32>   output width, height
//	offset 152  PixelJitter        vec2<f32>
//	offset 160  Seed               f32
//	offset 164  Bindings           u32         BindingMask
//	offset 168  SkyboxSize         vec2<u32>
type KernelUniforms struct {
	CameraToWorld     f32.Mat4
	InverseProjection f32.Mat4
	Light             f32.Vec4
	Size              [2]uint32
	PixelJitter       f32.Vec2
	Seed              float32
	Bindings          BindingMask
	SkyboxSize        [2]uint32
}

// Bytes encodes the block little-endian.
func (u *KernelUniforms) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(UniformsSize)
	_ = binary.Write(&buf, binary.LittleEndian, u) // fixed-size struct, cannot fail
	return buf.Bytes()
}

// KernelParams is everything one dispatch of the tracing kernel receives.
type KernelParams struct {
	Width, Height int
	Uniforms      KernelUniforms

	// Result is the single-sample target the kernel writes.
	Result gpucore.BufferBinding

	// Buffers holds only the scene kinds that currently have a buffer.
	// An absent kind must contribute nothing.
	Buffers map[gpucore.BufferKind]gpucore.BufferBinding
}

// Mask returns the binding mask of the present scene buffers.
func (p *KernelParams) Mask() BindingMask {
	var m BindingMask
	for kind := range p.Buffers {
		if slot, ok := BindingSlot(kind); ok {
			m |= 1 << slot
		}
	}
	return m
}

// Groups returns the workgroup grid covering the output in TileSize tiles.
func (p *KernelParams) Groups() (x, y uint32) {
	return gpucore.WorkgroupCount(p.Width, TileSize), gpucore.WorkgroupCount(p.Height, TileSize)
}

// Kernel renders one sample per pixel into the Result target.
type Kernel interface {
	Dispatch(p *KernelParams) error
}

// KernelFunc adapts a function to Kernel.
type KernelFunc func(p *KernelParams) error

// Dispatch implements Kernel.
func (f KernelFunc) Dispatch(p *KernelParams) error { return f(p) }
