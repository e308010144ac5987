// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"strings"

	"github.com/gogpu/ptrace"
)

// preludeTypes declares the uniform block and the unpacked record types.
// Storage records are tightly packed, so they are read as scalar arrays and
// unpacked by the accessor functions below.
const preludeTypes = `struct Uniforms {
    camera_to_world: mat4x4<f32>,
    inverse_projection: mat4x4<f32>,
    light: vec4<f32>,
    size: vec2<u32>,
    pixel_jitter: vec2<f32>,
    seed: f32,
    bindings: u32,
    skybox_size: vec2<u32>,
}

struct SphereData {
    position: vec3<f32>,
    radius: f32,
    albedo: vec3<f32>,
    specular: vec3<f32>,
    smoothness: f32,
    emission: vec3<f32>,
}

struct MeshData {
    local_to_world: mat4x4<f32>,
    indices_offset: u32,
    indices_count: u32,
    albedo: vec3<f32>,
    specular: vec3<f32>,
    smoothness: f32,
    emission: vec3<f32>,
}

@group(0) @binding(%d) var<uniform> uniforms: Uniforms;
@group(0) @binding(%d) var<storage, read_write> result: array<vec4<f32>>;
`

const spheresPresent = `
@group(0) @binding(%d) var<storage, read> spheres: array<f32>;

fn sphere_count() -> u32 { return arrayLength(&spheres) / 14u; }

fn sphere_vec3(b: u32) -> vec3<f32> {
    return vec3<f32>(spheres[b], spheres[b + 1u], spheres[b + 2u]);
}

fn sphere(i: u32) -> SphereData {
    let b = i * 14u;
    return SphereData(sphere_vec3(b), spheres[b + 3u], sphere_vec3(b + 4u),
        sphere_vec3(b + 7u), spheres[b + 10u], sphere_vec3(b + 11u));
}
`

const spheresAbsent = `
fn sphere_count() -> u32 { return 0u; }
fn sphere(i: u32) -> SphereData { return SphereData(); }
`

const meshesPresent = `
@group(0) @binding(%d) var<storage, read> mesh_objects: array<u32>;

fn mesh_count() -> u32 { return arrayLength(&mesh_objects) / 28u; }

fn mesh_f32(b: u32) -> f32 { return bitcast<f32>(mesh_objects[b]); }

fn mesh_vec4(b: u32) -> vec4<f32> {
    return vec4<f32>(mesh_f32(b), mesh_f32(b + 1u), mesh_f32(b + 2u), mesh_f32(b + 3u));
}

fn mesh_vec3(b: u32) -> vec3<f32> {
    return vec3<f32>(mesh_f32(b), mesh_f32(b + 1u), mesh_f32(b + 2u));
}

fn mesh_object(i: u32) -> MeshData {
    let b = i * 28u;
    let m = mat4x4<f32>(mesh_vec4(b), mesh_vec4(b + 4u), mesh_vec4(b + 8u), mesh_vec4(b + 12u));
    return MeshData(m, mesh_objects[b + 16u], mesh_objects[b + 17u], mesh_vec3(b + 18u),
        mesh_vec3(b + 21u), mesh_f32(b + 24u), mesh_vec3(b + 25u));
}
`

const meshesAbsent = `
fn mesh_count() -> u32 { return 0u; }
fn mesh_object(i: u32) -> MeshData { return MeshData(); }
`

const verticesPresent = `
@group(0) @binding(%d) var<storage, read> vertices: array<f32>;

fn vertex_position(i: u32) -> vec3<f32> {
    return vec3<f32>(vertices[3u * i], vertices[3u * i + 1u], vertices[3u * i + 2u]);
}
`

const verticesAbsent = `
fn vertex_position(i: u32) -> vec3<f32> { return vec3<f32>(0.0); }
`

const indicesPresent = `
@group(0) @binding(%d) var<storage, read> indices: array<u32>;

fn index_at(i: u32) -> u32 { return indices[i]; }
`

const indicesAbsent = `
fn index_at(i: u32) -> u32 { return 0u; }
`

const skyboxPresent = `
@group(0) @binding(%d) var<storage, read> skybox: array<vec4<f32>>;

fn has_skybox() -> bool { return true; }

fn skybox_texel(x: u32, y: u32) -> vec4<f32> {
    let w = uniforms.skybox_size.x;
    let h = uniforms.skybox_size.y;
    return skybox[min(y, h - 1u) * w + min(x, w - 1u)];
}
`

const skyboxAbsent = `
fn has_skybox() -> bool { return false; }
fn skybox_texel(x: u32, y: u32) -> vec4<f32> { return vec4<f32>(0.0); }
`

// Prelude returns the WGSL declarations of the kernel interface for mask:
// the Uniforms block, the result array and, for each scene buffer, either
// its binding and accessors or stub accessors reporting nothing.
//
// A kernel body written against the accessors (sphere_count, sphere,
// mesh_count, mesh_object, vertex_position, index_at, has_skybox,
// skybox_texel) compiles for every mask.
func Prelude(mask ptrace.BindingMask) string {
	var b strings.Builder
	fmt.Fprintf(&b, preludeTypes, ptrace.SlotUniforms, ptrace.SlotResult)

	parts := []struct {
		slot            uint32
		present, absent string
	}{
		{ptrace.SlotSpheres, spheresPresent, spheresAbsent},
		{ptrace.SlotMeshObjects, meshesPresent, meshesAbsent},
		{ptrace.SlotVertices, verticesPresent, verticesAbsent},
		{ptrace.SlotIndices, indicesPresent, indicesAbsent},
		{ptrace.SlotSkybox, skyboxPresent, skyboxAbsent},
	}
	for _, p := range parts {
		if mask&(1<<p.slot) != 0 {
			fmt.Fprintf(&b, p.present, p.slot)
		} else {
			b.WriteString(p.absent)
		}
	}
	return b.String()
}
