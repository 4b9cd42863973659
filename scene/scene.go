// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package scene describes the spheres handed to the path tracing kernel.
//
// The kernel reads the scene buffer by fixed offsets, three vec4s per sphere,
// so the host types here mirror that layout byte for byte.
package scene

import (
	"fmt"
	"iter"
	"structs"
	"unsafe"

	"honnef.co/go/safeish"
)

type Material uint32

const (
	Diffuse Material = iota
	Specular
	Refractive
)

func (m Material) String() string {
	switch m {
	case Diffuse:
		return "diffuse"
	case Specular:
		return "specular"
	case Refractive:
		return "refractive"
	default:
		return fmt.Sprintf("Material(%d)", uint32(m))
	}
}

type Vec3 [3]float32

// Byte offsets of the fields of a Sphere, as seen by the kernel.
const (
	CenterOffset   = 0
	RadiusOffset   = 12
	EmissionOffset = 16
	ColorOffset    = 32
	MaterialOffset = 44

	// Stride is the size of one sphere record in the scene buffer.
	Stride = 48
)

// Sphere must be kept in sync with the Sphere struct in the kernels.
type Sphere struct {
	_ structs.HostLayout

	Center   Vec3
	Radius   float32
	Emission Vec3
	_        float32
	Color    Vec3
	// Material is stored as a float because the kernel reads the record as
	// three vec4s.
	Material float32
}

func NewSphere(center Vec3, radius float32, emission, color Vec3, mat Material) Sphere {
	return Sphere{
		Center:   center,
		Radius:   radius,
		Emission: emission,
		Color:    color,
		Material: float32(mat),
	}
}

func (s Sphere) Kind() Material {
	return Material(s.Material)
}

// Scene is an ordered, immutable list of spheres.
type Scene struct {
	spheres []Sphere
}

// New returns a scene containing a copy of spheres.
func New(spheres ...Sphere) *Scene {
	return &Scene{spheres: append([]Sphere(nil), spheres...)}
}

func (sc *Scene) Len() int          { return len(sc.spheres) }
func (sc *Scene) At(i int) Sphere   { return sc.spheres[i] }
func (sc *Scene) Size() uint64      { return uint64(len(sc.spheres)) * Stride }
func (sc *Scene) Spheres() []Sphere { return append([]Sphere(nil), sc.spheres...) }

func (sc *Scene) All() iter.Seq2[int, Sphere] {
	return func(yield func(int, Sphere) bool) {
		for i, s := range sc.spheres {
			if !yield(i, s) {
				return
			}
		}
	}
}

// Bytes returns the scene buffer contents. The returned slice aliases the
// scene's storage and must not be modified.
//
// A size mismatch between the Go type and the kernel's record is a layout bug
// and panics.
func (sc *Scene) Bytes() []byte {
	if unsafe.Sizeof(Sphere{}) != Stride {
		panic(fmt.Sprintf("scene: Sphere is %d bytes, kernel expects %d", unsafe.Sizeof(Sphere{}), Stride))
	}
	b := safeish.SliceCast[[]byte](sc.spheres)
	if uint64(len(b)) != sc.Size() {
		panic(fmt.Sprintf("scene: buffer is %d bytes, want %d spheres * %d", len(b), len(sc.spheres), Stride))
	}
	return b
}

// Decode interprets a scene buffer. It is the inverse of Bytes and is used by
// kernels running on the host.
func Decode(b []byte) []Sphere {
	if len(b)%Stride != 0 {
		panic(fmt.Sprintf("scene: buffer length %d is not a multiple of %d", len(b), Stride))
	}
	return safeish.SliceCast[[]Sphere](b)
}
