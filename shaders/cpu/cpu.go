// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu provides CPU implementations of the kernels.
//
// The kernels follow the WGSL and GLSL kernels step by step, down to float32
// arithmetic. They're a debug and testing tool, not a viable fallback.
package cpu

import (
	"fmt"
	"math"
	"unsafe"

	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/shaders"
	"honnef.co/go/safeish"
)

// Buffer is a storage or uniform buffer.
type Buffer []byte

// Image is an image bound to an image unit. Loads outside the image return
// zero and stores outside the image are dropped.
type Image interface {
	Size() (width, height uint32)
	Load(x, y uint32) [4]float32
	Store(x, y uint32, v [4]float32)
}

// Texture is an image bound to a texture unit.
type Texture interface {
	Sample(uv [2]float32) [4]float32
}

type Invocation struct {
	GlobalID    [3]uint32
	WorkgroupID [3]uint32
	LocalID     [3]uint32
}

// ComputeEnv holds the resources bound to a dispatch. Images and Uniforms are
// indexed by binding, Storage by storage slot. Unbound entries are nil.
type ComputeEnv struct {
	Images   []Image
	Uniforms []Buffer
	Storage  []Buffer
}

// FragmentEnv holds the textures bound to a draw, indexed by texture unit.
type FragmentEnv struct {
	Textures []Texture
}

type ComputeKernel func(inv Invocation, env *ComputeEnv)

// FragmentKernel returns the color of the fragment at uv, which is
// interpolated from the vertices' texture coordinates.
type FragmentKernel func(uv [2]float32, env *FragmentEnv) [4]float32

type Kernels struct {
	Compute  map[string]ComputeKernel
	Fragment map[string]FragmentKernel
}

// DefaultKernels returns the CPU versions of shaders.Collection.
func DefaultKernels() Kernels {
	return Kernels{
		Compute: map[string]ComputeKernel{
			shaders.Collection.PathTrace.Name: PathTrace,
		},
		Fragment: map[string]FragmentKernel{
			shaders.Collection.Display.Name: Display,
		},
	}
}

func fromBytes[E any, T *E](b []byte) T {
	if uintptr(len(b)) < unsafe.Sizeof(*new(E)) {
		panic(fmt.Sprintf(
			"buffer of size %d cannot represent object of size %d", len(b), unsafe.Sizeof(*new(E))))
	}

	return safeish.Cast[T](&b[0])
}

// accumulate runs the shared part of every path tracing kernel: it computes
// the sample for the invocation's texel and folds it into the accumulation
// image.
func accumulate(inv Invocation, env *ComputeEnv, sample func(cfg *renderer.FrameConfig, x, y uint32) [3]float32) {
	cfg := fromBytes[renderer.FrameConfig](env.Uniforms[shaders.FrameConfig])
	x, y := inv.GlobalID[0], inv.GlobalID[1]
	if x >= cfg.ImgSize[0] || y >= cfg.ImgSize[1] {
		return
	}
	s := sample(cfg, x, y)

	// The texel's previous contents are undefined before the first frame.
	old := env.Images[shaders.AccumulationRead].Load(x, y)
	var out [4]float32
	for i := range 3 {
		out[i] = renderer.Blend(old[i], s[i], cfg.FrameIndex)
	}
	out[3] = 1
	env.Images[shaders.AccumulationWrite].Store(x, y, out)
}

// Constant returns a path tracing kernel whose every sample is c.
func Constant(c [3]float32) ComputeKernel {
	return func(inv Invocation, env *ComputeEnv) {
		accumulate(inv, env, func(*renderer.FrameConfig, uint32, uint32) [3]float32 { return c })
	}
}

// IndexSample is a path tracing kernel whose samples equal the frame index.
// After k iterations every texel holds (k-1)/2.
func IndexSample(inv Invocation, env *ComputeEnv) {
	accumulate(inv, env, func(cfg *renderer.FrameConfig, _, _ uint32) [3]float32 {
		f := float32(cfg.FrameIndex)
		return [3]float32{f, f, f}
	})
}

// Display gamma-encodes the accumulation image.
func Display(uv [2]float32, env *FragmentEnv) [4]float32 {
	c := env.Textures[shaders.DisplayTexture].Sample(uv)
	return [4]float32{Encode(c[0]), Encode(c[1]), Encode(c[2]), 1}
}

// Encode clamps a linear radiance value to [0, 1] and applies a gamma of 2.2.
func Encode(v float32) float32 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return float32(math.Pow(float64(v), 1/2.2))
}
