// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"math"
	"testing"

	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/scene"
)

type testImage struct {
	w, h   uint32
	pixels [][4]float32
}

func newTestImage(w, h uint32, fill float32) *testImage {
	img := &testImage{w: w, h: h, pixels: make([][4]float32, w*h)}
	for i := range img.pixels {
		img.pixels[i] = [4]float32{fill, fill, fill, fill}
	}
	return img
}

func (img *testImage) Size() (uint32, uint32) { return img.w, img.h }

func (img *testImage) Load(x, y uint32) [4]float32 {
	if x >= img.w || y >= img.h {
		return [4]float32{}
	}
	return img.pixels[y*img.w+x]
}

func (img *testImage) Store(x, y uint32, v [4]float32) {
	if x >= img.w || y >= img.h {
		return
	}
	img.pixels[y*img.w+x] = v
}

func run(k ComputeKernel, img *testImage, storage []byte, frame uint32) {
	cfg := renderer.FrameConfig{ImgSize: [2]uint32{img.w, img.h}, FrameIndex: frame}
	env := &ComputeEnv{
		Images:   []Image{img, img},
		Uniforms: []Buffer{nil, nil, cfg.Bytes()},
		Storage:  []Buffer{storage},
	}
	// Cover more than the image to exercise the bounds check.
	for y := range img.h + 3 {
		for x := range img.w + 5 {
			k(Invocation{GlobalID: [3]uint32{x, y, 0}}, env)
		}
	}
}

func TestConstantIgnoresUndefinedContents(t *testing.T) {
	img := newTestImage(4, 3, float32(math.NaN()))
	c := [3]float32{0.25, 0.5, 0.75}
	run(Constant(c), img, nil, 0)
	for i, px := range img.pixels {
		if px != [4]float32{0.25, 0.5, 0.75, 1} {
			t.Fatalf("texel %d = %v", i, px)
		}
	}
	// The average of identical samples doesn't change.
	for k := uint32(1); k < 5; k++ {
		run(Constant(c), img, nil, k)
	}
	for i, px := range img.pixels {
		if px != [4]float32{0.25, 0.5, 0.75, 1} {
			t.Fatalf("texel %d = %v after 5 frames", i, px)
		}
	}
}

func TestIndexSampleAverage(t *testing.T) {
	img := newTestImage(2, 2, float32(math.NaN()))
	for k := range uint32(8) {
		run(IndexSample, img, nil, k)
	}
	// Mean of 0..7.
	if got := img.pixels[0][0]; math.Abs(float64(got)-3.5) > 1e-5 {
		t.Fatalf("got %v, want 3.5", got)
	}
}

func TestSampleDeterministic(t *testing.T) {
	spheres := scene.CornellBox().Spheres()
	for _, px := range [][2]uint32{{0, 0}, {17, 9}, {59, 39}} {
		a := Sample(spheres, 60, 40, px[0], px[1], 3)
		b := Sample(spheres, 60, 40, px[0], px[1], 3)
		if a != b {
			t.Fatalf("pixel %v: %v != %v", px, a, b)
		}
	}
}

func TestSampleFinite(t *testing.T) {
	spheres := scene.CornellBox().Spheres()
	var lit int
	for y := uint32(0); y < 20; y++ {
		for x := uint32(0); x < 30; x++ {
			s := Sample(spheres, 30, 20, x, y, 0)
			for _, c := range s {
				if c < 0 || math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
					t.Fatalf("pixel (%d, %d): invalid sample %v", x, y, s)
				}
			}
			if s[0]+s[1]+s[2] > 0 {
				lit++
			}
		}
	}
	if lit == 0 {
		t.Fatal("no pixel received any light")
	}
}

func TestSampleInsideEmitter(t *testing.T) {
	// A black emitter enclosing the camera: every path sees exactly its
	// emission once and then dies.
	spheres := []scene.Sphere{scene.NewSphere(scene.Vec3{}, 100, scene.Vec3{1, 2, 3}, scene.Vec3{}, scene.Diffuse)}
	for _, px := range [][2]uint32{{0, 0}, {5, 5}, {9, 7}} {
		if got := Sample(spheres, 10, 8, px[0], px[1], 1); got != [3]float32{1, 2, 3} {
			t.Fatalf("pixel %v = %v, want [1 2 3]", px, got)
		}
	}
	if got := Sample(nil, 10, 8, 1, 1, 0); got != [3]float32{} {
		t.Fatalf("empty scene gave %v", got)
	}
}

func TestPathTraceMatchesSample(t *testing.T) {
	sc := scene.CornellBox()
	img := newTestImage(8, 6, float32(math.NaN()))
	run(PathTrace, img, sc.Bytes(), 0)
	want := Sample(sc.Spheres(), 8, 6, 3, 2, 0)
	got := img.Load(3, 2)
	if [3]float32{got[0], got[1], got[2]} != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

type constTexture [4]float32

func (c constTexture) Sample([2]float32) [4]float32 { return c }

func TestDisplay(t *testing.T) {
	env := &FragmentEnv{Textures: []Texture{nil, nil, constTexture{-1, 0.5, 4, 0}}}
	got := Display([2]float32{0.5, 0.5}, env)
	want := [4]float32{0, float32(math.Pow(0.5, 1/2.2)), 1, 1}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		in, want float32
	}{
		{0, 0},
		{-3, 0},
		{float32(math.NaN()), 0},
		{1, 1},
		{17, 1},
		{float32(math.Inf(1)), 1},
	}
	for _, tt := range tests {
		if got := Encode(tt.in); got != tt.want {
			t.Errorf("Encode(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
