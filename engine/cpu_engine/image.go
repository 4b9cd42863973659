// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import (
	"fmt"
	"math"

	"honnef.co/go/ptrace/renderer"
)

type image struct {
	proxy  renderer.ImageProxy
	pixels []float32
	// dirty is set when a dispatch writes the image and cleared by a
	// barrier on it.
	dirty bool
}

func newImage(proxy renderer.ImageProxy) *image {
	img := &image{
		proxy:  proxy,
		pixels: make([]float32, int(proxy.Width)*int(proxy.Height)*4),
	}
	// New images have undefined contents. Make any kernel that depends on
	// them produce garbage.
	nan := float32(math.NaN())
	for i := range img.pixels {
		img.pixels[i] = nan
	}
	return img
}

func (img *image) index(x, y uint32) int {
	return (int(y)*int(img.proxy.Width) + int(x)) * 4
}

func (img *image) load(x, y uint32) [4]float32 {
	if x >= img.proxy.Width || y >= img.proxy.Height {
		return [4]float32{}
	}
	i := img.index(x, y)
	return [4]float32(img.pixels[i : i+4])
}

func (img *image) store(x, y uint32, v [4]float32) {
	if x >= img.proxy.Width || y >= img.proxy.Height {
		return
	}
	if img.proxy.Format == renderer.Rgba8 {
		for i, c := range v {
			v[i] = float32(math.Round(float64(min(max(c, 0), 1))*255)) / 255
		}
	}
	i := img.index(x, y)
	copy(img.pixels[i:i+4], v[:])
}

// Sample implements nearest filtering with clamp-to-edge wrapping.
func (img *image) Sample(uv [2]float32) [4]float32 {
	w, h := img.proxy.Width, img.proxy.Height
	x := clampTexel(uv[0], w)
	y := clampTexel(uv[1], h)
	return img.load(x, y)
}

func clampTexel(c float32, size uint32) uint32 {
	f := math.Floor(float64(c) * float64(size))
	if !(f > 0) {
		return 0
	}
	if f >= float64(size) {
		return size - 1
	}
	return uint32(f)
}

// imageView is an image as bound to one image unit in one work-group. It
// enforces the access the program declared and, if the image is bound to more
// than one unit of the dispatch, that each invocation only touches its own
// texel.
type imageView struct {
	img    *image
	access renderer.Access
	// cur points at the global ID of the invocation being executed. It is nil
	// if the image isn't aliased.
	cur *[3]uint32
}

func (v *imageView) Size() (uint32, uint32) {
	return v.img.proxy.Width, v.img.proxy.Height
}

func (v *imageView) check(op string, x, y uint32) {
	if v.cur == nil {
		return
	}
	if x != v.cur[0] || y != v.cur[1] {
		panic(fmt.Sprintf("invocation (%d, %d) %s texel (%d, %d) of aliased image %q",
			v.cur[0], v.cur[1], op, x, y, v.img.proxy.Name))
	}
}

func (v *imageView) Load(x, y uint32) [4]float32 {
	if v.access != renderer.AccessImageRead {
		panic(fmt.Sprintf("load from %s image %q", v.access, v.img.proxy.Name))
	}
	v.check("loads", x, y)
	return v.img.load(x, y)
}

func (v *imageView) Store(x, y uint32, c [4]float32) {
	if v.access != renderer.AccessImageWrite {
		panic(fmt.Sprintf("store to %s image %q", v.access, v.img.proxy.Name))
	}
	v.check("stores", x, y)
	v.img.store(x, y, c)
}
