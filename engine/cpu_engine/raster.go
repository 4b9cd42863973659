// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import "math"

func edge(a, b, c [2]float32) float32 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// rasterize shades every pixel of target whose center lies inside the
// triangle. Row 0 of the target is at the bottom of clip space.
func rasterize(target *image, tri [3]vertex, shade func(uv [2]float32) [4]float32) {
	w := float32(target.proxy.Width)
	h := float32(target.proxy.Height)

	var p [3][2]float32
	for i, v := range tri {
		p[i] = [2]float32{(v.pos[0] + 1) / 2 * w, (v.pos[1] + 1) / 2 * h}
	}
	area := edge(p[0], p[1], p[2])
	if area == 0 {
		return
	}

	x0 := clampInt(math.Floor(float64(min(p[0][0], p[1][0], p[2][0]))), target.proxy.Width)
	x1 := clampInt(math.Ceil(float64(max(p[0][0], p[1][0], p[2][0]))), target.proxy.Width)
	y0 := clampInt(math.Floor(float64(min(p[0][1], p[1][1], p[2][1]))), target.proxy.Height)
	y1 := clampInt(math.Ceil(float64(max(p[0][1], p[1][1], p[2][1]))), target.proxy.Height)

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			c := [2]float32{float32(x) + 0.5, float32(y) + 0.5}
			b0 := edge(p[1], p[2], c) / area
			b1 := edge(p[2], p[0], c) / area
			b2 := edge(p[0], p[1], c) / area
			if b0 < 0 || b1 < 0 || b2 < 0 {
				continue
			}
			uv := [2]float32{
				b0*tri[0].uv[0] + b1*tri[1].uv[0] + b2*tri[2].uv[0],
				b0*tri[0].uv[1] + b1*tri[1].uv[1] + b2*tri[2].uv[1],
			}
			target.store(x, y, shade(uv))
		}
	}
}

func clampInt(v float64, size uint32) uint32 {
	if v < 0 {
		return 0
	}
	if v >= float64(size) {
		return size - 1
	}
	return uint32(v)
}
