// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_engine

import (
	"fmt"

	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/safeish"
)

// appendTexels decodes one row of a texture copy.
func appendTexels(dst []float32, row []byte, format renderer.ImageFormat) []float32 {
	switch format {
	case renderer.Rgba32Float:
		return append(dst, safeish.SliceCast[[]float32](row)...)
	case renderer.Rgba8:
		for _, b := range row {
			dst = append(dst, float32(b)/255)
		}
		return dst
	default:
		panic(fmt.Sprintf("unhandled format %d", format))
	}
}
