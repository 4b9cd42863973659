// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"structs"

	"golang.org/x/exp/constraints"
	"honnef.co/go/safeish"
)

// TileSize is the width and height, in pixels, of the area covered by one
// work-group of the path tracing kernel.
const TileSize = 16

// FrameConfig contains the per-frame uniform data of the path tracing kernel.
//
// This data structure must be kept in sync with FrameConfig in
// shaders/wgsl/pathtrace.wgsl and shaders/glsl/pathtrace.comp.
type FrameConfig struct {
	_ structs.HostLayout

	ImgSize [2]uint32
	// FrameIndex is the number of samples already folded into the
	// accumulation image.
	FrameIndex uint32
	_          uint32
}

// FrameConfigSize is the size of FrameConfig in bytes.
const FrameConfigSize = 16

func (c *FrameConfig) Bytes() []byte {
	return safeish.AsBytes(c)
}

// WorkgroupCounts returns the dispatch grid covering a width×height image
// with TileSize×TileSize work-groups.
func WorkgroupCounts(width, height uint32) [3]uint32 {
	return [3]uint32{divCeil(width, TileSize), divCeil(height, TileSize), 1}
}

func divCeil[T constraints.Unsigned](x, y T) T {
	return (x + y - 1) / y
}
