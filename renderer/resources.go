// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"errors"
	"fmt"

	"honnef.co/go/ptrace/scene"
	"honnef.co/go/ptrace/shaders"
	"honnef.co/go/safeish"
)

// Full-screen quad as {x, y, u, v} vertices.
var (
	quadVertices = [16]float32{
		-1, -1, 0, 0,
		1, -1, 1, 0,
		1, 1, 1, 1,
		-1, 1, 0, 1,
	}
	quadIndices = [6]uint32{0, 1, 2, 3, 0, 2}
)

type Options struct {
	// Loader supplies kernel sources. It defaults to shaders.Embedded.
	Loader shaders.Loader
	// Strategy defaults to StrategyAuto.
	Strategy Strategy
}

// ResourceSet holds everything the renderer allocates on a device. It is
// created once by Initialize and never reallocated.
type ResourceSet struct {
	eng Engine

	Width, Height uint32

	PathTrace ShaderID
	Display   ShaderID

	Scene  BufferProxy
	Config BufferProxy
	// Images holds one accumulation image for StrategyInPlace and two for
	// StrategyPingPong.
	Images      []ImageProxy
	Accumulator *Accumulator
	Quad        Mesh
	// Target is the image the display program draws into. It is zero if the
	// engine presents to a surface.
	Target ImageProxy

	released bool
}

// Initialize compiles the kernels and allocates all resources for rendering
// sc at width×height.
//
// Compilation failures are returned verbatim as *ShaderCompileError or
// *ShaderLinkError. If any step fails, everything acquired so far is
// released.
func Initialize(eng Engine, sc *scene.Scene, width, height int, opts *Options) (*ResourceSet, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Loader == nil {
		o.Loader = shaders.Embedded()
	}

	if width <= 0 || height <= 0 || width > 1<<16 || height > 1<<16 {
		return nil, &ResourceAllocationError{
			Resource: "accumulation image",
			Err:      fmt.Errorf("invalid size %dx%d", width, height),
		}
	}
	if sc.Len() == 0 {
		return nil, &ResourceAllocationError{Resource: "scene buffer", Err: errors.New("scene has no spheres")}
	}

	caps := eng.Capabilities()
	strategy, err := resolveStrategy(o.Strategy, caps)
	if err != nil {
		return nil, err
	}

	log := Logger()
	res := &ResourceSet{
		eng:    eng,
		Width:  uint32(width),
		Height: uint32(height),
	}

	if res.PathTrace, err = addProgram(eng, &shaders.Collection.PathTrace, caps.Language, o.Loader); err != nil {
		return nil, err
	}
	if res.Display, err = addProgram(eng, &shaders.Collection.Display, caps.Language, o.Loader); err != nil {
		var rec Recording
		rec.FreeShader(res.PathTrace)
		if ferr := eng.Submit(&rec); ferr != nil {
			log.Warn("couldn't free program", "name", shaders.Collection.PathTrace.Name, "err", ferr)
		}
		return nil, err
	}

	var rec Recording
	res.Scene = rec.Upload("scene", sc.Bytes())
	cfg := FrameConfig{ImgSize: [2]uint32{res.Width, res.Height}}
	res.Config = rec.UploadUniform("frame config", cfg.Bytes())
	n := 1
	if strategy == StrategyPingPong {
		n = 2
	}
	for i := range n {
		img := rec.CreateImage(res.Width, res.Height, Rgba32Float, fmt.Sprintf("accumulation %d", i))
		res.Images = append(res.Images, img)
	}
	res.Accumulator = NewAccumulator(strategy, res.Images...)
	res.Quad = rec.UploadMesh("quad",
		safeish.SliceCast[[]byte](quadVertices[:]),
		safeish.SliceCast[[]byte](quadIndices[:]))
	if !caps.PresentsToSurface {
		res.Target = rec.CreateImage(res.Width, res.Height, Rgba8, "swap target")
	}

	if err := eng.Submit(&rec); err != nil {
		res.Release()
		return nil, err
	}

	log.Info("initialized resources",
		"width", width,
		"height", height,
		"spheres", sc.Len(),
		"strategy", strategy,
		"language", caps.Language)
	log.Debug("resource ids",
		"scene", res.Scene.ID,
		"config", res.Config.ID,
		"images", len(res.Images),
		"offscreen", !res.Target.IsZero())
	return res, nil
}

func addProgram(eng Engine, prog *shaders.Program, lang shaders.Language, loader shaders.Loader) (ShaderID, error) {
	desc, err := NewShaderDesc(prog, lang, loader)
	if err != nil {
		return 0, err
	}
	return eng.AddShader(desc)
}

// Released reports whether Release has been called.
func (res *ResourceSet) Released() bool { return res.released }

// Release frees all resources. It is safe to call more than once.
func (res *ResourceSet) Release() {
	if res.released {
		return
	}
	res.released = true

	var rec Recording
	rec.FreeBuffer(res.Scene)
	rec.FreeBuffer(res.Config)
	for _, img := range res.Images {
		rec.FreeImage(img)
	}
	rec.FreeMesh(res.Quad)
	if !res.Target.IsZero() {
		rec.FreeImage(res.Target)
	}
	rec.FreeShader(res.PathTrace)
	rec.FreeShader(res.Display)
	if err := res.eng.Submit(&rec); err != nil {
		Logger().Warn("couldn't release resources", "err", err)
	}
}
