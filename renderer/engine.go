// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"honnef.co/go/ptrace/profiler"
	"honnef.co/go/ptrace/shaders"
)

// Engine executes recordings on a device.
//
// Resources created by a recording persist until a later recording frees
// them. Engines are not safe for concurrent use; all calls must come from the
// goroutine that owns the device.
type Engine interface {
	profiler.QuerySource

	Capabilities() Capabilities
	// AddShader compiles and links a program. Failures are reported as
	// *ShaderCompileError or *ShaderLinkError.
	AddShader(desc *ShaderDesc) (ShaderID, error)
	// Submit executes rec. Submit may return before the device has finished
	// the work; later commands still observe earlier ones as ordered by the
	// recording and its barriers.
	Submit(rec *Recording) error
	// ReadImage blocks until the device has finished with img and returns its
	// texels as RGBA float32s, row by row. Writes to img that no Barrier
	// ordered before the read are a *DeviceError.
	ReadImage(img ImageProxy) ([]float32, error)
	// Release frees every resource the engine still holds.
	Release()
}

type Capabilities struct {
	// ImageAliasing reports whether one image may be bound for both reading
	// and writing in the same dispatch.
	ImageAliasing bool
	// TimerQueries reports whether BeginQuery can measure device time.
	TimerQueries bool
	// PresentsToSurface reports whether a Draw with a zero target renders to
	// a window surface.
	PresentsToSurface bool
	// Language is the shading language AddShader consumes.
	Language shaders.Language
}

type ShaderKind int

const (
	ShaderKindCompute ShaderKind = iota + 1
	ShaderKindRender
)

type BindingLayout struct {
	Index  uint32
	Access Access
}

type VertexAttribute struct {
	Location   uint32
	Components uint32
	Offset     uint32
}

type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

type ShaderDesc struct {
	Name    string
	Kind    ShaderKind
	Sources map[shaders.Stage][]byte

	// Compute programs only.
	WorkgroupSize [3]uint32
	StorageSlots  []uint32

	Bindings []BindingLayout

	// Render programs only.
	Vertex VertexLayout
}

func (d *ShaderDesc) Binding(index uint32) (BindingLayout, bool) {
	for _, b := range d.Bindings {
		if b.Index == index {
			return b, true
		}
	}
	return BindingLayout{}, false
}

var bindTypeMapping = [...]Access{
	shaders.ImageRead:  AccessImageRead,
	shaders.ImageWrite: AccessImageWrite,
	shaders.Sampled:    AccessSampled,
	shaders.Uniform:    AccessUniform,
}

// NewShaderDesc describes prog for an engine, loading its sources in lang
// from loader. Programs for shaders.Go have no sources.
func NewShaderDesc(prog *shaders.Program, lang shaders.Language, loader shaders.Loader) (*ShaderDesc, error) {
	desc := &ShaderDesc{
		Name:          prog.Name,
		WorkgroupSize: prog.WorkgroupSize,
		StorageSlots:  prog.StorageSlots,
		Sources:       make(map[shaders.Stage][]byte, len(prog.Stages)),
	}
	switch prog.Kind {
	case shaders.Compute:
		desc.Kind = ShaderKindCompute
	case shaders.Render:
		desc.Kind = ShaderKindRender
	}
	for _, b := range prog.Bindings {
		desc.Bindings = append(desc.Bindings, BindingLayout{Index: b.Index, Access: bindTypeMapping[b.Type]})
	}
	desc.Vertex.Stride = prog.VertexStride
	for _, a := range prog.VertexAttributes {
		desc.Vertex.Attributes = append(desc.Vertex.Attributes, VertexAttribute(a))
	}

	if lang == shaders.Go {
		return desc, nil
	}
	for _, stage := range prog.Stages {
		src, err := loader.Load(lang, prog.Name, stage)
		if err != nil {
			return nil, err
		}
		desc.Sources[stage] = src
	}
	return desc, nil
}
