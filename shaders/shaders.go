// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package shaders contains the kernels run by the renderer and describes
// their bindings.
//
// The path tracing kernel and the display kernel exist in WGSL (wgsl/), GLSL
// (glsl/) and Go (package cpu). All versions must agree on the binding
// contract documented on Collection.
package shaders

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/gogpu/naga"
)

type Language int

const (
	WGSL Language = iota + 1
	GLSL
	// Go programs are implemented by package cpu and have no source.
	Go
)

func (l Language) String() string {
	switch l {
	case WGSL:
		return "wgsl"
	case GLSL:
		return "glsl"
	case Go:
		return "go"
	default:
		return fmt.Sprintf("Language(%d)", int(l))
	}
}

type Stage int

const (
	StageCompute Stage = iota + 1
	StageVertex
	StageFragment
)

func (s Stage) String() string {
	switch s {
	case StageCompute:
		return "compute"
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// glslExt maps stages to the file extensions of GLSL sources.
var glslExt = [...]string{
	StageCompute:  "comp",
	StageVertex:   "vert",
	StageFragment: "frag",
}

type Kind int

const (
	Compute Kind = iota + 1
	Render
)

type BindType int

const (
	ImageRead BindType = iota + 1
	ImageWrite
	Sampled
	Uniform
)

type BindingInfo struct {
	Index uint32
	Type  BindType
}

type VertexAttribute struct {
	Location   uint32
	Components uint32
	Offset     uint32
}

type Program struct {
	Name          string
	Kind          Kind
	Stages        []Stage
	WorkgroupSize [3]uint32
	Bindings      []BindingInfo
	// StorageSlots lists the storage buffer slots the program reads.
	StorageSlots     []uint32
	VertexStride     uint32
	VertexAttributes []VertexAttribute
}

// Binding indices shared by all kernel implementations.
const (
	// AccumulationRead and AccumulationWrite are the image units the
	// accumulation image is bound to in the path tracing kernel.
	AccumulationRead  = 0
	AccumulationWrite = 1
	// FrameConfig is the binding of the per-frame uniform.
	FrameConfig = 2
	// SceneSlot is the storage slot of the sphere buffer.
	SceneSlot = 0
	// DisplayTexture is the texture unit the display kernel samples. The
	// sampler, where the language has separate samplers, uses the next index.
	DisplayTexture = 2

	WorkgroupWidth  = 16
	WorkgroupHeight = 16
)

// Collection describes all programs used by the renderer.
var Collection = struct {
	PathTrace Program
	Display   Program
}{
	PathTrace: Program{
		Name:          "pathtrace",
		Kind:          Compute,
		Stages:        []Stage{StageCompute},
		WorkgroupSize: [3]uint32{WorkgroupWidth, WorkgroupHeight, 1},
		Bindings: []BindingInfo{
			{AccumulationRead, ImageRead},
			{AccumulationWrite, ImageWrite},
			{FrameConfig, Uniform},
		},
		StorageSlots: []uint32{SceneSlot},
	},
	Display: Program{
		Name:   "display",
		Kind:   Render,
		Stages: []Stage{StageVertex, StageFragment},
		Bindings: []BindingInfo{
			{DisplayTexture, Sampled},
		},
		VertexStride: 16,
		VertexAttributes: []VertexAttribute{
			{Location: 0, Components: 2, Offset: 0},
			{Location: 1, Components: 2, Offset: 8},
		},
	},
}

// Programs returns the programs of Collection.
func Programs() []*Program {
	return []*Program{&Collection.PathTrace, &Collection.Display}
}

// A Loader supplies kernel sources.
type Loader interface {
	Load(lang Language, program string, stage Stage) ([]byte, error)
}

//go:embed wgsl/*.wgsl glsl/*
var embedded embed.FS

// Embedded returns a loader for the sources compiled into the binary.
func Embedded() Loader {
	return FS(embedded)
}

// Dir returns a loader reading sources from dir, which must be laid out like
// this package: wgsl/<program>.wgsl and glsl/<program>.<comp|vert|frag>.
func Dir(dir string) Loader {
	return FS(os.DirFS(dir))
}

func FS(fsys fs.FS) Loader {
	return fsLoader{fsys}
}

type fsLoader struct {
	fsys fs.FS
}

func (l fsLoader) Load(lang Language, program string, stage Stage) ([]byte, error) {
	name, err := SourcePath(lang, program, stage)
	if err != nil {
		return nil, err
	}
	src, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("loading %s source of %q: %w", lang, program, err)
	}
	return src, nil
}

// SourcePath returns the path of a program's source relative to the root of
// a loader's file system.
func SourcePath(lang Language, program string, stage Stage) (string, error) {
	switch lang {
	case WGSL:
		// WGSL keeps all stages of a program in one module.
		return path.Join("wgsl", program+".wgsl"), nil
	case GLSL:
		if stage <= 0 || int(stage) >= len(glslExt) {
			return "", fmt.Errorf("invalid stage %d", stage)
		}
		return path.Join("glsl", program+"."+glslExt[stage]), nil
	default:
		return "", fmt.Errorf("no sources for %s programs", lang)
	}
}

// Validate compiles a WGSL module and returns the compiler's diagnostic if it
// is invalid.
func Validate(src []byte) error {
	if _, err := naga.Compile(string(src)); err != nil {
		return err
	}
	return nil
}
