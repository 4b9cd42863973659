// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gl_engine

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.6-core/gl"
	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/shaders"
)

type program struct {
	desc *renderer.ShaderDesc
	id   uint32
}

var glStages = [...]uint32{
	shaders.StageCompute:  gl.COMPUTE_SHADER,
	shaders.StageVertex:   gl.VERTEX_SHADER,
	shaders.StageFragment: gl.FRAGMENT_SHADER,
}

func programStages(kind renderer.ShaderKind) []shaders.Stage {
	switch kind {
	case renderer.ShaderKindCompute:
		return []shaders.Stage{shaders.StageCompute}
	case renderer.ShaderKindRender:
		return []shaders.Stage{shaders.StageVertex, shaders.StageFragment}
	default:
		return nil
	}
}

func (eng *Engine) AddShader(desc *renderer.ShaderDesc) (renderer.ShaderID, error) {
	if eng.released {
		return 0, renderer.ErrReleased
	}
	stages := programStages(desc.Kind)
	if stages == nil {
		return 0, &renderer.ShaderLinkError{Program: desc.Name, Log: fmt.Sprintf("unknown program kind %d", desc.Kind)}
	}

	var objs []uint32
	defer func() {
		for _, obj := range objs {
			gl.DeleteShader(obj)
		}
	}()
	for _, stage := range stages {
		obj, err := compileShader(desc.Name, stage, desc.Sources[stage])
		if err != nil {
			return 0, err
		}
		objs = append(objs, obj)
	}

	id, err := linkProgram(desc.Name, objs)
	if err != nil {
		return 0, err
	}
	labelObject(gl.PROGRAM, id, desc.Name)
	sid := renderer.ShaderID(len(eng.programs))
	eng.programs = append(eng.programs, &program{desc: desc, id: id})
	renderer.Logger().Debug("linked OpenGL program", "name", desc.Name, "id", sid)
	return sid, nil
}

func (eng *Engine) program(id renderer.ShaderID, kind renderer.ShaderKind) (*program, error) {
	if id < 0 || int(id) >= len(eng.programs) || eng.programs[id] == nil {
		return nil, fmt.Errorf("program %d doesn't exist", id)
	}
	p := eng.programs[id]
	if p.desc.Kind != kind {
		return nil, fmt.Errorf("program %q has the wrong kind", p.desc.Name)
	}
	return p, nil
}

func compileShader(name string, stage shaders.Stage, src []byte) (uint32, error) {
	if len(src) == 0 {
		return 0, &renderer.ShaderCompileError{Program: name, Stage: stage.String(), Log: "program has no source"}
	}
	obj := gl.CreateShader(glStages[stage])
	csources, free := gl.Strs(string(src) + "\x00")
	defer free()
	gl.ShaderSource(obj, 1, csources, nil)
	gl.CompileShader(obj)

	var status int32
	gl.GetShaderiv(obj, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(obj, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, max(logLen, 1))
		gl.GetShaderInfoLog(obj, logLen, nil, &log[0])
		gl.DeleteShader(obj)
		return 0, &renderer.ShaderCompileError{Program: name, Stage: stage.String(), Log: infoLog(log)}
	}
	return obj, nil
}

func linkProgram(name string, objs []uint32) (uint32, error) {
	id := gl.CreateProgram()
	for _, obj := range objs {
		gl.AttachShader(id, obj)
	}
	gl.LinkProgram(id)
	for _, obj := range objs {
		gl.DetachShader(id, obj)
	}

	var status int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, max(logLen, 1))
		gl.GetProgramInfoLog(id, logLen, nil, &log[0])
		gl.DeleteProgram(id)
		return 0, &renderer.ShaderLinkError{Program: name, Log: infoLog(log)}
	}
	return id, nil
}

// infoLog converts a NUL-terminated info log to a string.
func infoLog(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), "\n")
}

func labelObject(identifier, name uint32, label string) {
	if label == "" {
		return
	}
	gl.ObjectLabel(identifier, name, int32(len(label)), gl.Str(label+"\x00"))
}
