// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"honnef.co/go/ptrace"
	"honnef.co/go/ptrace/engine/gl_engine"
	"honnef.co/go/ptrace/scene"
)

func init() {
	// GLFW and the OpenGL context must stay on the main thread.
	runtime.LockOSThread()
}

// windowHints request a resizable window with a 4.6 core debug context. The
// GL engine re-reads the framebuffer size on every draw.
var windowHints = []struct {
	hint  glfw.Hint
	value int
}{
	{glfw.ContextVersionMajor, 4},
	{glfw.ContextVersionMinor, 6},
	{glfw.OpenGLProfile, glfw.OpenGLCoreProfile},
	{glfw.OpenGLForwardCompatible, glfw.True},
	{glfw.OpenGLDebugContext, glfw.True},
	{glfw.Resizable, glfw.True},
}

// runWindow renders into a window until it is closed or Escape is pressed.
func runWindow(width, height int, opts *ptrace.Options) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("initializing GLFW: %w", err)
	}
	defer glfw.Terminate()

	for _, h := range windowHints {
		glfw.WindowHint(h.hint, h.value)
	}
	win, err := glfw.CreateWindow(width, height, "ptrace", nil, nil)
	if err != nil {
		return fmt.Errorf("creating window: %w", err)
	}
	defer win.Destroy()
	win.MakeContextCurrent()
	glfw.SwapInterval(0)
	win.SetKeyCallback(func(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})

	eng, err := gl_engine.New(&gl_engine.Options{
		Surface: win.GetFramebufferSize,
		Debug:   true,
	})
	if err != nil {
		return err
	}
	defer eng.Release()

	r, err := ptrace.New(eng, scene.CornellBox(), width, height, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.Run(context.Background(), ptrace.Hooks{
		BeforeFrame: func() bool {
			glfw.PollEvents()
			return win.ShouldClose()
		},
		AfterFrame: func(r *ptrace.Renderer, _ time.Duration) error {
			win.SetTitle(r.Status())
			win.SwapBuffers()
			return nil
		},
	})
}
