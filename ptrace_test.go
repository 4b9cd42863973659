// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package ptrace_test

import (
	"context"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"honnef.co/go/ptrace"
	"honnef.co/go/ptrace/engine/cpu_engine"
	"honnef.co/go/ptrace/profiler"
	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/scene"
	"honnef.co/go/ptrace/shaders"
	"honnef.co/go/ptrace/shaders/cpu"
)

const testW, testH = 24, 16

func newRenderer(t *testing.T, kernel cpu.ComputeKernel, opts *ptrace.Options) *ptrace.Renderer {
	t.Helper()
	eopts := cpu_engine.Options{Kernels: cpu.DefaultKernels()}
	if kernel != nil {
		eopts.Kernels.Compute[shaders.Collection.PathTrace.Name] = kernel
	}
	eng := cpu_engine.New(&eopts)
	t.Cleanup(eng.Release)
	r, err := ptrace.New(eng, scene.CornellBox(), testW, testH, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestStep(t *testing.T) {
	r := newRenderer(t, cpu.IndexSample, nil)
	if _, err := r.Snapshot(); !errors.Is(err, ptrace.ErrNoFrames) {
		t.Fatalf("Snapshot before the first frame: got %v, want ErrNoFrames", err)
	}
	for range 5 {
		if _, err := r.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if r.Frame() != 5 {
		t.Fatalf("Frame() = %d, want 5", r.Frame())
	}
	if s := r.Stats(); s.Frames != 5 {
		t.Errorf("timer counted %d frames, want 5", s.Frames)
	}
	if fps := r.FPS(); math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		t.Errorf("FPS() = %v", fps)
	}

	px, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(px) != testW*testH*4 {
		t.Fatalf("got %d floats, want %d", len(px), testW*testH*4)
	}
	// The average of the frame indices 0 through 4.
	for i := 0; i < len(px); i += 4 {
		if [4]float32(px[i:i+4]) != [4]float32{2, 2, 2, 1} {
			t.Fatalf("texel %d = %v", i/4, px[i:i+4])
		}
	}
}

func TestStatus(t *testing.T) {
	r := newRenderer(t, cpu.Constant([3]float32{0.5, 0.5, 0.5}), nil)
	if got := r.Status(); got != "Frame: 0, FPS: 0.00" {
		t.Errorf("Status() = %q", got)
	}
	if _, err := r.Step(); err != nil {
		t.Fatal(err)
	}
	re := regexp.MustCompile(`^Frame: 1, FPS: \d+\.\d{2}$`)
	if got := r.Status(); !re.MatchString(got) {
		t.Errorf("Status() = %q", got)
	}
}

func TestRun(t *testing.T) {
	r := newRenderer(t, cpu.Constant([3]float32{1, 0, 0}), nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var before, after int
	err := r.Run(ctx, ptrace.Hooks{
		BeforeFrame: func() bool {
			before++
			return false
		},
		AfterFrame: func(r *ptrace.Renderer, d time.Duration) error {
			after++
			if d < 0 {
				t.Errorf("negative frame time %v", d)
			}
			if r.Frame() == 4 {
				cancel()
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Frame() != 4 || before != 4 || after != 4 {
		t.Fatalf("frame %d, %d BeforeFrame calls, %d AfterFrame calls; want 4 of each", r.Frame(), before, after)
	}

	quit := false
	err = r.Run(t.Context(), ptrace.Hooks{
		BeforeFrame: func() bool { return quit },
		AfterFrame: func(*ptrace.Renderer, time.Duration) error {
			quit = true
			return nil
		},
	})
	if err != nil || r.Frame() != 5 {
		t.Fatalf("Run() = %v with frame %d, want nil with frame 5", err, r.Frame())
	}

	stop := errors.New("stop")
	err = r.Run(t.Context(), ptrace.Hooks{
		AfterFrame: func(*ptrace.Renderer, time.Duration) error { return stop },
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Run() = %v, want the hook's error", err)
	}
}

func TestClose(t *testing.T) {
	r := newRenderer(t, nil, nil)
	if _, err := r.Step(); err != nil {
		t.Fatal(err)
	}
	r.Close()
	r.Close()
	if _, err := r.Step(); !errors.Is(err, renderer.ErrReleased) {
		t.Fatalf("Step after Close: got %v, want ErrReleased", err)
	}
	if _, err := r.Snapshot(); !errors.Is(err, renderer.ErrReleased) {
		t.Fatalf("Snapshot after Close: got %v, want ErrReleased", err)
	}
}

func TestNewErrors(t *testing.T) {
	eng := cpu_engine.New(nil)
	defer eng.Release()

	var aerr *renderer.ResourceAllocationError
	if _, err := ptrace.New(eng, scene.CornellBox(), 0, 10, nil); !errors.As(err, &aerr) {
		t.Errorf("zero width: got %v, want *renderer.ResourceAllocationError", err)
	}
	r, err := ptrace.New(eng, scene.CornellBox(), 8, 8, &ptrace.Options{
		Renderer: renderer.Options{Strategy: renderer.StrategyPingPong},
	})
	if err != nil {
		t.Errorf("ping-pong on an aliasing engine: %v", err)
	} else {
		r.Close()
	}
}

// stalledEngine hands out queries whose results never become available.
type stalledEngine struct {
	*cpu_engine.Engine
}

func (eng stalledEngine) BeginQuery() (profiler.Query, error) { return stalledQuery{}, nil }

type stalledQuery struct{}

func (stalledQuery) End() error                      { return nil }
func (stalledQuery) Available() (bool, error)        { return false, nil }
func (stalledQuery) Elapsed() (time.Duration, error) { return 0, nil }
func (stalledQuery) Release()                        {}

func TestStepQueryTimeout(t *testing.T) {
	eng := cpu_engine.New(&cpu_engine.Options{Kernels: cpu.DefaultKernels()})
	defer eng.Release()
	r, err := ptrace.New(stalledEngine{eng}, scene.CornellBox(), testW, testH, &ptrace.Options{
		Timer: profiler.TimerOptions{Timeout: time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Step(); !errors.Is(err, profiler.ErrQueryTimeout) {
		t.Fatalf("got %v, want ErrQueryTimeout", err)
	}
	// The frame's commands were accepted, so it counts even though it wasn't timed.
	if r.Frame() != 1 {
		t.Fatalf("Frame() = %d, want 1", r.Frame())
	}
	if s := r.Stats(); s.Frames != 0 {
		t.Errorf("timer counted %d frames, want 0", s.Frames)
	}
	if _, err := r.Snapshot(); err != nil {
		t.Errorf("Snapshot after an untimed frame: %v", err)
	}
}
