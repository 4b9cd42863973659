// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package ptrace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"honnef.co/go/ptrace/profiler"
	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/scene"
)

// ErrNoFrames is returned by Snapshot before the first frame has completed.
var ErrNoFrames = errors.New("ptrace: no frame has been rendered yet")

type Options struct {
	Renderer renderer.Options
	Timer    profiler.TimerOptions
}

// Renderer owns the resources, the frame index and the frame timer of one
// progressive rendering. It is not safe for concurrent use.
type Renderer struct {
	eng      renderer.Engine
	res      *renderer.ResourceSet
	pipeline *renderer.Pipeline
	timer    *profiler.Timer
	frame    uint32
	closed   bool
}

// New allocates everything needed to render sc at width×height on eng. The
// engine remains owned by the caller and must outlive the renderer.
func New(eng renderer.Engine, sc *scene.Scene, width, height int, opts *Options) (*Renderer, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	res, err := renderer.Initialize(eng, sc, width, height, &o.Renderer)
	if err != nil {
		return nil, err
	}
	timer, err := profiler.NewTimer(eng, &o.Timer)
	if err != nil {
		res.Release()
		return nil, fmt.Errorf("creating frame timer: %w", err)
	}
	renderer.Logger().Info("renderer ready",
		"width", width,
		"height", height,
		"spheres", sc.Len(),
		"strategy", res.Accumulator.Strategy())
	return &Renderer{
		eng:      eng,
		res:      res,
		pipeline: renderer.NewPipeline(eng, res),
		timer:    timer,
	}, nil
}

// Step renders one frame and waits for the device to finish it. It returns
// the device time the frame took.
func (r *Renderer) Step() (time.Duration, error) {
	if r.closed {
		return 0, renderer.ErrReleased
	}
	// The frame is committed once its commands were accepted, even if timing
	// it fails afterwards; the accumulator already contains it.
	d, err := r.timer.Time(func() error {
		next, err := r.pipeline.RunIteration(r.frame)
		if err != nil {
			return err
		}
		r.frame = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return d, nil
}

// Frame returns the number of completed frames.
func (r *Renderer) Frame() uint32 { return r.frame }

// FPS returns the average framerate of all completed frames.
func (r *Renderer) FPS() float64 { return r.timer.CurrentFPS() }

func (r *Renderer) Stats() profiler.Stats { return r.timer.Stats() }

// Status describes the progress in the form the window title shows.
func (r *Renderer) Status() string {
	return fmt.Sprintf("Frame: %d, FPS: %.2f", r.frame, r.FPS())
}

func (r *Renderer) Size() (width, height int) {
	return int(r.res.Width), int(r.res.Height)
}

// Snapshot returns the current estimate as linear RGBA, row by row starting
// at the bottom of the image.
func (r *Renderer) Snapshot() ([]float32, error) {
	if r.closed {
		return nil, renderer.ErrReleased
	}
	if r.frame == 0 {
		return nil, ErrNoFrames
	}
	return r.eng.ReadImage(r.res.Accumulator.Latest(r.frame))
}

// Hooks let the caller interleave its own work with the frame loop.
type Hooks struct {
	// BeforeFrame runs before every frame. Returning true ends the loop.
	BeforeFrame func() (quit bool)
	// AfterFrame runs after every completed frame. An error ends the loop
	// and is returned by Run.
	AfterFrame func(r *Renderer, d time.Duration) error
}

// Run renders frames until ctx is done, BeforeFrame asks to quit or an error
// occurs. Stopping is not an error.
func (r *Renderer) Run(ctx context.Context, hooks Hooks) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if hooks.BeforeFrame != nil && hooks.BeforeFrame() {
			return nil
		}
		d, err := r.Step()
		if err != nil {
			return err
		}
		if hooks.AfterFrame != nil {
			if err := hooks.AfterFrame(r, d); err != nil {
				return err
			}
		}
	}
}

// Close releases the renderer's resources. It is safe to call more than
// once.
func (r *Renderer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.res.Release()
	renderer.Logger().Debug("renderer closed", "frames", r.frame)
}
