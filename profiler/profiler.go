// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package profiler measures how long the device spends on each frame.
//
// It only knows about the Query and QuerySource interfaces so that packages
// measuring frames don't need a direct dependency on any graphics API.
package profiler

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"
)

var (
	// ErrNoTimerQueries is returned by NewTimer when the device cannot measure
	// elapsed time. It is a capability error and is only reported at startup.
	ErrNoTimerQueries = errors.New("profiler: device does not support timer queries")

	// ErrQueryTimeout is returned when a query's result doesn't become
	// available within the timer's timeout.
	ErrQueryTimeout = errors.New("profiler: timed out waiting for query result")
)

// A Query measures the device time spent on the work submitted between
// QuerySource.BeginQuery and End.
type Query interface {
	End() error
	// Available reports whether the result can be read without blocking.
	Available() (bool, error)
	Elapsed() (time.Duration, error)
	Release()
}

type QuerySource interface {
	// BeginQuery returns ErrNoTimerQueries if the source can't measure time.
	BeginQuery() (Query, error)
}

// Stats accumulates the elapsed time of completed frames.
type Stats struct {
	Frames uint64
	Total  time.Duration
}

func (s *Stats) Add(d time.Duration) {
	s.Frames++
	s.Total += d
}

// FPS returns the average framerate. It is zero until a frame with a non-zero
// duration has completed.
func (s Stats) FPS() float64 {
	if s.Frames == 0 || s.Total <= 0 {
		return 0
	}
	fps := float64(s.Frames) / s.Total.Seconds()
	if math.IsInf(fps, 0) || math.IsNaN(fps) {
		return 0
	}
	return fps
}

type TimerOptions struct {
	// Timeout bounds how long Time busy-polls for a query result. Zero means
	// DefaultTimeout, a negative value disables the timeout.
	Timeout time.Duration
}

const DefaultTimeout = 10 * time.Second

type Timer struct {
	src     QuerySource
	timeout time.Duration
	stats   Stats
}

// NewTimer checks src for timer support and returns ErrNoTimerQueries if it
// has none.
func NewTimer(src QuerySource, opts *TimerOptions) (*Timer, error) {
	q, err := src.BeginQuery()
	if err != nil {
		return nil, err
	}
	// This query brackets no work.
	if err := q.End(); err != nil {
		q.Release()
		return nil, err
	}
	q.Release()

	t := &Timer{src: src, timeout: DefaultTimeout}
	if opts != nil && opts.Timeout != 0 {
		t.timeout = opts.Timeout
	}
	return t, nil
}

// Time runs body inside a query and blocks until the device has finished the
// work body submitted. This is the only point at which the frame loop waits
// for the device.
//
// The duration of a failed body is not accumulated.
func (t *Timer) Time(body func() error) (time.Duration, error) {
	q, err := t.src.BeginQuery()
	if err != nil {
		return 0, fmt.Errorf("begin query: %w", err)
	}
	defer q.Release()

	if err := body(); err != nil {
		return 0, err
	}
	if err := q.End(); err != nil {
		return 0, fmt.Errorf("end query: %w", err)
	}

	start := time.Now()
	for {
		ok, err := q.Available()
		if err != nil {
			return 0, fmt.Errorf("poll query: %w", err)
		}
		if ok {
			break
		}
		if t.timeout > 0 && time.Since(start) > t.timeout {
			return 0, fmt.Errorf("%w after %s", ErrQueryTimeout, t.timeout)
		}
		runtime.Gosched()
	}

	d, err := q.Elapsed()
	if err != nil {
		return 0, fmt.Errorf("read query: %w", err)
	}
	t.stats.Add(d)
	return d, nil
}

func (t *Timer) Stats() Stats        { return t.stats }
func (t *Timer) CurrentFPS() float64 { return t.stats.FPS() }
