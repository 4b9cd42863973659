// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command ptrace progressively renders a Cornell box.
//
// Usage:
//
//	ptrace [height]
//
// The height defaults to 720 and the width is derived as height*3/2. The
// environment selects everything else:
//
//	PTRACE_ENGINE      gl (default, renders to a window), wgpu or cpu (headless)
//	PTRACE_SHADER_DIR  load kernels from this directory instead of the binary
//	PTRACE_LOG         debug, info (default), warn or error
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"honnef.co/go/ptrace"
	"honnef.co/go/ptrace/engine/cpu_engine"
	"honnef.co/go/ptrace/engine/wgpu_engine"
	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/scene"
	"honnef.co/go/ptrace/shaders"
)

const defaultHeight = 720

func main() {
	level, err := parseLevel(os.Getenv("PTRACE_LOG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	renderer.SetLogger(log)

	if err := run(os.Args[1:]); err != nil {
		log.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	width, height, err := parseResolution(args)
	if err != nil {
		return err
	}
	opts := &ptrace.Options{}
	if dir := os.Getenv("PTRACE_SHADER_DIR"); dir != "" {
		opts.Renderer.Loader = shaders.Dir(dir)
	}

	switch name := os.Getenv("PTRACE_ENGINE"); name {
	case "", "gl":
		return runWindow(width, height, opts)
	case "wgpu":
		dev, err := wgpu_engine.Acquire()
		if err != nil {
			return err
		}
		defer dev.Release()
		eng := wgpu_engine.New(dev)
		defer eng.Release()
		return runHeadless(eng, width, height, opts)
	case "cpu":
		eng := cpu_engine.New(nil)
		defer eng.Release()
		return runHeadless(eng, width, height, opts)
	default:
		return fmt.Errorf("unknown engine %q, want gl, wgpu or cpu", name)
	}
}

// parseResolution derives the output size from the optional height argument.
func parseResolution(args []string) (width, height int, err error) {
	height = defaultHeight
	switch len(args) {
	case 0:
	case 1:
		height, err = strconv.Atoi(args[0])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid height %q", args[0])
		}
		if height < 2 {
			return 0, 0, fmt.Errorf("height must be at least 2, got %d", height)
		}
	default:
		return 0, 0, errors.New("usage: ptrace [height]")
	}
	return height * 3 / 2, height, nil
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid PTRACE_LOG: %w", err)
	}
	return l, nil
}

// runHeadless renders on an engine without a surface until interrupted.
func runHeadless(eng renderer.Engine, width, height int, opts *ptrace.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := ptrace.New(eng, scene.CornellBox(), width, height, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	report := statusReporter(time.Second, time.Now)
	return r.Run(ctx, ptrace.Hooks{
		AfterFrame: func(r *ptrace.Renderer, _ time.Duration) error {
			if status, ok := report(r.Status()); ok {
				renderer.Logger().Info(status)
			}
			return nil
		},
	})
}

// statusReporter returns a function that passes through at most one status
// per interval.
func statusReporter(interval time.Duration, now func() time.Time) func(status string) (string, bool) {
	last := now()
	return func(status string) (string, bool) {
		t := now()
		if t.Sub(last) < interval {
			return "", false
		}
		last = t
		return status, true
	}
}
