// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		args          []string
		width, height int
	}{
		{nil, 1080, 720},
		{[]string{"720"}, 1080, 720},
		{[]string{"480"}, 720, 480},
		{[]string{"101"}, 151, 101},
	}
	for _, tt := range tests {
		w, h, err := parseResolution(tt.args)
		if err != nil {
			t.Errorf("parseResolution(%q): unexpected error: %s", tt.args, err)
			continue
		}
		if w != tt.width || h != tt.height {
			t.Errorf("parseResolution(%q) = %dx%d, want %dx%d", tt.args, w, h, tt.width, tt.height)
		}
	}
}

func TestParseResolutionErrors(t *testing.T) {
	for _, args := range [][]string{
		{"tall"},
		{"0"},
		{"-720"},
		{"720", "480"},
	} {
		if _, _, err := parseResolution(args); err == nil {
			t.Errorf("parseResolution(%q) succeeded", args)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if err != nil {
			t.Errorf("parseLevel(%q): unexpected error: %s", tt.in, err)
		} else if got != tt.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("parseLevel accepted an unknown level")
	}
}

func TestStatusReporter(t *testing.T) {
	now := time.Unix(0, 0)
	report := statusReporter(time.Second, func() time.Time { return now })

	if _, ok := report("a"); ok {
		t.Error("reported before the first interval elapsed")
	}
	now = now.Add(time.Second)
	if s, ok := report("b"); !ok || s != "b" {
		t.Errorf("got (%q, %t), want (\"b\", true)", s, ok)
	}
	now = now.Add(999 * time.Millisecond)
	if _, ok := report("c"); ok {
		t.Error("reported twice within one interval")
	}
	now = now.Add(time.Millisecond)
	if _, ok := report("d"); !ok {
		t.Error("didn't report after the interval elapsed")
	}
}

func TestWindowHints(t *testing.T) {
	want := map[glfw.Hint]int{
		glfw.ContextVersionMajor: 4,
		glfw.ContextVersionMinor: 6,
		glfw.OpenGLProfile:       glfw.OpenGLCoreProfile,
		glfw.OpenGLDebugContext:  glfw.True,
		glfw.Resizable:           glfw.True,
	}
	got := map[glfw.Hint]int{}
	for _, h := range windowHints {
		got[h.hint] = h.value
	}
	for hint, v := range want {
		if got[hint] != v {
			t.Errorf("hint 0x%x = %d, want %d", int(hint), got[hint], v)
		}
	}
}
