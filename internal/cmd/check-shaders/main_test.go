// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package main

import (
	"strings"
	"testing"
	"testing/fstest"

	"honnef.co/go/ptrace/shaders"
)

func TestCheckMissingSources(t *testing.T) {
	fsys := fstest.MapFS{
		"wgsl/pathtrace.wgsl": {Data: []byte("this is not WGSL")},
		"glsl/pathtrace.comp": {Data: []byte("#version 450 core\n")},
		"glsl/display.vert":   {Data: []byte("#version 460 core\nvoid main() {}\n")},
	}
	var out strings.Builder
	failed := check(&out, shaders.FS(fsys), false)
	// The broken WGSL module, the missing display module, the outdated
	// compute shader and the missing fragment shader.
	if failed != 4 {
		t.Errorf("check reported %d failures, want 4:\n%s", failed, &out)
	}
	for _, want := range []string{"pathtrace (wgsl)", "display", "missing #version 460", "display.frag"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output doesn't mention %q:\n%s", want, &out)
		}
	}
}
