// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command check-shaders validates the renderer's WGSL kernels with naga and
// checks that every GLSL stage is present.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"honnef.co/go/ptrace/shaders"
)

func main() {
	var (
		in      string
		verbose bool
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-v] [-in <dir>]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&in, "in", "", "Path to shader `directory` (default: the embedded kernels)")
	flag.BoolVar(&verbose, "v", false, "Be verbose")
	flag.Parse()

	if len(flag.Args()) != 0 {
		flag.Usage()
		os.Exit(2)
	}

	loader := shaders.Embedded()
	if in != "" {
		loader = shaders.Dir(in)
	}
	if failed := check(os.Stderr, loader, verbose); failed > 0 {
		fmt.Fprintf(os.Stderr, "%d kernel(s) failed\n", failed)
		os.Exit(1)
	}
}

// check validates all kernels available from loader, reporting problems to
// w. It returns the number of kernels that failed.
func check(w io.Writer, loader shaders.Loader, verbose bool) int {
	failed := 0
	for _, prog := range shaders.Programs() {
		// All stages share one WGSL module.
		src, err := loader.Load(shaders.WGSL, prog.Name, prog.Stages[0])
		if err != nil {
			fmt.Fprintf(w, "%s: %s\n", prog.Name, err)
			failed++
		} else if err := shaders.Validate(src); err != nil {
			fmt.Fprintf(w, "%s (wgsl):\n%s\n", prog.Name, err)
			failed++
		} else if verbose {
			fmt.Fprintf(w, "%s (wgsl): ok\n", prog.Name)
		}

		for _, stage := range prog.Stages {
			src, err := loader.Load(shaders.GLSL, prog.Name, stage)
			switch {
			case err != nil:
				fmt.Fprintf(w, "%s: %s\n", prog.Name, err)
				failed++
			case !bytes.Contains(src, []byte("#version 460")):
				fmt.Fprintf(w, "%s (glsl %s): missing #version 460 directive\n", prog.Name, stage)
				failed++
			case verbose:
				fmt.Fprintf(w, "%s (glsl %s): present\n", prog.Name, stage)
			}
		}
	}
	return failed
}
