// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"errors"
	"fmt"
)

var (
	// ErrCapability is returned when the device lacks a feature the renderer
	// needs. It is only reported during initialization.
	ErrCapability = errors.New("renderer: missing device capability")

	// ErrReleased is returned when using resources after they were released.
	ErrReleased = errors.New("renderer: resources have been released")
)

// ShaderCompileError carries the compiler's log verbatim.
type ShaderCompileError struct {
	Program string
	Stage   string
	Log     string
}

func (e *ShaderCompileError) Error() string {
	return fmt.Sprintf("compiling %s shader of program %q:\n%s", e.Stage, e.Program, e.Log)
}

// ShaderLinkError carries the linker's log verbatim.
type ShaderLinkError struct {
	Program string
	Log     string
}

func (e *ShaderLinkError) Error() string {
	return fmt.Sprintf("linking program %q:\n%s", e.Program, e.Log)
}

// ResourceAllocationError is returned when the device rejects an allocation.
type ResourceAllocationError struct {
	Resource string
	Err      error
}

func (e *ResourceAllocationError) Error() string {
	return fmt.Sprintf("allocating %s: %s", e.Resource, e.Err)
}

func (e *ResourceAllocationError) Unwrap() error { return e.Err }

// DeviceError is an error reported by the device while executing commands.
// The renderer never retries after one.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error during %s: %s", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
