// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package ptrace renders a scene progressively: every frame traces one noisy
// sample per pixel on a device and folds it into a running average, so the
// displayed image converges the longer the renderer runs.
//
// A Renderer ties together the pieces in the subpackages. Package scene
// describes the spheres, package renderer records the work of one frame,
// package profiler measures it and the packages in engine execute it on
// OpenGL, WebGPU or the CPU.
//
// The renderer never reallocates its resources; to render at a different size
// or a different scene, close it and create a new one.
package ptrace
