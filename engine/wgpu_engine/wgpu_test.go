// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_engine

import (
	"errors"
	"slices"
	"testing"

	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/shaders"
	"honnef.co/go/safeish"
	"honnef.co/go/wgpu"
)

func TestPoolSizeClass(t *testing.T) {
	tests := []struct{ in, want uint64 }{
		{0, 2},
		{1, 2},
		{2, 2},
		{3, 3},
		{4, 4},
		{5, 6},
		{16, 16},
		{17, 24},
		{100, 128},
		{129, 192},
	}
	for _, tt := range tests {
		if got := poolSizeClass(tt.in, 1); got != tt.want {
			t.Errorf("poolSizeClass(%d, 1) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAppendTexels(t *testing.T) {
	floats := []float32{0.5, 1, 2, 1, -1, 0, 0.25, 1}
	got := appendTexels(nil, safeish.SliceCast[[]byte](floats), renderer.Rgba32Float)
	if !slices.Equal(got, floats) {
		t.Errorf("got %v, want %v", got, floats)
	}

	got = appendTexels([]float32{7}, []byte{0, 255, 51, 255}, renderer.Rgba8)
	want := []float32{7, 0, 1, 0.2, 1}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLayoutEntries(t *testing.T) {
	desc, err := renderer.NewShaderDesc(&shaders.Collection.PathTrace, shaders.Go, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := computeLayoutEntries(desc)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Binding != shaders.AccumulationRead || entries[0].Texture == nil {
		t.Errorf("read binding is %+v", entries[0])
	}
	if entries[1].Binding != shaders.AccumulationWrite || entries[1].StorageTexture == nil {
		t.Errorf("write binding is %+v", entries[1])
	}
	if entries[2].Binding != shaders.FrameConfig || entries[2].Buffer == nil ||
		entries[2].Buffer.Type != wgpu.BufferBindingTypeUniform {
		t.Errorf("uniform binding is %+v", entries[2])
	}
	storage := storageLayoutEntries(desc)
	if len(storage) != 1 || storage[0].Binding != shaders.SceneSlot ||
		storage[0].Buffer.Type != wgpu.BufferBindingTypeReadOnlyStorage {
		t.Errorf("storage bindings are %+v", storage)
	}

	desc, err = renderer.NewShaderDesc(&shaders.Collection.Display, shaders.Go, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err = renderLayoutEntries(desc)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Binding != shaders.DisplayTexture || entries[0].Texture == nil {
		t.Errorf("texture binding is %+v", entries[0])
	}
	if entries[1].Binding != shaders.DisplayTexture+1 || entries[1].Sampler == nil {
		t.Errorf("sampler binding is %+v", entries[1])
	}

	if _, err := computeLayoutEntries(desc); err == nil {
		t.Error("sampled binding accepted in a compute program")
	}
}

func TestVertexFormat(t *testing.T) {
	if f, err := vertexFormat(2); err != nil || f != wgpu.VertexFormatFloat32x2 {
		t.Errorf("vertexFormat(2) = %v, %v", f, err)
	}
	if _, err := vertexFormat(5); err == nil {
		t.Error("vertexFormat(5) succeeded")
	}
}

func TestSubmitPanicError(t *testing.T) {
	var rec renderer.Recording
	rec.CreateImage(8192, 8192, renderer.Rgba32Float, "accumulation 0")
	rec.UploadUniform("frame config", make([]byte, renderer.FrameConfigSize))
	rec.Barrier(renderer.ImageProxy{Name: "accumulation 0"})

	var aerr *renderer.ResourceAllocationError
	for i, want := range []string{"accumulation 0", "frame config"} {
		err := submitPanicError(rec.Commands[i], "Device::create_texture: not enough memory left")
		if !errors.As(err, &aerr) || aerr.Resource != want {
			t.Errorf("command %d: got %v, want an allocation error for %q", i, err, want)
		}
	}
	var derr *renderer.DeviceError
	if err := submitPanicError(rec.Commands[2], "validation error"); !errors.As(err, &derr) {
		t.Errorf("got %v, want *renderer.DeviceError", err)
	}
	if err := submitPanicError(nil, "lost device"); !errors.As(err, &derr) {
		t.Errorf("got %v, want *renderer.DeviceError", err)
	}
}
