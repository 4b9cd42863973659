// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import (
	"errors"
	"math"
	"testing"

	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/scene"
	"honnef.co/go/ptrace/shaders"
	"honnef.co/go/ptrace/shaders/cpu"
	"honnef.co/go/safeish"
)

const testW, testH = 37, 21

type fixture struct {
	eng       *Engine
	pathTrace renderer.ShaderID
	display   renderer.ShaderID
	scene     renderer.BufferProxy
	config    renderer.BufferProxy
	accum     renderer.ImageProxy
	target    renderer.ImageProxy
	quad      renderer.Mesh
}

func newFixture(t *testing.T, opts *Options) *fixture {
	t.Helper()
	eng := New(opts)
	t.Cleanup(eng.Release)

	add := func(prog *shaders.Program) renderer.ShaderID {
		desc, err := renderer.NewShaderDesc(prog, shaders.Go, nil)
		if err != nil {
			t.Fatal(err)
		}
		id, err := eng.AddShader(desc)
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	f := &fixture{
		eng:       eng,
		pathTrace: add(&shaders.Collection.PathTrace),
		display:   add(&shaders.Collection.Display),
	}

	var rec renderer.Recording
	f.scene = rec.Upload("scene", scene.CornellBox().Bytes())
	cfg := renderer.FrameConfig{ImgSize: [2]uint32{testW, testH}}
	f.config = rec.UploadUniform("config", cfg.Bytes())
	f.accum = rec.CreateImage(testW, testH, renderer.Rgba32Float, "accum")
	f.target = rec.CreateImage(testW, testH, renderer.Rgba8, "target")
	vertices := []float32{-1, -1, 0, 0, 1, -1, 1, 0, 1, 1, 1, 1, -1, 1, 0, 1}
	indices := []uint32{0, 1, 2, 3, 0, 2}
	f.quad = rec.UploadMesh("quad", safeish.SliceCast[[]byte](vertices), safeish.SliceCast[[]byte](indices))
	if err := eng.Submit(&rec); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) dispatch(rec *renderer.Recording, read, write renderer.ImageProxy) {
	rec.Dispatch(f.pathTrace, renderer.WorkgroupCounts(testW, testH), []renderer.Binding{
		{Index: 0, Access: renderer.AccessImageRead, Resource: read.Resource()},
		{Index: 1, Access: renderer.AccessImageWrite, Resource: write.Resource()},
		{Index: 2, Access: renderer.AccessUniform, Resource: f.config.Resource()},
	})
}

func (f *fixture) draw(rec *renderer.Recording, img renderer.ImageProxy) {
	rec.Draw(f.display, f.quad, []renderer.Binding{
		{Index: 2, Access: renderer.AccessSampled, Resource: img.Resource()},
	}, f.target)
}

func constantKernels(c [3]float32) Options {
	k := cpu.DefaultKernels()
	k.Compute["pathtrace"] = cpu.Constant(c)
	return Options{Kernels: k}
}

func wantDeviceError(t *testing.T, err error) {
	t.Helper()
	var derr *renderer.DeviceError
	if !errors.As(err, &derr) {
		t.Fatalf("got %v, want a *renderer.DeviceError", err)
	}
}

func TestDrawBeforeBarrier(t *testing.T) {
	opts := constantKernels([3]float32{1, 1, 1})
	f := newFixture(t, &opts)
	var rec renderer.Recording
	rec.BindStorage(0, f.scene)
	f.dispatch(&rec, f.accum, f.accum)
	f.draw(&rec, f.accum)
	wantDeviceError(t, f.eng.Submit(&rec))
}

func TestReadImageBeforeBarrier(t *testing.T) {
	opts := constantKernels([3]float32{1, 1, 1})
	f := newFixture(t, &opts)
	var rec renderer.Recording
	rec.BindStorage(0, f.scene)
	f.dispatch(&rec, f.accum, f.accum)
	if err := f.eng.Submit(&rec); err != nil {
		t.Fatal(err)
	}
	_, err := f.eng.ReadImage(f.accum)
	wantDeviceError(t, err)

	rec.Reset()
	rec.Barrier(f.accum)
	if err := f.eng.Submit(&rec); err != nil {
		t.Fatal(err)
	}
	px, err := f.eng.ReadImage(f.accum)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(px); i += 4 {
		if [4]float32(px[i:i+4]) != [4]float32{1, 1, 1, 1} {
			t.Fatalf("texel %d = %v", i/4, px[i:i+4])
		}
	}
}

func TestEmptyStorageSlot(t *testing.T) {
	f := newFixture(t, nil)
	var rec renderer.Recording
	rec.BindStorage(0, f.scene)
	rec.UnbindStorage(0)
	f.dispatch(&rec, f.accum, f.accum)
	wantDeviceError(t, f.eng.Submit(&rec))
}

func TestAliasedOwnership(t *testing.T) {
	k := cpu.DefaultKernels()
	// Writes the texel to the right of its own.
	k.Compute["pathtrace"] = func(inv cpu.Invocation, env *cpu.ComputeEnv) {
		x, y := inv.GlobalID[0], inv.GlobalID[1]
		if x >= testW || y >= testH {
			return
		}
		env.Images[1].Store((x+1)%testW, y, [4]float32{})
	}
	f := newFixture(t, &Options{Kernels: k})
	var rec renderer.Recording
	rec.BindStorage(0, f.scene)
	f.dispatch(&rec, f.accum, f.accum)
	rec.Barrier(f.accum)
	wantDeviceError(t, f.eng.Submit(&rec))
}

func TestDisableAliasing(t *testing.T) {
	f := newFixture(t, &Options{DisableAliasing: true})
	if f.eng.Capabilities().ImageAliasing {
		t.Fatal("engine claims to support aliasing")
	}
	var rec renderer.Recording
	rec.BindStorage(0, f.scene)
	f.dispatch(&rec, f.accum, f.accum)
	wantDeviceError(t, f.eng.Submit(&rec))
}

func TestMissingKernel(t *testing.T) {
	eng := New(&Options{Kernels: cpu.Kernels{Compute: map[string]cpu.ComputeKernel{}}})
	defer eng.Release()
	desc, err := renderer.NewShaderDesc(&shaders.Collection.PathTrace, shaders.Go, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = eng.AddShader(desc)
	var lerr *renderer.ShaderLinkError
	if !errors.As(err, &lerr) {
		t.Fatalf("got %v, want *renderer.ShaderLinkError", err)
	}
	if lerr.Program != "pathtrace" {
		t.Errorf("error names program %q", lerr.Program)
	}
}

func TestDrawCoversTarget(t *testing.T) {
	for _, order := range []Order{OrderSequential, OrderReversed, OrderShuffled} {
		opts := constantKernels([3]float32{0.25, 0.5, 2})
		opts.Order = order
		opts.Seed = 7
		f := newFixture(t, &opts)
		var rec renderer.Recording
		rec.BindStorage(0, f.scene)
		f.dispatch(&rec, f.accum, f.accum)
		rec.Barrier(f.accum)
		rec.UnbindStorage(0)
		f.draw(&rec, f.accum)
		if err := f.eng.Submit(&rec); err != nil {
			t.Fatal(err)
		}
		px, err := f.eng.ReadImage(f.target)
		if err != nil {
			t.Fatal(err)
		}
		quant := func(v float32) float32 { return float32(math.Round(float64(v)*255)) / 255 }
		want := [4]float32{quant(cpu.Encode(0.25)), quant(cpu.Encode(0.5)), 1, 1}
		for i := 0; i < len(px); i += 4 {
			if [4]float32(px[i:i+4]) != want {
				t.Fatalf("order %d: texel %d = %v, want %v", order, i/4, px[i:i+4], want)
			}
		}
	}
}

func TestQueryWaitsForDispatch(t *testing.T) {
	opts := constantKernels([3]float32{1, 2, 3})
	f := newFixture(t, &opts)
	q, err := f.eng.BeginQuery()
	if err != nil {
		t.Fatal(err)
	}
	defer q.Release()

	var rec renderer.Recording
	rec.BindStorage(0, f.scene)
	f.dispatch(&rec, f.accum, f.accum)
	if err := f.eng.Submit(&rec); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Available(); err == nil {
		t.Fatal("polling a running query succeeded")
	}
	if err := q.End(); err != nil {
		t.Fatal(err)
	}
	ok, err := q.Available()
	if err != nil || !ok {
		t.Fatalf("Available() = %t, %v", ok, err)
	}
	if d, err := q.Elapsed(); err != nil || d < 0 {
		t.Fatalf("Elapsed() = %v, %v", d, err)
	}
	// The query joined the dispatch; only the barrier is missing.
	if _, err := f.eng.ReadImage(f.accum); err == nil {
		t.Fatal("read without barrier succeeded")
	}
}

func TestReleased(t *testing.T) {
	eng := New(nil)
	eng.Release()
	eng.Release()
	if err := eng.Submit(&renderer.Recording{}); !errors.Is(err, renderer.ErrReleased) {
		t.Fatalf("got %v, want ErrReleased", err)
	}
	if _, err := eng.BeginQuery(); !errors.Is(err, renderer.ErrReleased) {
		t.Fatalf("got %v, want ErrReleased", err)
	}
}

func TestCreateImageInvalidSize(t *testing.T) {
	eng := New(nil)
	defer eng.Release()
	var rec renderer.Recording
	rec.CreateImage(0, 10, renderer.Rgba32Float, "empty")
	var aerr *renderer.ResourceAllocationError
	if err := eng.Submit(&rec); !errors.As(err, &aerr) {
		t.Fatalf("got %v, want *renderer.ResourceAllocationError", err)
	}
}

func TestMemoryLimit(t *testing.T) {
	eng := New(&Options{MemoryLimit: 1024})
	defer eng.Release()

	var rec renderer.Recording
	buf := rec.Upload("data", make([]byte, 512))
	img := rec.CreateImage(4, 4, renderer.Rgba32Float, "small")
	if err := eng.Submit(&rec); err != nil {
		t.Fatal(err)
	}

	rec.Reset()
	rec.Upload("more", make([]byte, 512))
	var aerr *renderer.ResourceAllocationError
	if err := eng.Submit(&rec); !errors.As(err, &aerr) {
		t.Fatalf("got %v, want *renderer.ResourceAllocationError", err)
	}

	rec.Reset()
	rec.FreeBuffer(buf)
	rec.FreeImage(img)
	rec.CreateImage(8, 8, renderer.Rgba32Float, "large")
	if err := eng.Submit(&rec); err != nil {
		t.Fatalf("allocation after freeing everything: %v", err)
	}
}

func TestFreeShader(t *testing.T) {
	f := newFixture(t, nil)
	var rec renderer.Recording
	rec.FreeShader(f.pathTrace)
	f.dispatch(&rec, f.accum, f.accum)
	wantDeviceError(t, f.eng.Submit(&rec))

	// The display program is unaffected and freeing twice is harmless.
	rec.Reset()
	rec.FreeShader(f.pathTrace)
	f.draw(&rec, f.accum)
	if err := f.eng.Submit(&rec); err != nil {
		t.Fatal(err)
	}
}
