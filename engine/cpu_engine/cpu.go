// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package cpu_engine implements renderer.Engine on the CPU.
//
// It executes recordings with the kernels of package cpu and checks the
// ordering rules a GPU would silently break on: reading an image before a
// barrier has published a dispatch's writes to it is an error, and so is an
// invocation touching any texel but its own in an image bound for both reading
// and writing.
package cpu_engine

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/shaders"
	"honnef.co/go/ptrace/shaders/cpu"
)

// Order is the order in which work-groups and the invocations within them are
// started.
type Order int

const (
	OrderSequential Order = iota
	OrderReversed
	OrderShuffled
)

type Options struct {
	// Kernels defaults to cpu.DefaultKernels.
	Kernels cpu.Kernels
	Order   Order
	// Seed seeds the shuffling of OrderShuffled.
	Seed uint64
	// Parallelism is the number of work-groups executing at once. It defaults
	// to GOMAXPROCS.
	Parallelism int
	// DisableAliasing makes the engine behave like a device that can't bind
	// one image for reading and writing in the same dispatch.
	DisableAliasing bool
	// MemoryLimit is the number of bytes of buffers and images the engine
	// holds at once. Allocations past it fail like an out-of-memory device.
	// Zero means no limit.
	MemoryLimit uint64
}

type shader struct {
	desc     *renderer.ShaderDesc
	compute  cpu.ComputeKernel
	fragment cpu.FragmentKernel
}

type buffer struct {
	proxy renderer.BufferProxy
	data  []byte
}

type Engine struct {
	opts    Options
	rng     *rand.Rand
	shaders []shader
	buffers map[renderer.ResourceID]*buffer
	images  map[renderer.ResourceID]*image
	slots   map[uint32]*buffer
	// allocated is the size of all live buffers and images in bytes.
	allocated uint64
	released  bool

	// inflight runs the dispatches that haven't been joined by a barrier.
	inflight *errgroup.Group
	// inflightReads contains the images read by inflight dispatches.
	inflightReads map[renderer.ResourceID]struct{}
}

var _ renderer.Engine = (*Engine)(nil)

func New(opts *Options) *Engine {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Kernels.Compute == nil && o.Kernels.Fragment == nil {
		o.Kernels = cpu.DefaultKernels()
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		opts:          o,
		rng:           rand.New(rand.NewPCG(o.Seed, o.Seed)),
		buffers:       make(map[renderer.ResourceID]*buffer),
		images:        make(map[renderer.ResourceID]*image),
		slots:         make(map[uint32]*buffer),
		inflightReads: make(map[renderer.ResourceID]struct{}),
	}
}

func (eng *Engine) Capabilities() renderer.Capabilities {
	return renderer.Capabilities{
		ImageAliasing:     !eng.opts.DisableAliasing,
		TimerQueries:      true,
		PresentsToSurface: false,
		Language:          shaders.Go,
	}
}

func (eng *Engine) AddShader(desc *renderer.ShaderDesc) (renderer.ShaderID, error) {
	if eng.released {
		return 0, renderer.ErrReleased
	}
	sh := shader{desc: desc}
	switch desc.Kind {
	case renderer.ShaderKindCompute:
		k, ok := eng.opts.Kernels.Compute[desc.Name]
		if !ok {
			return 0, &renderer.ShaderLinkError{Program: desc.Name, Log: "no CPU kernel for compute program"}
		}
		sh.compute = k
	case renderer.ShaderKindRender:
		k, ok := eng.opts.Kernels.Fragment[desc.Name]
		if !ok {
			return 0, &renderer.ShaderLinkError{Program: desc.Name, Log: "no CPU kernel for render program"}
		}
		if _, _, err := vertexLayout(desc); err != nil {
			return 0, &renderer.ShaderLinkError{Program: desc.Name, Log: err.Error()}
		}
		sh.fragment = k
	default:
		return 0, &renderer.ShaderLinkError{Program: desc.Name, Log: fmt.Sprintf("unknown program kind %d", desc.Kind)}
	}

	id := renderer.ShaderID(len(eng.shaders))
	eng.shaders = append(eng.shaders, sh)
	renderer.Logger().Debug("added CPU program", "name", desc.Name, "id", id)
	return id, nil
}

// vertexLayout returns the float offsets of the position and texture
// coordinate attributes.
func vertexLayout(desc *renderer.ShaderDesc) (pos, uv uint32, err error) {
	var found [2]bool
	for _, a := range desc.Vertex.Attributes {
		if a.Location > 1 {
			continue
		}
		if a.Components != 2 || a.Offset%4 != 0 {
			return 0, 0, fmt.Errorf("unsupported vertex attribute %+v", a)
		}
		if a.Location == 0 {
			pos = a.Offset / 4
		} else {
			uv = a.Offset / 4
		}
		found[a.Location] = true
	}
	if !found[0] || !found[1] {
		return 0, 0, errors.New("vertex layout lacks position or texture coordinates")
	}
	if desc.Vertex.Stride == 0 || desc.Vertex.Stride%4 != 0 {
		return 0, 0, fmt.Errorf("invalid vertex stride %d", desc.Vertex.Stride)
	}
	return pos, uv, nil
}

func (eng *Engine) shader(id renderer.ShaderID, kind renderer.ShaderKind) (*shader, error) {
	if id < 0 || int(id) >= len(eng.shaders) || eng.shaders[id].desc == nil {
		return nil, fmt.Errorf("unknown program %d", id)
	}
	sh := &eng.shaders[id]
	if sh.desc.Kind != kind {
		return nil, fmt.Errorf("program %q has the wrong kind", sh.desc.Name)
	}
	return sh, nil
}

// Submit executes rec. Dispatches run in the background until a barrier,
// query or Release joins them.
func (eng *Engine) Submit(rec *renderer.Recording) error {
	if eng.released {
		return renderer.ErrReleased
	}
	for _, cmd := range rec.Commands {
		if err := eng.execute(cmd); err != nil {
			return err
		}
	}
	return nil
}

func deviceError(op string, format string, args ...any) error {
	return &renderer.DeviceError{Op: op, Err: fmt.Errorf(format, args...)}
}

func (eng *Engine) execute(cmd renderer.Command) error {
	switch cmd := cmd.(type) {
	case *renderer.Upload:
		return eng.upload(cmd.Buffer, cmd.Data, renderer.BufferUsageStorage)
	case *renderer.UploadUniform:
		return eng.upload(cmd.Buffer, cmd.Data, renderer.BufferUsageUniform)
	case *renderer.UploadVertices:
		return eng.upload(cmd.Buffer, cmd.Data, renderer.BufferUsageVertex)
	case *renderer.UploadIndices:
		return eng.upload(cmd.Buffer, cmd.Data, renderer.BufferUsageIndex)

	case *renderer.CreateImage:
		p := cmd.Image
		if p.Width == 0 || p.Height == 0 {
			return &renderer.ResourceAllocationError{
				Resource: fmt.Sprintf("image %q", p.Name),
				Err:      fmt.Errorf("invalid size %dx%d", p.Width, p.Height),
			}
		}
		if err := eng.allocate(fmt.Sprintf("image %q", p.Name), imageSize(p)); err != nil {
			return err
		}
		eng.images[p.ID] = newImage(p)

	case *renderer.BindStorage:
		b, ok := eng.buffers[cmd.Buffer.ID]
		if !ok {
			return deviceError("bind storage", "buffer %q doesn't exist", cmd.Buffer.Name)
		}
		if b.proxy.Usage != renderer.BufferUsageStorage {
			return deviceError("bind storage", "buffer %q isn't a storage buffer", cmd.Buffer.Name)
		}
		eng.slots[cmd.Slot] = b

	case *renderer.UnbindStorage:
		delete(eng.slots, cmd.Slot)

	case *renderer.Dispatch:
		return eng.dispatch(cmd)

	case *renderer.Barrier:
		img, ok := eng.images[cmd.Image.ID]
		if !ok {
			return deviceError("barrier", "image %q doesn't exist", cmd.Image.Name)
		}
		if err := eng.join(); err != nil {
			return err
		}
		img.dirty = false

	case *renderer.Draw:
		return eng.draw(cmd)

	case *renderer.FreeBuffer:
		b, ok := eng.buffers[cmd.Buffer.ID]
		if !ok {
			return nil
		}
		delete(eng.buffers, cmd.Buffer.ID)
		eng.allocated -= b.proxy.Size
		for slot, sb := range eng.slots {
			if sb == b {
				delete(eng.slots, slot)
			}
		}

	case *renderer.FreeImage:
		img, ok := eng.images[cmd.Image.ID]
		if !ok {
			return nil
		}
		if img.dirty || eng.isRead(cmd.Image.ID) {
			if err := eng.join(); err != nil {
				return err
			}
		}
		delete(eng.images, cmd.Image.ID)
		eng.allocated -= imageSize(img.proxy)

	case *renderer.FreeShader:
		if id := int(cmd.Shader); id >= 0 && id < len(eng.shaders) {
			eng.shaders[id] = shader{}
		}

	default:
		panic(fmt.Sprintf("unhandled command %T", cmd))
	}
	return nil
}

func (eng *Engine) upload(p renderer.BufferProxy, data []byte, usage renderer.BufferUsage) error {
	if uint64(len(data)) != p.Size {
		return deviceError("upload", "buffer %q is %d bytes, got %d", p.Name, p.Size, len(data))
	}
	// Running dispatches keep referring to the old contents.
	data = bytes.Clone(data)
	if b, ok := eng.buffers[p.ID]; ok {
		b.data = data
		return nil
	}
	if err := eng.allocate(fmt.Sprintf("buffer %q", p.Name), p.Size); err != nil {
		return err
	}
	eng.buffers[p.ID] = &buffer{proxy: renderer.BufferProxy{Size: p.Size, ID: p.ID, Name: p.Name, Usage: usage}, data: data}
	return nil
}

// allocate accounts for size more bytes, failing if that exceeds
// Options.MemoryLimit.
func (eng *Engine) allocate(resource string, size uint64) error {
	if limit := eng.opts.MemoryLimit; limit != 0 && eng.allocated+size > limit {
		return &renderer.ResourceAllocationError{
			Resource: resource,
			Err:      fmt.Errorf("out of memory: %d bytes in use, %d requested, limit is %d", eng.allocated, size, limit),
		}
	}
	eng.allocated += size
	return nil
}

func imageSize(p renderer.ImageProxy) uint64 {
	return uint64(p.Width) * uint64(p.Height) * 16
}

func (eng *Engine) isRead(id renderer.ResourceID) bool {
	_, ok := eng.inflightReads[id]
	return ok
}

// join waits for all inflight dispatches.
func (eng *Engine) join() error {
	g := eng.inflight
	eng.inflight = nil
	clear(eng.inflightReads)
	if g == nil {
		return nil
	}
	return g.Wait()
}

// order returns the IDs of a 3D grid in the order configured for the engine.
func (eng *Engine) order(size [3]uint32) [][3]uint32 {
	ids := make([][3]uint32, 0, int(size[0])*int(size[1])*int(size[2]))
	for z := range size[2] {
		for y := range size[1] {
			for x := range size[0] {
				ids = append(ids, [3]uint32{x, y, z})
			}
		}
	}
	switch eng.opts.Order {
	case OrderSequential:
	case OrderReversed:
		slices.Reverse(ids)
	case OrderShuffled:
		eng.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	default:
		panic(fmt.Sprintf("invalid order %d", eng.opts.Order))
	}
	return ids
}

func (eng *Engine) ReadImage(p renderer.ImageProxy) ([]float32, error) {
	if eng.released {
		return nil, renderer.ErrReleased
	}
	img, ok := eng.images[p.ID]
	if !ok {
		return nil, deviceError("read image", "image %q doesn't exist", p.Name)
	}
	if img.dirty {
		return nil, deviceError("read image", "image %q has writes that no barrier ordered before the read", p.Name)
	}
	return slices.Clone(img.pixels), nil
}

// Release waits for inflight work and frees all resources.
func (eng *Engine) Release() {
	if eng.released {
		return
	}
	if err := eng.join(); err != nil {
		renderer.Logger().Warn("dispatch failed during release", "err", err)
	}
	eng.released = true
	clear(eng.buffers)
	clear(eng.images)
	clear(eng.slots)
	eng.allocated = 0
	eng.shaders = nil
}
