// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package wgpu_engine implements renderer.Engine on WebGPU.
//
// The engine is headless: draws go to offscreen targets. WebGPU cannot bind
// one texture for reading and writing in the same dispatch, so renderers must
// ping-pong between two accumulation images.
package wgpu_engine

// OPT reuse bind groups

import (
	"fmt"
	"math"
	"math/bits"

	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/shaders"
	"honnef.co/go/wgpu"
)

// maxTextureDimension is WebGPU's default limit for 2D textures.
const maxTextureDimension = 8192

type wgpuShader struct {
	desc    *renderer.ShaderDesc
	compute *wgpu.ComputePipeline
	render  *wgpu.RenderPipeline
	// layouts is indexed by bind group.
	layouts []*wgpu.BindGroupLayout
}

func (s *wgpuShader) release() {
	if s.compute != nil {
		s.compute.Release()
	}
	if s.render != nil {
		s.render.Release()
	}
	for _, l := range s.layouts {
		l.Release()
	}
}

type gpuBuffer struct {
	proxy  renderer.BufferProxy
	buffer *wgpu.Buffer
}

type gpuImage struct {
	proxy   renderer.ImageProxy
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

type bufferProperties struct {
	size   uint64
	usages wgpu.BufferUsage
}

type resourcePool struct {
	bufs map[bufferProperties][]*wgpu.Buffer
}

type Engine struct {
	dev        *wgpu.Device
	queue      *wgpu.Queue
	timestamps bool

	shaders []*wgpuShader
	pool    resourcePool
	buffers map[renderer.ResourceID]*gpuBuffer
	images  map[renderer.ResourceID]*gpuImage
	slots   map[uint32]*gpuBuffer
	// dirty contains the images written by dispatches that no barrier has
	// ordered yet.
	dirty   map[renderer.ResourceID]struct{}
	sampler *wgpu.Sampler
	// encoder collects passes until the next queue write or the end of
	// Submit.
	encoder *wgpu.CommandEncoder
	// current is the command Submit is executing.
	current renderer.Command

	// free lists of timer query resources
	querySets      []*wgpu.QuerySet
	resolveBuffers []*wgpu.Buffer
	mapBuffers     []*wgpu.Buffer

	released bool
}

var _ renderer.Engine = (*Engine)(nil)

func New(dev *Device) *Engine {
	return &Engine{
		dev:        dev.Device,
		queue:      dev.Queue,
		timestamps: dev.Timestamps,
		pool: resourcePool{
			bufs: make(map[bufferProperties][]*wgpu.Buffer),
		},
		buffers: make(map[renderer.ResourceID]*gpuBuffer),
		images:  make(map[renderer.ResourceID]*gpuImage),
		slots:   make(map[uint32]*gpuBuffer),
		dirty:   make(map[renderer.ResourceID]struct{}),
	}
}

func (eng *Engine) Capabilities() renderer.Capabilities {
	return renderer.Capabilities{
		ImageAliasing:     false,
		TimerQueries:      eng.timestamps,
		PresentsToSurface: false,
		Language:          shaders.WGSL,
	}
}

func (eng *Engine) AddShader(desc *renderer.ShaderDesc) (id renderer.ShaderID, err error) {
	if eng.released {
		return 0, renderer.ErrReleased
	}
	defer func() {
		if r := recover(); r != nil {
			err = pipelineError(desc, r)
		}
	}()

	var sh *wgpuShader
	switch desc.Kind {
	case renderer.ShaderKindCompute:
		sh, err = eng.createComputePipeline(desc)
	case renderer.ShaderKindRender:
		sh, err = eng.createRenderPipeline(desc, imageFormatToWGPU(renderer.Rgba8))
	default:
		err = &renderer.ShaderLinkError{Program: desc.Name, Log: fmt.Sprintf("unknown program kind %d", desc.Kind)}
	}
	if err != nil {
		return 0, err
	}

	id = renderer.ShaderID(len(eng.shaders))
	eng.shaders = append(eng.shaders, sh)
	renderer.Logger().Debug("created WebGPU pipeline", "name", desc.Name, "id", id)
	return id, nil
}

// pipelineError turns a panic raised while creating a pipeline into an
// error. If naga can't compile the source either, its diagnostic is reported
// as a compile error.
func pipelineError(desc *renderer.ShaderDesc, r any) error {
	stage := shaders.StageCompute
	if desc.Kind == renderer.ShaderKindRender {
		stage = shaders.StageVertex
	}
	if verr := shaders.Validate(desc.Sources[stage]); verr != nil {
		return &renderer.ShaderCompileError{
			Program: desc.Name,
			Stage:   stage.String(),
			Log:     fmt.Sprintf("%v\n%s", r, verr),
		}
	}
	return &renderer.ShaderLinkError{Program: desc.Name, Log: fmt.Sprint(r)}
}

func (eng *Engine) shader(id renderer.ShaderID, kind renderer.ShaderKind) (*wgpuShader, error) {
	if id < 0 || int(id) >= len(eng.shaders) || eng.shaders[id] == nil {
		return nil, fmt.Errorf("program %d doesn't exist", id)
	}
	sh := eng.shaders[id]
	if sh.desc.Kind != kind {
		return nil, fmt.Errorf("program %q has the wrong kind", sh.desc.Name)
	}
	return sh, nil
}

func deviceError(op, format string, args ...any) error {
	return &renderer.DeviceError{Op: op, Err: fmt.Errorf(format, args...)}
}

func (eng *Engine) enc() *wgpu.CommandEncoder {
	if eng.encoder == nil {
		eng.encoder = eng.dev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "recording"})
	}
	return eng.encoder
}

// flush submits the passes recorded so far. Queue writes execute before any
// command buffer submitted after them, so passes recorded before a write have
// to be submitted first.
func (eng *Engine) flush() {
	if eng.encoder == nil {
		return
	}
	cmd := eng.encoder.Finish(nil)
	eng.encoder.Release()
	eng.encoder = nil
	eng.queue.Submit(cmd)
	cmd.Release()
}

func (eng *Engine) Submit(rec *renderer.Recording) (err error) {
	if eng.released {
		return renderer.ErrReleased
	}
	defer func() {
		if r := recover(); r != nil {
			if eng.encoder != nil {
				eng.encoder.Release()
				eng.encoder = nil
			}
			err = submitPanicError(eng.current, r)
		}
		eng.current = nil
	}()

	for _, cmd := range rec.Commands {
		eng.current = cmd
		if err := eng.execute(cmd); err != nil {
			if eng.encoder != nil {
				eng.encoder.Release()
				eng.encoder = nil
			}
			return err
		}
	}
	eng.current = nil
	eng.flush()
	return nil
}

// submitPanicError turns a panic raised by wgpu-native while executing cmd
// into an error. Panics during allocations mean the device couldn't provide
// the resource.
func submitPanicError(cmd renderer.Command, r any) error {
	err := fmt.Errorf("%v", r)
	switch cmd := cmd.(type) {
	case *renderer.Upload:
		return &renderer.ResourceAllocationError{Resource: cmd.Buffer.Name, Err: err}
	case *renderer.UploadUniform:
		return &renderer.ResourceAllocationError{Resource: cmd.Buffer.Name, Err: err}
	case *renderer.UploadVertices:
		return &renderer.ResourceAllocationError{Resource: cmd.Buffer.Name, Err: err}
	case *renderer.UploadIndices:
		return &renderer.ResourceAllocationError{Resource: cmd.Buffer.Name, Err: err}
	case *renderer.CreateImage:
		return &renderer.ResourceAllocationError{Resource: cmd.Image.Name, Err: err}
	default:
		return &renderer.DeviceError{Op: "submit", Err: err}
	}
}

func (eng *Engine) execute(cmd renderer.Command) error {
	switch cmd := cmd.(type) {
	case *renderer.Upload:
		return eng.upload(cmd.Buffer, cmd.Data, wgpu.BufferUsageStorage)

	case *renderer.UploadUniform:
		return eng.upload(cmd.Buffer, cmd.Data, wgpu.BufferUsageUniform)

	case *renderer.UploadVertices:
		return eng.upload(cmd.Buffer, cmd.Data, wgpu.BufferUsageVertex)

	case *renderer.UploadIndices:
		return eng.upload(cmd.Buffer, cmd.Data, wgpu.BufferUsageIndex)

	case *renderer.CreateImage:
		return eng.createImage(cmd.Image)

	case *renderer.BindStorage:
		buf, ok := eng.buffers[cmd.Buffer.ID]
		if !ok || buf.proxy.Usage != renderer.BufferUsageStorage {
			return deviceError("bind storage", "storage buffer %q doesn't exist", cmd.Buffer.Name)
		}
		eng.slots[cmd.Slot] = buf

	case *renderer.UnbindStorage:
		delete(eng.slots, cmd.Slot)

	case *renderer.Dispatch:
		return eng.dispatch(cmd)

	case *renderer.Barrier:
		// Consecutive passes are ordered by WebGPU's usage tracking, so the
		// barrier only publishes the writes to later draws and reads.
		delete(eng.dirty, cmd.Image.ID)

	case *renderer.Draw:
		return eng.draw(cmd)

	case *renderer.FreeBuffer:
		buf, ok := eng.buffers[cmd.Buffer.ID]
		if !ok {
			return nil
		}
		delete(eng.buffers, cmd.Buffer.ID)
		for slot, b := range eng.slots {
			if b == buf {
				delete(eng.slots, slot)
			}
		}
		// Passes that still use the buffer must be submitted before it can be
		// handed out again.
		eng.flush()
		eng.pool.putBuf(buf.buffer)

	case *renderer.FreeImage:
		img, ok := eng.images[cmd.Image.ID]
		if !ok {
			return nil
		}
		delete(eng.images, cmd.Image.ID)
		delete(eng.dirty, cmd.Image.ID)
		eng.flush()
		// TODO: have a pool to avoid needless re-allocation
		img.view.Release()
		img.texture.Release()

	case *renderer.FreeShader:
		id := int(cmd.Shader)
		if id < 0 || id >= len(eng.shaders) || eng.shaders[id] == nil {
			return nil
		}
		eng.flush()
		eng.shaders[id].release()
		eng.shaders[id] = nil

	default:
		panic(fmt.Sprintf("unhandled command %T", cmd))
	}
	return nil
}

func (eng *Engine) upload(proxy renderer.BufferProxy, data []byte, usage wgpu.BufferUsage) error {
	if uint64(len(data)) != proxy.Size {
		return &renderer.ResourceAllocationError{
			Resource: proxy.Name,
			Err:      fmt.Errorf("proxy is %d bytes, data is %d bytes", proxy.Size, len(data)),
		}
	}
	if proxy.Size == 0 || proxy.Size%4 != 0 {
		return &renderer.ResourceAllocationError{
			Resource: proxy.Name,
			Err:      fmt.Errorf("size %d isn't a non-zero multiple of 4", proxy.Size),
		}
	}
	buf, ok := eng.buffers[proxy.ID]
	if !ok {
		usage |= wgpu.BufferUsageCopyDst
		buf = &gpuBuffer{
			proxy:  proxy,
			buffer: eng.pool.getBuf(proxy.Size, proxy.Name, usage, eng.dev),
		}
		eng.buffers[proxy.ID] = buf
	}
	eng.flush()
	eng.queue.WriteBuffer(buf.buffer, 0, data)
	return nil
}

func (eng *Engine) createImage(proxy renderer.ImageProxy) error {
	if proxy.Width == 0 || proxy.Height == 0 || proxy.Width > maxTextureDimension || proxy.Height > maxTextureDimension {
		return &renderer.ResourceAllocationError{
			Resource: proxy.Name,
			Err:      fmt.Errorf("invalid image size %dx%d", proxy.Width, proxy.Height),
		}
	}
	format := imageFormatToWGPU(proxy.Format)
	usage := wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopySrc
	switch proxy.Format {
	case renderer.Rgba32Float:
		usage |= wgpu.TextureUsageStorageBinding
	case renderer.Rgba8:
		usage |= wgpu.TextureUsageRenderAttachment
	}
	texture := eng.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label: proxy.Name,
		Size: wgpu.Extent3D{
			Width:              proxy.Width,
			Height:             proxy.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Usage:         usage,
		Format:        format,
	})
	textureView := texture.CreateView(&wgpu.TextureViewDescriptor{
		Dimension:       wgpu.TextureViewDimension2D,
		Aspect:          wgpu.TextureAspectAll,
		MipLevelCount:   ^uint32(0),
		BaseMipLevel:    0,
		BaseArrayLayer:  0,
		ArrayLayerCount: ^uint32(0),
		Format:          format,
	})
	eng.images[proxy.ID] = &gpuImage{proxy, texture, textureView}
	return nil
}

func (eng *Engine) dispatch(cmd *renderer.Dispatch) error {
	sh, err := eng.shader(cmd.Shader, renderer.ShaderKindCompute)
	if err != nil {
		return &renderer.DeviceError{Op: "dispatch", Err: err}
	}
	desc := sh.desc
	op := "dispatch " + desc.Name

	var (
		entries []wgpu.BindGroupEntry
		written []*gpuImage
		read    = map[*gpuImage]struct{}{}
	)
	for _, layout := range desc.Bindings {
		b, ok := findBinding(cmd.Bindings, layout.Index)
		if !ok {
			return deviceError(op, "binding %d is not bound", layout.Index)
		}
		if b.Access != layout.Access {
			return deviceError(op, "binding %d is bound as %s, program expects %s", layout.Index, b.Access, layout.Access)
		}
		switch b.Access {
		case renderer.AccessImageRead, renderer.AccessImageWrite:
			img, ok := eng.images[b.Resource.ImageProxy.ID]
			if b.Resource.Kind != renderer.ResourceProxyKindImage || !ok {
				return deviceError(op, "binding %d: image %q doesn't exist", layout.Index, b.Resource.ImageProxy.Name)
			}
			if b.Access == renderer.AccessImageRead {
				if _, ok := eng.dirty[img.proxy.ID]; ok {
					return deviceError(op, "image %q is read before a barrier ordered earlier writes to it", img.proxy.Name)
				}
				read[img] = struct{}{}
			} else {
				written = append(written, img)
			}
			entries = append(entries, wgpu.BindGroupEntry{
				Binding:     layout.Index,
				TextureView: img.view,
				Size:        ^uint64(0),
			})
		case renderer.AccessUniform:
			buf, ok := eng.buffers[b.Resource.BufferProxy.ID]
			if b.Resource.Kind != renderer.ResourceProxyKindBuffer || !ok || buf.proxy.Usage != renderer.BufferUsageUniform {
				return deviceError(op, "binding %d: uniform buffer %q doesn't exist", layout.Index, b.Resource.BufferProxy.Name)
			}
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: layout.Index,
				Buffer:  buf.buffer,
				Size:    buf.proxy.Size,
			})
		default:
			return deviceError(op, "binding %d has unsupported access %s", layout.Index, b.Access)
		}
	}
	for _, img := range written {
		if _, ok := read[img]; ok {
			return deviceError(op, "image %q is bound for reading and writing", img.proxy.Name)
		}
	}

	var storage []wgpu.BindGroupEntry
	for _, slot := range desc.StorageSlots {
		buf, ok := eng.slots[slot]
		if !ok {
			return deviceError(op, "storage slot %d is empty", slot)
		}
		storage = append(storage, wgpu.BindGroupEntry{
			Binding: slot,
			Buffer:  buf.buffer,
			// Pooled buffers may be larger than the data; the kernel sizes
			// its arrays from the binding.
			Size: buf.proxy.Size,
		})
	}

	bindGroup := eng.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Name,
		Layout:  sh.layouts[bindGroupDispatch],
		Entries: entries,
	})
	defer bindGroup.Release()
	var storageGroup *wgpu.BindGroup
	if len(storage) > 0 {
		storageGroup = eng.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   desc.Name + " storage",
			Layout:  sh.layouts[bindGroupStorage],
			Entries: storage,
		})
		defer storageGroup.Release()
	}

	cpass := eng.enc().BeginComputePass(&wgpu.ComputePassDescriptor{
		Label: desc.Name,
	})
	cpass.SetPipeline(sh.compute)
	cpass.SetBindGroup(bindGroupDispatch, bindGroup, nil)
	if storageGroup != nil {
		cpass.SetBindGroup(bindGroupStorage, storageGroup, nil)
	}
	wg := cmd.WorkgroupCount
	cpass.DispatchWorkgroups(wg[0], wg[1], wg[2])
	cpass.End()
	cpass.Release()

	for _, img := range written {
		eng.dirty[img.proxy.ID] = struct{}{}
	}
	return nil
}

func findBinding(bindings []renderer.Binding, index uint32) (renderer.Binding, bool) {
	for _, b := range bindings {
		if b.Index == index {
			return b, true
		}
	}
	return renderer.Binding{}, false
}

func (eng *Engine) draw(cmd *renderer.Draw) error {
	sh, err := eng.shader(cmd.Shader, renderer.ShaderKindRender)
	if err != nil {
		return &renderer.DeviceError{Op: "draw", Err: err}
	}
	desc := sh.desc
	op := "draw " + desc.Name

	if cmd.Target.IsZero() {
		return deviceError(op, "engine has no surface to draw to")
	}
	target, ok := eng.images[cmd.Target.ID]
	if !ok {
		return deviceError(op, "target %q doesn't exist", cmd.Target.Name)
	}
	if target.proxy.Format != renderer.Rgba8 {
		return deviceError(op, "target %q isn't an Rgba8 image", target.proxy.Name)
	}

	var entries []wgpu.BindGroupEntry
	for _, layout := range desc.Bindings {
		b, ok := findBinding(cmd.Bindings, layout.Index)
		if !ok {
			return deviceError(op, "texture unit %d is not bound", layout.Index)
		}
		if b.Access != renderer.AccessSampled {
			return deviceError(op, "binding %d is bound as %s, program expects %s", layout.Index, b.Access, layout.Access)
		}
		img, ok := eng.images[b.Resource.ImageProxy.ID]
		if b.Resource.Kind != renderer.ResourceProxyKindImage || !ok {
			return deviceError(op, "texture unit %d: image %q doesn't exist", layout.Index, b.Resource.ImageProxy.Name)
		}
		if _, ok := eng.dirty[img.proxy.ID]; ok {
			return deviceError(op, "image %q is sampled before a barrier ordered earlier writes to it", img.proxy.Name)
		}
		entries = append(entries,
			wgpu.BindGroupEntry{
				Binding:     layout.Index,
				TextureView: img.view,
				Size:        ^uint64(0),
			},
			wgpu.BindGroupEntry{
				Binding: layout.Index + 1,
				Sampler: eng.nearestSampler(),
				Size:    ^uint64(0),
			},
		)
	}

	vb, ok1 := eng.buffers[cmd.Mesh.Vertices.ID]
	ib, ok2 := eng.buffers[cmd.Mesh.Indices.ID]
	if !ok1 || !ok2 {
		return deviceError(op, "mesh buffers don't exist")
	}
	if uint64(cmd.Mesh.IndexCount)*4 > ib.proxy.Size {
		return deviceError(op, "mesh has %d indices, draw needs %d", ib.proxy.Size/4, cmd.Mesh.IndexCount)
	}

	bindGroup := eng.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Name,
		Layout:  sh.layouts[0],
		Entries: entries,
	})
	defer bindGroup.Release()

	renderPass := eng.enc().BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: desc.Name,
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       target.view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
			},
		},
	})
	renderPass.SetPipeline(sh.render)
	renderPass.SetBindGroup(0, bindGroup, nil)
	renderPass.SetVertexBuffer(0, vb.buffer, 0, vb.proxy.Size)
	renderPass.SetIndexBuffer(ib.buffer, wgpu.IndexFormatUint32, 0, ib.proxy.Size)
	renderPass.DrawIndexed(cmd.Mesh.IndexCount, 1, 0, 0, 0)
	renderPass.End()
	renderPass.Release()
	return nil
}

// ReadImage copies img to a mappable buffer and blocks until the copy has
// completed. Rows are returned bottom to top, matching the order in which
// kernels address them.
func (eng *Engine) ReadImage(img renderer.ImageProxy) (out []float32, err error) {
	if eng.released {
		return nil, renderer.ErrReleased
	}
	gimg, ok := eng.images[img.ID]
	if !ok {
		return nil, deviceError("read image", "image %q doesn't exist", img.Name)
	}
	if _, ok := eng.dirty[img.ID]; ok {
		return nil, deviceError("read image", "image %q is read before a barrier ordered earlier writes to it", img.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &renderer.DeviceError{Op: "read image", Err: fmt.Errorf("%v", r)}
		}
	}()

	w, h := img.Width, img.Height
	texel := img.Format.BytesPerTexel()
	// Rows of texture copies have to be 256-byte aligned.
	stride := (w*texel + 255) &^ 255
	size := uint64(stride) * uint64(h)
	staging := eng.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "read " + img.Name,
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	defer staging.Release()

	enc := eng.enc()
	enc.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  gimg.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: 0},
			Aspect:   wgpu.TextureAspectAll,
		},
		&wgpu.ImageCopyBuffer{
			Buffer: staging,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  stride,
				RowsPerImage: h,
			},
		},
		&wgpu.Extent3D{
			Width:              w,
			Height:             h,
			DepthOrArrayLayers: 1,
		},
	)
	eng.flush()

	if err := <-staging.Map(eng.dev, wgpu.MapModeRead, 0, int(size)); err != nil {
		return nil, &renderer.DeviceError{Op: "read image", Err: err}
	}
	defer staging.Unmap()
	data := staging.ReadOnlyMappedRange(0, int(size))

	out = make([]float32, 0, int(w)*int(h)*4)
	for y := range h {
		row := data[uint64(y)*uint64(stride):][:w*texel]
		out = appendTexels(out, row, img.Format)
	}
	return out, nil
}

func (eng *Engine) Release() {
	if eng.released {
		return
	}
	eng.released = true
	if eng.encoder != nil {
		eng.encoder.Release()
		eng.encoder = nil
	}
	for _, sh := range eng.shaders {
		if sh != nil {
			sh.release()
		}
	}
	for _, buf := range eng.buffers {
		buf.buffer.Release()
	}
	for _, img := range eng.images {
		img.view.Release()
		img.texture.Release()
	}
	for _, bufs := range eng.pool.bufs {
		for _, buf := range bufs {
			buf.Release()
		}
	}
	if eng.sampler != nil {
		eng.sampler.Release()
	}
	eng.releaseQueryResources()
	eng.shaders = nil
	clear(eng.buffers)
	clear(eng.images)
	clear(eng.slots)
	clear(eng.pool.bufs)
}

func (pool *resourcePool) getBuf(
	size uint64,
	name string,
	usage wgpu.BufferUsage,
	dev *wgpu.Device,
) *wgpu.Buffer {
	const sizeClassBits = 1

	roundedSize := poolSizeClass(size, sizeClassBits)
	props := bufferProperties{
		size:   roundedSize,
		usages: usage,
	}
	if bufVec, ok := pool.bufs[props]; ok {
		if len(bufVec) > 0 {
			buf := bufVec[len(bufVec)-1]
			bufVec = bufVec[:len(bufVec)-1]
			pool.bufs[props] = bufVec
			return buf
		}
	}
	return dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name,
		Size:  roundedSize,
		Usage: usage,
	})
}

func (pool *resourcePool) putBuf(buf *wgpu.Buffer) {
	props := bufferProperties{
		size:   buf.Size(),
		usages: buf.Usage(),
	}
	pool.bufs[props] = append(pool.bufs[props], buf)
}

func poolSizeClass(x uint64, numBits uint32) uint64 {
	if x > 1<<numBits {
		a := bits.LeadingZeros64(x - 1)
		b := (x - 1) | (((math.MaxUint64 / 2) >> numBits) >> a)
		return b + 1
	} else {
		return 1 << numBits
	}
}
