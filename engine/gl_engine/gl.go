// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package gl_engine implements renderer.Engine on OpenGL 4.6.
//
// The engine uses the context that is current on the calling thread. All
// methods must be called from that thread; callers usually lock it with
// runtime.LockOSThread before creating the context.
//
// OpenGL lets a dispatch bind one image to several image units, so the
// renderer can accumulate in place.
package gl_engine

import (
	"errors"
	"fmt"

	"github.com/go-gl/gl/v4.6-core/gl"
	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/shaders"
)

type Options struct {
	// Surface returns the size of the default framebuffer. Draws with a zero
	// target render there.
	Surface func() (width, height int)
	// Debug enables synchronous debug output. Errors reported through it fail
	// the Submit that caused them.
	Debug bool
}

type glBuffer struct {
	proxy renderer.BufferProxy
	id    uint32
}

type glImage struct {
	proxy renderer.ImageProxy
	id    uint32
	// fbo is created the first time the image is drawn to.
	fbo uint32
}

type meshKey struct {
	shader            renderer.ShaderID
	vertices, indices renderer.ResourceID
}

type Engine struct {
	opts       Options
	maxTexture int32

	programs []*program
	buffers  map[renderer.ResourceID]*glBuffer
	images   map[renderer.ResourceID]*glImage
	slots    map[uint32]*glBuffer
	// dirty contains the images written by dispatches that no barrier has
	// ordered yet.
	dirty   map[renderer.ResourceID]struct{}
	vaos    map[meshKey]uint32
	sampler uint32

	// debugErr is the first error reported by the debug callback since the
	// last Submit.
	debugErr error
	released bool
}

var _ renderer.Engine = (*Engine)(nil)

// New loads the OpenGL functions for the current context and checks that it
// supports OpenGL 4.6.
func New(opts *Options) (*Engine, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("%w: loading OpenGL: %s", renderer.ErrCapability, err)
	}
	var major, minor int32
	gl.GetIntegerv(gl.MAJOR_VERSION, &major)
	gl.GetIntegerv(gl.MINOR_VERSION, &minor)
	if major < 4 || major == 4 && minor < 6 {
		return nil, fmt.Errorf("%w: OpenGL 4.6 is required, context has %d.%d", renderer.ErrCapability, major, minor)
	}
	renderer.Logger().Info("created OpenGL engine",
		"vendor", gl.GoStr(gl.GetString(gl.VENDOR)),
		"renderer", gl.GoStr(gl.GetString(gl.RENDERER)),
		"version", gl.GoStr(gl.GetString(gl.VERSION)),
		"glsl", gl.GoStr(gl.GetString(gl.SHADING_LANGUAGE_VERSION)))

	eng := &Engine{
		buffers: make(map[renderer.ResourceID]*glBuffer),
		images:  make(map[renderer.ResourceID]*glImage),
		slots:   make(map[uint32]*glBuffer),
		dirty:   make(map[renderer.ResourceID]struct{}),
		vaos:    make(map[meshKey]uint32),
	}
	if opts != nil {
		eng.opts = *opts
	}
	gl.GetIntegerv(gl.MAX_TEXTURE_SIZE, &eng.maxTexture)
	if eng.opts.Debug {
		eng.enableDebugOutput()
	}

	gl.CreateSamplers(1, &eng.sampler)
	gl.SamplerParameteri(eng.sampler, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.SamplerParameteri(eng.sampler, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.SamplerParameteri(eng.sampler, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.SamplerParameteri(eng.sampler, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	return eng, nil
}

func (eng *Engine) Capabilities() renderer.Capabilities {
	return renderer.Capabilities{
		ImageAliasing:     true,
		TimerQueries:      true,
		PresentsToSurface: eng.opts.Surface != nil,
		Language:          shaders.GLSL,
	}
}

func deviceError(op, format string, args ...any) error {
	return &renderer.DeviceError{Op: op, Err: fmt.Errorf(format, args...)}
}

// checkErrors returns the error the debug callback or glGetError reported
// for the commands issued so far.
func (eng *Engine) checkErrors(op string) error {
	err := eng.debugErr
	eng.debugErr = nil
	if err == nil {
		if code := gl.GetError(); code != gl.NO_ERROR {
			err = fmt.Errorf("GL error 0x%04x", code)
		}
	}
	if err != nil {
		var derr *renderer.DeviceError
		if errors.As(err, &derr) {
			return err
		}
		return &renderer.DeviceError{Op: op, Err: err}
	}
	return nil
}

func (eng *Engine) Submit(rec *renderer.Recording) error {
	if eng.released {
		return renderer.ErrReleased
	}
	for _, cmd := range rec.Commands {
		if err := eng.execute(cmd); err != nil {
			return err
		}
		if err := eng.checkErrors(commandName(cmd)); err != nil {
			if name, ok := allocatedResource(cmd); ok {
				return allocationError(name, err)
			}
			return err
		}
	}
	gl.Flush()
	return nil
}

// allocatedResource returns the name of the resource cmd allocates, if any.
func allocatedResource(cmd renderer.Command) (string, bool) {
	switch cmd := cmd.(type) {
	case *renderer.Upload:
		return cmd.Buffer.Name, true
	case *renderer.UploadUniform:
		return cmd.Buffer.Name, true
	case *renderer.UploadVertices:
		return cmd.Buffer.Name, true
	case *renderer.UploadIndices:
		return cmd.Buffer.Name, true
	case *renderer.CreateImage:
		return cmd.Image.Name, true
	default:
		return "", false
	}
}

// allocationError reports an error raised by the driver while allocating
// resource, such as GL_OUT_OF_MEMORY.
func allocationError(resource string, err error) error {
	var derr *renderer.DeviceError
	if errors.As(err, &derr) {
		err = derr.Err
	}
	return &renderer.ResourceAllocationError{Resource: resource, Err: err}
}

func commandName(cmd renderer.Command) string {
	switch cmd.(type) {
	case *renderer.Upload:
		return "upload"
	case *renderer.UploadUniform:
		return "upload uniform"
	case *renderer.UploadVertices, *renderer.UploadIndices:
		return "upload mesh"
	case *renderer.CreateImage:
		return "create image"
	case *renderer.BindStorage, *renderer.UnbindStorage:
		return "bind storage"
	case *renderer.Dispatch:
		return "dispatch"
	case *renderer.Barrier:
		return "barrier"
	case *renderer.Draw:
		return "draw"
	default:
		return "free"
	}
}

func (eng *Engine) execute(cmd renderer.Command) error {
	switch cmd := cmd.(type) {
	case *renderer.Upload:
		return eng.upload(cmd.Buffer, cmd.Data, gl.STATIC_DRAW)

	case *renderer.UploadUniform:
		return eng.upload(cmd.Buffer, cmd.Data, gl.DYNAMIC_DRAW)

	case *renderer.UploadVertices:
		return eng.upload(cmd.Buffer, cmd.Data, gl.STATIC_DRAW)

	case *renderer.UploadIndices:
		return eng.upload(cmd.Buffer, cmd.Data, gl.STATIC_DRAW)

	case *renderer.CreateImage:
		return eng.createImage(cmd.Image)

	case *renderer.BindStorage:
		buf, ok := eng.buffers[cmd.Buffer.ID]
		if !ok || buf.proxy.Usage != renderer.BufferUsageStorage {
			return deviceError("bind storage", "storage buffer %q doesn't exist", cmd.Buffer.Name)
		}
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, cmd.Slot, buf.id)
		eng.slots[cmd.Slot] = buf

	case *renderer.UnbindStorage:
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, cmd.Slot, 0)
		delete(eng.slots, cmd.Slot)

	case *renderer.Dispatch:
		return eng.dispatch(cmd)

	case *renderer.Barrier:
		gl.MemoryBarrier(gl.SHADER_IMAGE_ACCESS_BARRIER_BIT | gl.TEXTURE_FETCH_BARRIER_BIT | gl.TEXTURE_UPDATE_BARRIER_BIT)
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
				gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, slot, 0)
				delete(eng.slots, slot)
			}
		}
		for key, vao := range eng.vaos {
			if key.vertices == cmd.Buffer.ID || key.indices == cmd.Buffer.ID {
				gl.DeleteVertexArrays(1, &vao)
				delete(eng.vaos, key)
			}
		}
		gl.DeleteBuffers(1, &buf.id)

	case *renderer.FreeImage:
		img, ok := eng.images[cmd.Image.ID]
		if !ok {
			return nil
		}
		delete(eng.images, cmd.Image.ID)
		delete(eng.dirty, cmd.Image.ID)
		img.release()

	case *renderer.FreeShader:
		id := int(cmd.Shader)
		if id < 0 || id >= len(eng.programs) || eng.programs[id] == nil {
			return nil
		}
		for key, vao := range eng.vaos {
			if key.shader == cmd.Shader {
				gl.DeleteVertexArrays(1, &vao)
				delete(eng.vaos, key)
			}
		}
		gl.DeleteProgram(eng.programs[id].id)
		eng.programs[id] = nil

	default:
		panic(fmt.Sprintf("unhandled command %T", cmd))
	}
	return nil
}

func (img *glImage) release() {
	if img.fbo != 0 {
		gl.DeleteFramebuffers(1, &img.fbo)
	}
	gl.DeleteTextures(1, &img.id)
}

func (eng *Engine) upload(proxy renderer.BufferProxy, data []byte, usage uint32) error {
	if uint64(len(data)) != proxy.Size || len(data) == 0 {
		return &renderer.ResourceAllocationError{
			Resource: proxy.Name,
			Err:      fmt.Errorf("proxy is %d bytes, data is %d bytes", proxy.Size, len(data)),
		}
	}
	if buf, ok := eng.buffers[proxy.ID]; ok {
		gl.NamedBufferSubData(buf.id, 0, len(data), gl.Ptr(data))
		return nil
	}
	buf := &glBuffer{proxy: proxy}
	gl.CreateBuffers(1, &buf.id)
	gl.NamedBufferData(buf.id, len(data), gl.Ptr(data), usage)
	labelObject(gl.BUFFER, buf.id, proxy.Name)
	eng.buffers[proxy.ID] = buf
	return nil
}

func imageFormatToGL(f renderer.ImageFormat) uint32 {
	switch f {
	case renderer.Rgba32Float:
		return gl.RGBA32F
	case renderer.Rgba8:
		return gl.RGBA8
	default:
		panic(fmt.Sprintf("unhandled value %d", f))
	}
}

func (eng *Engine) createImage(proxy renderer.ImageProxy) error {
	if proxy.Width == 0 || proxy.Height == 0 ||
		int64(proxy.Width) > int64(eng.maxTexture) || int64(proxy.Height) > int64(eng.maxTexture) {
		return &renderer.ResourceAllocationError{
			Resource: proxy.Name,
			Err:      fmt.Errorf("invalid image size %dx%d (maximum is %d)", proxy.Width, proxy.Height, eng.maxTexture),
		}
	}
	img := &glImage{proxy: proxy}
	gl.CreateTextures(gl.TEXTURE_2D, 1, &img.id)
	gl.TextureStorage2D(img.id, 1, imageFormatToGL(proxy.Format), int32(proxy.Width), int32(proxy.Height))
	gl.TextureParameteri(img.id, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TextureParameteri(img.id, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TextureParameteri(img.id, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TextureParameteri(img.id, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	labelObject(gl.TEXTURE, img.id, proxy.Name)
	eng.images[proxy.ID] = img
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

func imageAccessToGL(a renderer.Access) uint32 {
	switch a {
	case renderer.AccessImageRead:
		return gl.READ_ONLY
	case renderer.AccessImageWrite:
		return gl.WRITE_ONLY
	default:
		panic(fmt.Sprintf("unhandled access %s", a))
	}
}

func (eng *Engine) dispatch(cmd *renderer.Dispatch) error {
	prog, err := eng.program(cmd.Shader, renderer.ShaderKindCompute)
	if err != nil {
		return &renderer.DeviceError{Op: "dispatch", Err: err}
	}
	desc := prog.desc
	op := "dispatch " + desc.Name

	var written []renderer.ResourceID
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
			} else {
				written = append(written, img.proxy.ID)
			}
			gl.BindImageTexture(layout.Index, img.id, 0, false, 0, imageAccessToGL(b.Access), imageFormatToGL(img.proxy.Format))
		case renderer.AccessUniform:
			buf, ok := eng.buffers[b.Resource.BufferProxy.ID]
			if b.Resource.Kind != renderer.ResourceProxyKindBuffer || !ok || buf.proxy.Usage != renderer.BufferUsageUniform {
				return deviceError(op, "binding %d: uniform buffer %q doesn't exist", layout.Index, b.Resource.BufferProxy.Name)
			}
			gl.BindBufferBase(gl.UNIFORM_BUFFER, layout.Index, buf.id)
		default:
			return deviceError(op, "binding %d has unsupported access %s", layout.Index, b.Access)
		}
	}
	for _, slot := range desc.StorageSlots {
		if _, ok := eng.slots[slot]; !ok {
			return deviceError(op, "storage slot %d is empty", slot)
		}
	}

	gl.UseProgram(prog.id)
	wg := cmd.WorkgroupCount
	gl.DispatchCompute(wg[0], wg[1], wg[2])
	for _, id := range written {
		eng.dirty[id] = struct{}{}
	}
	return nil
}

func (eng *Engine) draw(cmd *renderer.Draw) error {
	prog, err := eng.program(cmd.Shader, renderer.ShaderKindRender)
	if err != nil {
		return &renderer.DeviceError{Op: "draw", Err: err}
	}
	desc := prog.desc
	op := "draw " + desc.Name

	var fbo uint32
	var width, height int32
	if cmd.Target.IsZero() {
		if eng.opts.Surface == nil {
			return deviceError(op, "engine has no surface to draw to")
		}
		w, h := eng.opts.Surface()
		width, height = int32(w), int32(h)
	} else {
		target, ok := eng.images[cmd.Target.ID]
		if !ok {
			return deviceError(op, "target %q doesn't exist", cmd.Target.Name)
		}
		if target.fbo == 0 {
			gl.CreateFramebuffers(1, &target.fbo)
			gl.NamedFramebufferTexture(target.fbo, gl.COLOR_ATTACHMENT0, target.id, 0)
			if status := gl.CheckNamedFramebufferStatus(target.fbo, gl.FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
				return deviceError(op, "framebuffer for %q is incomplete: 0x%04x", target.proxy.Name, status)
			}
		}
		fbo = target.fbo
		width, height = int32(target.proxy.Width), int32(target.proxy.Height)
	}

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
		gl.BindTextureUnit(layout.Index, img.id)
		gl.BindSampler(layout.Index, eng.sampler)
	}

	vao, err := eng.vertexArray(cmd.Shader, prog, cmd.Mesh)
	if err != nil {
		return &renderer.DeviceError{Op: op, Err: err}
	}

	gl.BindFramebuffer(gl.FRAMEBUFFER, fbo)
	gl.Viewport(0, 0, width, height)
	gl.ClearColor(0, 0, 0, 1)
	gl.Clear(gl.COLOR_BUFFER_BIT)
	gl.UseProgram(prog.id)
	gl.BindVertexArray(vao)
	gl.DrawElementsWithOffset(gl.TRIANGLES, int32(cmd.Mesh.IndexCount), gl.UNSIGNED_INT, 0)
	gl.BindVertexArray(0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return nil
}

// vertexArray returns the vertex array object that feeds mesh to prog.
func (eng *Engine) vertexArray(id renderer.ShaderID, prog *program, mesh renderer.Mesh) (uint32, error) {
	key := meshKey{id, mesh.Vertices.ID, mesh.Indices.ID}
	if vao, ok := eng.vaos[key]; ok {
		return vao, nil
	}
	vb, ok1 := eng.buffers[mesh.Vertices.ID]
	ib, ok2 := eng.buffers[mesh.Indices.ID]
	if !ok1 || !ok2 {
		return 0, errors.New("mesh buffers don't exist")
	}
	if uint64(mesh.IndexCount)*4 > ib.proxy.Size {
		return 0, fmt.Errorf("mesh has %d indices, draw needs %d", ib.proxy.Size/4, mesh.IndexCount)
	}

	var vao uint32
	gl.CreateVertexArrays(1, &vao)
	gl.VertexArrayVertexBuffer(vao, 0, vb.id, 0, int32(prog.desc.Vertex.Stride))
	gl.VertexArrayElementBuffer(vao, ib.id)
	for _, a := range prog.desc.Vertex.Attributes {
		gl.EnableVertexArrayAttrib(vao, a.Location)
		gl.VertexArrayAttribFormat(vao, a.Location, int32(a.Components), gl.FLOAT, false, a.Offset)
		gl.VertexArrayAttribBinding(vao, a.Location, 0)
	}
	eng.vaos[key] = vao
	return vao, nil
}

// ReadImage returns img's texels. Rgba8 images are converted to floats by
// the driver.
func (eng *Engine) ReadImage(img renderer.ImageProxy) ([]float32, error) {
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
	out := make([]float32, int(img.Width)*int(img.Height)*4)
	gl.GetTextureImage(gimg.id, 0, gl.RGBA, gl.FLOAT, int32(len(out)*4), gl.Ptr(out))
	if err := eng.checkErrors("read image"); err != nil {
		return nil, err
	}
	return out, nil
}

func (eng *Engine) Release() {
	if eng.released {
		return
	}
	eng.released = true
	for _, p := range eng.programs {
		if p != nil {
			gl.DeleteProgram(p.id)
		}
	}
	for _, buf := range eng.buffers {
		gl.DeleteBuffers(1, &buf.id)
	}
	for _, img := range eng.images {
		img.release()
	}
	for _, vao := range eng.vaos {
		gl.DeleteVertexArrays(1, &vao)
	}
	gl.DeleteSamplers(1, &eng.sampler)
	eng.programs = nil
	clear(eng.buffers)
	clear(eng.images)
	clear(eng.slots)
	clear(eng.vaos)
}
