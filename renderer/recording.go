// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"fmt"
	"sync/atomic"
)

var resourceID atomic.Uint64

func nextResourceID() ResourceID {
	return ResourceID(resourceID.Add(1))
}

type ResourceID uint64

type ResourceProxyKind int

const (
	ResourceProxyKindBuffer ResourceProxyKind = iota + 1
	ResourceProxyKindImage
)

type ResourceProxy struct {
	Kind ResourceProxyKind
	BufferProxy
	ImageProxy
}

func (p ResourceProxy) ID() ResourceID {
	switch p.Kind {
	case ResourceProxyKindBuffer:
		return p.BufferProxy.ID
	case ResourceProxyKindImage:
		return p.ImageProxy.ID
	default:
		panic(fmt.Sprintf("unhandled kind %d", p.Kind))
	}
}

type BufferUsage int

const (
	BufferUsageStorage BufferUsage = iota + 1
	BufferUsageUniform
	BufferUsageVertex
	BufferUsageIndex
)

type BufferProxy struct {
	Size  uint64
	ID    ResourceID
	Name  string
	Usage BufferUsage
}

func NewBufferProxy(size uint64, name string, usage BufferUsage) BufferProxy {
	return BufferProxy{Size: size, ID: nextResourceID(), Name: name, Usage: usage}
}

func (p BufferProxy) Resource() ResourceProxy {
	return ResourceProxy{
		Kind:        ResourceProxyKindBuffer,
		BufferProxy: p,
	}
}

type ImageFormat int

const (
	// Rgba32Float stores linear radiance, 16 bytes per texel.
	Rgba32Float ImageFormat = iota + 1
	// Rgba8 is the display format.
	Rgba8
)

func (f ImageFormat) BytesPerTexel() uint32 {
	switch f {
	case Rgba32Float:
		return 16
	case Rgba8:
		return 4
	default:
		panic(fmt.Sprintf("unhandled format %d", f))
	}
}

// Sampling describes how an image is read when bound as a sampled texture.
// Images only support nearest filtering; interpolating between texels
// would blend unrelated radiance estimates.
type Sampling struct {
	Filter FilterMode
	Wrap   WrapMode
}

type FilterMode int

const (
	FilterNearest FilterMode = iota
)

type WrapMode int

const (
	WrapClampToEdge WrapMode = iota
)

type ImageProxy struct {
	Width    uint32
	Height   uint32
	Format   ImageFormat
	Sampling Sampling
	Name     string
	ID       ResourceID
}

func NewImageProxy(width, height uint32, format ImageFormat, name string) ImageProxy {
	return ImageProxy{
		Width:  width,
		Height: height,
		Format: format,
		Name:   name,
		ID:     nextResourceID(),
	}
}

// IsZero reports whether p refers to no image. A Draw with a zero target
// renders to the engine's surface.
func (p ImageProxy) IsZero() bool { return p.ID == 0 }

func (p ImageProxy) Resource() ResourceProxy {
	return ResourceProxy{
		Kind:       ResourceProxyKindImage,
		ImageProxy: p,
	}
}

// Access describes how a dispatch or draw uses a bound resource.
type Access int

const (
	AccessImageRead Access = iota + 1
	AccessImageWrite
	AccessSampled
	AccessUniform
)

func (a Access) String() string {
	switch a {
	case AccessImageRead:
		return "image-read"
	case AccessImageWrite:
		return "image-write"
	case AccessSampled:
		return "sampled"
	case AccessUniform:
		return "uniform"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// A Binding attaches a resource to a binding index of a program. For images
// bound with AccessImageRead or AccessImageWrite the index is the image unit,
// for AccessSampled it is the texture unit.
type Binding struct {
	Index    uint32
	Access   Access
	Resource ResourceProxy
}

// Mesh is an indexed triangle list.
type Mesh struct {
	Vertices   BufferProxy
	Indices    BufferProxy
	IndexCount uint32
}

type ShaderID int

// Recording is an ordered list of commands for an engine to execute. Commands
// are executed in order; engines may run them asynchronously, subject to the
// ordering Barrier imposes.
type Recording struct {
	Commands []Command
}

// Reset empties the recording while keeping its storage.
func (rec *Recording) Reset() {
	clear(rec.Commands)
	rec.Commands = rec.Commands[:0]
}

func (rec *Recording) push(cmd Command) {
	rec.Commands = append(rec.Commands, cmd)
}

func (rec *Recording) Upload(name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name, BufferUsageStorage)
	rec.push(&Upload{buf, data})
	return buf
}

func (rec *Recording) UploadUniform(name string, data []byte) BufferProxy {
	buf := NewBufferProxy(uint64(len(data)), name, BufferUsageUniform)
	rec.push(&UploadUniform{buf, data})
	return buf
}

// WriteUniform replaces the contents of a uniform buffer created by
// UploadUniform. data must be buf.Size bytes long.
func (rec *Recording) WriteUniform(buf BufferProxy, data []byte) {
	if uint64(len(data)) != buf.Size {
		panic(fmt.Sprintf("uniform %q is %d bytes, got %d", buf.Name, buf.Size, len(data)))
	}
	rec.push(&UploadUniform{buf, data})
}

// UploadMesh uploads interleaved vertex data and uint32 indices.
func (rec *Recording) UploadMesh(name string, vertices, indices []byte) Mesh {
	vbuf := NewBufferProxy(uint64(len(vertices)), name+" vertices", BufferUsageVertex)
	ibuf := NewBufferProxy(uint64(len(indices)), name+" indices", BufferUsageIndex)
	rec.push(&UploadVertices{vbuf, vertices})
	rec.push(&UploadIndices{ibuf, indices})
	return Mesh{Vertices: vbuf, Indices: ibuf, IndexCount: uint32(len(indices) / 4)}
}

// CreateImage allocates an image with undefined contents.
func (rec *Recording) CreateImage(width, height uint32, format ImageFormat, name string) ImageProxy {
	img := NewImageProxy(width, height, format, name)
	rec.push(&CreateImage{img})
	return img
}

func (rec *Recording) BindStorage(slot uint32, buf BufferProxy) {
	rec.push(&BindStorage{slot, buf})
}

func (rec *Recording) UnbindStorage(slot uint32) {
	rec.push(&UnbindStorage{slot})
}

func (rec *Recording) Dispatch(shader ShaderID, wgCount [3]uint32, bindings []Binding) {
	rec.push(&Dispatch{shader, wgCount, bindings})
}

// Barrier orders all writes to img issued before it before all reads of img
// issued after it.
func (rec *Recording) Barrier(img ImageProxy) {
	rec.push(&Barrier{img})
}

func (rec *Recording) Draw(shader ShaderID, mesh Mesh, bindings []Binding, target ImageProxy) {
	rec.push(&Draw{shader, mesh, bindings, target})
}

func (rec *Recording) FreeBuffer(buf BufferProxy) {
	rec.push(&FreeBuffer{buf})
}

func (rec *Recording) FreeImage(image ImageProxy) {
	rec.push(&FreeImage{image})
}

// FreeShader removes a program added with Engine.AddShader. Its ID isn't
// reused.
func (rec *Recording) FreeShader(shader ShaderID) {
	rec.push(&FreeShader{shader})
}

func (rec *Recording) FreeMesh(mesh Mesh) {
	rec.FreeBuffer(mesh.Vertices)
	rec.FreeBuffer(mesh.Indices)
}

func (rec *Recording) FreeResource(resource ResourceProxy) {
	switch resource.Kind {
	case ResourceProxyKindBuffer:
		rec.FreeBuffer(resource.BufferProxy)
	case ResourceProxyKindImage:
		rec.FreeImage(resource.ImageProxy)
	default:
		panic(fmt.Sprintf("unhandled type %T", resource))
	}
}

type Command interface {
	isCommand()
}

func (*Upload) isCommand()         {}
func (*UploadUniform) isCommand()  {}
func (*UploadVertices) isCommand() {}
func (*UploadIndices) isCommand()  {}
func (*CreateImage) isCommand()    {}
func (*BindStorage) isCommand()    {}
func (*UnbindStorage) isCommand()  {}
func (*Dispatch) isCommand()       {}
func (*Barrier) isCommand()        {}
func (*Draw) isCommand()           {}
func (*FreeBuffer) isCommand()     {}
func (*FreeImage) isCommand()      {}
func (*FreeShader) isCommand()     {}

// Upload creates a storage buffer. Kernels only ever read it.
type Upload struct {
	Buffer BufferProxy
	Data   []byte
}

// UploadUniform creates a uniform buffer. Uploading to a proxy that already
// exists replaces its contents.
type UploadUniform struct {
	Buffer BufferProxy
	Data   []byte
}

type UploadVertices struct {
	Buffer BufferProxy
	Data   []byte
}

type UploadIndices struct {
	Buffer BufferProxy
	Data   []byte
}

type CreateImage struct {
	Image ImageProxy
}

type BindStorage struct {
	Slot   uint32
	Buffer BufferProxy
}

type UnbindStorage struct {
	Slot uint32
}

type Dispatch struct {
	Shader         ShaderID
	WorkgroupCount [3]uint32
	Bindings       []Binding
}

type Barrier struct {
	Image ImageProxy
}

type Draw struct {
	Shader   ShaderID
	Mesh     Mesh
	Bindings []Binding
	Target   ImageProxy
}

type FreeBuffer struct {
	Buffer BufferProxy
}

type FreeImage struct {
	Image ImageProxy
}

type FreeShader struct {
	Shader ShaderID
}
