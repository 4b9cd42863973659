// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/shaders/cpu"
	"honnef.co/go/safeish"
)

type boundImage struct {
	index   uint32
	img     *image
	access  renderer.Access
	aliased bool
}

// dispatchResources are the resources of one dispatch, resolved when the
// dispatch is recorded.
type dispatchResources struct {
	images   []boundImage
	uniforms []cpu.Buffer
	storage  []cpu.Buffer
}

// env returns the environment for one work-group. cur must point at the
// global ID of the invocation being executed.
func (r *dispatchResources) env(cur *[3]uint32) *cpu.ComputeEnv {
	env := &cpu.ComputeEnv{
		Uniforms: r.uniforms,
		Storage:  r.storage,
	}
	for _, b := range r.images {
		env.Images = grow(env.Images, b.index)
		v := &imageView{img: b.img, access: b.access}
		if b.aliased {
			v.cur = cur
		}
		env.Images[b.index] = v
	}
	return env
}

func grow[S ~[]E, E any](s S, n uint32) S {
	for uint32(len(s)) <= n {
		var zero E
		s = append(s, zero)
	}
	return s
}

func findBinding(bindings []renderer.Binding, index uint32) (renderer.Binding, bool) {
	for _, b := range bindings {
		if b.Index == index {
			return b, true
		}
	}
	return renderer.Binding{}, false
}

func (eng *Engine) dispatch(cmd *renderer.Dispatch) error {
	sh, err := eng.shader(cmd.Shader, renderer.ShaderKindCompute)
	if err != nil {
		return &renderer.DeviceError{Op: "dispatch", Err: err}
	}
	desc := sh.desc
	op := "dispatch " + desc.Name

	var res dispatchResources
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
			if b.Resource.Kind != renderer.ResourceProxyKindImage {
				return deviceError(op, "binding %d needs an image", layout.Index)
			}
			img, ok := eng.images[b.Resource.ImageProxy.ID]
			if !ok {
				return deviceError(op, "image %q doesn't exist", b.Resource.ImageProxy.Name)
			}
			if b.Access == renderer.AccessImageRead && img.dirty {
				return deviceError(op, "image %q is read before a barrier ordered earlier writes to it", img.proxy.Name)
			}
			res.images = append(res.images, boundImage{index: layout.Index, img: img, access: b.Access})
		case renderer.AccessUniform:
			if b.Resource.Kind != renderer.ResourceProxyKindBuffer {
				return deviceError(op, "binding %d needs a buffer", layout.Index)
			}
			buf, ok := eng.buffers[b.Resource.BufferProxy.ID]
			if !ok || buf.proxy.Usage != renderer.BufferUsageUniform {
				return deviceError(op, "uniform buffer %q doesn't exist", b.Resource.BufferProxy.Name)
			}
			res.uniforms = grow(res.uniforms, layout.Index)
			res.uniforms[layout.Index] = buf.data
		default:
			return deviceError(op, "binding %d has unsupported access %s", layout.Index, b.Access)
		}
	}
	for _, slot := range desc.StorageSlots {
		buf, ok := eng.slots[slot]
		if !ok {
			return deviceError(op, "storage slot %d is empty", slot)
		}
		res.storage = grow(res.storage, slot)
		res.storage[slot] = buf.data
	}

	for i := range res.images {
		for j := range res.images {
			if i != j && res.images[i].img == res.images[j].img {
				if eng.opts.DisableAliasing {
					return deviceError(op, "image %q is bound to more than one unit", res.images[i].img.proxy.Name)
				}
				res.images[i].aliased = true
			}
		}
	}

	// Writing an image that an earlier, still running dispatch reads waits
	// for that dispatch.
	for _, b := range res.images {
		if b.access == renderer.AccessImageWrite && eng.isRead(b.img.proxy.ID) {
			if err := eng.join(); err != nil {
				return err
			}
			break
		}
	}
	for _, b := range res.images {
		switch b.access {
		case renderer.AccessImageWrite:
			b.img.dirty = true
		case renderer.AccessImageRead:
			eng.inflightReads[b.img.proxy.ID] = struct{}{}
		}
	}

	groups := eng.order(cmd.WorkgroupCount)
	local := eng.order(desc.WorkgroupSize)
	kernel := sh.compute
	size := desc.WorkgroupSize
	parallelism := eng.opts.Parallelism
	if eng.inflight == nil {
		eng.inflight = new(errgroup.Group)
	}
	eng.inflight.Go(func() error {
		var g errgroup.Group
		g.SetLimit(parallelism)
		for _, wgID := range groups {
			g.Go(func() error {
				return runWorkgroup(op, kernel, &res, wgID, size, local)
			})
		}
		return g.Wait()
	})
	return nil
}

func runWorkgroup(
	op string,
	kernel cpu.ComputeKernel,
	res *dispatchResources,
	wgID [3]uint32,
	size [3]uint32,
	local [][3]uint32,
) (err error) {
	var inv cpu.Invocation
	defer func() {
		if r := recover(); r != nil {
			err = &renderer.DeviceError{Op: op, Err: fmt.Errorf("work-group %v, invocation %v: %v", wgID, inv.GlobalID, r)}
		}
	}()

	env := res.env(&inv.GlobalID)
	inv.WorkgroupID = wgID
	for _, l := range local {
		inv.LocalID = l
		inv.GlobalID = [3]uint32{
			wgID[0]*size[0] + l[0],
			wgID[1]*size[1] + l[1],
			wgID[2]*size[2] + l[2],
		}
		kernel(inv, env)
	}
	return nil
}

type vertex struct {
	pos, uv [2]float32
}

func (eng *Engine) draw(cmd *renderer.Draw) (err error) {
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
	if target.dirty || eng.isRead(target.proxy.ID) {
		if err := eng.join(); err != nil {
			return err
		}
		target.dirty = false
	}

	env := &cpu.FragmentEnv{}
	for _, layout := range desc.Bindings {
		b, ok := findBinding(cmd.Bindings, layout.Index)
		if !ok {
			return deviceError(op, "texture unit %d is not bound", layout.Index)
		}
		if b.Access != renderer.AccessSampled || layout.Access != renderer.AccessSampled {
			return deviceError(op, "binding %d is bound as %s, program expects %s", layout.Index, b.Access, layout.Access)
		}
		img, ok := eng.images[b.Resource.ImageProxy.ID]
		if b.Resource.Kind != renderer.ResourceProxyKindImage || !ok {
			return deviceError(op, "texture unit %d: image %q doesn't exist", layout.Index, b.Resource.ImageProxy.Name)
		}
		if img.dirty {
			return deviceError(op, "image %q is sampled before a barrier ordered earlier writes to it", img.proxy.Name)
		}
		env.Textures = grow(env.Textures, layout.Index)
		env.Textures[layout.Index] = img
	}

	vb, ok1 := eng.buffers[cmd.Mesh.Vertices.ID]
	ib, ok2 := eng.buffers[cmd.Mesh.Indices.ID]
	if !ok1 || !ok2 {
		return deviceError(op, "mesh buffers don't exist")
	}
	posOff, uvOff, err := vertexLayout(desc)
	if err != nil {
		return deviceError(op, "%s", err)
	}
	stride := desc.Vertex.Stride / 4
	verts := safeish.SliceCast[[]float32](vb.data)
	indices := safeish.SliceCast[[]uint32](ib.data)
	if uint64(cmd.Mesh.IndexCount) > uint64(len(indices)) {
		return deviceError(op, "mesh has %d indices, draw needs %d", len(indices), cmd.Mesh.IndexCount)
	}

	fetch := func(i uint32) (vertex, error) {
		base := uint64(i) * uint64(stride)
		if base+uint64(stride) > uint64(len(verts)) {
			return vertex{}, deviceError(op, "index %d is out of range", i)
		}
		v := verts[base : base+uint64(stride)]
		return vertex{
			pos: [2]float32{v[posOff], v[posOff+1]},
			uv:  [2]float32{v[uvOff], v[uvOff+1]},
		}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = &renderer.DeviceError{Op: op, Err: fmt.Errorf("%v", r)}
		}
	}()
	shade := func(uv [2]float32) [4]float32 { return sh.fragment(uv, env) }
	for t := uint32(0); t+2 < cmd.Mesh.IndexCount; t += 3 {
		var tri [3]vertex
		for i := range tri {
			v, err := fetch(indices[t+uint32(i)])
			if err != nil {
				return err
			}
			tri[i] = v
		}
		rasterize(target, tri, shade)
	}
	return nil
}
