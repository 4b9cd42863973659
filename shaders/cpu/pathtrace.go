// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"math"

	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/scene"
	"honnef.co/go/ptrace/shaders"
)

const (
	pi          = 3.14159265359
	eps         = 1e-2
	maxDepth    = 10
	rrDepth     = 4
	tanHalfFov  = 0.5
	noHit       = 1e20
	glassIndex  = 1.5
	airIndex    = 1.0
	diffuseMat  = uint32(scene.Diffuse)
	specularMat = uint32(scene.Specular)
)

var camera = vec3{0, 0, 7.4}

type vec3 struct {
	x, y, z float32
}

func vec3From(v scene.Vec3) vec3 { return vec3{v[0], v[1], v[2]} }

func (v vec3) add(o vec3) vec3      { return vec3{v.x + o.x, v.y + o.y, v.z + o.z} }
func (v vec3) sub(o vec3) vec3      { return vec3{v.x - o.x, v.y - o.y, v.z - o.z} }
func (v vec3) mul(o vec3) vec3      { return vec3{v.x * o.x, v.y * o.y, v.z * o.z} }
func (v vec3) scale(f float32) vec3 { return vec3{v.x * f, v.y * f, v.z * f} }
func (v vec3) neg() vec3            { return vec3{-v.x, -v.y, -v.z} }
func (v vec3) dot(o vec3) float32   { return v.x*o.x + v.y*o.y + v.z*o.z }

func (v vec3) cross(o vec3) vec3 {
	return vec3{
		v.y*o.z - v.z*o.y,
		v.z*o.x - v.x*o.z,
		v.x*o.y - v.y*o.x,
	}
}

func (v vec3) normalize() vec3 {
	return v.scale(1 / sqrt32(v.dot(v)))
}

func sqrt32(x float32) float32 { return float32(math.Sqrt(float64(x))) }
func abs32(x float32) float32  { return float32(math.Abs(float64(x))) }

func hashU(x uint32) uint32 {
	x ^= x >> 17
	x *= 0xed5ad4bb
	x ^= x >> 11
	x *= 0xac4c1b51
	x ^= x >> 15
	x *= 0x31848bab
	x ^= x >> 14
	return x
}

func rng(state *uint32) float32 {
	*state = hashU(*state)
	return float32(*state>>8) / 16777216.0
}

func seed(x, y, frame uint32) uint32 {
	return hashU((x*1973)^(y*9277)^(frame*26699)) | 1
}

func intersect(s *scene.Sphere, o, d vec3) float32 {
	op := vec3From(s.Center).sub(o)
	b := op.dot(d)
	det := b*b - op.dot(op) + s.Radius*s.Radius
	if det < 0 {
		return 0
	}
	det = sqrt32(det)
	if b-det > eps {
		return b - det
	}
	if b+det > eps {
		return b + det
	}
	return 0
}

func cosineDirection(n vec3, state *uint32) vec3 {
	r1 := rng(state)
	r2 := rng(state)
	phi := 2 * pi * r1
	cosTheta := sqrt32(r2)
	sinTheta := sqrt32(1 - r2)
	a := vec3{1, 0, 0}
	if abs32(n.x) > 0.9 {
		a = vec3{0, 1, 0}
	}
	u := a.cross(n).normalize()
	v := n.cross(u)
	sp, cp := math.Sincos(float64(phi))
	return u.scale(sinTheta * float32(cp)).
		add(v.scale(sinTheta * float32(sp))).
		add(n.scale(cosTheta)).
		normalize()
}

func radiance(spheres []scene.Sphere, o, d vec3, state *uint32) vec3 {
	throughput := vec3{1, 1, 1}
	var l vec3
	for depth := 0; depth < maxDepth; depth++ {
		t := float32(noHit)
		id := -1
		for i := range spheres {
			if ti := intersect(&spheres[i], o, d); ti > 0 && ti < t {
				t = ti
				id = i
			}
		}
		if id < 0 {
			break
		}

		s := &spheres[id]
		x := o.add(d.scale(t))
		n := x.sub(vec3From(s.Center)).normalize()
		nl := n
		if n.dot(d) > 0 {
			nl = n.neg()
		}

		l = l.add(throughput.mul(vec3From(s.Emission)))

		f := vec3From(s.Color)
		if depth >= rrDepth {
			p := max(f.x, f.y, f.z)
			if rng(state) >= p {
				break
			}
			f = f.scale(1 / p)
		}
		throughput = throughput.mul(f)

		mat := uint32(s.Material + 0.5)
		if mat == diffuseMat {
			d = cosineDirection(nl, state)
			o = x.add(nl.scale(eps))
			continue
		}
		reflected := d.sub(n.scale(2 * n.dot(d)))
		if mat == specularMat {
			d = reflected
			o = x.add(nl.scale(eps))
			continue
		}

		into := n.dot(nl) > 0
		nnt := float32(glassIndex / airIndex)
		sign := float32(-1)
		if into {
			nnt = airIndex / glassIndex
			sign = 1
		}
		ddn := d.dot(nl)
		cos2t := 1 - nnt*nnt*(1-ddn*ddn)
		if cos2t < 0 {
			// Total internal reflection.
			d = reflected
			o = x.add(nl.scale(eps))
			continue
		}
		tdir := d.scale(nnt).sub(n.scale(sign * (ddn*nnt + sqrt32(cos2t)))).normalize()
		const a, b = glassIndex - airIndex, glassIndex + airIndex
		const r0 = a * a / (b * b)
		c := 1 - tdir.dot(n)
		if into {
			c = 1 + ddn
		}
		re := r0 + (1-r0)*c*c*c*c*c
		tr := 1 - re
		pr := 0.25 + 0.5*re
		if rng(state) < pr {
			throughput = throughput.scale(re / pr)
			d = reflected
			o = x.add(nl.scale(eps))
		} else {
			throughput = throughput.scale(tr / (1 - pr))
			d = tdir
			o = x.sub(nl.scale(eps))
		}
	}
	return l
}

// Sample computes the radiance sample of texel (x, y) in frame. It is
// deterministic in its arguments.
func Sample(spheres []scene.Sphere, width, height, x, y, frame uint32) [3]float32 {
	state := seed(x, y, frame)
	aspect := float32(width) / float32(height)
	u := ((float32(x)+rng(&state))/float32(width)*2 - 1) * aspect * tanHalfFov
	v := ((float32(y)+rng(&state))/float32(height)*2 - 1) * tanHalfFov
	l := radiance(spheres, camera, vec3{u, v, -1}.normalize(), &state)
	return [3]float32{l.x, l.y, l.z}
}

// PathTrace is the CPU version of the path tracing kernel.
func PathTrace(inv Invocation, env *ComputeEnv) {
	spheres := scene.Decode(env.Storage[shaders.SceneSlot])
	accumulate(inv, env, func(cfg *renderer.FrameConfig, x, y uint32) [3]float32 {
		return Sample(spheres, cfg.ImgSize[0], cfg.ImgSize[1], x, y, cfg.FrameIndex)
	})
}
