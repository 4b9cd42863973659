// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_engine

import (
	"fmt"

	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/ptrace/shaders"
	"honnef.co/go/wgpu"
)

// Bind groups used by compute programs. Storage slots live in their own group
// so that the per-dispatch bindings can change without touching the scene.
const (
	bindGroupDispatch = 0
	bindGroupStorage  = 1
)

func imageFormatToWGPU(f renderer.ImageFormat) wgpu.TextureFormat {
	switch f {
	case renderer.Rgba32Float:
		return wgpu.TextureFormatRGBA32Float
	case renderer.Rgba8:
		return wgpu.TextureFormatRGBA8Unorm
	default:
		panic(fmt.Sprintf("unhandled value %d", f))
	}
}

func vertexFormat(components uint32) (wgpu.VertexFormat, error) {
	switch components {
	case 1:
		return wgpu.VertexFormatFloat32, nil
	case 2:
		return wgpu.VertexFormatFloat32x2, nil
	case 3:
		return wgpu.VertexFormatFloat32x3, nil
	case 4:
		return wgpu.VertexFormatFloat32x4, nil
	default:
		return 0, fmt.Errorf("vertex attribute with %d components", components)
	}
}

// computeLayoutEntries describes the per-dispatch bind group of a compute
// program.
func computeLayoutEntries(desc *renderer.ShaderDesc) ([]wgpu.BindGroupLayoutEntry, error) {
	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(desc.Bindings))
	for _, b := range desc.Bindings {
		switch b.Access {
		case renderer.AccessImageRead:
			// WGSL has no read-only storage textures for rgba32float; the
			// kernel uses textureLoad on a plain texture instead.
			entries = append(entries, wgpu.BindGroupLayoutEntry{
				Binding:    b.Index,
				Visibility: wgpu.ShaderStageCompute,
				Texture: &wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
					Multisampled:  false,
				},
			})
		case renderer.AccessImageWrite:
			entries = append(entries, wgpu.BindGroupLayoutEntry{
				Binding:    b.Index,
				Visibility: wgpu.ShaderStageCompute,
				StorageTexture: &wgpu.StorageTextureBindingLayout{
					Access:        wgpu.StorageTextureAccessWriteOnly,
					Format:        imageFormatToWGPU(renderer.Rgba32Float),
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			})
		case renderer.AccessUniform:
			entries = append(entries, wgpu.BindGroupLayoutEntry{
				Binding:    b.Index,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: &wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: false,
					MinBindingSize:   0,
				},
			})
		default:
			return nil, fmt.Errorf("binding %d: access %s isn't valid in a compute program", b.Index, b.Access)
		}
	}
	return entries, nil
}

func storageLayoutEntries(desc *renderer.ShaderDesc) []wgpu.BindGroupLayoutEntry {
	entries := make([]wgpu.BindGroupLayoutEntry, len(desc.StorageSlots))
	for i, slot := range desc.StorageSlots {
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    slot,
			Visibility: wgpu.ShaderStageCompute,
			Buffer: &wgpu.BufferBindingLayout{
				Type:             wgpu.BufferBindingTypeReadOnlyStorage,
				HasDynamicOffset: false,
				MinBindingSize:   0,
			},
		}
	}
	return entries
}

// renderLayoutEntries describes the bind group of a render program. Every
// sampled texture at binding n is paired with a sampler at binding n+1.
func renderLayoutEntries(desc *renderer.ShaderDesc) ([]wgpu.BindGroupLayoutEntry, error) {
	var entries []wgpu.BindGroupLayoutEntry
	for _, b := range desc.Bindings {
		if b.Access != renderer.AccessSampled {
			return nil, fmt.Errorf("binding %d: access %s isn't valid in a render program", b.Index, b.Access)
		}
		entries = append(entries,
			wgpu.BindGroupLayoutEntry{
				Binding:    b.Index,
				Visibility: wgpu.ShaderStageFragment,
				Texture: &wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
					Multisampled:  false,
				},
			},
			wgpu.BindGroupLayoutEntry{
				Binding:    b.Index + 1,
				Visibility: wgpu.ShaderStageFragment,
				Sampler: &wgpu.SamplerBindingLayout{
					Type: wgpu.SamplerBindingTypeNonFiltering,
				},
			},
		)
	}
	return entries, nil
}

func (eng *Engine) createComputePipeline(desc *renderer.ShaderDesc) (*wgpuShader, error) {
	src := desc.Sources[shaders.StageCompute]
	if len(src) == 0 {
		return nil, &renderer.ShaderCompileError{Program: desc.Name, Stage: "compute", Log: "program has no source"}
	}
	entries, err := computeLayoutEntries(desc)
	if err != nil {
		return nil, &renderer.ShaderLinkError{Program: desc.Name, Log: err.Error()}
	}

	// OPT(dh): use SPIR-V instead of WGSL for faster engine creation.
	shaderModule := eng.dev.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  desc.Name,
		Source: wgpu.ShaderSourceWGSL(src),
	})
	defer shaderModule.Release()
	layouts := []*wgpu.BindGroupLayout{
		bindGroupDispatch: eng.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   desc.Name + " bindings",
			Entries: entries,
		}),
	}
	if len(desc.StorageSlots) > 0 {
		layouts = append(layouts, eng.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   desc.Name + " storage",
			Entries: storageLayoutEntries(desc),
		}))
	}
	computePipelineLayout := eng.dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Name,
		BindGroupLayouts: layouts,
	})
	defer computePipelineLayout.Release()
	pipeline := eng.dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Name,
		Layout: computePipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shaderModule,
			EntryPoint: "main",
		},
	})

	return &wgpuShader{
		desc:    desc,
		compute: pipeline,
		layouts: layouts,
	}, nil
}

// createRenderPipeline builds the pipeline for a program drawing into
// offscreen targets of the given format.
func (eng *Engine) createRenderPipeline(desc *renderer.ShaderDesc, format wgpu.TextureFormat) (*wgpuShader, error) {
	// WGSL keeps both entry points in one module, which the loader returns
	// for either stage.
	src := desc.Sources[shaders.StageVertex]
	if len(src) == 0 {
		return nil, &renderer.ShaderCompileError{Program: desc.Name, Stage: "vertex", Log: "program has no source"}
	}
	entries, err := renderLayoutEntries(desc)
	if err != nil {
		return nil, &renderer.ShaderLinkError{Program: desc.Name, Log: err.Error()}
	}
	attrs := make([]wgpu.VertexAttribute, len(desc.Vertex.Attributes))
	for i, a := range desc.Vertex.Attributes {
		f, err := vertexFormat(a.Components)
		if err != nil {
			return nil, &renderer.ShaderLinkError{Program: desc.Name, Log: err.Error()}
		}
		attrs[i] = wgpu.VertexAttribute{
			Format:         f,
			Offset:         uint64(a.Offset),
			ShaderLocation: a.Location,
		}
	}

	shader := eng.dev.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  desc.Name,
		Source: wgpu.ShaderSourceWGSL(src),
	})
	defer shader.Release()
	bindLayout := eng.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Name + " bindings",
		Entries: entries,
	})
	pipelineLayout := eng.dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Name + " pipeline layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bindLayout},
	})
	defer pipelineLayout.Release()
	pipeline := eng.dev.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  desc.Name,
		Layout: pipelineLayout,
		Vertex: &wgpu.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: uint64(desc.Vertex.Stride),
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes:  attrs,
				},
			},
		},
		Fragment: &wgpu.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: &wgpu.PrimitiveState{
			Topology:         wgpu.PrimitiveTopologyTriangleList,
			StripIndexFormat: ^wgpu.IndexFormat(0),
			FrontFace:        wgpu.FrontFaceCCW,
			CullMode:         wgpu.CullModeNone,
		},
		Multisample: &wgpu.MultisampleState{
			Count:                  1,
			Mask:                   ^uint32(0),
			AlphaToCoverageEnabled: false,
		},
	})

	return &wgpuShader{
		desc:    desc,
		render:  pipeline,
		layouts: []*wgpu.BindGroupLayout{bindLayout},
	}, nil
}

func (eng *Engine) nearestSampler() *wgpu.Sampler {
	if eng.sampler == nil {
		eng.sampler = eng.dev.CreateSampler(&wgpu.SamplerDescriptor{
			Label:         "nearest",
			AddressModeU:  wgpu.AddressModeClampToEdge,
			AddressModeV:  wgpu.AddressModeClampToEdge,
			AddressModeW:  wgpu.AddressModeClampToEdge,
			MagFilter:     wgpu.FilterModeNearest,
			MinFilter:     wgpu.FilterModeNearest,
			MipmapFilter:  wgpu.MipmapFilterModeNearest,
			LODMinClamp:   0,
			LODMaxClamp:   32,
			MaxAnisotropy: 1,
		})
	}
	return eng.sampler
}
