// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"fmt"

	"honnef.co/go/ptrace/shaders"
)

// Pipeline records and submits one iteration of the path tracer per call to
// RunIteration.
type Pipeline struct {
	eng Engine
	res *ResourceSet
	rec Recording
}

func NewPipeline(eng Engine, res *ResourceSet) *Pipeline {
	return &Pipeline{eng: eng, res: res}
}

// Recording returns the commands of the most recent iteration.
func (p *Pipeline) Recording() *Recording { return &p.rec }

// RunIteration traces one sample per pixel, folds it into the accumulation
// image and draws the result. It returns frameIndex+1.
//
// frameIndex must be the number of iterations already run on the pipeline's
// resources. Errors are fatal; the returned index is only meaningful when err
// is nil.
func (p *Pipeline) RunIteration(frameIndex uint32) (uint32, error) {
	res := p.res
	if res.released {
		return frameIndex, ErrReleased
	}

	read, write := res.Accumulator.Bindings(frameIndex)
	cfg := FrameConfig{
		ImgSize:    [2]uint32{res.Width, res.Height},
		FrameIndex: frameIndex,
	}

	rec := &p.rec
	rec.Reset()
	rec.BindStorage(shaders.SceneSlot, res.Scene)
	rec.WriteUniform(res.Config, cfg.Bytes())
	rec.Dispatch(res.PathTrace, WorkgroupCounts(res.Width, res.Height), []Binding{
		{Index: shaders.AccumulationRead, Access: AccessImageRead, Resource: read.Resource()},
		{Index: shaders.AccumulationWrite, Access: AccessImageWrite, Resource: write.Resource()},
		{Index: shaders.FrameConfig, Access: AccessUniform, Resource: res.Config.Resource()},
	})
	// The display pass samples what the dispatch just wrote.
	rec.Barrier(write)
	rec.UnbindStorage(shaders.SceneSlot)
	rec.Draw(res.Display, res.Quad, []Binding{
		{Index: shaders.DisplayTexture, Access: AccessSampled, Resource: write.Resource()},
	}, res.Target)

	if err := p.eng.Submit(rec); err != nil {
		return frameIndex, fmt.Errorf("frame %d: %w", frameIndex, err)
	}
	return frameIndex + 1, nil
}
