// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_engine

import (
	"errors"
	"time"

	"honnef.co/go/ptrace/profiler"
	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/safeish"
	"honnef.co/go/wgpu"
)

const (
	queryTimestamps = 2
	// Resolve destinations have to be 256-byte aligned.
	queryBufferSize = 256
)

// query brackets the work submitted between BeginQuery and End with two
// device timestamps. Timestamps are in nanoseconds.
type query struct {
	eng        *Engine
	set        *wgpu.QuerySet
	resolveBuf *wgpu.Buffer
	mapBuf     *wgpu.Buffer
	ch         <-chan error

	ended   bool
	done    bool
	elapsed time.Duration
}

func (eng *Engine) BeginQuery() (profiler.Query, error) {
	if eng.released {
		return nil, renderer.ErrReleased
	}
	if !eng.timestamps {
		return nil, profiler.ErrNoTimerQueries
	}
	q := &query{
		eng:        eng,
		set:        eng.getQuerySet(),
		resolveBuf: eng.getResolveBuffer(),
		mapBuf:     eng.getMapBuffer(),
	}
	enc := eng.dev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "begin query"})
	enc.WriteTimestamp(q.set, 0)
	cmd := enc.Finish(nil)
	enc.Release()
	eng.queue.Submit(cmd)
	cmd.Release()
	return q, nil
}

func (q *query) End() error {
	if q.ended {
		return errors.New("query already ended")
	}
	q.ended = true
	enc := q.eng.dev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "end query"})
	enc.WriteTimestamp(q.set, 1)
	enc.ResolveQuerySet(q.set, 0, queryTimestamps, q.resolveBuf, 0)
	enc.CopyBufferToBuffer(q.resolveBuf, 0, q.mapBuf, 0, queryTimestamps*8)
	cmd := enc.Finish(nil)
	enc.Release()
	q.eng.queue.Submit(cmd)
	cmd.Release()
	q.ch = q.mapBuf.Map(q.eng.dev, wgpu.MapModeRead, 0, queryTimestamps*8)
	return nil
}

func (q *query) Available() (bool, error) {
	if !q.ended {
		return false, errors.New("query hasn't ended")
	}
	if q.done {
		return true, nil
	}
	select {
	case err := <-q.ch:
		if err != nil {
			return false, &renderer.DeviceError{Op: "map query results", Err: err}
		}
		values := safeish.SliceCast[[]uint64](q.mapBuf.ReadOnlyMappedRange(0, queryTimestamps*8))
		if values[1] >= values[0] {
			q.elapsed = time.Duration(values[1] - values[0])
		}
		q.mapBuf.Unmap()
		q.done = true
		return true, nil
	default:
		return false, nil
	}
}

func (q *query) Elapsed() (time.Duration, error) {
	if !q.done {
		return 0, errors.New("query result isn't available")
	}
	return q.elapsed, nil
}

func (q *query) Release() {
	if q.set == nil {
		return
	}
	if q.ended && !q.done || q.eng.released {
		// The map buffer may still be in use by the device.
		q.set.Release()
		q.resolveBuf.Release()
		q.mapBuf.Release()
	} else {
		q.eng.querySets = append(q.eng.querySets, q.set)
		q.eng.resolveBuffers = append(q.eng.resolveBuffers, q.resolveBuf)
		q.eng.mapBuffers = append(q.eng.mapBuffers, q.mapBuf)
	}
	q.set = nil
	q.resolveBuf = nil
	q.mapBuf = nil
}

func (eng *Engine) getQuerySet() *wgpu.QuerySet {
	if len(eng.querySets) == 0 {
		return eng.dev.CreateQuerySet(&wgpu.QuerySetDescriptor{
			Label: "frame timer",
			Type:  wgpu.QueryTypeTimestamp,
			Count: queryTimestamps,
		})
	}
	q := eng.querySets[len(eng.querySets)-1]
	eng.querySets = eng.querySets[:len(eng.querySets)-1]
	return q
}

func (eng *Engine) getResolveBuffer() *wgpu.Buffer {
	if len(eng.resolveBuffers) == 0 {
		return eng.dev.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageQueryResolve | wgpu.BufferUsageCopySrc,
			Size:  queryBufferSize,
		})
	}
	buf := eng.resolveBuffers[len(eng.resolveBuffers)-1]
	eng.resolveBuffers = eng.resolveBuffers[:len(eng.resolveBuffers)-1]
	return buf
}

func (eng *Engine) getMapBuffer() *wgpu.Buffer {
	if len(eng.mapBuffers) == 0 {
		return eng.dev.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
			Size:  queryBufferSize,
		})
	}
	buf := eng.mapBuffers[len(eng.mapBuffers)-1]
	eng.mapBuffers = eng.mapBuffers[:len(eng.mapBuffers)-1]
	return buf
}

func (eng *Engine) releaseQueryResources() {
	for _, s := range eng.querySets {
		s.Release()
	}
	for _, b := range eng.resolveBuffers {
		b.Release()
	}
	for _, b := range eng.mapBuffers {
		b.Release()
	}
	eng.querySets = nil
	eng.resolveBuffers = nil
	eng.mapBuffers = nil
}
