// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package gl_engine

import (
	"errors"
	"time"

	"github.com/go-gl/gl/v4.6-core/gl"
	"honnef.co/go/ptrace/profiler"
	"honnef.co/go/ptrace/renderer"
)

// query is a GL_TIME_ELAPSED query. Only one may be active at a time.
type query struct {
	eng   *Engine
	id    uint32
	ended bool
}

func (eng *Engine) BeginQuery() (profiler.Query, error) {
	if eng.released {
		return nil, renderer.ErrReleased
	}
	q := &query{eng: eng}
	gl.CreateQueries(gl.TIME_ELAPSED, 1, &q.id)
	gl.BeginQuery(gl.TIME_ELAPSED, q.id)
	if err := eng.checkErrors("begin query"); err != nil {
		gl.DeleteQueries(1, &q.id)
		return nil, err
	}
	return q, nil
}

func (q *query) End() error {
	if q.ended {
		return errors.New("query already ended")
	}
	q.ended = true
	gl.EndQuery(gl.TIME_ELAPSED)
	return q.eng.checkErrors("end query")
}

func (q *query) Available() (bool, error) {
	if !q.ended {
		return false, errors.New("query hasn't ended")
	}
	var available int32
	gl.GetQueryObjectiv(q.id, gl.QUERY_RESULT_AVAILABLE, &available)
	if err := q.eng.checkErrors("poll query"); err != nil {
		return false, err
	}
	return available != gl.FALSE, nil
}

func (q *query) Elapsed() (time.Duration, error) {
	if !q.ended {
		return 0, errors.New("query result isn't available")
	}
	var ns uint64
	gl.GetQueryObjectui64v(q.id, gl.QUERY_RESULT, &ns)
	if err := q.eng.checkErrors("read query"); err != nil {
		return 0, err
	}
	return time.Duration(ns), nil
}

func (q *query) Release() {
	if q.id == 0 {
		return
	}
	if !q.ended {
		gl.EndQuery(gl.TIME_ELAPSED)
	}
	if !q.eng.released {
		gl.DeleteQueries(1, &q.id)
	}
	q.id = 0
}
