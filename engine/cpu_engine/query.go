// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import (
	"errors"
	"time"

	"honnef.co/go/ptrace/profiler"
	"honnef.co/go/ptrace/renderer"
)

// query measures wall time. Its result becomes available once all dispatches
// submitted before it was polled have finished.
type query struct {
	eng        *Engine
	start, end time.Time
	ended      bool
}

func (eng *Engine) BeginQuery() (profiler.Query, error) {
	if eng.released {
		return nil, renderer.ErrReleased
	}
	return &query{eng: eng, start: time.Now()}, nil
}

func (q *query) End() error {
	if q.ended {
		return errors.New("query already ended")
	}
	q.ended = true
	return nil
}

func (q *query) Available() (bool, error) {
	if !q.ended {
		return false, errors.New("query hasn't ended")
	}
	if q.end.IsZero() {
		if err := q.eng.join(); err != nil {
			return false, err
		}
		q.end = time.Now()
	}
	return true, nil
}

func (q *query) Elapsed() (time.Duration, error) {
	if q.end.IsZero() {
		return 0, errors.New("query result isn't available")
	}
	return q.end.Sub(q.start), nil
}

func (q *query) Release() {}
