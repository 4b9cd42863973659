// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package profiler

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeQuery struct {
	src     *fakeSource
	pending int
	ended   bool
}

func (q *fakeQuery) End() error {
	q.ended = true
	return nil
}

func (q *fakeQuery) Available() (bool, error) {
	q.src.polls++
	if q.pending > 0 {
		q.pending--
		return false, nil
	}
	return true, nil
}

func (q *fakeQuery) Elapsed() (time.Duration, error) { return q.src.elapsed, nil }
func (q *fakeQuery) Release()                        { q.src.released++ }

type fakeSource struct {
	unsupported bool
	never       bool
	pending     int
	elapsed     time.Duration
	polls       int
	released    int
}

func (s *fakeSource) BeginQuery() (Query, error) {
	if s.unsupported {
		return nil, ErrNoTimerQueries
	}
	pending := s.pending
	if s.never {
		pending = math.MaxInt
	}
	return &fakeQuery{src: s, pending: pending}, nil
}

func TestNewTimerCapability(t *testing.T) {
	_, err := NewTimer(&fakeSource{unsupported: true}, nil)
	if !errors.Is(err, ErrNoTimerQueries) {
		t.Fatalf("got %v, want ErrNoTimerQueries", err)
	}
}

func TestTimeAccumulates(t *testing.T) {
	src := &fakeSource{pending: 3, elapsed: 20 * time.Millisecond}
	tm, err := NewTimer(src, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fps := tm.CurrentFPS(); fps != 0 {
		t.Fatalf("FPS before first frame = %v, want 0", fps)
	}

	ran := 0
	for range 5 {
		d, err := tm.Time(func() error { ran++; return nil })
		if err != nil {
			t.Fatal(err)
		}
		if d != src.elapsed {
			t.Fatalf("got %v, want %v", d, src.elapsed)
		}
	}
	if ran != 5 {
		t.Fatalf("body ran %d times, want 5", ran)
	}
	st := tm.Stats()
	if st.Frames != 5 || st.Total != 100*time.Millisecond {
		t.Fatalf("unexpected stats %+v", st)
	}
	fps := tm.CurrentFPS()
	if fps <= 0 || math.IsInf(fps, 0) || math.IsNaN(fps) {
		t.Fatalf("FPS = %v, want finite and positive", fps)
	}
	if math.Abs(fps-50) > 1e-9 {
		t.Fatalf("FPS = %v, want 50", fps)
	}
	// 3 unavailable polls + 1 available poll per frame, none for the one NewTimer issues.
	if src.polls != 20 {
		t.Fatalf("polled %d times, want 20", src.polls)
	}
	if src.released != 6 {
		t.Fatalf("released %d queries, want 6", src.released)
	}
}

func TestTimeBodyError(t *testing.T) {
	tm, err := NewTimer(&fakeSource{elapsed: time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if _, err := tm.Time(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if tm.Stats().Frames != 0 {
		t.Fatal("failed frame was counted")
	}
}

func TestTimeTimeout(t *testing.T) {
	tm, err := NewTimer(&fakeSource{never: true}, &TimerOptions{Timeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.Time(func() error { return nil }); !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("got %v, want ErrQueryTimeout", err)
	}
}

func TestStatsZeroDuration(t *testing.T) {
	var s Stats
	s.Add(0)
	if fps := s.FPS(); fps != 0 {
		t.Fatalf("FPS = %v, want 0", fps)
	}
}
