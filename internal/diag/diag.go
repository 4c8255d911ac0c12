// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package diag keeps the diagnostic counters of the control loop: frames
// accepted and rejected, link timeouts and drops, and inter-frame timing.
package diag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/joypose/internal/frame"
)

const instrumentationName = "github.com/relabs-tech/joypose/internal/diag"

// Window is the number of inter-frame intervals kept for Stats.
const Window = 128

// Event is one countable occurrence.
type Event string

const (
	FrameAccepted   Event = "accepted"
	FrameMalformed  Event = "malformed"
	FrameOutOfRange Event = "out_of_range"
	ReadTimeout     Event = "read_timeout"
	LinkDrop        Event = "link_drop"
	LinkOpenFailed  Event = "open_failed"
	Reconnect       Event = "reconnect"
)

// IntervalStats summarises the recent gaps between accepted frames, in milliseconds.
type IntervalStats struct {
	N      int     `json:"n"`
	MeanMs float64 `json:"mean_ms"`
	StdMs  float64 `json:"std_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// Snapshot is a consistent copy of all counters.
type Snapshot struct {
	Counts    map[Event]int64 `json:"counts"`
	Intervals IntervalStats   `json:"intervals"`
}

// Recorder is safe for concurrent use.
type Recorder struct {
	events metric.Int64Counter
	frames metric.Int64Counter

	mu        sync.Mutex
	counts    map[Event]int64
	ring      [Window]float64
	n, next   int
	lastFrame time.Time
}

// New registers the counters with the global otel meter provider.
func New() (*Recorder, error) {
	m := otel.Meter(instrumentationName)

	frames, err := m.Int64Counter(
		"joypose.frames",
		metric.WithDescription("Serial lines by decode result"),
	)
	if err != nil {
		return nil, fmt.Errorf("frames counter: %w", err)
	}
	events, err := m.Int64Counter(
		"joypose.link.events",
		metric.WithDescription("Link timeouts, drops and reconnects"),
	)
	if err != nil {
		return nil, fmt.Errorf("link events counter: %w", err)
	}

	return &Recorder{
		frames: frames,
		events: events,
		counts: make(map[Event]int64),
	}, nil
}

// Frame records the decode result of one line received at the given time.
func (r *Recorder) Frame(err error, at time.Time) {
	ev := FrameAccepted
	switch {
	case err == nil:
	case errors.Is(err, frame.ErrOutOfRange):
		ev = FrameOutOfRange
	default:
		ev = FrameMalformed
	}

	r.frames.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", string(ev))))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[ev]++
	if ev != FrameAccepted {
		return
	}
	if !r.lastFrame.IsZero() {
		r.ring[r.next] = float64(at.Sub(r.lastFrame)) / float64(time.Millisecond)
		r.next = (r.next + 1) % Window
		if r.n < Window {
			r.n++
		}
	}
	r.lastFrame = at
}

// Count records a link event.
func (r *Recorder) Count(ev Event) {
	r.events.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", string(ev))))

	r.mu.Lock()
	r.counts[ev]++
	r.mu.Unlock()
}

// Disconnected forgets the last frame time so the outage is not counted as an interval.
func (r *Recorder) Disconnected() {
	r.mu.Lock()
	r.lastFrame = time.Time{}
	r.mu.Unlock()
}

// Snapshot returns the counters and the interval statistics.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	counts := make(map[Event]int64, len(r.counts))
	for k, v := range r.counts {
		counts[k] = v
	}
	window := make([]float64, r.n)
	copy(window, r.ring[:r.n])
	r.mu.Unlock()

	return Snapshot{Counts: counts, Intervals: Stats(window)}
}

// Stats summarises a set of intervals. The standard deviation is zero for
// fewer than two samples.
func Stats(ms []float64) IntervalStats {
	if len(ms) == 0 {
		return IntervalStats{}
	}
	s := IntervalStats{
		N:     len(ms),
		MinMs: floats.Min(ms),
		MaxMs: floats.Max(ms),
	}
	if len(ms) == 1 {
		s.MeanMs = ms[0]
		return s
	}
	s.MeanMs, s.StdMs = stat.MeanStdDev(ms, nil)
	return s
}
