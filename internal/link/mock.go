// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/joypose/internal/frame"
)

// MockPort is a Port that synthesises smoothly changing joystick lines, so
// the whole chain can run without a peripheral attached.
type MockPort struct {
	start    time.Time
	interval time.Duration
	next     time.Time
	pending  []byte

	done chan struct{}
	once sync.Once
}

// NewMockPort emits one line every interval.
func NewMockPort(interval time.Duration) *MockPort {
	now := time.Now()
	return &MockPort{
		start:    now,
		interval: interval,
		next:     now,
		done:     make(chan struct{}),
	}
}

// MockOpener opens a MockPort regardless of path or baud rate.
func MockOpener(interval time.Duration) Opener {
	return func(context.Context, string, int) (Port, error) {
		return NewMockPort(interval), nil
	}
}

func (m *MockPort) Read(p []byte) (int, error) {
	if len(m.pending) == 0 {
		if wait := time.Until(m.next); wait > 0 {
			select {
			case <-m.done:
				return 0, io.ErrClosedPipe
			case <-time.After(wait):
			}
		} else {
			select {
			case <-m.done:
				return 0, io.ErrClosedPipe
			default:
			}
		}
		m.next = m.next.Add(m.interval)
		if now := time.Now(); m.next.Before(now) {
			m.next = now
		}
		m.pending = []byte(frame.Encode(MockSample(time.Since(m.start))) + "\n")
	}

	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *MockPort) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// MockSample is the synthetic reading at elapsed time t: the stick circles
// slowly and the button is pressed for 200 ms every 3 s.
func MockSample(t time.Duration) frame.Sample {
	s := t.Seconds()
	center := float64(frame.RawMax) / 2

	return frame.Sample{
		AxisX:  int(math.Round(center + 400*math.Sin(s))),
		AxisY:  int(math.Round(center + 300*math.Cos(s*0.7))),
		Button: int(s*5)%15 == 0,
	}
}
