// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package control turns raw joystick samples into a bounded control signal.
package control

import (
	"math"

	"github.com/relabs-tech/joypose/internal/frame"
)

// Center is the raw reading of a stick at rest; it also scales raw offsets to [-1, 1].
const Center = float64(frame.RawMax)/2 + 0.5

// Signal is the normalized input for one control tick.
type Signal struct {
	MoveX         float64 `json:"move_x"`
	Turn          float64 `json:"turn"`
	JumpTriggered bool    `json:"jump"`
}

// Options configures a Normalizer.
type Options struct {
	Deadzone        float64
	ButtonActiveLow bool // invert the decoded button level before edge detection
}

// Normalizer maps samples to signals. It keeps one bit of history, the
// previous button level, so it is not safe for concurrent use.
type Normalizer struct {
	opts     Options
	lastDown bool
}

// NewNormalizer returns a Normalizer with the button considered released.
func NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Next converts the sample for this tick. A nil sample means no fresh input
// arrived and yields the zero signal; it leaves the button history untouched
// so transient noise cannot fabricate a press.
func (n *Normalizer) Next(s *frame.Sample) Signal {
	if s == nil {
		return Signal{}
	}

	down := s.Button != n.opts.ButtonActiveLow
	jump := down && !n.lastDown
	n.lastDown = down

	return Signal{
		MoveX:         n.axis(s.AxisX),
		Turn:          n.axis(s.AxisY),
		JumpTriggered: jump,
	}
}

// Reset forgets the button history, as after a fresh connection.
func (n *Normalizer) Reset() {
	n.lastDown = false
}

func (n *Normalizer) axis(raw int) float64 {
	v := (float64(raw) - Center) / Center
	if math.Abs(v) < n.opts.Deadzone {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
