package app

import (
	"sync"

	"github.com/relabs-tech/joypose/internal/frame"
)

// inbox hands samples from the link loop to the input loop. Samples that
// arrive between two steps collapse into one: the newest axes win and the
// button reads as pressed if any of them had it pressed, so a tap shorter
// than a step still produces its rising edge.
type inbox struct {
	activeLow bool
	ready     chan struct{}

	mu     sync.Mutex
	sample frame.Sample
	have   bool
	reset  bool
}

func newInbox(activeLow bool) *inbox {
	return &inbox{activeLow: activeLow, ready: make(chan struct{}, 1)}
}

func (b *inbox) put(s frame.Sample) {
	b.mu.Lock()
	if b.have && b.pressed(b.sample.Button) && !b.pressed(s.Button) {
		s.Button = b.sample.Button
	}
	b.sample = s
	b.have = true
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// reconnected drops anything from the previous connection and asks the next
// take to report a fresh start.
func (b *inbox) reconnected() {
	b.mu.Lock()
	b.have = false
	b.reset = true
	b.mu.Unlock()
}

// take returns the pending sample, nil if none arrived, and whether the link
// was reopened since the last take.
func (b *inbox) take() (*frame.Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reset := b.reset
	b.reset = false
	if !b.have {
		return nil, reset
	}
	s := b.sample
	b.have = false
	return &s, reset
}

func (b *inbox) pressed(level bool) bool { return level != b.activeLow }
