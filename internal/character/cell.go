package character

import (
	"sync"
	"time"
)

// Snapshot is a completed pose together with its tick number.
type Snapshot struct {
	Pose Pose      `json:"pose"`
	Seq  uint64    `json:"seq"`
	At   time.Time `json:"at"`
}

// Cell is a single-slot, last-writer-wins handoff between the input loop
// (one writer) and any number of readers. Readers always see a whole pose.
type Cell struct {
	mu   sync.RWMutex
	snap Snapshot
	have bool
}

// Store publishes p as the latest pose.
func (c *Cell) Store(p Pose) {
	c.mu.Lock()
	c.snap = Snapshot{Pose: p, Seq: c.snap.Seq + 1, At: time.Now()}
	c.have = true
	c.mu.Unlock()
}

// Load returns the latest snapshot; ok is false until the first Store.
func (c *Cell) Load() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap, c.have
}
