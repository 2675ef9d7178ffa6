// Package publish coalesces catalog mutations into periodic publisher runs.
//
// Watchers call Signal.MarkDirty after every committed mutation. A Loop wakes
// on a fixed interval, atomically takes the flag and, if it was set, invokes
// the Publisher once. A failed publish re-marks the signal so the next tick
// retries. Because the flag is cleared before publishing starts, a mutation
// that lands while a publish is running sets it again and is picked up by the
// following tick.
package publish

import (
	"sync"

	"github.com/mschirtzinger/sitesync/internal/telemetry"
)

// Signal is the process-wide dirty flag.
type Signal struct {
	mu      sync.Mutex
	dirty   bool
	metrics *telemetry.Metrics
}

// NewSignal returns a signal with the given initial state. Passing true makes
// the first tick after startup publish even without filesystem activity.
func NewSignal(initial bool, metrics *telemetry.Metrics) *Signal {
	s := &Signal{dirty: initial, metrics: metrics}
	metrics.SetDirty(initial)
	return s
}

// MarkDirty requests a publish.
func (s *Signal) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	s.metrics.SetDirty(true)
}

// TakeIfDirty clears the flag and reports whether it was set.
func (s *Signal) TakeIfDirty() bool {
	s.mu.Lock()
	was := s.dirty
	s.dirty = false
	s.mu.Unlock()
	if was {
		s.metrics.SetDirty(false)
	}
	return was
}

// IsDirty reports the flag without clearing it.
func (s *Signal) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}
