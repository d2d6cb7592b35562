package app

import (
	"sync/atomic"

	"oi-radar/anomaly"
)

// StatsHolder shares the baseline snapshot between the stats worker (writer)
// and the collector's detector (reader). Replacement is atomic; readers
// always see a complete snapshot.
type StatsHolder struct {
	current atomic.Pointer[anomaly.StatsSnapshot]
}

// NewStatsHolder wraps an initial snapshot
func NewStatsHolder(initial *anomaly.StatsSnapshot) *StatsHolder {
	h := &StatsHolder{}
	h.current.Store(initial)
	return h
}

// Load returns the current snapshot
func (h *StatsHolder) Load() *anomaly.StatsSnapshot {
	return h.current.Load()
}

// Store swaps in a fresh snapshot
func (h *StatsHolder) Store(s *anomaly.StatsSnapshot) {
	h.current.Store(s)
}
