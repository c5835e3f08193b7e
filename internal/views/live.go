package views

import (
	"sync"

	"github.com/google/uuid"
)

// SessionAggregator is the in-process live-session aggregator: a per-video
// counter, drained by whatever component periodically closes out live
// sessions. VOD persistence and federation of these totals happen on the
// drain side, never per-view.
type SessionAggregator struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int64
}

func NewSessionAggregator() *SessionAggregator {
	return &SessionAggregator{counts: make(map[uuid.UUID]int64)}
}

func (agg *SessionAggregator) AddView(videoID uuid.UUID) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	agg.counts[videoID]++
}

// Drain removes and returns the current totals for every live session.
func (agg *SessionAggregator) Drain() map[uuid.UUID]int64 {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	drained := agg.counts
	agg.counts = make(map[uuid.UUID]int64)
	return drained
}
