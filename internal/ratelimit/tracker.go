// Package ratelimit tracks repeated actions per conversation key inside a
// TTL window. The buckets are process-local injected state owned by
// whichever policy consumes them; multi-instance deployments see
// independent buckets per instance, an accepted trade-off for
// single-instance or sticky-routed setups.
package ratelimit

import (
	"sync"
	"time"
)

// Limit defines a ceiling for one action category. Zero values mean
// unlimited.
type Limit struct {
	MaxActions int           `yaml:"max_actions"`
	Window     time.Duration `yaml:"window"`
}

// Tracker counts actions per conversation key with sliding TTL windows.
type Tracker struct {
	mu      sync.Mutex
	counts  map[string]int
	started map[string]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		counts:  make(map[string]int),
		started: make(map[string]time.Time),
	}
}

// Snapshot returns the current count for key, resetting windows that
// expired before now.
func (t *Tracker) Snapshot(key string, window time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.started[key]
	if !ok || now.Sub(start) >= window {
		t.counts[key] = 0
		t.started[key] = now
	}
	return t.counts[key]
}

// Increment records one action for key.
func (t *Tracker) Increment(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[key]++
}

// Exceeded checks key against the limit and increments when still within
// it. Returns true when the limit is already reached.
func (t *Tracker) Exceeded(key string, lim Limit, now time.Time) bool {
	if lim.MaxActions <= 0 {
		return false
	}
	if t.Snapshot(key, lim.Window, now) >= lim.MaxActions {
		return true
	}
	t.Increment(key)
	return false
}
