// Package resilient isolates the pipeline from a flaky storage backend:
// a circuit breaker fails fast once the backend is known-bad, and a bounded
// read-through cache trades staleness for availability on reads. Writes
// never fall back; dropping a write would break the audit guarantee.
package resilient

import (
	"sync"
	"time"
)

// Breaker state machine values.
const (
	stateClosed   = "CLOSED"
	stateOpen     = "OPEN"
	stateHalfOpen = "HALF_OPEN"
)

// Defaults for the adapter's breaker.
const (
	DefaultThreshold    = 5
	DefaultResetTimeout = 30 * time.Second
)

// CircuitBreaker tracks consecutive backend failures. After threshold
// failures it opens and all calls fail fast; after resetTimeout one probe
// call is let through, and its outcome decides whether the breaker closes
// or reopens. Process-local state, one instance per adapter.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
	probing      bool

	now func() time.Time // injectable clock for tests
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        stateClosed,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. While open, only the first
// call after the reset timeout is admitted as a half-open probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateOpen:
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = stateHalfOpen
			cb.probing = true
			return true
		}
		return false
	case stateHalfOpen:
		// Exactly one in-flight probe at a time.
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// Success records a successful call and closes the breaker.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failureCount = 0
	cb.probing = false
}

// Failure records a failed call; a failed probe reopens immediately.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = cb.now()
	cb.probing = false
	if cb.state == stateHalfOpen {
		cb.state = stateOpen
		return
	}
	cb.failureCount++
	if cb.failureCount >= cb.threshold {
		cb.state = stateOpen
	}
}

// Open reports whether the breaker currently rejects calls.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == stateOpen
}
