package policy

import (
	"strings"
	"sync"
)

// Registry dispatches an event type to a policy by string prefix.
//
// Dispatch is FIRST-registered-prefix-match, not longest-prefix and not
// priority-ordered: a more specific prefix registered after a broader one
// is unreachable. This mirrors the deployed behavior and is kept
// deliberately; see DESIGN.md before changing it.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	policies map[string]Policy
	fallback Policy
}

// NewRegistry creates a registry with the given fallback policy, used when
// no prefix matches.
func NewRegistry(fallback Policy) *Registry {
	return &Registry{
		policies: make(map[string]Policy),
		fallback: fallback,
	}
}

// Register binds a policy to an event-type prefix. Registration order is
// dispatch order. Re-registering a prefix replaces the policy in place
// without changing its position.
func (r *Registry) Register(prefix string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[prefix]; !exists {
		r.order = append(r.order, prefix)
	}
	r.policies[prefix] = p
}

// Resolve returns the policy for an event type: the first registered
// prefix that the event type starts with, else the fallback.
func (r *Registry) Resolve(eventType string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, prefix := range r.order {
		if strings.HasPrefix(eventType, prefix) {
			return r.policies[prefix]
		}
	}
	return r.fallback
}

// Fallback returns the registry's default policy.
func (r *Registry) Fallback() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Prefixes returns the registered prefixes in dispatch order.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
