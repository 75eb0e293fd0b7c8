package resilient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arbiterhq/arbiter/internal/canonical"
	"github.com/arbiterhq/arbiter/internal/store"
)

// ErrCircuitOpen is returned for writes while the breaker is open. It is
// never returned for reads that have a cached fallback.
var ErrCircuitOpen = errors.New("resilient: circuit breaker open")

// DefaultCacheSize bounds the read fallback cache.
const DefaultCacheSize = 256

// Adapter wraps a Querier with a circuit breaker and a bounded
// read-through cache keyed by (query, params).
type Adapter struct {
	backend store.Querier
	breaker *CircuitBreaker

	mu    sync.Mutex
	cache map[string][]store.Row
	order []string // insertion order for eviction
	limit int
}

// Wrap creates an Adapter around a backend with default breaker settings.
func Wrap(backend store.Querier) *Adapter {
	return WrapWith(backend, NewCircuitBreaker("storage", DefaultThreshold, DefaultResetTimeout), DefaultCacheSize)
}

// WrapWith creates an Adapter with an explicit breaker and cache bound.
func WrapWith(backend store.Querier, cb *CircuitBreaker, cacheSize int) *Adapter {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Adapter{
		backend: backend,
		breaker: cb,
		cache:   make(map[string][]store.Row),
		limit:   cacheSize,
	}
}

// Breaker exposes the adapter's breaker for observation in tests and the
// doctor command.
func (a *Adapter) Breaker() *CircuitBreaker { return a.breaker }

// Exec runs DDL against the backend. No caching, no fallback.
func (a *Adapter) Exec(ctx context.Context, ddl string) error {
	if !a.breaker.Allow() {
		return ErrCircuitOpen
	}
	err := a.backend.Exec(ctx, ddl)
	a.record(err)
	return err
}

// Run executes a write. Writes have no fallback: while the breaker is open
// the caller gets ErrCircuitOpen, and a backend failure surfaces as-is.
// Duplicate-key violations are the caller's signal, not a backend fault,
// so they do not count against the breaker.
func (a *Adapter) Run(ctx context.Context, query string, args ...any) error {
	if !a.breaker.Allow() {
		return ErrCircuitOpen
	}
	err := a.backend.Run(ctx, query, args...)
	if store.IsDuplicate(err) {
		a.breaker.Success()
		return err
	}
	a.record(err)
	return err
}

// All executes a read. Successful results are cached; when the breaker is
// open or the read fails, stale cached data is returned instead of an
// error. A read with no cached fallback surfaces the failure.
func (a *Adapter) All(ctx context.Context, query string, args ...any) ([]store.Row, error) {
	key := cacheKey(query, args)

	if !a.breaker.Allow() {
		if rows, ok := a.lookup(key); ok {
			return rows, nil
		}
		return nil, ErrCircuitOpen
	}

	rows, err := a.backend.All(ctx, query, args...)
	a.record(err)
	if err != nil {
		if cached, ok := a.lookup(key); ok {
			return cached, nil
		}
		return nil, err
	}

	a.remember(key, rows)
	return rows, nil
}

func (a *Adapter) record(err error) {
	if err != nil {
		a.breaker.Failure()
		return
	}
	a.breaker.Success()
}

func (a *Adapter) lookup(key string) ([]store.Row, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, ok := a.cache[key]
	return rows, ok
}

func (a *Adapter) remember(key string, rows []store.Row) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.cache[key]; !exists {
		a.order = append(a.order, key)
		if len(a.order) > a.limit {
			oldest := a.order[0]
			a.order = a.order[1:]
			delete(a.cache, oldest)
		}
	}
	a.cache[key] = rows
}

func cacheKey(query string, args []any) string {
	h, err := canonical.Hash(args)
	if err != nil {
		h = fmt.Sprintf("%v", args)
	}
	return query + "|" + h
}
