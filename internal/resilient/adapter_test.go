package resilient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/store"
)

// fakeBackend is a scriptable Querier.
type fakeBackend struct {
	err   error
	rows  []store.Row
	calls int
}

func (f *fakeBackend) Exec(ctx context.Context, ddl string) error {
	f.calls++
	return f.err
}

func (f *fakeBackend) Run(ctx context.Context, query string, args ...any) error {
	f.calls++
	return f.err
}

func (f *fakeBackend) All(ctx context.Context, query string, args ...any) ([]store.Row, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func testAdapter(t *testing.T, backend *fakeBackend) (*Adapter, *time.Time) {
	t.Helper()
	now := time.Now()
	cb := NewCircuitBreaker("test", 5, 30*time.Second)
	cb.now = func() time.Time { return now }
	return WrapWith(backend, cb, 8), &now
}

func TestReadFallsBackToCacheWhileOpen(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{rows: []store.Row{{"id": "first"}}}
	a, _ := testAdapter(t, backend)

	rows, err := a.All(ctx, "SELECT 1", "arg")
	if err != nil || len(rows) != 1 {
		t.Fatalf("priming read: rows=%v err=%v", rows, err)
	}

	backend.err = errors.New("backend down")
	for i := 0; i < 5; i++ {
		a.Run(ctx, "INSERT")
	}
	if !a.Breaker().Open() {
		t.Fatal("breaker should be open")
	}

	calls := backend.calls
	rows, err = a.All(ctx, "SELECT 1", "arg")
	if err != nil {
		t.Fatalf("cached read while open: %v", err)
	}
	if rows[0]["id"] != "first" {
		t.Fatalf("stale cache content: %v", rows)
	}
	if backend.calls != calls {
		t.Fatal("open breaker must not contact the backend")
	}
}

func TestReadWithoutCacheSurfacesFailure(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{err: errors.New("backend down")}
	a, _ := testAdapter(t, backend)

	if _, err := a.All(ctx, "SELECT 1"); err == nil {
		t.Fatal("uncached failing read should error")
	}
}

func TestFailedReadServesStaleCache(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{rows: []store.Row{{"id": "v1"}}}
	a, _ := testAdapter(t, backend)

	a.All(ctx, "SELECT 1")
	backend.err = errors.New("flaky")

	rows, err := a.All(ctx, "SELECT 1")
	if err != nil || rows[0]["id"] != "v1" {
		t.Fatalf("stale read: rows=%v err=%v", rows, err)
	}
}

func TestWritesNeverFallBack(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{err: errors.New("backend down")}
	a, _ := testAdapter(t, backend)

	for i := 0; i < 5; i++ {
		a.Run(ctx, "INSERT")
	}
	err := a.Run(ctx, "INSERT")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("write while open: %v, want ErrCircuitOpen", err)
	}
}

func TestDuplicateKeyDoesNotTripBreaker(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{err: store.ErrDuplicate}
	a, _ := testAdapter(t, backend)

	for i := 0; i < 10; i++ {
		if err := a.Run(ctx, "INSERT"); !store.IsDuplicate(err) {
			t.Fatalf("duplicate not surfaced: %v", err)
		}
	}
	if a.Breaker().Open() {
		t.Fatal("duplicate keys are a caller signal, not a backend fault")
	}
}

func TestDistinctArgsUseDistinctCacheEntries(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{rows: []store.Row{{"id": "a"}}}
	a, _ := testAdapter(t, backend)

	a.All(ctx, "SELECT ?", "x")
	backend.rows = []store.Row{{"id": "b"}}
	a.All(ctx, "SELECT ?", "y")
	backend.err = errors.New("down")

	rows, _ := a.All(ctx, "SELECT ?", "x")
	if rows[0]["id"] != "a" {
		t.Fatalf("cache key collision: %v", rows)
	}
	rows, _ = a.All(ctx, "SELECT ?", "y")
	if rows[0]["id"] != "b" {
		t.Fatalf("cache key collision: %v", rows)
	}
}

func TestCacheEvictsOldestBeyondLimit(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{rows: []store.Row{{"id": "x"}}}
	now := time.Now()
	cb := NewCircuitBreaker("test", 5, 30*time.Second)
	cb.now = func() time.Time { return now }
	a := WrapWith(backend, cb, 2)

	a.All(ctx, "Q1")
	a.All(ctx, "Q2")
	a.All(ctx, "Q3") // evicts Q1
	backend.err = errors.New("down")

	if _, err := a.All(ctx, "Q1"); err == nil {
		t.Fatal("evicted entry should not serve as fallback")
	}
	if _, err := a.All(ctx, "Q3"); err != nil {
		t.Fatalf("recent entry missing from cache: %v", err)
	}
}
