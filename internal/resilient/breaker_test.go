package resilient

import (
	"testing"
	"time"
)

func testBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	now := time.Now()
	cb := NewCircuitBreaker("test", 5, 30*time.Second)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	cb, _ := testBreaker(t)

	for i := 0; i < 4; i++ {
		cb.Failure()
		if cb.Open() {
			t.Fatalf("opened after %d failures, threshold is 5", i+1)
		}
	}
	cb.Failure()
	if !cb.Open() {
		t.Fatal("breaker should open at the fifth consecutive failure")
	}
	if cb.Allow() {
		t.Fatal("open breaker must fail fast")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := testBreaker(t)

	for i := 0; i < 4; i++ {
		cb.Failure()
	}
	cb.Success()
	cb.Failure()
	if cb.Open() {
		t.Fatal("count should reset after a success")
	}
}

func TestHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	cb, now := testBreaker(t)
	for i := 0; i < 5; i++ {
		cb.Failure()
	}

	*now = now.Add(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("first call after reset timeout should probe")
	}
	if cb.Allow() {
		t.Fatal("second call must wait for the probe to finish")
	}
}

func TestProbeSuccessClosesBreaker(t *testing.T) {
	cb, now := testBreaker(t)
	for i := 0; i < 5; i++ {
		cb.Failure()
	}
	*now = now.Add(31 * time.Second)
	cb.Allow()
	cb.Success()

	if cb.Open() || !cb.Allow() {
		t.Fatal("successful probe should close the breaker")
	}
}

func TestProbeFailureReopensImmediately(t *testing.T) {
	cb, now := testBreaker(t)
	for i := 0; i < 5; i++ {
		cb.Failure()
	}
	*now = now.Add(31 * time.Second)
	cb.Allow()
	cb.Failure()

	if !cb.Open() {
		t.Fatal("failed probe should reopen the breaker")
	}
	if cb.Allow() {
		t.Fatal("reopened breaker must fail fast again")
	}
}
