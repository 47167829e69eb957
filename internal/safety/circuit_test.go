package safety

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "test-tool",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		BaseTimeout:      10 * time.Millisecond,
		MaxTimeout:       80 * time.Millisecond,
	}
}

func TestCircuitBreakerClosedAllowsCalls(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	if cb.State() != StateClosed {
		t.Fatalf("new breaker should start closed, got %s", cb.State())
	}
	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("breaker should remain closed on success, got %s", cb.State())
	}
}

func TestCircuitBreakerOpensPastThreshold(t *testing.T) {
	cfg := testConfig()
	cb := NewCircuitBreaker(cfg)
	failing := func(context.Context) error { return errors.New("boom") }

	// Threshold failures at/under threshold stay closed.
	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), failing)
	}
	if cb.State() != StateClosed {
		t.Fatalf("breaker should stay closed at threshold failures, got %s", cb.State())
	}

	// One more failure crosses the threshold and opens it.
	_ = cb.Execute(context.Background(), failing)
	if cb.State() != StateOpen {
		t.Fatalf("breaker should open once failures exceed threshold, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerBackoffGrowsExponentially(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	// 4 failures -> 1 past threshold -> base*2^1
	if got, want := cb.backoffFor(4), 20*time.Millisecond; got != want {
		t.Fatalf("backoffFor(4) = %v, want %v", got, want)
	}
	// 5 failures -> 2 past threshold -> base*2^2
	if got, want := cb.backoffFor(5), 40*time.Millisecond; got != want {
		t.Fatalf("backoffFor(5) = %v, want %v", got, want)
	}
	// large failure count caps at MaxTimeout
	if got, want := cb.backoffFor(20), 80*time.Millisecond; got != want {
		t.Fatalf("backoffFor(20) = %v, want %v (capped)", got, want)
	}
	// at/under threshold uses the base timeout
	if got, want := cb.backoffFor(3), 10*time.Millisecond; got != want {
		t.Fatalf("backoffFor(3) = %v, want %v", got, want)
	}
}

func TestCircuitBreakerHalfOpenRecoversOnSuccesses(t *testing.T) {
	cfg := testConfig()
	cb := NewCircuitBreaker(cfg)
	failing := func(context.Context) error { return errors.New("boom") }
	for i := 0; i <= cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), failing)
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(cfg.BaseTimeout + 5*time.Millisecond)

	ok := func(context.Context) error { return nil }
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("first half-open probe should be allowed: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after timeout elapses, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("second half-open success should be allowed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after SuccessThreshold successes, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	cb := NewCircuitBreaker(cfg)
	failing := func(context.Context) error { return errors.New("boom") }
	for i := 0; i <= cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), failing)
	}
	time.Sleep(cfg.BaseTimeout + 5*time.Millisecond)

	// One probe succeeds, entering half-open with 1 success recorded.
	_ = cb.Execute(context.Background(), func(context.Context) error { return nil })
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}

	// Any failure in half-open reopens and resets the half-open counter.
	_ = cb.Execute(context.Background(), failing)
	if cb.State() != StateOpen {
		t.Fatalf("expected open after half-open failure, got %s", cb.State())
	}
	if cb.Stats().HalfOpenSuccesses != 0 {
		t.Fatalf("half-open success counter should reset to 0 on reopen, got %d", cb.Stats().HalfOpenSuccesses)
	}
}

func TestCircuitBreakerPersistRoundTrip(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	cb.state = StateOpen
	cb.consecutiveFailures = 7
	cb.lastFailure = time.Now().Add(-time.Minute)

	data, err := json.Marshal(cb)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := NewCircuitBreaker(testConfig())
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.State() != StateOpen {
		t.Fatalf("restored state = %s, want open", restored.State())
	}
	if restored.Stats().ConsecutiveFailures != 7 {
		t.Fatalf("restored consecutive failures = %d, want 7", restored.Stats().ConsecutiveFailures)
	}
}

func TestCircuitBreakerPersistClampsFutureTimestamp(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	data, err := json.Marshal(persistedState{
		State:                StateOpen,
		ConsecutiveFailures:  5,
		LastFailureEpochSecs: future,
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	cb := NewCircuitBreaker(testConfig())
	if err := json.Unmarshal(data, cb); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cb.lastFailure.After(time.Now()) {
		t.Fatalf("future last-failure timestamp should be clamped to now")
	}
}

func TestExecuteWithResultReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	got, err := ExecuteWithResult(cb, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	reg := NewRegistry(BreakerConfig{FailureThreshold: 3, BaseTimeout: time.Millisecond})
	a := reg.Get("grep")
	b := reg.Get("grep")
	if a != b {
		t.Fatalf("Get should return the same breaker instance for a repeated name")
	}

	failing := func(context.Context) error { return errors.New("boom") }
	for i := 0; i < 5; i++ {
		_ = a.Execute(context.Background(), failing)
	}
	open := reg.OpenCircuits()
	if len(open) != 1 || open[0] != "grep" {
		t.Fatalf("expected [grep] open, got %v", open)
	}

	reg.ResetAll()
	if reg.Get("grep").State() != StateClosed {
		t.Fatalf("ResetAll should close all breakers")
	}
}
