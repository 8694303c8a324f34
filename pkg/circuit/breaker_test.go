package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	promerr "github.com/bardlex/promine/pkg/errors"
)

// fakeClock lets tests move time without sleeping
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg *Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(cfg)
	cb.now = clock.Now
	cb.lastResetTime = clock.Now()
	return cb, clock
}

var errBoom = errors.New("boom")

func TestNew_NilConfig(t *testing.T) {
	cb := New(nil)
	if cb.config.MaxFailures != 5 || cb.config.SuccessRequired != 3 {
		t.Errorf("New(nil) config = %+v, want defaults", cb.config)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("initial state = %s, want closed", cb.GetState())
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(&Config{Name: "store", MaxFailures: 3, SuccessRequired: 1, Timeout: time.Minute, ResetTimeout: time.Hour})
	ctx := context.Background()

	for range 3 {
		if err := cb.Execute(ctx, func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Execute() error = %v, want errBoom", err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if called {
		t.Error("fn must not run while open")
	}
	if !promerr.IsType(err, promerr.ErrorTypeInternal) {
		t.Errorf("rejection error type = %v, want internal", err)
	}
	if promerr.GetContext(err)["breaker"] != "store" {
		t.Errorf("rejection context breaker = %v, want store", promerr.GetContext(err)["breaker"])
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(&Config{MaxFailures: 1, SuccessRequired: 2, Timeout: 10 * time.Second, ResetTimeout: time.Hour})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	clock.Advance(11 * time.Second)
	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.GetState())
	}

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("second probe error = %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(&Config{MaxFailures: 1, SuccessRequired: 2, Timeout: time.Second, ResetTimeout: time.Hour})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	clock.Advance(2 * time.Second)
	_ = cb.Execute(ctx, func() error { return errBoom })

	if cb.GetState() != StateOpen {
		t.Errorf("state = %s, want open", cb.GetState())
	}
}

func TestBreaker_ResetWindowClearsFailures(t *testing.T) {
	cb, clock := newTestBreaker(&Config{MaxFailures: 2, SuccessRequired: 1, Timeout: time.Second, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	clock.Advance(2 * time.Minute)
	_ = cb.Execute(ctx, func() error { return errBoom })

	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed after reset window", cb.GetState())
	}
	if got := cb.GetStats().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb, _ := newTestBreaker(nil)
	got, err := ExecuteWithResult(context.Background(), cb, func() (int64, error) { return 9, nil })
	if err != nil || got != 9 {
		t.Errorf("ExecuteWithResult() = %d, %v; want 9, nil", got, err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(&Config{MaxFailures: 1, SuccessRequired: 1, Timeout: time.Hour, ResetTimeout: time.Hour})
	_ = cb.Execute(context.Background(), func() error { return errBoom })
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("state after Reset = %s, want closed", cb.GetState())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
