package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(cfg FallbackConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", cfg)
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newGroup(FallbackConfig{})

	var called []string
	err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "primary" {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestFallbackGroup_Failover(t *testing.T) {
	fg := newGroup(FallbackConfig{})

	got, err := ExecuteWithResult(context.Background(), fg, func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-secondary" {
		t.Fatalf("result = %q, want from-secondary", got)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newGroup(FallbackConfig{})

	err := fg.Execute(context.Background(), func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want it to wrap the last failure", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := newGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	primaryFails := func(v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	}
	for range 2 {
		_ = fg.Execute(context.Background(), primaryFails)
	}

	var called []string
	err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want [secondary]", called)
	}

	states := map[string]State{}
	fg.Each(func(name string, _ string, s State) { states[name] = s })
	if states["primary"] != StateOpen || states["secondary"] != StateClosed {
		t.Fatalf("states = %v", states)
	}
}

func TestFallbackGroup_PermanentErrorStops(t *testing.T) {
	errBadInput := errors.New("bad input")
	fg := newGroup(FallbackConfig{
		Permanent: func(err error) bool { return errors.Is(err, errBadInput) },
	})

	var called []string
	err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		return errBadInput
	})
	if !errors.Is(err, errBadInput) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want the permanent error unwrapped", err)
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only the primary", called)
	}
}

func TestFallbackGroup_CancelledContext(t *testing.T) {
	fg := newGroup(FallbackConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	err := fg.Execute(ctx, func(v string) error {
		called = append(called, v)
		cancel()
		return errTest
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only the primary", called)
	}
}

func TestFallbackGroup_Accessors(t *testing.T) {
	fg := newGroup(FallbackConfig{})
	if fg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", fg.Len())
	}
	if fg.Primary() != "primary" {
		t.Errorf("Primary() = %q, want primary", fg.Primary())
	}
}
