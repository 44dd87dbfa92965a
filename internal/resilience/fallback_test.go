package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(maxFailures int) *Group[string] {
	g := NewGroup("primary", "primary", CircuitBreakerConfig{
		MaxFailures:  maxFailures,
		ResetTimeout: time.Hour,
		Logger:       quietLogger(),
	})
	g.Add("secondary", "secondary")
	return g
}

func TestGroup_PrimarySuccess(t *testing.T) {
	g := newGroup(3)
	var called string
	err := g.Execute(context.Background(), func(_ context.Context, v string) error {
		called = v
		return nil
	})
	if err != nil || called != "primary" {
		t.Fatalf("called = %q, err = %v", called, err)
	}
}

func TestGroup_FallsBack(t *testing.T) {
	g := newGroup(3)
	got, err := Do(context.Background(), g, func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "served by " + v, nil
	})
	if err != nil || got != "served by secondary" {
		t.Fatalf("Do = %q, %v", got, err)
	}
}

func TestGroup_AllFail(t *testing.T) {
	g := newGroup(3)
	err := g.Execute(context.Background(), func(context.Context, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
	}
}

func TestGroup_SkipsOpenMember(t *testing.T) {
	g := newGroup(2)
	ctx := context.Background()
	for range 2 {
		_ = g.Execute(ctx, func(_ context.Context, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if s := g.States(); s["primary"] != StateOpen || s["secondary"] != StateClosed {
		t.Fatalf("states = %v", s)
	}

	var calls []string
	_ = g.Execute(ctx, func(_ context.Context, v string) error {
		calls = append(calls, v)
		return nil
	})
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Errorf("calls = %v, want only secondary", calls)
	}
}

func TestGroup_CancelledContextStops(t *testing.T) {
	g := newGroup(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := g.Execute(ctx, func(context.Context, string) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}
