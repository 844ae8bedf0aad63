package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Options{Interval: 5 * time.Millisecond}, noopLogger())

	ticks := 0
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, now time.Time) error {
			ticks++
			if ticks >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	if ticks < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks)
	}
}

func TestRunHaltsCleanlyOnErrHalt(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, noopLogger())

	err := s.Run(context.Background(), func(ctx context.Context, now time.Time) error {
		return ErrHalt
	})
	if err != nil {
		t.Fatalf("halt must not be treated as a failure, got %v", err)
	}
}

func TestRunContinuesPastTickErrors(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, noopLogger())

	ticks := 0
	err := s.Run(context.Background(), func(ctx context.Context, now time.Time) error {
		ticks++
		if ticks < 3 {
			return errors.New("transient tick failure")
		}
		return ErrHalt
	})
	if err != nil {
		t.Fatalf("run should exit cleanly after halt, got %v", err)
	}
	if ticks != 3 {
		t.Fatalf("expected 3 ticks, got %d", ticks)
	}
}

func TestStartupDelayObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Options{Interval: time.Minute, StartupDelay: time.Minute}, noopLogger())
	err := s.Run(ctx, func(ctx context.Context, now time.Time) error {
		t.Fatal("tick must not run when cancelled during startup delay")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNewPanicsOnInvalidInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("zero interval must panic")
		}
	}()
	New(Options{Interval: 0}, noopLogger())
}
