package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func TestRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var cycles atomic.Int32
	s := New(Options{Interval: time.Hour, RunImmediately: true}, noopLogger())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
			cycles.Add(1)
			cancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	if cycles.Load() != 1 {
		t.Fatalf("expected exactly one immediate cycle, got %d", cycles.Load())
	}
}

func TestCycleErrorDoesNotStopLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cycles atomic.Int32
	s := New(Options{Interval: 10 * time.Millisecond}, noopLogger())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
			if cycles.Add(1) >= 3 {
				cancel()
			}
			return errors.New("cycle failed")
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not keep cycling past errors")
	}
	if cycles.Load() < 3 {
		t.Fatalf("expected at least 3 cycles, got %d", cycles.Load())
	}
}

func TestRunHonoursCancelDuringStartupDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, noopLogger())
	if err := s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		t.Fatal("cycle must not run")
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNextCycleAlignment(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, noopLogger())

	now := time.Date(2025, 6, 1, 12, 3, 17, 0, time.UTC)
	next := s.nextCycle(now)
	want := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected aligned boundary %s, got %s", want, next)
	}

	// Exactly on a boundary advances to the next one.
	onBoundary := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	if got := s.nextCycle(onBoundary); !got.Equal(onBoundary.Add(5 * time.Minute)) {
		t.Fatalf("boundary time must advance a full interval, got %s", got)
	}
}

func TestNextCycleUnaligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute}, noopLogger())
	now := time.Date(2025, 6, 1, 12, 3, 17, 0, time.UTC)
	if got := s.nextCycle(now); !got.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unaligned mode must add the raw interval, got %s", got)
	}
}
