package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunWithTickerTicks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var ticks atomic.Int64
	err := RunWithTicker(ctx, &Interval{Duration: 20 * time.Millisecond, Jitter: 5 * time.Millisecond}, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if ticks.Load() == 0 {
		t.Fatal("expected at least one tick")
	}
}

func TestRunWithTickerClampsOversizedJitter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// Jitter >= interval comes straight from config values, it must be
	// clamped, not fatal.
	var ticks atomic.Int64
	err := RunWithTicker(ctx, &Interval{Duration: 20 * time.Millisecond, Jitter: 50 * time.Millisecond}, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if ticks.Load() == 0 {
		t.Fatal("expected at least one tick")
	}
}

func TestRunWithTickerStopsOnError(t *testing.T) {
	boom := errors.New("boom")

	err := RunWithTicker(context.Background(), &Interval{Duration: 10 * time.Millisecond}, func(ctx context.Context) error {
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected the function's error, got %v", err)
	}
}
