package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisorDrainWaitsForTrackedTasks(t *testing.T) {
	s := New()
	var ran atomic.Bool
	s.Track(context.Background(), "test", time.Second, func(ctx context.Context) {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
	})
	s.Drain(context.Background())
	if !ran.Load() {
		t.Fatal("expected tracked task to complete before Drain returns")
	}
}

func TestSupervisorTrackSurvivesParentCancellation(t *testing.T) {
	s := New()
	parentCtx, cancel := context.WithCancel(context.Background())
	var gotErr error
	s.Track(parentCtx, "test", time.Second, func(ctx context.Context) {
		time.Sleep(10 * time.Millisecond)
		gotErr = ctx.Err()
	})
	cancel() // parent cancels immediately; task must not observe this
	s.Drain(context.Background())
	if gotErr != nil {
		t.Fatalf("tracked task context must survive parent cancellation, got err: %v", gotErr)
	}
}

func TestSupervisorTrackRecoversPanic(t *testing.T) {
	s := New()
	s.Track(context.Background(), "test", time.Second, func(ctx context.Context) {
		panic("boom")
	})
	// Must not propagate the panic to this goroutine.
	s.Drain(context.Background())
}

func TestSupervisorDrainTimesOutWithoutBlockingForever(t *testing.T) {
	s := New()
	s.Track(context.Background(), "slow", time.Second, func(ctx context.Context) {
		<-ctx.Done()
	})
	drainCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	s.Drain(drainCtx)
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("Drain should have returned promptly once drainCtx expired")
	}
}
