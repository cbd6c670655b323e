package daemon

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
)

func TestSupervisor_RunsSegmentsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	var calls int32

	sup, err := New(Config{
		Name:    "audiod",
		LockDir: dir,
		Segment: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&calls) == 0 {
		t.Error("expected at least one segment to run")
	}
	if sup.State() != StateStopped {
		t.Errorf("state after Run returns = %v, want Stopped", sup.State())
	}
}

func TestSupervisor_SecondInstanceFailsWithLockHeld(t *testing.T) {
	dir := t.TempDir()
	block := make(chan struct{})

	sup1, err := New(Config{
		Name:    "audiod",
		LockDir: dir,
		Segment: func(ctx context.Context) error {
			<-block
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New (first): %v", err)
	}
	defer sup1.lock.Release()

	_, err = New(Config{
		Name:    "audiod",
		LockDir: dir,
		Segment: func(ctx context.Context) error { return nil },
	})
	if err == nil {
		t.Fatal("expected second Supervisor to fail to acquire the lock")
	}
	if !errors.Is(err, errkind.LockHeld) {
		t.Errorf("expected LockHeld, got %v", err)
	}
	close(block)
}

func TestSupervisor_BeforeSegmentHookRuns(t *testing.T) {
	dir := t.TempDir()
	var hookCalls, segmentCalls int32

	sup, err := New(Config{
		Name:    "videod",
		LockDir: dir,
		BeforeSegment: func(ctx context.Context) error {
			atomic.AddInt32(&hookCalls, 1)
			return nil
		},
		Segment: func(ctx context.Context) error {
			atomic.AddInt32(&segmentCalls, 1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&hookCalls) == 0 {
		t.Error("expected BeforeSegment hook to run")
	}
	if atomic.LoadInt32(&hookCalls) != atomic.LoadInt32(&segmentCalls) {
		t.Errorf("hook calls (%d) should match segment calls (%d)", hookCalls, segmentCalls)
	}
}

func TestSupervisor_BackoffOnRepeatedFailure(t *testing.T) {
	dir := t.TempDir()
	var calls int32

	sup, err := New(Config{
		Name:                "audiod",
		LockDir:             dir,
		MaxConsecutiveFailures: 2,
		BackoffBase:         10 * time.Millisecond,
		BackoffMax:          20 * time.Millisecond,
		BreakerResetTimeout: 30 * time.Millisecond,
		Segment: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("device unavailable")
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// With the breaker opening after 2 failures, the call count should be
	// small relative to a tight loop with no backoff at all.
	if atomic.LoadInt32(&calls) > 10 {
		t.Errorf("expected backoff/breaker to bound call count, got %d calls", calls)
	}
}

func TestProcessLiveness_SelfIsAlive(t *testing.T) {
	if !ProcessLiveness(os.Getpid()) {
		t.Error("expected current process to be alive")
	}
}
