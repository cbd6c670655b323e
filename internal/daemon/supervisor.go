// Package daemon implements the capture-daemon lifecycle shared by the audio
// and video capture processes: single-instance locking with stale-PID
// reclaim, the {Idle, Capturing, Flushing, Stopped} state machine, signal
// handling, and bounded-backoff retry of the per-segment capture function.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/internal/resilience"
)

// SegmentFunc performs one capture segment (a fixed-length audio recording
// or a single screen-capture interval) and returns once it is complete or
// ctx is cancelled.
type SegmentFunc func(ctx context.Context) error

// Config configures a [Supervisor].
type Config struct {
	// Name identifies the daemon for locking, logging and metrics (e.g.
	// "audiod", "videod").
	Name string
	// LockDir is the directory holding "<Name>.pid" lock files.
	LockDir string
	// Segment runs one capture segment. Required.
	Segment SegmentFunc
	// BeforeSegment runs before each segment starts (typically ring-buffer
	// eviction). Optional.
	BeforeSegment func(ctx context.Context) error
	// MaxConsecutiveFailures opens the circuit after this many consecutive
	// segment failures. Default 5.
	MaxConsecutiveFailures int
	// BreakerResetTimeout is how long the circuit stays open before a probe
	// is allowed. Default 30s.
	BreakerResetTimeout time.Duration
	// BackoffBase is the initial retry delay after a segment failure.
	// Default 1s, doubling up to BackoffMax.
	BackoffBase time.Duration
	// BackoffMax caps the exponential backoff delay. Default 1 minute.
	BackoffMax time.Duration
	// Metrics records active-daemon gauge updates. Optional.
	Metrics *observe.Metrics
}

func (c *Config) setDefaults() {
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Minute
	}
}

// Supervisor drives one capture daemon's run loop: acquire the single
// instance lock, then repeatedly invoke Segment while tracking the
// {Idle, Capturing, Flushing, Stopped} state machine, until the context is
// cancelled or an OS termination signal arrives.
type Supervisor struct {
	cfg     Config
	lock    *Lock
	sm      *StateMachine
	breaker *resilience.CircuitBreaker
}

// New acquires the single-instance lock for cfg.Name and returns a
// Supervisor ready to [Supervisor.Run]. The returned error wraps
// [errkind.LockHeld] if another live instance holds the lock.
func New(cfg Config) (*Supervisor, error) {
	cfg.setDefaults()
	if cfg.Name == "" {
		return nil, errors.New("daemon: Config.Name is required")
	}
	if cfg.Segment == nil {
		return nil, errors.New("daemon: Config.Segment is required")
	}
	lock, err := AcquireLock(cfg.LockDir, cfg.Name)
	if err != nil {
		return nil, err
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         cfg.Name,
		MaxFailures:  cfg.MaxConsecutiveFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	})
	return &Supervisor{cfg: cfg, lock: lock, sm: NewStateMachine(), breaker: breaker}, nil
}

// State returns the daemon's current lifecycle state.
func (s *Supervisor) State() State {
	return s.sm.Current()
}

// Run drives the capture loop until ctx is cancelled or SIGINT/SIGTERM is
// received, then releases the lock and returns. A termination signal
// transitions Capturing->Flushing before Stop so an in-progress segment's
// PartialSegment handling (left to Segment) runs before exit.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		s.sm.Stop()
		if err := s.lock.Release(); err != nil {
			slog.Warn("daemon lock release failed", "daemon", s.cfg.Name, "err", err)
		}
	}()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveDaemons.Add(ctx, 1)
		defer s.cfg.Metrics.ActiveDaemons.Add(ctx, -1)
	}

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	backoff := s.cfg.BackoffBase
	for {
		select {
		case <-sigCtx.Done():
			slog.Info("daemon shutting down", "daemon", s.cfg.Name, "cause", sigCtx.Err())
			if s.sm.Current() == StateCapturing {
				_ = s.sm.EndCapture()
			}
			return nil
		default:
		}

		if s.breaker.State() == resilience.StateOpen {
			slog.Warn("daemon circuit open, pausing capture", "daemon", s.cfg.Name)
			sleepOrDone(sigCtx, s.cfg.BreakerResetTimeout)
			continue
		}

		if s.cfg.BeforeSegment != nil {
			if err := s.cfg.BeforeSegment(sigCtx); err != nil {
				slog.Warn("pre-segment hook failed", "daemon", s.cfg.Name, "err", err)
			}
		}

		if err := s.sm.StartCapture(); err != nil {
			return fmt.Errorf("daemon %q: %w", s.cfg.Name, err)
		}

		segErr := s.breaker.Execute(func() error { return s.cfg.Segment(sigCtx) })

		if endErr := s.sm.EndCapture(); endErr != nil {
			return fmt.Errorf("daemon %q: %w", s.cfg.Name, endErr)
		}

		switch {
		case segErr == nil:
			backoff = s.cfg.BackoffBase
		case errors.Is(segErr, resilience.ErrCircuitOpen):
			slog.Warn("daemon circuit open, pausing capture", "daemon", s.cfg.Name)
			sleepOrDone(sigCtx, s.cfg.BreakerResetTimeout)
		case errors.Is(segErr, context.Canceled):
			continue
		default:
			slog.Error("segment failed, backing off", "daemon", s.cfg.Name, "err", segErr, "backoff", backoff)
			sleepOrDone(sigCtx, backoff)
			backoff *= 2
			if backoff > s.cfg.BackoffMax {
				backoff = s.cfg.BackoffMax
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ProcessLiveness exposes processAlive for tests and diagnostic tooling
// outside this package (e.g. a "daemon status" CLI subcommand).
func ProcessLiveness(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	return processAlive(pid)
}
