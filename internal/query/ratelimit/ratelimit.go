// Package ratelimit implements the Security & Rate Limiter:
// three per-session-per-minute budgets (requests, result rows, summed
// complexity) plus input sanitization ahead of query compilation. It is
// wired as the first gate every [internal/rpc] tool call passes through,
// before the call ever reaches the query planner.
package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/voicepane/voicepane/internal/errkind"
)

// maxFieldLength bounds any single user-supplied string field.
const maxFieldLength = 4096

// Config sets the three per-session-per-minute budgets.
type Config struct {
	RequestsPerMinute   int
	RowsPerMinute       int
	ComplexityPerMinute int
}

func (c Config) withDefaults() Config {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.RowsPerMinute <= 0 {
		c.RowsPerMinute = c.RequestsPerMinute * 1000
	}
	if c.ComplexityPerMinute <= 0 {
		c.ComplexityPerMinute = 100
	}
	return c
}

// window is one session's fixed one-minute accounting window. A fixed
// window (reset on first use past its end, rather than a sliding one) is
// sufficient here: the contract is a per-minute budget, not a smoothing
// guarantee.
type window struct {
	mu         sync.Mutex
	start      time.Time
	requests   int
	rows       int
	complexity int
}

// Limiter enforces [Config]'s three budgets independently per session_id.
type Limiter struct {
	mu  sync.Mutex
	cfg Config

	sessions map[string]*window
}

// New returns a ready-to-use Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg.withDefaults(), sessions: make(map[string]*window)}
}

// UpdateConfig swaps in new per-minute budgets, taking effect on the next
// Allow or RecordRows call of every session. Mirrors
// internal/capture/video.PrivacyGate.UpdateConfig's hot-reload shape so
// cmd/queryd can apply config.Diff's QueryChanged without a restart.
func (l *Limiter) UpdateConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg.withDefaults()
}

func (l *Limiter) windowFor(sessionID string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.sessions[sessionID]
	if !ok {
		w = &window{start: time.Now()}
		l.sessions[sessionID] = w
	}
	return w
}

// resetIfExpired rolls w over to a fresh minute if its current window has
// elapsed. Caller must hold w.mu.
func resetIfExpired(w *window, now time.Time) {
	if now.Sub(w.start) >= time.Minute {
		w.start = now
		w.requests = 0
		w.rows = 0
		w.complexity = 0
	}
}

// Allow admits one request of the given estimated complexity, incrementing
// both the request and complexity counters atomically. If either budget
// would be exceeded, it returns an error wrapping [errkind.RateLimited]
// with a retry-after duration embedded via [RateLimitError.RetryAfter].
func (l *Limiter) Allow(sessionID string, complexity int) error {
	cfg := l.currentConfig()
	w := l.windowFor(sessionID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	resetIfExpired(w, now)

	if w.requests+1 > cfg.RequestsPerMinute {
		return rateLimitedErr("requests", l.retryAfter(w, now))
	}
	if w.complexity+complexity > cfg.ComplexityPerMinute {
		return rateLimitedErr("complexity", l.retryAfter(w, now))
	}

	w.requests++
	w.complexity += complexity
	return nil
}

// currentConfig returns a snapshot of the active budgets, safe to call
// concurrently with UpdateConfig.
func (l *Limiter) currentConfig() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// RecordRows accounts rows returned by a just-executed query against the
// session's row budget. Rows are counted after the fact (the planner
// cannot know the row count before executing), but the budget still
// governs whether the *next* Allow succeeds, per the per-minute model.
func (l *Limiter) RecordRows(sessionID string, rows int) error {
	cfg := l.currentConfig()
	w := l.windowFor(sessionID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	resetIfExpired(w, now)

	w.rows += rows
	if w.rows > cfg.RowsPerMinute {
		return rateLimitedErr("rows", l.retryAfter(w, now))
	}
	return nil
}

func (l *Limiter) retryAfter(w *window, now time.Time) time.Duration {
	remaining := time.Minute - now.Sub(w.start)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func rateLimitedErr(budget string, retryAfter time.Duration) error {
	return &RateLimitError{Budget: budget, RetryAfter: retryAfter}
}

// RateLimitError carries the breached budget name and a retry-after hint.
// It always wraps
// [errkind.RateLimited] so callers can classify it with errors.Is.
type RateLimitError struct {
	Budget     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("ratelimit: %s budget exceeded, retry after %s: %s", e.Budget, e.RetryAfter, errkind.RateLimited)
}

func (e *RateLimitError) Unwrap() error {
	return errkind.RateLimited
}

// Reset drops a session's accounting window entirely, mainly for tests.
func (l *Limiter) Reset(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// Sanitize rejects control characters and over-length fields in a single
// user-supplied string, returning the trimmed value unchanged if it
// passes. It never mutates the text beyond trimming surrounding whitespace
// — SQL compilation downstream only ever binds this value as a parameter,
// never interpolates it, so sanitization here guards
// resource usage and transport hygiene, not injection.
func Sanitize(field, s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > maxFieldLength {
		return "", fmt.Errorf("ratelimit: sanitize %s: field exceeds %d bytes: %w", field, maxFieldLength, errkind.ValidationFailed)
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return "", fmt.Errorf("ratelimit: sanitize %s: contains control character: %w", field, errkind.ValidationFailed)
		}
	}
	return trimmed, nil
}

// SanitizeAll applies [Sanitize] to every field in fields (name -> value),
// returning the first error encountered.
func SanitizeAll(fields map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for name, v := range fields {
		clean, err := Sanitize(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = clean
	}
	return out, nil
}
