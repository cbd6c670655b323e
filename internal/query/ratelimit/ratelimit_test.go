package ratelimit

import (
	"errors"
	"testing"

	"github.com/voicepane/voicepane/internal/errkind"
)

func TestAllow_WithinBudgetSucceeds(t *testing.T) {
	l := New(Config{RequestsPerMinute: 3, ComplexityPerMinute: 100})
	for i := 0; i < 3; i++ {
		if err := l.Allow("s1", 10); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}
}

func TestAllow_RequestBudgetExceeded(t *testing.T) {
	l := New(Config{RequestsPerMinute: 2, ComplexityPerMinute: 1000})
	if err := l.Allow("s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Allow("s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := l.Allow("s1", 1)
	if !errors.Is(err, errkind.RateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected *RateLimitError, got %T", err)
	}
	if rle.Budget != "requests" {
		t.Errorf("Budget = %q, want %q", rle.Budget, "requests")
	}
}

func TestAllow_ComplexityBudgetExceeded(t *testing.T) {
	l := New(Config{RequestsPerMinute: 100, ComplexityPerMinute: 15})
	if err := l.Allow("s1", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := l.Allow("s1", 10)
	if !errors.Is(err, errkind.RateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
}

func TestAllow_IndependentPerSession(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, ComplexityPerMinute: 1000})
	if err := l.Allow("s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Allow("s2", 1); err != nil {
		t.Fatalf("s2 should not be throttled by s1's budget: %v", err)
	}
}

func TestRecordRows_RowBudgetExceeded(t *testing.T) {
	l := New(Config{RequestsPerMinute: 100, RowsPerMinute: 50, ComplexityPerMinute: 1000})
	if err := l.RecordRows("s1", 30); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := l.RecordRows("s1", 30)
	if !errors.Is(err, errkind.RateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
}

func TestReset_ClearsSession(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, ComplexityPerMinute: 1000})
	if err := l.Allow("s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Allow("s1", 1); err == nil {
		t.Fatal("expected budget exceeded before reset")
	}
	l.Reset("s1")
	if err := l.Allow("s1", 1); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestSanitize_RejectsControlCharacters(t *testing.T) {
	_, err := Sanitize("nl_query", "hello\x00world")
	if !errors.Is(err, errkind.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestSanitize_RejectsOverLength(t *testing.T) {
	long := make([]byte, maxFieldLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Sanitize("nl_query", string(long))
	if !errors.Is(err, errkind.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestSanitize_TrimsAndAllowsNewlinesTabs(t *testing.T) {
	got, err := Sanitize("nl_query", "  hello\nworld\t  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello\nworld" {
		t.Errorf("got %q", got)
	}
}

func TestSanitizeAll_PropagatesFirstError(t *testing.T) {
	_, err := SanitizeAll(map[string]string{
		"good":  "fine",
		"bad":   "bad\x01value",
	})
	if !errors.Is(err, errkind.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}
