package rpc

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/query/ratelimit"
)

func TestClassify_StableKinds(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("planner: %w", errkind.ValidationFailed), "ValidationFailed"},
		{fmt.Errorf("planner: %w: too costly", errkind.ComplexityExceeded), "ComplexityExceeded"},
		{fmt.Errorf("llmadapter: %w", errkind.LLMSchemaViolation), "LLMSchemaViolation"},
		{fmt.Errorf("llmadapter: %w", errkind.LLMTimeout), "LLMTimeout"},
		{fmt.Errorf("llmadapter: %w", errkind.LLMUnavailable), "LLMUnavailable"},
		{fmt.Errorf("storage: %w", errkind.StorageFailure), "StorageFailure"},
		{fmt.Errorf("storage: open: %w", errkind.MigrationMismatch), "MigrationMismatch"},
		{fmt.Errorf("executor: %w", errkind.DanglingReference), "DanglingReference"},
		{fmt.Errorf("ocr: %w", errkind.DependencyUnavailable), "DependencyUnavailable"},
		{fmt.Errorf("stt: %w", errkind.InputCorrupt), "InputCorrupt"},
		{&ratelimit.RateLimitError{Budget: "requests", RetryAfter: 10 * time.Second}, "RateLimited"},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassify_DeepWrappingStillResolves(t *testing.T) {
	err := fmt.Errorf("tool: %w", fmt.Errorf("planner: %w", fmt.Errorf("adapter: %w", errkind.LLMTimeout)))
	if got := classify(err); got != "LLMTimeout" {
		t.Errorf("classify deep wrap = %q, want LLMTimeout", got)
	}
}

func TestClassify_UnknownErrorIsInternal(t *testing.T) {
	if got := classify(errors.New("some raw go error")); got != "Internal" {
		t.Errorf("classify(unknown) = %q, want Internal (never leak raw error types)", got)
	}
}

func TestAsRateLimit_ExtractsRetryHint(t *testing.T) {
	inner := &ratelimit.RateLimitError{Budget: "complexity", RetryAfter: 42 * time.Second}
	wrapped := fmt.Errorf("gate: %w", inner)

	var target *ratelimit.RateLimitError
	if !asRateLimit(wrapped, &target) {
		t.Fatal("expected the wrapped RateLimitError to be extracted")
	}
	if target.Budget != "complexity" || target.RetryAfter != 42*time.Second {
		t.Errorf("extracted %+v", target)
	}
	if classify(wrapped) != "RateLimited" {
		t.Errorf("classify(rate-limit wrap) = %q", classify(wrapped))
	}
}
