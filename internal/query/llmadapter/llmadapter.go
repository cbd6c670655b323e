// Package llmadapter wraps a [llm.Provider] with a schema-enforcing contract:
// given a natural-language query, return a structured response conforming to
// a declared shape, or fail. Free-form text never escapes this package — the
// query planner only ever sees an [Output] or one of the three named error
// kinds.
package llmadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/pkg/provider/llm"
	"github.com/voicepane/voicepane/pkg/types"
)

// toolName is the single function the model is offered. The planner's intent
// never reaches the caller through Content; it must arrive as arguments to
// this tool call.
const toolName = "emit_structured_query"

// ValidIntents are the only values Output.Intent may take. Anything else is
// a schema violation.
var ValidIntents = []string{
	"find_conversations",
	"find_segments",
	"speaker_analytics",
	"semantic_search",
	"context",
	"list_speakers",
	"export",
}

func isValidIntent(s string) bool {
	for _, v := range ValidIntents {
		if v == s {
			return true
		}
	}
	return false
}

// Output is the schema-validated structured representation handed back to
// the query planner. Time is kept as a raw expression rather than parsed
// here: the planner resolves recognized relative phrases ("yesterday",
// "last week") deterministically rather than trusting the model's own date
// arithmetic, per the adapter/planner split.
type Output struct {
	Intent       string
	TimeExpr     string
	SpeakerIDs   []string
	Participants []string
	Keywords     []string
	Topics       []string
	Limit        int
	Offset       int
}

// rawArguments mirrors the JSON shape the model must emit as the tool call's
// arguments. Field names match the schema advertised in structuredQueryTool.
type rawArguments struct {
	Intent       string   `json:"intent"`
	TimeExpr     string   `json:"time_expression"`
	SpeakerIDs   []string `json:"speaker_ids"`
	Participants []string `json:"participants"`
	Keywords     []string `json:"keywords"`
	Topics       []string `json:"topics"`
	Limit        int      `json:"limit"`
	Offset       int      `json:"offset"`
}

// structuredQueryTool is the only tool offered to the model. Its Parameters
// field is a JSON Schema object; providers that support tool calling
// (Capabilities().SupportsToolCalling) are expected to constrain their
// output to it.
var structuredQueryTool = types.ToolDefinition{
	Name: toolName,
	Description: "Emit the structured representation of the user's natural-language " +
		"capture-history query. This is the only acceptable way to respond.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent": map[string]any{
				"type": "string",
				"enum": ValidIntents,
			},
			"time_expression": map[string]any{
				"type":        "string",
				"description": "A time range as stated by the user, verbatim (e.g. \"yesterday\", \"last week\", \"2024-01-01 to 2024-01-02\"). Empty if unbounded.",
			},
			"speaker_ids":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"participants": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"keywords":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"topics":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"limit":        map[string]any{"type": "integer"},
			"offset":       map[string]any{"type": "integer"},
		},
		"required": []string{"intent"},
	},
	Idempotent: true,
}

// Adapter enforces the structured-response contract over an [llm.Provider].
type Adapter struct {
	provider llm.Provider
	timeout  time.Duration
	metrics  *observe.Metrics
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithTimeout bounds every Compile call with a per-call deadline. Zero (the
// default) leaves the caller's context deadline, if any, untouched.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// WithMetrics attaches an [observe.Metrics] instance for provider request
// and error counters. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// New creates an [Adapter] wrapping provider.
func New(provider llm.Provider, opts ...Option) *Adapter {
	a := &Adapter{
		provider: provider,
		metrics:  observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compile sends systemPrompt, the session's retained history, and nlQuery to
// the wrapped provider and returns the model's structured response.
//
// It fails with errkind.LLMUnavailable if the backend cannot be reached,
// errkind.LLMTimeout if the deadline expires, or errkind.LLMSchemaViolation
// if the response does not consist of exactly one call to the declared
// tool with arguments that parse and validate. No other error kind is
// returned, and Content is never surfaced to the caller.
func (a *Adapter) Compile(ctx context.Context, systemPrompt string, history []types.Message, nlQuery string) (Output, error) {
	if !a.provider.Capabilities().SupportsToolCalling {
		return Output{}, fmt.Errorf("llmadapter: compile: %w: provider does not support tool calling", errkind.LLMUnavailable)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	messages := make([]types.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, types.Message{Role: "user", Content: nlQuery})

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        []types.ToolDefinition{structuredQueryTool},
		Temperature:  0,
	}

	resp, err := a.provider.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			a.recordError(ctx, "timeout")
			return Output{}, fmt.Errorf("llmadapter: compile: %w: %v", errkind.LLMTimeout, err)
		}
		a.recordError(ctx, "unavailable")
		return Output{}, fmt.Errorf("llmadapter: compile: %w: %v", errkind.LLMUnavailable, err)
	}
	if resp == nil {
		a.recordError(ctx, "empty_response")
		return Output{}, fmt.Errorf("llmadapter: compile: %w: empty response", errkind.LLMSchemaViolation)
	}

	out, err := parseToolCall(resp.ToolCalls)
	if err != nil {
		a.recordError(ctx, "schema_violation")
		a.recordRequest(ctx, "schema_violation")
		return Output{}, fmt.Errorf("llmadapter: compile: %w: %v", errkind.LLMSchemaViolation, err)
	}

	a.recordRequest(ctx, "ok")
	return out, nil
}

// parseToolCall extracts and validates the single structuredQueryTool
// invocation from calls. Any deviation — zero calls, more than one call,
// the wrong tool name, malformed JSON, or an unrecognized intent — is a
// schema violation.
func parseToolCall(calls []types.ToolCall) (Output, error) {
	if len(calls) != 1 {
		return Output{}, fmt.Errorf("expected exactly one tool call, got %d", len(calls))
	}
	call := calls[0]
	if call.Name != toolName {
		return Output{}, fmt.Errorf("unexpected tool %q, want %q", call.Name, toolName)
	}

	var raw rawArguments
	if err := json.Unmarshal([]byte(call.Arguments), &raw); err != nil {
		return Output{}, fmt.Errorf("arguments did not parse as JSON: %w", err)
	}
	if !isValidIntent(raw.Intent) {
		return Output{}, fmt.Errorf("unrecognized intent %q", raw.Intent)
	}
	if raw.Limit < 0 || raw.Offset < 0 {
		return Output{}, fmt.Errorf("limit and offset must be non-negative")
	}

	return Output{
		Intent:       raw.Intent,
		TimeExpr:     raw.TimeExpr,
		SpeakerIDs:   raw.SpeakerIDs,
		Participants: raw.Participants,
		Keywords:     raw.Keywords,
		Topics:       raw.Topics,
		Limit:        raw.Limit,
		Offset:       raw.Offset,
	}, nil
}

func (a *Adapter) recordRequest(ctx context.Context, status string) {
	if a.metrics != nil {
		a.metrics.RecordProviderRequest(ctx, "llmadapter", "compile_query", status)
	}
}

func (a *Adapter) recordError(ctx context.Context, kind string) {
	if a.metrics != nil {
		a.metrics.RecordProviderError(ctx, "llmadapter", kind)
	}
}
