// Package planner compiles a natural-language capture-history query into a
// validated, schema-conformant types.StructuredQuery, resolving relative
// time expressions deterministically and retaining enough per-session
// context that a follow-up question can reuse the previous query's filters.
package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/query/llmadapter"
	"github.com/voicepane/voicepane/internal/query/session"
	"github.com/voicepane/voicepane/internal/storage"
	"github.com/voicepane/voicepane/pkg/types"
)

// defaultSystemPrompt instructs the model to emit only the structured-query
// tool call. It is kept short and fixed so compiled queries do not vary
// with prompt drift; session-specific bias is appended separately.
const defaultSystemPrompt = `You translate a user's natural-language question about their own
recorded conversations and screen activity into a single structured-query
tool call. Never respond with prose. If the user gives a relative time
phrase (e.g. "yesterday", "last week"), pass it through verbatim in
time_expression rather than computing a date yourself.`

// Config configures a [Planner].
type Config struct {
	// MaxResults caps Limit when the model omits one or requests more.
	MaxResults int

	// MaxContextQueries is K: the number of resolved queries retained per
	// session for follow-up filter reuse. Defaults to 10.
	MaxContextQueries int

	// ContextRetentionHours is the TTL for retained per-session context.
	// Defaults to 24.
	ContextRetentionHours int

	// MaxComplexityPerQuery rejects any single compiled query whose
	// estimated cost exceeds this value, independent of the per-minute
	// budget enforced by internal/query/ratelimit. Defaults to 500.
	MaxComplexityPerQuery int

	// SystemPrompt overrides defaultSystemPrompt, mainly for tests.
	SystemPrompt string
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = 1000
	}
	if c.MaxContextQueries <= 0 {
		c.MaxContextQueries = 10
	}
	if c.ContextRetentionHours <= 0 {
		c.ContextRetentionHours = 24
	}
	if c.MaxComplexityPerQuery <= 0 {
		c.MaxComplexityPerQuery = 500
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	return c
}

// FeedbackStore is the subset of [storage.Store] the planner needs for
// feedback-learning bias. Declared locally so tests can supply a fake.
type FeedbackStore interface {
	AppendQueryFeedback(ctx context.Context, fb types.QueryFeedback) error
	RecentFeedback(ctx context.Context, sessionID string, limit int) ([]types.QueryFeedback, error)
}

// compile-time check that the real store satisfies it.
var _ FeedbackStore = (*storage.Store)(nil)

// Planner compiles natural-language queries into validated StructuredQuery
// values.
type Planner struct {
	adapter  *llmadapter.Adapter
	feedback FeedbackStore
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates a Planner backed by adapter for LLM compilation and feedback
// for persisting and reading query feedback.
func New(adapter *llmadapter.Adapter, feedback FeedbackStore, cfg Config) *Planner {
	return &Planner{
		adapter:  adapter,
		feedback: feedback,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*sessionState),
	}
}

// resolvedQuery is one entry in a session's short retained history of
// compiled queries, used to resolve follow-up references.
type resolvedQuery struct {
	query      types.StructuredQuery
	resolvedAt time.Time
}

// sessionState holds everything the planner retains for one session_id.
type sessionState struct {
	mu      sync.Mutex
	history *session.ContextManager
	recent  []resolvedQuery
}

func (p *Planner) sessionFor(sessionID string) *sessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sessions[sessionID]
	if !ok {
		st = &sessionState{
			history: session.NewContextManager(session.ContextManagerConfig{
				MaxTokens:      8000,
				Summariser:     passthroughSummariser{},
				ThresholdRatio: 0.75,
			}),
		}
		p.sessions[sessionID] = st
	}
	return st
}

// passthroughSummariser truncates rather than calling an LLM — the
// planner's own retained history is a compact record of resolved filters,
// not free-form conversation, so a second model round-trip to compress it
// is unnecessary cost.
type passthroughSummariser struct{}

func (passthroughSummariser) Summarise(_ context.Context, messages []types.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%d earlier query turns", len(messages)), nil
}

// Compile resolves nlQuery for sessionID into a validated StructuredQuery.
func (p *Planner) Compile(ctx context.Context, sessionID, nlQuery string) (types.StructuredQuery, error) {
	st := p.sessionFor(sessionID)

	st.mu.Lock()
	history := st.history.Messages()
	st.mu.Unlock()

	prompt := p.cfg.SystemPrompt
	if bias := p.feedbackBias(ctx, sessionID); bias != "" {
		prompt = prompt + "\n\n" + bias
	}

	out, err := p.adapter.Compile(ctx, prompt, history, nlQuery)
	if err != nil {
		return types.StructuredQuery{}, err
	}

	timeRange, err := resolveTimeExpression(out.TimeExpr, time.Now())
	if err != nil {
		return types.StructuredQuery{}, fmt.Errorf("planner: compile: %w: %v", errkind.ValidationFailed, err)
	}

	query := types.StructuredQuery{
		Intent:       out.Intent,
		TimeRange:    timeRange,
		SpeakerIDs:   out.SpeakerIDs,
		Participants: out.Participants,
		Keywords:     out.Keywords,
		Topics:       out.Topics,
		Limit:        out.Limit,
		Offset:       out.Offset,
	}

	st.mu.Lock()
	mergeFollowUp(&query, st.recent, p.retentionTTL())
	st.mu.Unlock()

	if query.Limit <= 0 || query.Limit > p.cfg.MaxResults {
		query.Limit = p.cfg.MaxResults
	}

	query.ComplexityEstimate = estimateComplexity(query)
	if err := validate(query, p.cfg); err != nil {
		return types.StructuredQuery{}, err
	}

	st.mu.Lock()
	st.recent = appendResolved(st.recent, query, p.cfg.MaxContextQueries, p.retentionTTL())
	_ = st.history.AddMessages(ctx,
		types.Message{Role: "user", Content: nlQuery},
		types.Message{Role: "assistant", Content: summarizeForHistory(query)},
	)
	st.mu.Unlock()

	return query, nil
}

// Feedback records the session's judgement of a prior structured query.
// Feedback is stored unconditionally but never overrides validation — it
// only biases future prompt templates via feedbackBias.
func (p *Planner) Feedback(ctx context.Context, fb types.QueryFeedback) error {
	return p.feedback.AppendQueryFeedback(ctx, fb)
}

// feedbackBias builds a short few-shot hint from the session's most recent
// corrections, promoting the vocabulary the user actually meant.
func (p *Planner) feedbackBias(ctx context.Context, sessionID string) string {
	recent, err := p.feedback.RecentFeedback(ctx, sessionID, 5)
	if err != nil || len(recent) == 0 {
		return ""
	}
	bias := "Recent corrections from this session (prefer matching phrasing when similar requests recur):"
	count := 0
	for _, fb := range recent {
		if fb.Feedback != "corrected" || fb.CorrectedQuery == nil {
			continue
		}
		bias += fmt.Sprintf("\n- %q meant intent=%s keywords=%v", fb.NLQuery, fb.CorrectedQuery.Intent, fb.CorrectedQuery.Keywords)
		count++
	}
	if count == 0 {
		return ""
	}
	return bias
}

func (p *Planner) retentionTTL() time.Duration {
	return time.Duration(p.cfg.ContextRetentionHours) * time.Hour
}

// appendResolved appends q to recent, evicting TTL-expired entries and
// capping the slice at maxK.
func appendResolved(recent []resolvedQuery, q types.StructuredQuery, maxK int, ttl time.Duration) []resolvedQuery {
	now := time.Now()
	fresh := recent[:0]
	for _, r := range recent {
		if now.Sub(r.resolvedAt) <= ttl {
			fresh = append(fresh, r)
		}
	}
	fresh = append(fresh, resolvedQuery{query: q, resolvedAt: now})
	if len(fresh) > maxK {
		fresh = fresh[len(fresh)-maxK:]
	}
	return fresh
}

// mergeFollowUp fills empty filter fields on q from the most recent
// unexpired resolved query, so that "who participated in the longest one?"
// can reuse the conversation set a prior query already narrowed down to.
func mergeFollowUp(q *types.StructuredQuery, recent []resolvedQuery, ttl time.Duration) {
	if len(recent) == 0 {
		return
	}
	last := recent[len(recent)-1]
	if time.Since(last.resolvedAt) > ttl {
		return
	}
	if q.TimeRange == nil {
		q.TimeRange = last.query.TimeRange
	}
	if len(q.SpeakerIDs) == 0 {
		q.SpeakerIDs = last.query.SpeakerIDs
	}
	if len(q.Participants) == 0 {
		q.Participants = last.query.Participants
	}
	if len(q.Keywords) == 0 {
		q.Keywords = last.query.Keywords
	}
	if len(q.Topics) == 0 {
		q.Topics = last.query.Topics
	}
}

func summarizeForHistory(q types.StructuredQuery) string {
	return fmt.Sprintf("resolved intent=%s speakers=%v participants=%v keywords=%v limit=%d",
		q.Intent, q.SpeakerIDs, q.Participants, q.Keywords, q.Limit)
}
