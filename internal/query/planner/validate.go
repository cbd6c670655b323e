package planner

import (
	"fmt"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/query/llmadapter"
	"github.com/voicepane/voicepane/pkg/types"
)

// baseComplexity is the fixed cost of any compiled query: a minimum
// connection/parse/scan overhead independent of filters.
const baseComplexity = 5

// perFilterComplexity is the estimated added cost of each populated filter
// field — an equality or IN-list predicate against an indexed column.
const perFilterComplexity = 3

// ftsComplexity is the added cost of a full-text or semantic search, which
// scans an index rather than an equality predicate.
const ftsComplexity = 20

// resultComplexityDivisor converts the requested row budget into a
// complexity contribution: fetching more rows costs more, but sublinearly,
// since the cost is dominated by the index walk rather than row count.
const resultComplexityDivisor = 20

// estimateComplexity scores q's expected execution cost. The
// estimate is a static, deterministic function of the compiled query alone
// — it never inspects the database — so the same query always costs the
// same regardless of data volume.
func estimateComplexity(q types.StructuredQuery) int {
	cost := baseComplexity

	if q.TimeRange != nil {
		cost += perFilterComplexity
	}
	cost += len(q.SpeakerIDs) * perFilterComplexity
	cost += len(q.Participants) * perFilterComplexity
	cost += len(q.Topics) * perFilterComplexity

	if len(q.Keywords) > 0 {
		cost += ftsComplexity
	}
	if q.Intent == "semantic_search" {
		cost += ftsComplexity
	}

	if q.Limit > 0 {
		cost += q.Limit / resultComplexityDivisor
	}
	return cost
}

// validate rejects a compiled StructuredQuery that is unstructured, that
// requests an unbounded result set, or whose estimated complexity exceeds
// the per-query budget. Validation never overrides on
// feedback — feedback only
// biases the prompt fed to the LLM adapter, never this function.
func validate(q types.StructuredQuery, cfg Config) error {
	if !isValidIntent(q.Intent) {
		return fmt.Errorf("planner: validate: intent %q: %w", q.Intent, errkind.ValidationFailed)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("planner: validate: query requests an unbounded result set: %w", errkind.ValidationFailed)
	}
	if q.Limit > cfg.MaxResults {
		return fmt.Errorf("planner: validate: limit %d exceeds max_results %d: %w", q.Limit, cfg.MaxResults, errkind.ValidationFailed)
	}
	if q.Offset < 0 {
		return fmt.Errorf("planner: validate: negative offset: %w", errkind.ValidationFailed)
	}
	if q.TimeRange != nil && q.TimeRange.End.Before(q.TimeRange.Start) {
		return fmt.Errorf("planner: validate: time_range end before start: %w", errkind.ValidationFailed)
	}
	if q.Intent == "semantic_search" && len(q.Keywords) == 0 && len(q.Topics) == 0 {
		return fmt.Errorf("planner: validate: semantic_search requires at least one keyword or topic: %w", errkind.ValidationFailed)
	}
	if q.ComplexityEstimate > cfg.MaxComplexityPerQuery {
		return fmt.Errorf("planner: validate: complexity %d exceeds per-query budget %d: %w",
			q.ComplexityEstimate, cfg.MaxComplexityPerQuery, errkind.ComplexityExceeded)
	}
	return nil
}

// isValidIntent re-exposes [llmadapter.ValidIntents] under the planner's own
// name so validate reads as a self-contained policy check rather than a
// reach into a sibling package's internals.
func isValidIntent(s string) bool {
	for _, v := range llmadapter.ValidIntents {
		if v == s {
			return true
		}
	}
	return false
}
