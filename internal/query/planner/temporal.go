package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voicepane/voicepane/pkg/types"
)

// resolveTimeExpression deterministically resolves a small set of relative
// time phrases plus explicit RFC3339 bounds. This exists so that the LLM
// adapter's output can carry a phrase like "yesterday" without trusting the
// model to compute the actual date arithmetic itself. An empty
// expr means unbounded and is not an error.
func resolveTimeExpression(expr string, now time.Time) (*types.TimeRange, error) {
	trimmed := strings.TrimSpace(expr)
	e := strings.ToLower(trimmed) // keyword matching only; date parsing uses trimmed to preserve RFC3339 case
	if e == "" {
		return nil, nil
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch e {
	case "today":
		return dayRange(today), nil
	case "yesterday":
		return dayRange(today.AddDate(0, 0, -1)), nil
	case "this week", "last week", "past week":
		// Week phrases resolve to the rolling seven days ending now, not a
		// calendar week: "conversations from last week" means the trailing
		// window [now-7d, now), the same reading "last N days" gets below.
		return &types.TimeRange{Start: now.AddDate(0, 0, -7), End: now}, nil
	case "this month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return &types.TimeRange{Start: start, End: start.AddDate(0, 1, 0)}, nil
	case "last month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		return &types.TimeRange{Start: start, End: start.AddDate(0, 1, 0)}, nil
	}

	if n, ok := parseLastNDays(e); ok {
		start := today.AddDate(0, 0, -n)
		return &types.TimeRange{Start: start, End: today.AddDate(0, 0, 1)}, nil
	}

	if tr, ok := parseExplicitRange(trimmed); ok {
		return tr, nil
	}

	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return dayRange(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())), nil
	}

	return nil, fmt.Errorf("unrecognized time expression %q", expr)
}

func dayRange(dayStart time.Time) *types.TimeRange {
	return &types.TimeRange{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}
}

// parseLastNDays matches "last N days" / "past N days".
func parseLastNDays(e string) (int, bool) {
	for _, prefix := range []string{"last ", "past "} {
		if !strings.HasPrefix(e, prefix) {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(e, prefix), " days")
		if rest == strings.TrimPrefix(e, prefix) {
			continue // no " days" suffix
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || n <= 0 {
			continue
		}
		return n, true
	}
	return 0, false
}

// parseExplicitRange matches two RFC3339 timestamps (or bare dates)
// separated by "to" or "..". Separator matching is case-insensitive but
// splitting preserves the original string's case so RFC3339's "T"/"Z"
// literals survive.
func parseExplicitRange(trimmed string) (*types.TimeRange, bool) {
	lower := strings.ToLower(trimmed)
	var sep string
	switch {
	case strings.Contains(lower, ".."):
		sep = ".."
	case strings.Contains(lower, " to "):
		sep = " to "
	default:
		return nil, false
	}
	idx := strings.Index(lower, sep)
	if idx < 0 {
		return nil, false
	}
	start, ok1 := parseDateOrTime(strings.TrimSpace(trimmed[:idx]))
	end, ok2 := parseDateOrTime(strings.TrimSpace(trimmed[idx+len(sep):]))
	if !ok1 || !ok2 {
		return nil, false
	}
	return &types.TimeRange{Start: start, End: end}, true
}

func parseDateOrTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
