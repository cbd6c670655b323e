package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/pkg/types"
)

// AppendQueryFeedback is the one write the query service is permitted to
// make to an otherwise read-only store.
func (s *Store) AppendQueryFeedback(ctx context.Context, fb types.QueryFeedback) error {
	structured, err := json.Marshal(fb.Structured)
	if err != nil {
		return fmt.Errorf("storage: marshal structured query: %w", err)
	}
	var correction []byte
	if fb.CorrectedQuery != nil {
		correction, err = json.Marshal(fb.CorrectedQuery)
		if err != nil {
			return fmt.Errorf("storage: marshal corrected query: %w", err)
		}
	}

	const q = `
		INSERT INTO query_feedback
		    (id, session_id, nl_query, structured_query_json, feedback, correction_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q, fb.ID, fb.SessionID, fb.NLQuery, string(structured), fb.Feedback, string(correction), fb.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("storage: append query feedback: %w: %w", errkind.StorageFailure, err)
	}
	return nil
}

// RecentFeedback returns the most recent feedback rows for the given
// session, newest first, used by the query planner's feedback-learning step.
func (s *Store) RecentFeedback(ctx context.Context, sessionID string, limit int) ([]types.QueryFeedback, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 20
	}

	const q = `
		SELECT id, session_id, nl_query, structured_query_json, feedback, correction_json, created_at
		FROM   query_feedback
		WHERE  session_id = ?
		ORDER  BY created_at DESC
		LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent feedback: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()

	var out []types.QueryFeedback
	for rows.Next() {
		var fb types.QueryFeedback
		var structuredJSON, correctionJSON string
		var createdMS int64
		if err := rows.Scan(&fb.ID, &fb.SessionID, &fb.NLQuery, &structuredJSON, &fb.Feedback, &correctionJSON, &createdMS); err != nil {
			return nil, fmt.Errorf("storage: scan feedback: %w: %w", errkind.StorageFailure, err)
		}
		if err := json.Unmarshal([]byte(structuredJSON), &fb.Structured); err != nil {
			return nil, fmt.Errorf("storage: unmarshal structured query: %w", err)
		}
		if correctionJSON != "" {
			var corrected types.StructuredQuery
			if err := json.Unmarshal([]byte(correctionJSON), &corrected); err != nil {
				return nil, fmt.Errorf("storage: unmarshal corrected query: %w", err)
			}
			fb.CorrectedQuery = &corrected
		}
		fb.CreatedAt = msToTime(createdMS)
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan feedback rows: %w: %w", errkind.StorageFailure, err)
	}
	if out == nil {
		out = []types.QueryFeedback{}
	}
	return out, nil
}
