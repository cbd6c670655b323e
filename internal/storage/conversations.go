package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/pkg/types"
)

// UpsertConversation inserts or updates a conversation row.
func (s *Store) UpsertConversation(ctx context.Context, c types.Conversation) error {
	const q = `
		INSERT INTO conversations (id, started_at, ended_at, topic)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    ended_at = excluded.ended_at,
		    topic = excluded.topic`

	_, err := s.db.ExecContext(ctx, q, c.ID, c.StartedAt.UnixMilli(), c.EndedAt.UnixMilli(), c.Topic)
	if err != nil {
		return fmt.Errorf("storage: upsert conversation: %w: %w", errkind.StorageFailure, err)
	}
	return nil
}

// GetConversation returns the conversation with the given id, along with
// the ids of its segments (derived from transcript_segments rather than a
// denormalized column, since segments are inserted independently by the
// audio daemon).
func (s *Store) GetConversation(ctx context.Context, id string) (types.Conversation, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	const q = `SELECT id, started_at, ended_at, topic FROM conversations WHERE id = ?`
	var c types.Conversation
	var startedMS, endedMS int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &startedMS, &endedMS, &c.Topic)
	if err == sql.ErrNoRows {
		return types.Conversation{}, err
	}
	if err != nil {
		return types.Conversation{}, fmt.Errorf("storage: get conversation: %w: %w", errkind.StorageFailure, err)
	}
	c.StartedAt = msToTime(startedMS)
	c.EndedAt = msToTime(endedMS)

	segRows, err := s.db.QueryContext(ctx, `SELECT id FROM transcript_segments WHERE conversation_id = ? ORDER BY started_at`, id)
	if err != nil {
		return types.Conversation{}, fmt.Errorf("storage: get conversation segments: %w: %w", errkind.StorageFailure, err)
	}
	defer segRows.Close()
	for segRows.Next() {
		var segID string
		if err := segRows.Scan(&segID); err != nil {
			return types.Conversation{}, fmt.Errorf("storage: scan conversation segment id: %w", err)
		}
		c.SegmentIDs = append(c.SegmentIDs, segID)
	}
	return c, segRows.Err()
}

// FindConversations returns conversations overlapping [after, before)
// (zero bounds are unbounded), ordered by StartedAt ascending.
func (s *Store) FindConversations(ctx context.Context, afterMillis, beforeMillis int64, limit int) ([]types.Conversation, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	q := `SELECT id, started_at, ended_at, topic FROM conversations WHERE 1=1`
	var args []any
	if afterMillis != 0 {
		q += " AND started_at >= ?"
		args = append(args, afterMillis)
	}
	if beforeMillis != 0 {
		q += " AND started_at < ?"
		args = append(args, beforeMillis)
	}
	q += " ORDER BY started_at"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: find conversations: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()

	var out []types.Conversation
	for rows.Next() {
		var c types.Conversation
		var startedMS, endedMS int64
		if err := rows.Scan(&c.ID, &startedMS, &endedMS, &c.Topic); err != nil {
			return nil, fmt.Errorf("storage: scan conversation: %w: %w", errkind.StorageFailure, err)
		}
		c.StartedAt = msToTime(startedMS)
		c.EndedAt = msToTime(endedMS)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan conversations: %w: %w", errkind.StorageFailure, err)
	}
	if out == nil {
		out = []types.Conversation{}
	}
	return out, nil
}
