package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/pkg/types"
)

// AppendTimelineEvents implements [internal/correlator.Sink]. The
// correlator is the exclusive writer of this table.
func (s *Store) AppendTimelineEvents(ctx context.Context, events []types.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: append timeline events: begin: %w: %w", errkind.StorageFailure, err)
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO timeline_events
		    (id, occurred_at, transcript_seg_id, frame_id, visual_context_id, clock_offset_millis)
		VALUES (?, ?, ?, ?, ?, ?)`
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, q, e.ID, e.OccurredAt.UnixMilli(), e.TranscriptSegID, e.FrameID, e.VisualContextID, e.ClockOffsetMillis); err != nil {
			return fmt.Errorf("storage: append timeline event: %w: %w", errkind.StorageFailure, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: append timeline events: commit: %w: %w", errkind.StorageFailure, err)
	}
	return nil
}

// RecordClockOffset implements [internal/correlator.Sink].
func (s *Store) RecordClockOffset(ctx context.Context, sessionID string, offsetMillis int64) error {
	const q = `
		INSERT INTO session_clock_offsets (session_id, offset_millis, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
		    offset_millis = excluded.offset_millis,
		    updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q, sessionID, offsetMillis, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("storage: record clock offset: %w: %w", errkind.StorageFailure, err)
	}
	return nil
}

// GetClockOffset returns the stored offset for sessionID, or 0 if none is
// recorded yet.
func (s *Store) GetClockOffset(ctx context.Context, sessionID string) (int64, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	var offset int64
	err := s.db.QueryRowContext(ctx, `SELECT offset_millis FROM session_clock_offsets WHERE session_id = ?`, sessionID).Scan(&offset)
	if err != nil {
		return 0, nil
	}
	return offset, nil
}

// FindTimelineEvents returns timeline rows in [after, before), ordered by
// OccurredAt, so a correlated query never needs to scan the raw tables
// directly.
func (s *Store) FindTimelineEvents(ctx context.Context, afterMillis, beforeMillis int64, limit int) ([]types.TimelineEvent, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	q := `SELECT id, occurred_at, transcript_seg_id, frame_id, visual_context_id, clock_offset_millis FROM timeline_events WHERE 1=1`
	var args []any
	if afterMillis != 0 {
		q += " AND occurred_at >= ?"
		args = append(args, afterMillis)
	}
	if beforeMillis != 0 {
		q += " AND occurred_at < ?"
		args = append(args, beforeMillis)
	}
	q += " ORDER BY occurred_at"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: find timeline events: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()

	var out []types.TimelineEvent
	for rows.Next() {
		var e types.TimelineEvent
		var occurredMS int64
		if err := rows.Scan(&e.ID, &occurredMS, &e.TranscriptSegID, &e.FrameID, &e.VisualContextID, &e.ClockOffsetMillis); err != nil {
			return nil, fmt.Errorf("storage: scan timeline event: %w: %w", errkind.StorageFailure, err)
		}
		e.OccurredAt = msToTime(occurredMS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan timeline events: %w: %w", errkind.StorageFailure, err)
	}
	if out == nil {
		out = []types.TimelineEvent{}
	}
	return out, nil
}
