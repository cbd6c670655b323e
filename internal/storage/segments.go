package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/pkg/types"
)

// InsertSegment persists a transcript segment. Writes to this table are the
// exclusive province of the audio capture daemon; the ANN
// index is updated in the same call so semantic search stays consistent
// with what was just written.
func (s *Store) InsertSegment(ctx context.Context, seg types.TranscriptSegment) error {
	const q = `
		INSERT INTO transcript_segments
		    (id, conversation_id, speaker_id, text, raw_text, confidence,
		     started_at, ended_at, config_version, semantic_embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		seg.ID, seg.ConversationID, seg.SpeakerID, seg.Text, seg.RawText, seg.Confidence,
		seg.StartedAt.UnixMilli(), seg.EndedAt.UnixMilli(), seg.ConfigVersion,
		float32ToBytes(seg.SemanticVector),
	)
	if err != nil {
		return fmt.Errorf("storage: insert segment: %w: %w", errkind.StorageFailure, err)
	}

	if s.ann != nil && len(seg.SemanticVector) > 0 {
		s.ann.Add(seg.ID, seg.SemanticVector)
	}
	return nil
}

// SegmentFilter narrows a segment query. Zero values are unbounded.
type SegmentFilter struct {
	ConversationID string
	SpeakerID      string
	StartedAfter   int64 // unix millis
	StartedBefore  int64 // unix millis
	Limit          int
}

// FindSegments returns segments matching filter, ordered by StartedAt
// ascending, honoring per-row "dangling reference" handling: a segment
// referencing a conversation or speaker that no longer exists is still
// returned (the capture-path FIFO eviction never deletes database
// rows), so callers must treat empty ConversationID/SpeakerID
// joins as expected rather than corrupt.
func (s *Store) FindSegments(ctx context.Context, filter SegmentFilter) ([]types.TranscriptSegment, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	var conds []string
	var args []any
	if filter.ConversationID != "" {
		conds = append(conds, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.SpeakerID != "" {
		conds = append(conds, "speaker_id = ?")
		args = append(args, filter.SpeakerID)
	}
	if filter.StartedAfter != 0 {
		conds = append(conds, "started_at >= ?")
		args = append(args, filter.StartedAfter)
	}
	if filter.StartedBefore != 0 {
		conds = append(conds, "started_at < ?")
		args = append(args, filter.StartedBefore)
	}

	q := `SELECT id, conversation_id, speaker_id, text, raw_text, confidence,
	             started_at, ended_at, config_version, semantic_embedding
	      FROM transcript_segments`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY started_at"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: find segments: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()
	return scanSegments(rows)
}

// SearchSegmentsFTS runs a full-text search over the segment text column via
// the transcript_segments_fts virtual table.
func (s *Store) SearchSegmentsFTS(ctx context.Context, query string, limit int) ([]types.TranscriptSegment, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}

	const q = `
		SELECT ts.id, ts.conversation_id, ts.speaker_id, ts.text, ts.raw_text, ts.confidence,
		       ts.started_at, ts.ended_at, ts.config_version, ts.semantic_embedding
		FROM   transcript_segments_fts
		JOIN   transcript_segments ts ON ts.rowid = transcript_segments_fts.rowid
		WHERE  transcript_segments_fts MATCH ?
		ORDER  BY rank
		LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search segments: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()
	return scanSegments(rows)
}

// SemanticSearchSegments returns the segment ids nearest to query in
// embedding space via the ANN index, or errkind.DependencyUnavailable if
// the ANN index is disabled.
func (s *Store) SemanticSearchSegments(ctx context.Context, query []float32, k int) ([]string, error) {
	if s.ann == nil {
		return nil, fmt.Errorf("storage: semantic search: %w", errkind.DependencyUnavailable)
	}
	return s.ann.Search(query, k), nil
}

// GetSegmentsByIDs returns the segments named in ids, in no particular
// order, skipping any id that no longer resolves to a row (the capture-path
// FIFO eviction never deletes these rows, but a caller may still pass
// a stale id from an external reference). Used by the query executor to
// materialize full segment records from the bare ids [Store.SemanticSearchSegments]
// returns.
func (s *Store) GetSegmentsByIDs(ctx context.Context, ids []string) ([]types.TranscriptSegment, error) {
	if len(ids) == 0 {
		return []types.TranscriptSegment{}, nil
	}
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	q := fmt.Sprintf(`SELECT id, conversation_id, speaker_id, text, raw_text, confidence,
	             started_at, ended_at, config_version, semantic_embedding
	      FROM transcript_segments WHERE id IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: get segments by ids: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()
	return scanSegments(rows)
}

func scanSegments(rows *sql.Rows) ([]types.TranscriptSegment, error) {
	var out []types.TranscriptSegment
	for rows.Next() {
		var (
			seg                   types.TranscriptSegment
			startedMS, endedMS    int64
			embedding             []byte
		)
		if err := rows.Scan(
			&seg.ID, &seg.ConversationID, &seg.SpeakerID, &seg.Text, &seg.RawText, &seg.Confidence,
			&startedMS, &endedMS, &seg.ConfigVersion, &embedding,
		); err != nil {
			return nil, fmt.Errorf("storage: scan segment: %w: %w", errkind.StorageFailure, err)
		}
		seg.StartedAt = msToTime(startedMS)
		seg.EndedAt = msToTime(endedMS)
		seg.SemanticVector = bytesToFloat32(embedding)
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan segments: %w: %w", errkind.StorageFailure, err)
	}
	if out == nil {
		out = []types.TranscriptSegment{}
	}
	return out, nil
}
