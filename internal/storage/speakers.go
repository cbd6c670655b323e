package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/pkg/types"
)

// UpsertSpeaker inserts or replaces a speaker profile row.
func (s *Store) UpsertSpeaker(ctx context.Context, p types.SpeakerProfile) error {
	const q = `
		INSERT INTO speakers
		    (id, display_name, voice_embedding, text_patterns, confidence_threshold,
		     total_time_ns, first_seen, last_seen, merged_into)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    display_name = excluded.display_name,
		    voice_embedding = excluded.voice_embedding,
		    text_patterns = excluded.text_patterns,
		    confidence_threshold = excluded.confidence_threshold,
		    total_time_ns = excluded.total_time_ns,
		    first_seen = excluded.first_seen,
		    last_seen = excluded.last_seen,
		    merged_into = excluded.merged_into`

	_, err := s.db.ExecContext(ctx, q,
		p.ID,
		p.DisplayName,
		float32ToBytes(p.VoiceEmbedding),
		encodeStringSlice(p.TextPatterns),
		p.ConfidenceThreshold,
		p.TotalTime.Nanoseconds(),
		p.FirstSeen.UnixMilli(),
		p.LastSeen.UnixMilli(),
		p.MergedInto,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert speaker: %w: %w", errkind.StorageFailure, err)
	}
	return nil
}

// ListSpeakers returns every non-merged speaker profile.
func (s *Store) ListSpeakers(ctx context.Context) ([]types.SpeakerProfile, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	const q = `
		SELECT id, display_name, voice_embedding, text_patterns, confidence_threshold,
		       total_time_ns, first_seen, last_seen, merged_into
		FROM   speakers
		WHERE  merged_into = ''`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: list speakers: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()
	return scanSpeakers(rows)
}

// GetSpeaker returns the speaker profile with the given id, or
// sql.ErrNoRows if it does not exist.
func (s *Store) GetSpeaker(ctx context.Context, id string) (types.SpeakerProfile, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	const q = `
		SELECT id, display_name, voice_embedding, text_patterns, confidence_threshold,
		       total_time_ns, first_seen, last_seen, merged_into
		FROM   speakers
		WHERE  id = ?`

	row := s.db.QueryRowContext(ctx, q, id)
	p, err := scanSpeakerRow(row)
	if err != nil {
		return types.SpeakerProfile{}, err
	}
	return p, nil
}

// MergeSpeakers persists the result of [speaker.Merge]: writes survivor
// under its own id, rewrites every transcript_segments row referencing the
// absorbed id to reference survivor.ID instead, and marks the absorbed
// speaker row with merged_into so it is excluded from future ListSpeakers
// calls.
func (s *Store) MergeSpeakers(ctx context.Context, survivor types.SpeakerProfile, absorbedID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: merge speakers: begin: %w: %w", errkind.StorageFailure, err)
	}
	defer tx.Rollback()

	const updateSegments = `UPDATE transcript_segments SET speaker_id = ? WHERE speaker_id = ?`
	if _, err := tx.ExecContext(ctx, updateSegments, survivor.ID, absorbedID); err != nil {
		return fmt.Errorf("storage: merge speakers: rewrite segments: %w: %w", errkind.StorageFailure, err)
	}

	const upsert = `
		INSERT INTO speakers
		    (id, display_name, voice_embedding, text_patterns, confidence_threshold,
		     total_time_ns, first_seen, last_seen, merged_into)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '')
		ON CONFLICT (id) DO UPDATE SET
		    display_name = excluded.display_name,
		    voice_embedding = excluded.voice_embedding,
		    text_patterns = excluded.text_patterns,
		    confidence_threshold = excluded.confidence_threshold,
		    total_time_ns = excluded.total_time_ns,
		    first_seen = excluded.first_seen,
		    last_seen = excluded.last_seen`
	if _, err := tx.ExecContext(ctx, upsert,
		survivor.ID, survivor.DisplayName, float32ToBytes(survivor.VoiceEmbedding),
		encodeStringSlice(survivor.TextPatterns), survivor.ConfidenceThreshold,
		survivor.TotalTime.Nanoseconds(), survivor.FirstSeen.UnixMilli(), survivor.LastSeen.UnixMilli(),
	); err != nil {
		return fmt.Errorf("storage: merge speakers: upsert survivor: %w: %w", errkind.StorageFailure, err)
	}

	const markAbsorbed = `UPDATE speakers SET merged_into = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, markAbsorbed, survivor.ID, absorbedID); err != nil {
		return fmt.Errorf("storage: merge speakers: mark absorbed: %w: %w", errkind.StorageFailure, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: merge speakers: commit: %w: %w", errkind.StorageFailure, err)
	}
	return nil
}

type scannableRow interface {
	Scan(dest ...any) error
}

func scanSpeakerRow(row scannableRow) (types.SpeakerProfile, error) {
	var (
		p                    types.SpeakerProfile
		embedding            []byte
		patterns             string
		totalTimeNS          int64
		firstSeenMS, lastSeenMS int64
	)
	if err := row.Scan(
		&p.ID, &p.DisplayName, &embedding, &patterns, &p.ConfidenceThreshold,
		&totalTimeNS, &firstSeenMS, &lastSeenMS, &p.MergedInto,
	); err != nil {
		if err == sql.ErrNoRows {
			return types.SpeakerProfile{}, err
		}
		return types.SpeakerProfile{}, fmt.Errorf("storage: scan speaker: %w: %w", errkind.StorageFailure, err)
	}
	p.VoiceEmbedding = bytesToFloat32(embedding)
	p.TextPatterns = decodeStringSlice(patterns)
	p.TotalTime = nsToDuration(totalTimeNS)
	p.FirstSeen = msToTime(firstSeenMS)
	p.LastSeen = msToTime(lastSeenMS)
	return p, nil
}

func scanSpeakers(rows *sql.Rows) ([]types.SpeakerProfile, error) {
	var out []types.SpeakerProfile
	for rows.Next() {
		p, err := scanSpeakerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan speakers: %w: %w", errkind.StorageFailure, err)
	}
	if out == nil {
		out = []types.SpeakerProfile{}
	}
	return out, nil
}
