package storage

import (
	"context"
	"fmt"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/pkg/types"
)

// InsertFrame persists a captured screenshot row.
func (s *Store) InsertFrame(ctx context.Context, f types.CapturedFrame) error {
	const q = `
		INSERT INTO captured_frames (id, path, captured_at, perceptual_hash, change_score, foreground_app)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, f.ID, f.Path, f.CapturedAt.UnixMilli(), int64(f.PerceptualHash), f.ChangeScore, f.ForegroundApp)
	if err != nil {
		return fmt.Errorf("storage: insert frame: %w: %w", errkind.StorageFailure, err)
	}
	return nil
}

// InsertExtractions persists the OCR results for one frame.
func (s *Store) InsertExtractions(ctx context.Context, extractions []types.TextExtraction) error {
	if len(extractions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: insert extractions: begin: %w: %w", errkind.StorageFailure, err)
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO text_extractions
		    (id, frame_id, region_x0, region_y0, region_x1, region_y1, text, confidence, region_hash, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, e := range extractions {
		if _, err := tx.ExecContext(ctx, q,
			e.ID, e.FrameID, e.Region[0], e.Region[1], e.Region[2], e.Region[3],
			e.Text, e.Confidence, int64(e.RegionHash), e.ExtractedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("storage: insert extraction: %w: %w", errkind.StorageFailure, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: insert extractions: commit: %w: %w", errkind.StorageFailure, err)
	}
	return nil
}

// InsertVisualContext persists a classifier record and its detected tasks.
func (s *Store) InsertVisualContext(ctx context.Context, v types.VisualContextRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: insert visual context: begin: %w: %w", errkind.StorageFailure, err)
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO visual_context_records (id, frame_id, foreground_app, activity, classified_at)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, v.ID, v.FrameID, v.ForegroundApp, v.Activity, v.ClassifiedAt.UnixMilli()); err != nil {
		return fmt.Errorf("storage: insert visual context: %w: %w", errkind.StorageFailure, err)
	}

	const taskQ = `
		INSERT INTO detected_tasks (id, visual_context_id, kind, summary, detail, confidence, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, t := range v.DetectedTasks {
		if _, err := tx.ExecContext(ctx, taskQ, t.ID, v.ID, t.Kind, t.Summary, t.Detail, t.Confidence, t.DetectedAt.UnixMilli()); err != nil {
			return fmt.Errorf("storage: insert detected task: %w: %w", errkind.StorageFailure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: insert visual context: commit: %w: %w", errkind.StorageFailure, err)
	}
	return nil
}

// GetFrame returns the captured-frame row for id. The caller is
// responsible for checking whether f.Path still exists on disk:
// ring-buffer eviction never deletes this row, so
// a returned frame whose file has been evicted is expected, not corrupt.
func (s *Store) GetFrame(ctx context.Context, id string) (types.CapturedFrame, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	const q = `SELECT id, path, captured_at, perceptual_hash, change_score, foreground_app FROM captured_frames WHERE id = ?`
	var f types.CapturedFrame
	var capturedMS int64
	var perceptualHash int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&f.ID, &f.Path, &capturedMS, &perceptualHash, &f.ChangeScore, &f.ForegroundApp)
	if err != nil {
		return types.CapturedFrame{}, err
	}
	f.CapturedAt = msToTime(capturedMS)
	f.PerceptualHash = uint64(perceptualHash)
	return f, nil
}

// GetExtractionsByFrame returns every OCR extraction for frameID.
func (s *Store) GetExtractionsByFrame(ctx context.Context, frameID string) ([]types.TextExtraction, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	const q = `
		SELECT id, frame_id, region_x0, region_y0, region_x1, region_y1, text, confidence, region_hash, extracted_at
		FROM   text_extractions
		WHERE  frame_id = ?`
	rows, err := s.db.QueryContext(ctx, q, frameID)
	if err != nil {
		return nil, fmt.Errorf("storage: get extractions: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()

	var out []types.TextExtraction
	for rows.Next() {
		var e types.TextExtraction
		var regionHash int64
		var extractedMS int64
		if err := rows.Scan(&e.ID, &e.FrameID, &e.Region[0], &e.Region[1], &e.Region[2], &e.Region[3],
			&e.Text, &e.Confidence, &regionHash, &extractedMS); err != nil {
			return nil, fmt.Errorf("storage: scan extraction: %w: %w", errkind.StorageFailure, err)
		}
		e.RegionHash = uint64(regionHash)
		e.ExtractedAt = msToTime(extractedMS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan extractions: %w: %w", errkind.StorageFailure, err)
	}
	if out == nil {
		out = []types.TextExtraction{}
	}
	return out, nil
}

// FindFrames returns captured frames with CapturedAt strictly after
// afterMillis (unix millis), ordered ascending, for the correlator's
// background feed in cmd/queryd: "everything ingested since the last run"
// (internal/correlator.Correlator.Correlate's contract).
func (s *Store) FindFrames(ctx context.Context, afterMillis int64, limit int) ([]types.CapturedFrame, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 500
	}

	const q = `
		SELECT id, path, captured_at, perceptual_hash, change_score, foreground_app
		FROM   captured_frames
		WHERE  captured_at > ?
		ORDER  BY captured_at ASC
		LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, afterMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: find frames: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()

	var out []types.CapturedFrame
	for rows.Next() {
		var f types.CapturedFrame
		var capturedMS int64
		var perceptualHash int64
		if err := rows.Scan(&f.ID, &f.Path, &capturedMS, &perceptualHash, &f.ChangeScore, &f.ForegroundApp); err != nil {
			return nil, fmt.Errorf("storage: scan frame: %w: %w", errkind.StorageFailure, err)
		}
		f.CapturedAt = msToTime(capturedMS)
		f.PerceptualHash = uint64(perceptualHash)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan frames: %w: %w", errkind.StorageFailure, err)
	}
	if out == nil {
		out = []types.CapturedFrame{}
	}
	return out, nil
}

// FindVisualContextsSince returns classifier records with ClassifiedAt
// strictly after afterMillis, ordered ascending, without their detected
// tasks (the correlator only needs FrameID/ID/ClassifiedAt to build a
// [correlator.VideoEvent]; callers after richer detail should use
// GetFrame/GetExtractionsByFrame instead).
func (s *Store) FindVisualContextsSince(ctx context.Context, afterMillis int64, limit int) ([]types.VisualContextRecord, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 500
	}

	const q = `
		SELECT id, frame_id, foreground_app, activity, classified_at
		FROM   visual_context_records
		WHERE  classified_at > ?
		ORDER  BY classified_at ASC
		LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, afterMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: find visual contexts: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()

	var out []types.VisualContextRecord
	for rows.Next() {
		var v types.VisualContextRecord
		var classifiedMS int64
		if err := rows.Scan(&v.ID, &v.FrameID, &v.ForegroundApp, &v.Activity, &classifiedMS); err != nil {
			return nil, fmt.Errorf("storage: scan visual context: %w: %w", errkind.StorageFailure, err)
		}
		v.ClassifiedAt = msToTime(classifiedMS)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan visual contexts: %w: %w", errkind.StorageFailure, err)
	}
	if out == nil {
		out = []types.VisualContextRecord{}
	}
	return out, nil
}

// SearchExtractionsFTS runs a full-text search over OCR text.
func (s *Store) SearchExtractionsFTS(ctx context.Context, query string, limit int) ([]types.TextExtraction, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}

	const q = `
		SELECT te.id, te.frame_id, te.region_x0, te.region_y0, te.region_x1, te.region_y1,
		       te.text, te.confidence, te.region_hash, te.extracted_at
		FROM   text_extractions_fts
		JOIN   text_extractions te ON te.rowid = text_extractions_fts.rowid
		WHERE  text_extractions_fts MATCH ?
		ORDER  BY rank
		LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search extractions: %w: %w", errkind.StorageFailure, err)
	}
	defer rows.Close()

	var out []types.TextExtraction
	for rows.Next() {
		var e types.TextExtraction
		var regionHash, extractedMS int64
		if err := rows.Scan(&e.ID, &e.FrameID, &e.Region[0], &e.Region[1], &e.Region[2], &e.Region[3],
			&e.Text, &e.Confidence, &regionHash, &extractedMS); err != nil {
			return nil, fmt.Errorf("storage: scan extraction: %w: %w", errkind.StorageFailure, err)
		}
		e.RegionHash = uint64(regionHash)
		e.ExtractedAt = msToTime(extractedMS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan extractions: %w: %w", errkind.StorageFailure, err)
	}
	if out == nil {
		out = []types.TextExtraction{}
	}
	return out, nil
}
