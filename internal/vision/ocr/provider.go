// Package ocr defines the Provider interface for OCR backends invoked by the
// OCR Engine Adapter.
//
// A Provider operates on one stored [types.CapturedFrame] at a time and
// returns the set of text regions found in it. Region-level caching (reusing
// prior extractions for regions that have been visually stable long
// enough) is the caller's responsibility, not the Provider's — this
// keeps backend implementations simple pixels-in/text-out adapters.
//
// Implementations must be safe for concurrent use.
package ocr

import (
	"context"

	"github.com/voicepane/voicepane/pkg/types"
)

// Region describes a rectangular area of a frame to recognize, in absolute
// pixel coordinates [x0, y0, x1, y1]. A nil Regions slice in [ExtractRequest]
// means "recognize the whole frame as a single region".
type Region = [4]int

// ExtractRequest carries one frame's OCR work.
type ExtractRequest struct {
	// FrameID identifies the source frame, copied onto every resulting
	// [types.TextExtraction].
	FrameID string

	// ImagePath is the path to the stored frame image on disk.
	ImagePath string

	// Regions restricts recognition to these sub-rectangles. When empty,
	// the provider recognizes the entire frame.
	Regions []Region
}

// Provider is the abstraction over any OCR backend.
type Provider interface {
	// Extract recognizes text in the frame described by req and returns one
	// [types.TextExtraction] per recognized text block.
	//
	// Per-region failures (a region the backend could not process) are
	// reported by omitting that region from the result, not by returning an
	// error — only a whole-frame failure (the image is unreadable, or the
	// backend is unreachable) returns a non-nil error wrapping
	// errkind.DependencyUnavailable or errkind.InputCorrupt.
	Extract(ctx context.Context, req ExtractRequest) ([]types.TextExtraction, error)
}
