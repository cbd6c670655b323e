// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Unlike a live streaming transcription service, an STT provider here
// operates on finite audio sample batches produced by the capture daemon's
// voice-activity boundaries: the caller hands over one bounded
// [types.AudioSampleBatch] and receives one [types.Transcript]. This keeps
// the boundary between "when did someone start/stop talking" (owned by the
// capture layer and its VAD engine) and "what did they say" (owned by this
// package) cleanly separated.
//
// Implementations must be safe for concurrent use; a single Provider value
// may be invoked from multiple goroutines concurrently.
package stt

import (
	"context"

	"github.com/voicepane/voicepane/pkg/types"
)

// TranscribeConfig carries recognition hints for a single Transcribe call.
type TranscribeConfig struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if
	// supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words (proper nouns, project-specific jargon).
	Keywords []string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognizes the speech contained in batch and returns the
	// resulting transcript. Returns an error wrapping
	// errkind.DependencyUnavailable if the backend cannot be reached, or
	// errkind.InputCorrupt if batch is malformed (wrong channel count,
	// empty sample slice).
	Transcribe(ctx context.Context, batch types.AudioSampleBatch, cfg TranscribeConfig) (types.Transcript, error)
}
