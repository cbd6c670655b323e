package audio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/pkg/types"
)

// artifactSchemaVersion stamps every on-disk segment artifact so later
// readers can tell which shape they are looking at.
const artifactSchemaVersion = 1

// SegmentArtifact is the on-disk JSON written once per completed audio
// segment into the audio-captures directory. It is a first-class,
// versioned schema: SchemaVersion covers the artifact layout itself, and
// SessionMetadata.ConfigVersion records which post-processing ruleset
// produced the text, so re-running post-processing is decidable from the
// artifact alone.
type SegmentArtifact struct {
	SchemaVersion    int               `json:"schema_version"`
	Text             string            `json:"text"`
	Language         string            `json:"language"`
	Segments         []ArtifactSegment `json:"segments"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	ModelUsed        string            `json:"model_used"`
	SessionMetadata  SessionMetadata   `json:"session_metadata"`
}

// ArtifactSegment is one timed span within the segment's transcript.
type ArtifactSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// SessionMetadata identifies the capture session that produced an artifact.
type SessionMetadata struct {
	SessionID     string `json:"session_id"`
	Timestamp     string `json:"timestamp"` // RFC 3339
	AudioSource   string `json:"audio_source"`
	Speaker       string `json:"speaker"`
	DeviceInfo    string `json:"device_info"`
	ConfigVersion string `json:"config_version"`
}

// BuildArtifact assembles the artifact for one transcribed batch.
// transcript carries the provider's raw output (word timings, language,
// model); cleanedText and configVersion come from the post-processor; the
// remaining fields identify the session.
func BuildArtifact(transcript types.Transcript, cleanedText, configVersion, sessionID, source, speaker, deviceInfo string) SegmentArtifact {
	segments := make([]ArtifactSegment, 0, len(transcript.Words))
	for _, w := range transcript.Words {
		segments = append(segments, ArtifactSegment{
			Text:       w.Word,
			Start:      w.Start.Seconds(),
			End:        w.End.Seconds(),
			Confidence: w.Confidence,
		})
	}
	return SegmentArtifact{
		SchemaVersion:    artifactSchemaVersion,
		Text:             cleanedText,
		Language:         transcript.Language,
		Segments:         segments,
		ProcessingTimeMs: transcript.ProcessingTime.Milliseconds(),
		ModelUsed:        transcript.ModelID,
		SessionMetadata: SessionMetadata{
			SessionID:     sessionID,
			Timestamp:     transcript.StartedAt.Format(time.RFC3339),
			AudioSource:   source,
			Speaker:       speaker,
			DeviceInfo:    deviceInfo,
			ConfigVersion: configVersion,
		},
	}
}

// WriteArtifact persists a to dir as <unix-nano>.json, creating dir if
// needed, and returns the written path. The write is atomic
// (temp-file-then-rename) so the ring-buffer evictor never observes a
// half-written artifact.
func WriteArtifact(dir string, a SegmentArtifact, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("capture/audio: artifact dir: %w: %w", errkind.StorageFailure, err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("capture/audio: encode artifact: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.json", at.UnixNano()))
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("capture/audio: artifact temp file: %w: %w", errkind.StorageFailure, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("capture/audio: write artifact: %w: %w", errkind.StorageFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("capture/audio: close artifact: %w: %w", errkind.StorageFailure, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("capture/audio: publish artifact: %w: %w", errkind.StorageFailure, err)
	}
	return path, nil
}
