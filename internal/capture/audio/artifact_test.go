package audio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voicepane/voicepane/pkg/types"
)

func TestBuildArtifact(t *testing.T) {
	transcript := types.Transcript{
		Text:      "raw hello world",
		StartedAt: time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC),
		Words: []types.WordDetail{
			{Word: "hello", Start: 0, End: 500 * time.Millisecond, Confidence: 0.9},
			{Word: "world", Start: 500 * time.Millisecond, End: time.Second, Confidence: 0.8},
		},
		Language:       "en",
		ModelID:        "whisper.cpp/ggml-base.bin",
		ProcessingTime: 420 * time.Millisecond,
	}

	a := BuildArtifact(transcript, "hello world", "postprocess-v1", "sess-1", "Loopback", "spk-1", "BlackHole 2ch")

	if a.Text != "hello world" {
		t.Errorf("text = %q, want the cleaned text", a.Text)
	}
	if a.Language != "en" || a.ModelUsed != "whisper.cpp/ggml-base.bin" {
		t.Errorf("language/model = %q/%q", a.Language, a.ModelUsed)
	}
	if a.ProcessingTimeMs != 420 {
		t.Errorf("processing_time_ms = %d", a.ProcessingTimeMs)
	}
	if len(a.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(a.Segments))
	}
	if a.Segments[1].Start != 0.5 || a.Segments[1].End != 1.0 {
		t.Errorf("second segment span = [%v, %v]", a.Segments[1].Start, a.Segments[1].End)
	}
	meta := a.SessionMetadata
	if meta.SessionID != "sess-1" || meta.AudioSource != "Loopback" || meta.Speaker != "spk-1" {
		t.Errorf("session metadata = %+v", meta)
	}
	if meta.ConfigVersion != "postprocess-v1" {
		t.Errorf("config_version = %q", meta.ConfigVersion)
	}
	if meta.Timestamp != "2026-03-18T10:00:00Z" {
		t.Errorf("timestamp = %q", meta.Timestamp)
	}
}

func TestWriteArtifact_RoundTrips(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audio-captures")
	at := time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)

	a := BuildArtifact(types.Transcript{Language: "en", ModelID: "m"}, "text", "v1", "s1", "Microphone", "spk", "dev")
	path, err := WriteArtifact(dir, a, at)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Dir(path) != dir || !strings.HasSuffix(path, ".json") {
		t.Errorf("unexpected artifact path %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got SegmentArtifact
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SchemaVersion != artifactSchemaVersion {
		t.Errorf("schema_version = %d", got.SchemaVersion)
	}
	if got.Text != "text" || got.SessionMetadata.AudioSource != "Microphone" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestWriteArtifact_LeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	a := BuildArtifact(types.Transcript{}, "x", "v1", "s", "System", "", "")
	if _, err := WriteArtifact(dir, a, time.Now()); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".artifact-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one artifact file, got %d", len(entries))
	}
}
