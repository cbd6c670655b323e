package speaker

import (
	"testing"
	"time"

	"github.com/voicepane/voicepane/pkg/types"
)

func TestIdentifyByEmbedding(t *testing.T) {
	now := time.Now()
	known := []types.SpeakerProfile{
		{
			ID:                  "alice",
			DisplayName:         "Alice",
			VoiceEmbedding:      []float32{1, 0, 0},
			ConfidenceThreshold: 0.8,
			LastSeen:            now.Add(-time.Hour),
		},
		{
			ID:                  "bob",
			DisplayName:         "Bob",
			VoiceEmbedding:      []float32{0, 1, 0},
			ConfidenceThreshold: 0.8,
			LastSeen:            now,
		},
	}

	id := New()
	dec := id.Identify(IdentifyInput{VoiceEmbedding: []float32{1, 0, 0}}, known)
	if dec.Method != "embedding" || dec.SpeakerID != "alice" {
		t.Fatalf("expected alice by embedding, got %+v", dec)
	}
}

func TestIdentifyEmbeddingTieBreakByLastSeen(t *testing.T) {
	now := time.Now()
	known := []types.SpeakerProfile{
		{ID: "old", VoiceEmbedding: []float32{1, 0}, ConfidenceThreshold: 0.5, LastSeen: now.Add(-time.Hour)},
		{ID: "recent", VoiceEmbedding: []float32{1, 0}, ConfidenceThreshold: 0.5, LastSeen: now},
	}

	id := New()
	dec := id.Identify(IdentifyInput{VoiceEmbedding: []float32{1, 0}}, known)
	if dec.SpeakerID != "recent" {
		t.Fatalf("expected tie-break to favor most-recent LastSeen, got %q", dec.SpeakerID)
	}
}

func TestIdentifyByTextPattern(t *testing.T) {
	known := SeedDefaultProfiles(time.Now())
	id := New()

	dec := id.Identify(IdentifyInput{Text: "this is just some system audio playing"}, known)
	if dec.SpeakerID != SystemSpeakerID || dec.Method != "text_pattern" {
		t.Fatalf("expected system-audio match, got %+v", dec)
	}

	dec = id.Identify(IdentifyInput{Text: "hey siri what time is it"}, known)
	if dec.SpeakerID != AssistantSpeakerID {
		t.Fatalf("expected assistant match, got %+v", dec)
	}
}

func TestIdentifyByPhoneticName(t *testing.T) {
	known := []types.SpeakerProfile{
		{ID: "dana-id", DisplayName: "Dana"},
	}
	id := New()
	dec := id.Identify(IdentifyInput{Text: "hey dayna can you check this"}, known)
	if dec.SpeakerID != "dana-id" {
		t.Fatalf("expected phonetic match to dana-id, got %+v", dec)
	}
}

func TestIdentifyNewSpeaker(t *testing.T) {
	id := New()
	dec := id.Identify(IdentifyInput{Text: "completely unrelated words here"}, nil)
	if !dec.IsNew || dec.Method != "new" {
		t.Fatalf("expected new-speaker decision, got %+v", dec)
	}
}

func TestMergeUnionsPatternsAndSumsTotalTime(t *testing.T) {
	a := types.SpeakerProfile{
		ID:           "a",
		TextPatterns: []string{"hello"},
		TotalTime:    10 * time.Minute,
		FirstSeen:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:     time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	b := types.SpeakerProfile{
		ID:           "b",
		TextPatterns: []string{"hello", "goodbye"},
		TotalTime:    5 * time.Minute,
		FirstSeen:    time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:     time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
	}

	result := Merge(a, b)
	if result.Absorbed != "b" {
		t.Fatalf("expected absorbed id b, got %q", result.Absorbed)
	}
	if result.Survivor.TotalTime != 15*time.Minute {
		t.Fatalf("expected summed total time, got %v", result.Survivor.TotalTime)
	}
	if len(result.Survivor.TextPatterns) != 2 {
		t.Fatalf("expected deduped patterns, got %v", result.Survivor.TextPatterns)
	}
	if !result.Survivor.LastSeen.Equal(b.LastSeen) {
		t.Fatalf("expected LastSeen to take the later value")
	}
	if !result.Survivor.FirstSeen.Equal(b.FirstSeen) {
		t.Fatalf("expected FirstSeen to take the earlier value")
	}
}

func TestMergeAveragesEmbeddingsOfEqualLength(t *testing.T) {
	a := types.SpeakerProfile{ID: "a", VoiceEmbedding: []float32{1, 1}}
	b := types.SpeakerProfile{ID: "b", VoiceEmbedding: []float32{3, 3}}
	result := Merge(a, b)
	if result.Survivor.VoiceEmbedding[0] != 2 || result.Survivor.VoiceEmbedding[1] != 2 {
		t.Fatalf("expected averaged embedding [2 2], got %v", result.Survivor.VoiceEmbedding)
	}
}
