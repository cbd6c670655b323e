// Package speaker implements the speaker identifier: two
// identification paths tried in order — voice-embedding cosine similarity,
// then text-pattern matching — with new-speaker creation on a miss, and an
// administrative merge operation that unions two profiles' embeddings and
// patterns under the surviving id.
//
// This package is storage-agnostic: it operates on in-memory
// [types.SpeakerProfile] values supplied by the caller (typically loaded
// from internal/storage) and returns a decision; persisting the result
// (updating LastSeen/TotalTime, rewriting segment references on merge) is
// the caller's responsibility — only the capture daemons and the storage
// engine write speaker rows.
package speaker

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/voicepane/voicepane/internal/speaker/phonetic"
	"github.com/voicepane/voicepane/pkg/types"
)

// DefaultSystemAudioPatterns are the default text patterns recognizing
// system/media audio, not a human speaker.
var DefaultSystemAudioPatterns = []string{
	"system audio",
	"background music",
	"notification sound",
}

// DefaultAssistantPatterns are the default text patterns recognizing
// voice-assistant wake words/commands.
var DefaultAssistantPatterns = []string{
	"hey siri",
	"ok google",
	"hey google",
	"alexa",
}

// SystemSpeakerID and AssistantSpeakerID are the well-known speaker ids
// seeded with the default patterns above for system audio and
// voice-assistant command utterances.
const (
	SystemSpeakerID    = "speaker-system-audio"
	AssistantSpeakerID = "speaker-voice-assistant"
)

// SeedDefaultProfiles returns the two built-in profiles an identifier should
// always have available, even before any real speaker has been seen.
func SeedDefaultProfiles(now time.Time) []types.SpeakerProfile {
	return []types.SpeakerProfile{
		{
			ID:                  SystemSpeakerID,
			DisplayName:         "System Audio",
			TextPatterns:        DefaultSystemAudioPatterns,
			ConfidenceThreshold: 0.80,
			FirstSeen:           now,
			LastSeen:            now,
		},
		{
			ID:                  AssistantSpeakerID,
			DisplayName:         "Voice Assistant",
			TextPatterns:        DefaultAssistantPatterns,
			ConfidenceThreshold: 0.80,
			FirstSeen:           now,
			LastSeen:            now,
		},
	}
}

// IdentifyInput carries the evidence available for one segment.
type IdentifyInput struct {
	// VoiceEmbedding is the segment's voice embedding vector, if one could
	// be computed. May be nil.
	VoiceEmbedding []float32

	// Text is the segment's (post-processed) transcript text, used for
	// text-pattern matching and spoken-name resolution.
	Text string

	// At is the segment's timestamp, used for LastSeen/tie-break bookkeeping.
	At time.Time
}

// Decision is the result of [Identifier.Identify].
type Decision struct {
	// SpeakerID is the identified (or newly created) speaker id.
	SpeakerID string

	// IsNew reports whether this decision requires the caller to persist a
	// brand-new [types.SpeakerProfile] (seeded via [Identifier.NewProfile]).
	IsNew bool

	// Method records which path produced the match, for telemetry/debugging:
	// "embedding", "text_pattern", or "new".
	Method string

	// Confidence is the match score (cosine similarity or pattern-match
	// confidence); 0 for a brand-new speaker.
	Confidence float64
}

// Identifier runs the two-path matching algorithm against a set of
// known profiles supplied to each call. It holds no mutable state of its
// own — concurrent calls with different profile snapshots are safe.
type Identifier struct {
	matcher *phonetic.Matcher
}

// New returns an [Identifier].
func New() *Identifier {
	return &Identifier{matcher: phonetic.New()}
}

// Identify runs the voice-embedding path first, falling back to text-pattern
// matching, and reports a new-speaker decision if neither path matches.
func (id *Identifier) Identify(input IdentifyInput, known []types.SpeakerProfile) Decision {
	if dec, ok := matchByEmbedding(input, known); ok {
		return dec
	}
	if dec, ok := id.matchByTextPattern(input, known); ok {
		return dec
	}
	return Decision{Method: "new", IsNew: true}
}

// matchByEmbedding is the first identification path: cosine similarity over each
// candidate's embedding; a match is accepted only if its score meets that
// candidate's own ConfidenceThreshold. Ties (multiple candidates clearing
// their thresholds) are broken by most-recent LastSeen.
func matchByEmbedding(input IdentifyInput, known []types.SpeakerProfile) (Decision, bool) {
	if len(input.VoiceEmbedding) == 0 {
		return Decision{}, false
	}

	type candidate struct {
		profile types.SpeakerProfile
		score   float64
	}
	var matches []candidate
	for _, p := range known {
		if p.MergedInto != "" || len(p.VoiceEmbedding) == 0 {
			continue
		}
		score := cosineSimilarity(input.VoiceEmbedding, p.VoiceEmbedding)
		threshold := p.ConfidenceThreshold
		if threshold <= 0 {
			threshold = 0.75
		}
		if score >= threshold {
			matches = append(matches, candidate{profile: p, score: score})
		}
	}
	if len(matches) == 0 {
		return Decision{}, false
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].profile.LastSeen.After(matches[j].profile.LastSeen)
	})
	best := matches[0]
	return Decision{SpeakerID: best.profile.ID, Method: "embedding", Confidence: best.score}, true
}

// matchByTextPattern is the second identification path: regex-like pattern matching
// against the segment text, plus phonetic spoken-name resolution against
// known display names.
func (id *Identifier) matchByTextPattern(input IdentifyInput, known []types.SpeakerProfile) (Decision, bool) {
	text := strings.ToLower(strings.TrimSpace(input.Text))
	if text == "" {
		return Decision{}, false
	}

	for _, p := range known {
		if p.MergedInto != "" {
			continue
		}
		for _, pat := range p.TextPatterns {
			if pat == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(pat)) {
				return Decision{SpeakerID: p.ID, Method: "text_pattern", Confidence: 1.0}, true
			}
		}
	}

	// Fall back to phonetic name resolution against display names, for
	// spoken references like "hey Dana, can you...".
	names := make([]string, 0, len(known))
	byName := make(map[string]types.SpeakerProfile, len(known))
	for _, p := range known {
		if p.MergedInto != "" || p.DisplayName == "" {
			continue
		}
		names = append(names, p.DisplayName)
		byName[strings.ToLower(p.DisplayName)] = p
	}
	for _, word := range strings.Fields(text) {
		if matched, conf, ok := id.matcher.Match(word, names); ok {
			if p, found := byName[strings.ToLower(matched)]; found {
				return Decision{SpeakerID: p.ID, Method: "text_pattern", Confidence: conf}, true
			}
		}
	}
	return Decision{}, false
}

// NewProfile seeds a fresh [types.SpeakerProfile] for a new-speaker decision,
// with an opaque display name.
func NewProfile(id string, embedding []float32, now time.Time, confidenceThreshold float64) types.SpeakerProfile {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.75
	}
	return types.SpeakerProfile{
		ID:                  id,
		DisplayName:         "Speaker " + id[:minInt(8, len(id))],
		VoiceEmbedding:      embedding,
		ConfidenceThreshold: confidenceThreshold,
		FirstSeen:           now,
		LastSeen:            now,
	}
}

// MergeResult is the outcome of [Merge]: the profile that should be written
// back under survivorID, plus the losing id that callers must rewrite every
// segment reference away from.
type MergeResult struct {
	Survivor types.SpeakerProfile
	Absorbed string
}

// Merge unions b's embeddings/patterns into a (the surviving profile); the
// caller rewrites segment references under the surviving speaker id.
// TotalTime is summed so the post-merge total equals the pre-merge sum
// regardless of merge direction.
func Merge(a, b types.SpeakerProfile) MergeResult {
	survivor := a
	survivor.TextPatterns = dedupStrings(append(append([]string{}, a.TextPatterns...), b.TextPatterns...))
	survivor.TotalTime = a.TotalTime + b.TotalTime
	if b.LastSeen.After(survivor.LastSeen) {
		survivor.LastSeen = b.LastSeen
	}
	if b.FirstSeen.Before(survivor.FirstSeen) && !survivor.FirstSeen.IsZero() {
		survivor.FirstSeen = b.FirstSeen
	}
	if len(survivor.VoiceEmbedding) == 0 {
		survivor.VoiceEmbedding = b.VoiceEmbedding
	} else if len(b.VoiceEmbedding) == len(survivor.VoiceEmbedding) {
		// Average the two embeddings as a simple centroid union; a fuller
		// implementation might retain a small cluster, but an average keeps
		// the single-vector-per-speaker schema intact.
		merged := make([]float32, len(survivor.VoiceEmbedding))
		for i := range merged {
			merged[i] = (survivor.VoiceEmbedding[i] + b.VoiceEmbedding[i]) / 2
		}
		survivor.VoiceEmbedding = merged
	}
	return MergeResult{Survivor: survivor, Absorbed: b.ID}
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
