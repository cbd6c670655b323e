package conversation

import (
	"testing"
	"time"

	"github.com/voicepane/voicepane/pkg/types"
)

func seg(speaker string, start, end time.Time, vec []float32) types.TranscriptSegment {
	return types.TranscriptSegment{SpeakerID: speaker, StartedAt: start, EndedAt: end, SemanticVector: vec}
}

func TestFirstSegmentNeverBoundary(t *testing.T) {
	d := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := d.Observe(seg("alice", base, base.Add(5*time.Second), nil)); ok {
		t.Fatalf("first segment must never produce a boundary")
	}
}

func TestSilenceGapAloneBelowThreshold(t *testing.T) {
	d := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Observe(seg("alice", base, base.Add(5*time.Second), nil))

	next := base.Add(5*time.Second + time.Minute)
	_, ok := d.Observe(seg("alice", next, next.Add(5*time.Second), nil))
	if ok {
		t.Fatalf("silence gap alone (score 0.4) must not cross the 0.7 boundary threshold")
	}
}

func TestSilenceGapAndSpeakerChangeCrossesBoundary(t *testing.T) {
	d := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Observe(seg("alice", base, base.Add(5*time.Second), nil))

	next := base.Add(5*time.Second + time.Minute)
	b, ok := d.Observe(seg("bob", next, next.Add(5*time.Second), nil))
	if !ok {
		t.Fatalf("silence gap + speaker change (score 0.7) expected to reach the threshold, got no boundary")
	}
	if b.Confidence < boundaryThreshold {
		t.Fatalf("expected confidence >= %v, got %v", boundaryThreshold, b.Confidence)
	}
}

func TestFunctionsWithoutTopicCoherence(t *testing.T) {
	// No SemanticVector supplied anywhere; detector must still work off the
	// first two signals.
	d := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Observe(seg("alice", base, base.Add(5*time.Second), nil))
	next := base.Add(5*time.Second + 45*time.Second)
	if _, ok := d.Observe(seg("bob", next, next.Add(5*time.Second), nil)); !ok {
		t.Fatalf("expected boundary from silence_gap+speaker_change alone with no embeddings present")
	}
}

func TestTopicShiftContributesSignal(t *testing.T) {
	d := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Observe(seg("alice", base, base.Add(5*time.Second), []float32{1, 0, 0}))

	// Same speaker, no silence gap, but an orthogonal (unrelated) topic
	// vector: only the topic-shift signal (+0.3) fires, below threshold.
	next := base.Add(6 * time.Second)
	_, ok := d.Observe(seg("alice", next, next.Add(5*time.Second), []float32{0, 1, 0}))
	if ok {
		t.Fatalf("topic shift alone (score 0.3) must not cross the boundary threshold")
	}
}

func TestSlidingWindowCapsAtThreeSegments(t *testing.T) {
	d := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		t := base.Add(time.Duration(i) * time.Second)
		d.Observe(seg("alice", t, t.Add(time.Second), nil))
	}
	if len(d.window) != 3 {
		t.Fatalf("expected window capped at 3 segments, got %d", len(d.window))
	}
}
