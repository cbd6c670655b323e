package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/storage"
	"github.com/voicepane/voicepane/pkg/types"
)

type fakeStore struct {
	conversations []types.Conversation
	segments      map[string]types.TranscriptSegment
	speakers      []types.SpeakerProfile
	frames        map[string]types.CapturedFrame
	extractions   map[string][]types.TextExtraction
	events        []types.TimelineEvent
	semanticIDs   []string
}

func (f *fakeStore) FindConversations(ctx context.Context, after, before int64, limit int) ([]types.Conversation, error) {
	return f.conversations, nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (types.Conversation, error) {
	for _, c := range f.conversations {
		if c.ID == id {
			return c, nil
		}
	}
	return types.Conversation{}, errors.New("not found")
}

func (f *fakeStore) FindSegments(ctx context.Context, filter storage.SegmentFilter) ([]types.TranscriptSegment, error) {
	var out []types.TranscriptSegment
	for _, s := range f.segments {
		if filter.SpeakerID != "" && s.SpeakerID != filter.SpeakerID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) SearchSegmentsFTS(ctx context.Context, query string, limit int) ([]types.TranscriptSegment, error) {
	var out []types.TranscriptSegment
	for _, s := range f.segments {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) SemanticSearchSegments(ctx context.Context, query []float32, k int) ([]string, error) {
	return f.semanticIDs, nil
}

func (f *fakeStore) GetSegmentsByIDs(ctx context.Context, ids []string) ([]types.TranscriptSegment, error) {
	var out []types.TranscriptSegment
	for _, id := range ids {
		if s, ok := f.segments[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSpeakers(ctx context.Context) ([]types.SpeakerProfile, error) {
	return f.speakers, nil
}

func (f *fakeStore) GetSpeaker(ctx context.Context, id string) (types.SpeakerProfile, error) {
	for _, sp := range f.speakers {
		if sp.ID == id {
			return sp, nil
		}
	}
	return types.SpeakerProfile{}, errors.New("not found")
}

func (f *fakeStore) GetFrame(ctx context.Context, id string) (types.CapturedFrame, error) {
	fr, ok := f.frames[id]
	if !ok {
		return types.CapturedFrame{}, errors.New("not found")
	}
	return fr, nil
}

func (f *fakeStore) GetExtractionsByFrame(ctx context.Context, frameID string) ([]types.TextExtraction, error) {
	return f.extractions[frameID], nil
}

func (f *fakeStore) FindTimelineEvents(ctx context.Context, after, before int64, limit int) ([]types.TimelineEvent, error) {
	return f.events, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func baseStore() *fakeStore {
	now := time.Now()
	return &fakeStore{
		conversations: []types.Conversation{
			{ID: "c1", StartedAt: now, EndedAt: now.Add(5 * time.Minute), SegmentIDs: []string{"s1"}},
			{ID: "c2", StartedAt: now, EndedAt: now.Add(30 * time.Minute), SegmentIDs: []string{"s2"}},
		},
		segments: map[string]types.TranscriptSegment{
			"s1": {ID: "s1", ConversationID: "c1", SpeakerID: "sp1", Text: "hello", StartedAt: now},
			"s2": {ID: "s2", ConversationID: "c2", SpeakerID: "sp2", Text: "world", StartedAt: now.Add(time.Minute)},
		},
		speakers: []types.SpeakerProfile{
			{ID: "sp1", DisplayName: "Alice"},
			{ID: "sp2", DisplayName: "Bob"},
		},
		frames:      map[string]types.CapturedFrame{},
		extractions: map[string][]types.TextExtraction{},
	}
}

func TestExecute_FindConversationsFiltersByParticipant(t *testing.T) {
	store := baseStore()
	e := New(store, nil)

	res, err := e.Execute(context.Background(), types.StructuredQuery{
		Intent:       "find_conversations",
		Participants: []string{"alice"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Conversations) != 1 || res.Conversations[0].ID != "c1" {
		t.Fatalf("expected only c1, got %+v", res.Conversations)
	}
	if len(res.Conversations[0].Participants) != 1 || res.Conversations[0].Participants[0] != "Alice" {
		t.Errorf("expected participants [Alice], got %v", res.Conversations[0].Participants)
	}
}

func TestExecute_ContextIntentReturnsLongestConversation(t *testing.T) {
	store := baseStore()
	e := New(store, nil)

	res, err := e.Execute(context.Background(), types.StructuredQuery{Intent: "context"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Conversations) != 1 || res.Conversations[0].ID != "c2" {
		t.Fatalf("expected longest conversation c2, got %+v", res.Conversations)
	}
}

func TestExecute_FindSegmentsByKeyword(t *testing.T) {
	store := baseStore()
	e := New(store, nil)

	res, err := e.Execute(context.Background(), types.StructuredQuery{
		Intent:   "find_segments",
		Keywords: []string{"hello"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 segments from fake FTS, got %d", len(res.Segments))
	}
}

func TestExecute_SemanticSearchWithoutEmbedderFails(t *testing.T) {
	store := baseStore()
	e := New(store, nil)

	_, err := e.Execute(context.Background(), types.StructuredQuery{Intent: "semantic_search", Keywords: []string{"x"}})
	if !errors.Is(err, errkind.DependencyUnavailable) {
		t.Fatalf("expected DependencyUnavailable, got %v", err)
	}
}

func TestExecute_SemanticSearchResolvesSegments(t *testing.T) {
	store := baseStore()
	store.semanticIDs = []string{"s1", "s2"}
	e := New(store, &fakeEmbedder{vec: []float32{0.1, 0.2}})

	res, err := e.Execute(context.Background(), types.StructuredQuery{
		Intent:   "semantic_search",
		Keywords: []string{"greetings"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(res.Segments))
	}
}

func TestExecute_SpeakerAnalyticsByParticipant(t *testing.T) {
	store := baseStore()
	e := New(store, nil)

	res, err := e.Execute(context.Background(), types.StructuredQuery{
		Intent:       "speaker_analytics",
		Participants: []string{"Bob"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Speakers) != 1 || res.Speakers[0].ID != "sp2" {
		t.Fatalf("expected only sp2, got %+v", res.Speakers)
	}
}

func TestExecute_ListSpeakers(t *testing.T) {
	store := baseStore()
	e := New(store, nil)

	res, err := e.Execute(context.Background(), types.StructuredQuery{Intent: "list_speakers"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Speakers) != 2 {
		t.Fatalf("expected 2 speakers, got %d", len(res.Speakers))
	}
}

func TestExecute_UnknownIntent(t *testing.T) {
	store := baseStore()
	e := New(store, nil)

	_, err := e.Execute(context.Background(), types.StructuredQuery{Intent: "bogus"})
	if !errors.Is(err, errkind.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestConversationContext_FlagsMissingFile(t *testing.T) {
	store := baseStore()
	store.frames["f1"] = types.CapturedFrame{ID: "f1", Path: "/nonexistent/path/does-not-exist.png"}
	store.events = []types.TimelineEvent{{ID: "e1", FrameID: "f1", TranscriptSegID: "s1"}}

	e := New(store, nil)
	ctx, err := e.ConversationContext(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ctx.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(ctx.Frames))
	}
	if !ctx.Frames[0].ContentUnavailable {
		t.Errorf("expected ContentUnavailable=true for missing file")
	}
	if len(ctx.Participants) != 1 || ctx.Participants[0] != "Alice" {
		t.Errorf("expected participants [Alice], got %v", ctx.Participants)
	}
}

func TestConversationContext_UnknownConversation(t *testing.T) {
	store := baseStore()
	e := New(store, nil)

	if _, err := e.ConversationContext(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown conversation id")
	}
}
