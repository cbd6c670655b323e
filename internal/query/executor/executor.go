// Package executor compiles a validated [types.StructuredQuery] into the
// concrete, parameterized [internal/storage.Store] calls that answer it —
// the last step of the compile-to-parameterized-SQL pipeline (raw user
// text is never interpolated into SQL). internal/rpc is
// the only caller; the query planner (internal/query/planner) never touches
// storage directly, keeping NL-compilation and result-fetching as separate,
// independently testable concerns.
package executor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/storage"
	"github.com/voicepane/voicepane/pkg/types"
)

// Store is the narrow read surface the executor needs from
// [internal/storage.Store], declared locally (mirroring
// internal/query/planner's FeedbackStore) so tests can supply a fake
// without a live database.
type Store interface {
	FindConversations(ctx context.Context, afterMillis, beforeMillis int64, limit int) ([]types.Conversation, error)
	GetConversation(ctx context.Context, id string) (types.Conversation, error)
	FindSegments(ctx context.Context, filter storage.SegmentFilter) ([]types.TranscriptSegment, error)
	SearchSegmentsFTS(ctx context.Context, query string, limit int) ([]types.TranscriptSegment, error)
	SemanticSearchSegments(ctx context.Context, query []float32, k int) ([]string, error)
	GetSegmentsByIDs(ctx context.Context, ids []string) ([]types.TranscriptSegment, error)
	ListSpeakers(ctx context.Context) ([]types.SpeakerProfile, error)
	GetSpeaker(ctx context.Context, id string) (types.SpeakerProfile, error)
	GetFrame(ctx context.Context, id string) (types.CapturedFrame, error)
	GetExtractionsByFrame(ctx context.Context, frameID string) ([]types.TextExtraction, error)
	FindTimelineEvents(ctx context.Context, afterMillis, beforeMillis int64, limit int) ([]types.TimelineEvent, error)
}

// compile-time check that the real store satisfies it.
var _ Store = (*storage.Store)(nil)

// Embedder turns free text into the vector space [Store.SemanticSearchSegments]
// expects. A nil Embedder disables the semantic_search intent.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Executor runs a compiled StructuredQuery against Store.
type Executor struct {
	store    Store
	embedder Embedder
}

// New returns an Executor. embedder may be nil if semantic_search is not
// needed (it fails with errkind.DependencyUnavailable in that case).
func New(store Store, embedder Embedder) *Executor {
	return &Executor{store: store, embedder: embedder}
}

// ConversationResult annotates a conversation with the participant display
// names derived from its segments' speaker ids. types.Conversation carries
// no denormalized participant column (the persisted shape is kept
// minimal), so participants are
// resolved at query time from transcript_segments + speaker_profiles
// instead of being duplicated into conversations at write time.
type ConversationResult struct {
	types.Conversation
	Participants []string
}

// Result is the executor's uniform return shape; only the field(s)
// relevant to Intent are populated.
type Result struct {
	Intent        string
	Conversations []ConversationResult
	Segments      []types.TranscriptSegment
	Speakers      []types.SpeakerProfile
}

// Execute dispatches q to the handler for its Intent. q must already have
// passed [internal/query/planner]'s validation; Execute does not
// re-validate limits or complexity.
func (e *Executor) Execute(ctx context.Context, q types.StructuredQuery) (Result, error) {
	switch q.Intent {
	case "find_conversations", "export":
		return e.findConversations(ctx, q)
	case "find_segments":
		return e.findSegments(ctx, q)
	case "speaker_analytics":
		return e.speakerAnalytics(ctx, q)
	case "semantic_search":
		return e.semanticSearch(ctx, q)
	case "context":
		return e.contextIntent(ctx, q)
	case "list_speakers":
		return e.listSpeakers(ctx, q)
	default:
		return Result{}, fmt.Errorf("executor: unknown intent %q: %w", q.Intent, errkind.ValidationFailed)
	}
}

func (e *Executor) findConversations(ctx context.Context, q types.StructuredQuery) (Result, error) {
	after, before := timeRangeMillis(q.TimeRange)
	convs, err := e.store.FindConversations(ctx, after, before, 0) // filter client-side first, then apply limit/offset
	if err != nil {
		return Result{}, fmt.Errorf("executor: find conversations: %w", err)
	}

	var annotated []ConversationResult
	for _, c := range convs {
		segs, err := e.store.GetSegmentsByIDs(ctx, c.SegmentIDs)
		if err != nil {
			return Result{}, fmt.Errorf("executor: fetch segments: %w", err)
		}
		if !matchesSpeakerIDs(segs, q.SpeakerIDs) {
			continue
		}

		participants, err := e.participantNames(ctx, segs)
		if err != nil {
			return Result{}, fmt.Errorf("executor: resolve participants: %w", err)
		}
		if !matchesParticipants(participants, q.Participants) {
			continue
		}
		annotated = append(annotated, ConversationResult{Conversation: c, Participants: participants})
	}

	annotated = paginate(annotated, q.Offset, q.Limit)
	return Result{Intent: q.Intent, Conversations: annotated}, nil
}

func (e *Executor) findSegments(ctx context.Context, q types.StructuredQuery) (Result, error) {
	if len(q.Keywords) > 0 {
		segs, err := e.store.SearchSegmentsFTS(ctx, strings.Join(q.Keywords, " "), q.Limit+q.Offset)
		if err != nil {
			return Result{}, fmt.Errorf("executor: search segments: %w", err)
		}
		return Result{Intent: q.Intent, Segments: paginateSegments(segs, q.Offset, q.Limit)}, nil
	}

	filter := storage.SegmentFilter{Limit: q.Limit + q.Offset}
	if len(q.SpeakerIDs) > 0 {
		filter.SpeakerID = q.SpeakerIDs[0]
	}
	filter.StartedAfter, filter.StartedBefore = timeRangeMillis(q.TimeRange)

	segs, err := e.store.FindSegments(ctx, filter)
	if err != nil {
		return Result{}, fmt.Errorf("executor: find segments: %w", err)
	}
	return Result{Intent: q.Intent, Segments: paginateSegments(segs, q.Offset, q.Limit)}, nil
}

func (e *Executor) speakerAnalytics(ctx context.Context, q types.StructuredQuery) (Result, error) {
	if len(q.SpeakerIDs) > 0 {
		var out []types.SpeakerProfile
		for _, id := range q.SpeakerIDs {
			sp, err := e.store.GetSpeaker(ctx, id)
			if err != nil {
				continue // unknown id: omitted, not a failure
			}
			out = append(out, sp)
		}
		return Result{Intent: q.Intent, Speakers: out}, nil
	}

	all, err := e.store.ListSpeakers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("executor: list speakers: %w", err)
	}
	if len(q.Participants) == 0 {
		return Result{Intent: q.Intent, Speakers: all}, nil
	}

	var matched []types.SpeakerProfile
	for _, sp := range all {
		if containsFold(q.Participants, sp.DisplayName) {
			matched = append(matched, sp)
		}
	}
	return Result{Intent: q.Intent, Speakers: matched}, nil
}

func (e *Executor) semanticSearch(ctx context.Context, q types.StructuredQuery) (Result, error) {
	if e.embedder == nil {
		return Result{}, fmt.Errorf("executor: semantic search: %w", errkind.DependencyUnavailable)
	}
	text := strings.Join(append(append([]string{}, q.Keywords...), q.Topics...), " ")
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("executor: embed query: %w", err)
	}

	k := q.Limit + q.Offset
	if k <= 0 {
		k = 10
	}
	ids, err := e.store.SemanticSearchSegments(ctx, vec, k)
	if err != nil {
		return Result{}, fmt.Errorf("executor: semantic search: %w", err)
	}
	segs, err := e.store.GetSegmentsByIDs(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("executor: fetch semantic results: %w", err)
	}
	return Result{Intent: q.Intent, Segments: paginateSegments(segs, q.Offset, q.Limit)}, nil
}

// contextIntent answers a follow-up like "who were in the longest one?":
// it re-runs the same conversation-matching logic as
// find_conversations (the planner has already merged the prior query's
// filters into q via mergeFollowUp) and returns the single conversation
// with the greatest duration.
func (e *Executor) contextIntent(ctx context.Context, q types.StructuredQuery) (Result, error) {
	all, err := e.findConversations(ctx, q)
	if err != nil {
		return Result{}, err
	}
	if len(all.Conversations) == 0 {
		return Result{Intent: q.Intent}, nil
	}
	longest := all.Conversations[0]
	for _, c := range all.Conversations[1:] {
		if c.EndedAt.Sub(c.StartedAt) > longest.EndedAt.Sub(longest.StartedAt) {
			longest = c
		}
	}
	return Result{Intent: q.Intent, Conversations: []ConversationResult{longest}}, nil
}

func (e *Executor) listSpeakers(ctx context.Context, q types.StructuredQuery) (Result, error) {
	all, err := e.store.ListSpeakers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("executor: list speakers: %w", err)
	}
	return Result{Intent: q.Intent, Speakers: all}, nil
}

// ConversationContext is the response shape for the get_conversation_context
// tool, distinct from Result because it answers a direct
// conversation_id lookup rather than a compiled StructuredQuery.
type ConversationContext struct {
	Conversation types.Conversation
	Participants []string
	Segments     []types.TranscriptSegment
	Frames       []FrameContext
}

// FrameContext pairs a correlated frame with its OCR extractions and a
// ContentUnavailable flag: ring-buffer eviction
// never deletes the database row, so a frame whose backing image file has
// been evicted is returned with metadata intact rather than failing the
// whole query.
type FrameContext struct {
	Frame              types.CapturedFrame
	Extractions        []types.TextExtraction
	ContentUnavailable bool
}

// ConversationContext returns the full context for one conversation: its
// segments, resolved participants, and any frames the correlator
// linked into the same time window via timeline events.
func (e *Executor) ConversationContext(ctx context.Context, conversationID string) (ConversationContext, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return ConversationContext{}, fmt.Errorf("executor: get conversation %q: %w", conversationID, err)
	}

	participants, err := e.participantsFor(ctx, conv)
	if err != nil {
		return ConversationContext{}, fmt.Errorf("executor: resolve participants: %w", err)
	}

	segs, err := e.store.GetSegmentsByIDs(ctx, conv.SegmentIDs)
	if err != nil {
		return ConversationContext{}, fmt.Errorf("executor: fetch segments: %w", err)
	}

	after, before := timeRangeMillis(&types.TimeRange{Start: conv.StartedAt, End: conv.EndedAt})
	events, err := e.store.FindTimelineEvents(ctx, after, before, 0)
	if err != nil {
		return ConversationContext{}, fmt.Errorf("executor: find timeline events: %w", err)
	}

	seen := map[string]bool{}
	var frames []FrameContext
	for _, ev := range events {
		if ev.FrameID == "" || seen[ev.FrameID] {
			continue
		}
		seen[ev.FrameID] = true

		frame, err := e.store.GetFrame(ctx, ev.FrameID)
		if err != nil {
			continue // row genuinely absent: nothing to surface, not a failure
		}
		extractions, err := e.store.GetExtractionsByFrame(ctx, frame.ID)
		if err != nil {
			return ConversationContext{}, fmt.Errorf("executor: fetch extractions: %w", err)
		}
		frames = append(frames, FrameContext{
			Frame:              frame,
			Extractions:        extractions,
			ContentUnavailable: fileMissing(frame.Path),
		})
	}

	return ConversationContext{
		Conversation: conv,
		Participants: participants,
		Segments:     segs,
		Frames:       frames,
	}, nil
}

// FrameExtractions returns a frame and its OCR extractions by frame id,
// flagging ContentUnavailable the same way [Executor.ConversationContext]
// does. Used by the frame_extractions resource.
func (e *Executor) FrameExtractions(ctx context.Context, frameID string) (FrameContext, error) {
	frame, err := e.store.GetFrame(ctx, frameID)
	if err != nil {
		return FrameContext{}, fmt.Errorf("executor: get frame %q: %w", frameID, err)
	}
	extractions, err := e.store.GetExtractionsByFrame(ctx, frameID)
	if err != nil {
		return FrameContext{}, fmt.Errorf("executor: fetch extractions: %w", err)
	}
	return FrameContext{
		Frame:              frame,
		Extractions:        extractions,
		ContentUnavailable: fileMissing(frame.Path),
	}, nil
}

func fileMissing(path string) bool {
	if path == "" {
		return true
	}
	_, err := os.Stat(path)
	return err != nil
}

// participantsFor resolves the display names of every speaker who appears
// in conv's segments.
func (e *Executor) participantsFor(ctx context.Context, conv types.Conversation) ([]string, error) {
	if len(conv.SegmentIDs) == 0 {
		return nil, nil
	}
	segs, err := e.store.GetSegmentsByIDs(ctx, conv.SegmentIDs)
	if err != nil {
		return nil, err
	}
	return e.participantNames(ctx, segs)
}

// participantNames resolves the display names of every distinct speaker
// referenced by segs, in first-seen order.
func (e *Executor) participantNames(ctx context.Context, segs []types.TranscriptSegment) ([]string, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	speakers, err := e.store.ListSpeakers(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(speakers))
	for _, sp := range speakers {
		names[sp.ID] = displayName(sp)
	}

	seen := map[string]bool{}
	var out []string
	for _, seg := range segs {
		if seg.SpeakerID == "" {
			continue
		}
		name := names[seg.SpeakerID]
		if name == "" {
			name = seg.SpeakerID
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

func displayName(sp types.SpeakerProfile) string {
	if sp.DisplayName != "" {
		return sp.DisplayName
	}
	return sp.ID
}

func matchesParticipants(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if containsFold(have, w) {
			return true
		}
	}
	return false
}

// matchesSpeakerIDs reports whether any of segs was spoken by one of want.
// An empty want matches everything.
func matchesSpeakerIDs(segs []types.TranscriptSegment, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, seg := range segs {
		for _, w := range want {
			if seg.SpeakerID == w {
				return true
			}
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func timeRangeMillis(tr *types.TimeRange) (after, before int64) {
	if tr == nil {
		return 0, 0
	}
	return tr.Start.UnixMilli(), tr.End.UnixMilli()
}

func paginate(in []ConversationResult, offset, limit int) []ConversationResult {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return []ConversationResult{}
	}
	end := len(in)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return in[offset:end]
}

func paginateSegments(in []types.TranscriptSegment, offset, limit int) []types.TranscriptSegment {
	sort.Slice(in, func(i, j int) bool { return in[i].StartedAt.Before(in[j].StartedAt) })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return []types.TranscriptSegment{}
	}
	end := len(in)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return in[offset:end]
}
