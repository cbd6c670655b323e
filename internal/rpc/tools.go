package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/query/executor"
	"github.com/voicepane/voicepane/internal/query/ratelimit"
	"github.com/voicepane/voicepane/pkg/types"
)

// registerTools advertises the service's eight tools. Each is bound
// through s.gate so rate limiting, deadlines, and metrics are uniform across
// the catalogue. query_conversations sanitizes nl_query before compiling it;
// the other tools' string inputs are not sanitized.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "query_conversations",
		Description: "Translate a natural-language question about recorded conversations into results.",
	}, s.handleQueryConversations)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "get_speaker_analytics",
		Description: "Return speaker profile analytics by id or display name.",
	}, s.handleGetSpeakerAnalytics)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "search_semantic",
		Description: "Semantic (embedding) search over transcript segments.",
	}, s.handleSearchSemantic)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "get_conversation_context",
		Description: "Return a conversation's full context: segments, participants, and correlated frames.",
	}, s.handleGetConversationContext)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "list_speakers",
		Description: "List every known speaker profile.",
	}, s.handleListSpeakers)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "export_conversation",
		Description: "Export a conversation as structured JSON or plain text.",
	}, s.handleExportConversation)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "learn_from_feedback",
		Description: "Record feedback on a prior query to bias future query compilation.",
	}, s.handleLearnFromFeedback)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "get_query_suggestions",
		Description: "Suggest completions for a partially typed natural-language query.",
	}, s.handleGetQuerySuggestions)
}

// --- query_conversations ---

type queryConversationsIn struct {
	NLQuery   string `json:"nl_query"`
	SessionID string `json:"session_id,omitempty"`
}

type queryConversationsOut struct {
	Intent        string            `json:"intent"`
	Conversations []conversationDTO `json:"conversations,omitempty"`
	Segments      []segmentDTO      `json:"segments,omitempty"`
	Speakers      []speakerDTO      `json:"speakers,omitempty"`
}

func (s *Server) handleQueryConversations(ctx context.Context, req *mcpsdk.CallToolRequest, in queryConversationsIn) (*mcpsdk.CallToolResult, queryConversationsOut, error) {
	out, err := s.gate(ctx, "query_conversations", in.SessionID, 1, func(ctx context.Context) (any, error) {
		nlQuery, err := ratelimit.Sanitize("nl_query", in.NLQuery)
		if err != nil {
			return nil, err
		}
		query, err := s.deps.Planner.Compile(ctx, in.SessionID, nlQuery)
		if err != nil {
			return nil, err
		}
		res, err := s.deps.Executor.Execute(ctx, query)
		if err != nil {
			return nil, err
		}
		if err := s.deps.Limiter.RecordRows(in.SessionID, len(res.Conversations)+len(res.Segments)+len(res.Speakers)); err != nil {
			return nil, err
		}
		return queryConversationsOut{
			Intent:        res.Intent,
			Conversations: conversationDTOs(res.Conversations),
			Segments:      segmentDTOs(res.Segments),
			Speakers:      speakerDTOs(res.Speakers),
		}, nil
	})
	return toolResult[queryConversationsOut](s, "query_conversations", out, err)
}

// --- get_speaker_analytics ---

type getSpeakerAnalyticsIn struct {
	SpeakerID string `json:"speaker_id,omitempty"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type getSpeakerAnalyticsOut struct {
	Speakers []speakerDTO `json:"speakers"`
}

func (s *Server) handleGetSpeakerAnalytics(ctx context.Context, req *mcpsdk.CallToolRequest, in getSpeakerAnalyticsIn) (*mcpsdk.CallToolResult, getSpeakerAnalyticsOut, error) {
	query := types.StructuredQuery{Intent: "speaker_analytics"}
	if in.SpeakerID != "" {
		query.SpeakerIDs = []string{in.SpeakerID}
	}
	if in.Name != "" {
		query.Participants = []string{in.Name}
	}

	out, err := s.gate(ctx, "get_speaker_analytics", in.SessionID, 1, func(ctx context.Context) (any, error) {
		res, err := s.deps.Executor.Execute(ctx, query)
		if err != nil {
			return nil, err
		}
		return getSpeakerAnalyticsOut{Speakers: speakerDTOs(res.Speakers)}, nil
	})
	return toolResult[getSpeakerAnalyticsOut](s, "get_speaker_analytics", out, err)
}

// --- search_semantic ---

type searchSemanticIn struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
}

type searchSemanticOut struct {
	Segments []segmentDTO `json:"segments"`
}

func (s *Server) handleSearchSemantic(ctx context.Context, req *mcpsdk.CallToolRequest, in searchSemanticIn) (*mcpsdk.CallToolResult, searchSemanticOut, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	query := types.StructuredQuery{Intent: "semantic_search", Keywords: []string{in.Query}, Limit: limit}

	out, err := s.gate(ctx, "search_semantic", in.SessionID, 2, func(ctx context.Context) (any, error) {
		res, err := s.deps.Executor.Execute(ctx, query)
		if err != nil {
			return nil, err
		}
		segs := filterByConfidence(res.Segments, in.Threshold)
		if err := s.deps.Limiter.RecordRows(in.SessionID, len(segs)); err != nil {
			return nil, err
		}
		return searchSemanticOut{Segments: segmentDTOs(segs)}, nil
	})
	return toolResult[searchSemanticOut](s, "search_semantic", out, err)
}

func filterByConfidence(segs []types.TranscriptSegment, threshold float64) []types.TranscriptSegment {
	if threshold <= 0 {
		return segs
	}
	out := make([]types.TranscriptSegment, 0, len(segs))
	for _, s := range segs {
		if s.Confidence >= threshold {
			out = append(out, s)
		}
	}
	return out
}

// --- get_conversation_context ---

type getConversationContextIn struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id,omitempty"`
}

type getConversationContextOut struct {
	Conversation conversationDTO `json:"conversation"`
	Segments     []segmentDTO    `json:"segments"`
	Frames       []frameDTO      `json:"frames"`
}

func (s *Server) handleGetConversationContext(ctx context.Context, req *mcpsdk.CallToolRequest, in getConversationContextIn) (*mcpsdk.CallToolResult, getConversationContextOut, error) {
	out, err := s.gate(ctx, "get_conversation_context", in.SessionID, 2, func(ctx context.Context) (any, error) {
		cc, err := s.deps.Executor.ConversationContext(ctx, in.ConversationID)
		if err != nil {
			return nil, err
		}
		conv := conversationDTOWrapper(cc)
		return getConversationContextOut{
			Conversation: conv,
			Segments:     segmentDTOs(cc.Segments),
			Frames:       frameDTOs(cc.Frames),
		}, nil
	})
	return toolResult[getConversationContextOut](s, "get_conversation_context", out, err)
}

// --- list_speakers ---

type listSpeakersIn struct {
	SessionID string `json:"session_id,omitempty"`
}

type listSpeakersOut struct {
	Speakers []speakerDTO `json:"speakers"`
}

func (s *Server) handleListSpeakers(ctx context.Context, req *mcpsdk.CallToolRequest, in listSpeakersIn) (*mcpsdk.CallToolResult, listSpeakersOut, error) {
	out, err := s.gate(ctx, "list_speakers", in.SessionID, 1, func(ctx context.Context) (any, error) {
		res, err := s.deps.Executor.Execute(ctx, types.StructuredQuery{Intent: "list_speakers"})
		if err != nil {
			return nil, err
		}
		return listSpeakersOut{Speakers: speakerDTOs(res.Speakers)}, nil
	})
	return toolResult[listSpeakersOut](s, "list_speakers", out, err)
}

// --- export_conversation ---

type exportConversationIn struct {
	ConversationID string `json:"conversation_id"`
	Format         string `json:"format"` // "structured" or "plain"
	SessionID      string `json:"session_id,omitempty"`
}

type exportConversationOut struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

func (s *Server) handleExportConversation(ctx context.Context, req *mcpsdk.CallToolRequest, in exportConversationIn) (*mcpsdk.CallToolResult, exportConversationOut, error) {
	format := in.Format
	if format != "structured" && format != "plain" {
		format = "structured"
	}

	out, err := s.gate(ctx, "export_conversation", in.SessionID, 3, func(ctx context.Context) (any, error) {
		cc, err := s.deps.Executor.ConversationContext(ctx, in.ConversationID)
		if err != nil {
			return nil, err
		}
		if err := s.deps.Limiter.RecordRows(in.SessionID, len(cc.Segments)); err != nil {
			return nil, err
		}
		if format == "plain" {
			return exportConversationOut{Format: format, Content: renderPlain(cc)}, nil
		}

		body, err := json.Marshal(struct {
			Conversation conversationDTO `json:"conversation"`
			Segments     []segmentDTO    `json:"segments"`
			Frames       []frameDTO      `json:"frames"`
		}{
			Conversation: conversationDTOWrapper(cc),
			Segments:     segmentDTOs(cc.Segments),
			Frames:       frameDTOs(cc.Frames),
		})
		if err != nil {
			return nil, fmt.Errorf("rpc: export conversation: %w: %v", errkind.Internal, err)
		}
		return exportConversationOut{Format: format, Content: string(body)}, nil
	})
	return toolResult[exportConversationOut](s, "export_conversation", out, err)
}

// --- learn_from_feedback ---

type learnFromFeedbackIn struct {
	Query          string                 `json:"query"`
	SessionID      string                 `json:"session_id,omitempty"`
	Feedback       string                 `json:"feedback"` // "good", "bad", "corrected"
	CorrectedQuery *types.StructuredQuery `json:"corrected_query,omitempty"`
}

type learnFromFeedbackOut struct {
	Recorded bool `json:"recorded"`
}

func (s *Server) handleLearnFromFeedback(ctx context.Context, req *mcpsdk.CallToolRequest, in learnFromFeedbackIn) (*mcpsdk.CallToolResult, learnFromFeedbackOut, error) {
	out, err := s.gate(ctx, "learn_from_feedback", in.SessionID, 1, func(ctx context.Context) (any, error) {
		fb := types.QueryFeedback{
			SessionID:      in.SessionID,
			NLQuery:        in.Query,
			Feedback:       in.Feedback,
			CorrectedQuery: in.CorrectedQuery,
		}
		if err := s.deps.Planner.Feedback(ctx, fb); err != nil {
			return nil, err
		}
		return learnFromFeedbackOut{Recorded: true}, nil
	})
	return toolResult[learnFromFeedbackOut](s, "learn_from_feedback", out, err)
}

// --- get_query_suggestions ---

type getQuerySuggestionsIn struct {
	PartialQuery string `json:"partial_query"`
	SessionID    string `json:"session_id,omitempty"`
}

type getQuerySuggestionsOut struct {
	Suggestions []string `json:"suggestions"`
}

// suggestionTemplates are fixed completions offered for a partial query, a
// small deterministic heuristic rather than a learned one.
var suggestionTemplates = []string{
	"show me conversations with %s from last week",
	"what did %s say about",
	"find the longest conversation involving %s",
	"summarize speaker analytics for %s",
}

func (s *Server) handleGetQuerySuggestions(ctx context.Context, req *mcpsdk.CallToolRequest, in getQuerySuggestionsIn) (*mcpsdk.CallToolResult, getQuerySuggestionsOut, error) {
	out, err := s.gate(ctx, "get_query_suggestions", in.SessionID, 1, func(ctx context.Context) (any, error) {
		suggestions := make([]string, 0, len(suggestionTemplates))
		for _, t := range suggestionTemplates {
			suggestions = append(suggestions, fmt.Sprintf(t, completionSubject(in.PartialQuery)))
		}
		return getQuerySuggestionsOut{Suggestions: suggestions}, nil
	})
	return toolResult[getQuerySuggestionsOut](s, "get_query_suggestions", out, err)
}

func completionSubject(partial string) string {
	if partial == "" {
		return "a participant"
	}
	return partial
}

// conversationDTOWrapper builds a conversationDTO from a ConversationContext,
// reusing the participants executor.ConversationContext already resolved
// rather than re-deriving them.
func conversationDTOWrapper(cc executor.ConversationContext) conversationDTO {
	return conversationDTO{
		ID:           cc.Conversation.ID,
		StartedAt:    cc.Conversation.StartedAt.Format(timeLayout),
		EndedAt:      cc.Conversation.EndedAt.Format(timeLayout),
		Topic:        cc.Conversation.Topic,
		Participants: orEmpty(cc.Participants),
		SegmentCount: len(cc.Segments),
	}
}

// renderPlain renders a conversation's context as a readable transcript, for
// export_conversation's "plain" format.
func renderPlain(cc executor.ConversationContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Conversation %s (%s - %s)\n", cc.Conversation.ID,
		cc.Conversation.StartedAt.Format(timeLayout), cc.Conversation.EndedAt.Format(timeLayout))
	if len(cc.Participants) > 0 {
		fmt.Fprintf(&sb, "Participants: %s\n", strings.Join(cc.Participants, ", "))
	}
	sb.WriteString("\n")
	for _, seg := range cc.Segments {
		speaker := seg.SpeakerID
		if speaker == "" {
			speaker = "unknown"
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", seg.StartedAt.Format(timeLayout), speaker, seg.Text)
	}
	if len(cc.Frames) > 0 {
		sb.WriteString("\nScreen context:\n")
		for _, f := range cc.Frames {
			if f.ContentUnavailable {
				fmt.Fprintf(&sb, "[%s] (image unavailable)\n", f.Frame.CapturedAt.Format(timeLayout))
				continue
			}
			for _, e := range f.Extractions {
				fmt.Fprintf(&sb, "[%s] %s\n", f.Frame.CapturedAt.Format(timeLayout), e.Text)
			}
		}
	}
	return sb.String()
}
