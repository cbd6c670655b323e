package rpc

import (
	"time"

	"github.com/voicepane/voicepane/internal/query/executor"
	"github.com/voicepane/voicepane/pkg/types"
)

// timeLayout is the wire format for every timestamp field in a tool
// response.
const timeLayout = time.RFC3339

// The DTOs in this file give tool results stable, snake_case JSON keys
// instead of exposing pkg/types' Go-cased field names directly over the
// wire — the RPC boundary is a public contract, so it
// is versioned independently of the internal struct layout.

type conversationDTO struct {
	ID           string   `json:"id"`
	StartedAt    string   `json:"started_at"`
	EndedAt      string   `json:"ended_at"`
	Topic        string   `json:"topic,omitempty"`
	Participants []string `json:"participants"`
	SegmentCount int      `json:"segment_count"`
}

func newConversationDTO(c executor.ConversationResult) conversationDTO {
	return conversationDTO{
		ID:           c.ID,
		StartedAt:    c.StartedAt.Format(timeLayout),
		EndedAt:      c.EndedAt.Format(timeLayout),
		Topic:        c.Topic,
		Participants: orEmpty(c.Participants),
		SegmentCount: len(c.SegmentIDs),
	}
}

type segmentDTO struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SpeakerID      string  `json:"speaker_id,omitempty"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	StartedAt      string  `json:"started_at"`
	EndedAt        string  `json:"ended_at"`
}

func newSegmentDTO(s types.TranscriptSegment) segmentDTO {
	return segmentDTO{
		ID:             s.ID,
		ConversationID: s.ConversationID,
		SpeakerID:      s.SpeakerID,
		Text:           s.Text,
		Confidence:     s.Confidence,
		StartedAt:      s.StartedAt.Format(timeLayout),
		EndedAt:        s.EndedAt.Format(timeLayout),
	}
}

type speakerDTO struct {
	ID            string  `json:"id"`
	DisplayName   string  `json:"display_name,omitempty"`
	TotalTimeSecs float64 `json:"total_time_seconds"`
	FirstSeen     string  `json:"first_seen"`
	LastSeen      string  `json:"last_seen"`
	MergedInto    string  `json:"merged_into,omitempty"`
}

func newSpeakerDTO(sp types.SpeakerProfile) speakerDTO {
	return speakerDTO{
		ID:            sp.ID,
		DisplayName:   sp.DisplayName,
		TotalTimeSecs: sp.TotalTime.Seconds(),
		FirstSeen:     sp.FirstSeen.Format(timeLayout),
		LastSeen:      sp.LastSeen.Format(timeLayout),
		MergedInto:    sp.MergedInto,
	}
}

type frameDTO struct {
	ID                 string   `json:"id"`
	CapturedAt         string   `json:"captured_at"`
	ForegroundApp      string   `json:"foreground_app,omitempty"`
	ExtractedText      []string `json:"extracted_text"`
	ContentUnavailable bool     `json:"content_unavailable"`
}

func newFrameDTO(f executor.FrameContext) frameDTO {
	texts := make([]string, 0, len(f.Extractions))
	for _, e := range f.Extractions {
		texts = append(texts, e.Text)
	}
	return frameDTO{
		ID:                 f.Frame.ID,
		CapturedAt:         f.Frame.CapturedAt.Format(timeLayout),
		ForegroundApp:      f.Frame.ForegroundApp,
		ExtractedText:      texts,
		ContentUnavailable: f.ContentUnavailable,
	}
}

func conversationDTOs(in []executor.ConversationResult) []conversationDTO {
	out := make([]conversationDTO, 0, len(in))
	for _, c := range in {
		out = append(out, newConversationDTO(c))
	}
	return out
}

func segmentDTOs(in []types.TranscriptSegment) []segmentDTO {
	out := make([]segmentDTO, 0, len(in))
	for _, s := range in {
		out = append(out, newSegmentDTO(s))
	}
	return out
}

func speakerDTOs(in []types.SpeakerProfile) []speakerDTO {
	out := make([]speakerDTO, 0, len(in))
	for _, sp := range in {
		out = append(out, newSpeakerDTO(sp))
	}
	return out
}

func frameDTOs(in []executor.FrameContext) []frameDTO {
	out := make([]frameDTO, 0, len(in))
	for _, f := range in {
		out = append(out, newFrameDTO(f))
	}
	return out
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
