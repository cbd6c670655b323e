package rpc

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerPrompts advertises the named prompt templates the service
// exposes as
// the third RPC category, alongside tools and resources. These are plain
// templates for the *client's* LLM to fill in and send back as ordinary
// tool calls; the server never executes an LLM call on their behalf, so
// each handler only renders text — no Deps access, no database round trip.
func (s *Server) registerPrompts() {
	s.sdk.AddPrompt(&mcpsdk.Prompt{
		Name:        "daily_recap",
		Description: "Summarize a day's recorded conversations and screen activity.",
		Arguments: []*mcpsdk.PromptArgument{
			{Name: "date", Description: "ISO-8601 date to recap, e.g. 2026-07-30. Defaults to today.", Required: false},
		},
	}, s.renderDailyRecapPrompt)

	s.sdk.AddPrompt(&mcpsdk.Prompt{
		Name:        "speaker_profile_summary",
		Description: "Summarize what is known about a speaker from their conversation history.",
		Arguments: []*mcpsdk.PromptArgument{
			{Name: "speaker", Description: "Speaker id or display name.", Required: true},
		},
	}, s.renderSpeakerProfileSummaryPrompt)

	s.sdk.AddPrompt(&mcpsdk.Prompt{
		Name:        "explain_query_result",
		Description: "Explain, in plain language, what a prior query_conversations call returned and why.",
		Arguments: []*mcpsdk.PromptArgument{
			{Name: "session_id", Description: "The session whose most recent resolved query to explain.", Required: true},
		},
	}, s.renderExplainQueryResultPrompt)
}

func textPromptResult(description, text string) *mcpsdk.GetPromptResult {
	return &mcpsdk.GetPromptResult{
		Description: description,
		Messages: []*mcpsdk.PromptMessage{{
			Role:    "user",
			Content: &mcpsdk.TextContent{Text: text},
		}},
	}
}

func (s *Server) renderDailyRecapPrompt(ctx context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
	date := req.Params.Arguments["date"]
	if date == "" {
		date = "today"
	}
	text := fmt.Sprintf(
		"Use query_conversations and search_semantic to gather every conversation and "+
			"detected task from %s. Produce a short recap: who the user talked to, what "+
			"was discussed, and what they appeared to be working on according to the "+
			"screen activity. Cite conversation ids for every claim.", date)
	return textPromptResult("Daily recap of conversations and screen activity", text), nil
}

func (s *Server) renderSpeakerProfileSummaryPrompt(ctx context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
	speaker := req.Params.Arguments["speaker"]
	if speaker == "" {
		return nil, fmt.Errorf("rpc: prompt speaker_profile_summary requires a non-empty speaker argument")
	}
	text := fmt.Sprintf(
		"Call get_speaker_analytics for %q, then describe this speaker in two or three "+
			"sentences: how often they appear, what topics come up most with them, and "+
			"anything notable about their total speaking time.", speaker)
	return textPromptResult("Speaker profile summary", text), nil
}

func (s *Server) renderExplainQueryResultPrompt(ctx context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
	sessionID := req.Params.Arguments["session_id"]
	if sessionID == "" {
		return nil, fmt.Errorf("rpc: prompt explain_query_result requires a non-empty session_id argument")
	}
	text := fmt.Sprintf(
		"Re-run query_conversations with session_id %q and an empty follow-up "+
			"clarification if needed, then explain in one paragraph what the result set "+
			"contains and which filters (time range, participants, text) produced it.",
		sessionID)
	return textPromptResult("Explanation of a prior query result", text), nil
}
