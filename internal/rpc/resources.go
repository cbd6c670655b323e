package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerResources advertises named, read-only pointers to persisted
// artifacts: a conversation's full context, and a
// frame's OCR extractions, each addressed by URI.
func (s *Server) registerResources() {
	s.sdk.AddResourceTemplate(&mcpsdk.ResourceTemplate{
		URITemplate: "voicepane://conversations/{conversation_id}",
		Name:        "conversation",
		Description: "A conversation's segments, participants, and correlated frames.",
		MIMEType:    "application/json",
	}, s.readConversationResource)

	s.sdk.AddResourceTemplate(&mcpsdk.ResourceTemplate{
		URITemplate: "voicepane://frames/{frame_id}/extractions",
		Name:        "frame_extractions",
		Description: "OCR text extractions for a captured frame.",
		MIMEType:    "application/json",
	}, s.readFrameExtractionsResource)
}

func (s *Server) readConversationResource(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	id, err := extractURISegment(req.Params.URI, "voicepane://conversations/")
	if err != nil {
		return nil, err
	}
	cc, err := s.deps.Executor.ConversationContext(ctx, id)
	if err != nil {
		return nil, err
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
		return nil, fmt.Errorf("rpc: read conversation resource: %w", err)
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(body),
		}},
	}, nil
}

func (s *Server) readFrameExtractionsResource(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	rest, err := extractURISegment(req.Params.URI, "voicepane://frames/")
	if err != nil {
		return nil, err
	}
	frameID := strings.TrimSuffix(rest, "/extractions")

	fc, err := s.deps.Executor.FrameExtractions(ctx, frameID)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(newFrameDTO(fc))
	if err != nil {
		return nil, fmt.Errorf("rpc: read frame extractions resource: %w", err)
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(body),
		}},
	}, nil
}

func extractURISegment(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("rpc: resource uri %q missing expected prefix %q", uri, prefix)
	}
	return strings.TrimPrefix(uri, prefix), nil
}
