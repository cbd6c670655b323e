package rpc

import (
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolResult adapts the (any, error) pair s.gate produces into the typed
// (*CallToolResult, Out, error) shape every generic tool handler must
// return. A non-nil err is never surfaced as the third (protocol-level)
// return value — tool-level failures are reported as a typed
// error object in the result content, not a transport error, so a
// deadline-exceeded or rate-limited call still round-trips as a normal
// JSON-RPC response.
func toolResult[Out any](s *Server, tool string, out any, err error) (*mcpsdk.CallToolResult, Out, error) {
	var zero Out
	if err != nil {
		body, marshalErr := json.Marshal(newRPCError(tool, err))
		if marshalErr != nil {
			body = []byte(fmt.Sprintf(`{"kind":"Internal","message":%q}`, err.Error()))
		}
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(body)}},
		}, zero, nil
	}

	typed, ok := out.(Out)
	if !ok {
		return nil, zero, fmt.Errorf("rpc: %s: internal result type mismatch (%T)", tool, out)
	}
	return nil, typed, nil
}
