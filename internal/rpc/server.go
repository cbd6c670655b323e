// Package rpc exposes the query service as an MCP server over a
// line-delimited JSON-RPC 2.0 stdio transport, using the official SDK's
// server-side API (github.com/modelcontextprotocol/go-sdk/mcp).
//
// Every tool call passes through internal/query/ratelimit before it reaches
// the planner or executor, and carries a deadline (Deps.ToolTimeout)
// independent of any deadline the transport itself enforces.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/internal/query/executor"
	"github.com/voicepane/voicepane/internal/query/planner"
	"github.com/voicepane/voicepane/internal/query/ratelimit"
)

// protocolVersion is advertised as this server's implementation version.
// This package does not check the protocol version a client requests.
const protocolVersion = "2024-11-05"

// defaultToolTimeout bounds every tool call's deadline when Deps.ToolTimeout
// is unset, matching the query.timeout_seconds [30] default.
const defaultToolTimeout = 30 * time.Second

// Deps are the collaborators the RPC server dispatches tool calls to.
type Deps struct {
	Executor *executor.Executor
	Planner  *planner.Planner
	Limiter  *ratelimit.Limiter
	Metrics  *observe.Metrics
	Logger   *slog.Logger

	// ToolTimeout bounds every tool call. Defaults to defaultToolTimeout.
	ToolTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.ToolTimeout <= 0 {
		d.ToolTimeout = defaultToolTimeout
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	return d
}

// Server wraps the SDK's *mcpsdk.Server with the dependencies its tool
// handlers close over.
type Server struct {
	sdk  *mcpsdk.Server
	deps Deps
}

// NewServer builds an MCP server advertising the eight tools, the resource
// templates, and the prompt set, all wired through deps.
func NewServer(deps Deps) *Server {
	deps = deps.withDefaults()

	impl := &mcpsdk.Implementation{Name: "voicepane-queryd", Version: protocolVersion}
	sdkServer := mcpsdk.NewServer(impl, nil)

	s := &Server{sdk: sdkServer, deps: deps}
	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// Run serves the MCP protocol over stdio until ctx is cancelled or the
// transport closes.
func (s *Server) Run(ctx context.Context) error {
	return s.sdk.Run(ctx, &mcpsdk.StdioTransport{})
}

// gate runs fn under the session's rate-limit budget and a bounded deadline,
// recording tool-call metrics and mapping the result into a typed RPC error
// on failure.
func (s *Server) gate(ctx context.Context, tool, sessionID string, complexity int, fn func(ctx context.Context) (any, error)) (any, error) {
	if sessionID == "" {
		sessionID = "anonymous"
	}
	if err := s.deps.Limiter.Allow(sessionID, complexity); err != nil {
		s.deps.Metrics.RecordToolCall(ctx, tool, "rate_limited")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.deps.ToolTimeout)
	defer cancel()

	start := time.Now()
	out, err := fn(ctx)
	s.recordDuration(ctx, tool, start)

	status := "ok"
	if err != nil {
		status = "error"
		s.deps.Logger.Error("tool call failed", "tool", tool, "session_id", sessionID, "error", err)
	}
	s.deps.Metrics.RecordToolCall(ctx, tool, status)
	return out, err
}

func (s *Server) recordDuration(ctx context.Context, tool string, start time.Time) {
	if s.deps.Metrics == nil || s.deps.Metrics.ToolExecutionDuration == nil {
		return
	}
	s.deps.Metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
}

// rpcError is the stable, machine-readable error shape returned on
// every tool failure: a kind, a human message, and an optional retry hint.
type rpcError struct {
	Kind       string  `json:"kind"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

func newRPCError(tool string, err error) *rpcError {
	re := &rpcError{Kind: classify(err), Message: fmt.Sprintf("%s: %v", tool, err)}
	var rle *ratelimit.RateLimitError
	if asRateLimit(err, &rle) {
		re.RetryAfter = rle.RetryAfter.Seconds()
	}
	return re
}
