// Package errkind defines the sentinel error kinds shared across the
// capture daemons, the storage engine, and the query service. Every error
// that crosses a component boundary should wrap one of these with
// fmt.Errorf's %w so that callers can classify it with errors.Is, and so
// that the RPC service (internal/rpc) can surface a stable "kind" string in
// its JSON-RPC error responses.
package errkind

import "errors"

var (
	// DeviceLost indicates an input device (microphone, display) disappeared
	// mid-capture.
	DeviceLost = errors.New("device lost")

	// PermissionDenied indicates the OS denied access to a capture resource
	// (microphone, screen recording).
	PermissionDenied = errors.New("permission denied")

	// DependencyUnavailable indicates an external or local inference backend
	// (STT, OCR, LLM, embeddings) could not be reached or failed to respond.
	DependencyUnavailable = errors.New("dependency unavailable")

	// InputCorrupt indicates malformed input data that cannot be processed
	// (truncated audio batch, unreadable frame).
	InputCorrupt = errors.New("input corrupt")

	// Suppressed indicates a result was intentionally dropped by a privacy
	// gate (blocklisted application, capture schedule window).
	Suppressed = errors.New("suppressed")

	// LockHeld indicates the single-instance daemon lock is held by another
	// live process.
	LockHeld = errors.New("lock held")

	// StorageFailure indicates the embedded storage engine could not
	// complete an operation (disk full, corruption, I/O error).
	StorageFailure = errors.New("storage failure")

	// MigrationMismatch indicates the on-disk schema version does not match
	// any known migration and the database must not be opened.
	MigrationMismatch = errors.New("migration mismatch")

	// LLMUnavailable indicates the configured LLM backend could not be
	// reached at all (as distinct from responding late or malformed).
	LLMUnavailable = errors.New("llm unavailable")

	// LLMSchemaViolation indicates the LLM adapter's response did not
	// conform to the enforced structured-query schema.
	LLMSchemaViolation = errors.New("llm schema violation")

	// LLMTimeout indicates the LLM backend did not respond within its
	// configured deadline.
	LLMTimeout = errors.New("llm timeout")

	// RateLimited indicates a per-session budget (requests, rows,
	// complexity) was exceeded.
	RateLimited = errors.New("rate limited")

	// ComplexityExceeded indicates a structured query's estimated cost
	// exceeded the per-session complexity budget.
	ComplexityExceeded = errors.New("complexity exceeded")

	// ValidationFailed indicates a structured query failed schema or
	// semantic validation before reaching the planner.
	ValidationFailed = errors.New("validation failed")

	// DanglingReference indicates a record references another record that
	// no longer exists (for example, a timeline event pointing at a deleted
	// frame).
	DanglingReference = errors.New("dangling reference")

	// PartialSegment indicates a transcript segment was flushed before its
	// natural boundary (daemon shutdown, ring-buffer eviction pressure).
	PartialSegment = errors.New("partial segment")

	// Internal indicates an unexpected internal error with no more specific
	// classification.
	Internal = errors.New("internal error")
)
