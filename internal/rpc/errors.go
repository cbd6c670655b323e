package rpc

import (
	"errors"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/query/ratelimit"
)

// kindTable orders errkind sentinels from most to least specific; classify
// walks it with errors.Is so a wrapped error reports the innermost kind a
// caller actually cares about.
var kindTable = []struct {
	err  error
	kind string
}{
	{errkind.RateLimited, "RateLimited"},
	{errkind.ComplexityExceeded, "ComplexityExceeded"},
	{errkind.ValidationFailed, "ValidationFailed"},
	{errkind.DanglingReference, "DanglingReference"},
	{errkind.DependencyUnavailable, "DependencyUnavailable"},
	{errkind.StorageFailure, "StorageFailure"},
	{errkind.MigrationMismatch, "MigrationMismatch"},
	{errkind.LLMUnavailable, "LLMUnavailable"},
	{errkind.LLMSchemaViolation, "LLMSchemaViolation"},
	{errkind.LLMTimeout, "LLMTimeout"},
	{errkind.InputCorrupt, "InputCorrupt"},
	{errkind.Internal, "Internal"},
}

// classify maps err to the stable machine-readable kind string carried
// in every structured RPC error response. An err matching none of the known
// sentinels classifies as "Internal" rather than leaking a raw Go error
// type to the client.
func classify(err error) string {
	for _, e := range kindTable {
		if errors.Is(err, e.err) {
			return e.kind
		}
	}
	return "Internal"
}

func asRateLimit(err error, target **ratelimit.RateLimitError) bool {
	return errors.As(err, target)
}
