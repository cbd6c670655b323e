// Package mock provides a test double for the ocr package's Provider
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/voicepane/voicepane/internal/vision/ocr"
	"github.com/voicepane/voicepane/pkg/types"
)

// ExtractCall records a single invocation of Provider.Extract.
type ExtractCall struct {
	Req ocr.ExtractRequest
}

// Provider is a mock implementation of ocr.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Extract call, unless Err is set.
	Result []types.TextExtraction

	// Err, if non-nil, is returned as the error from Extract.
	Err error

	// Calls records every invocation of Extract in order.
	Calls []ExtractCall
}

// Extract records the call and returns Result, Err.
func (p *Provider) Extract(_ context.Context, req ocr.ExtractRequest) ([]types.TextExtraction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, ExtractCall{Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of Extract calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Ensure Provider implements ocr.Provider at compile time.
var _ ocr.Provider = (*Provider)(nil)
