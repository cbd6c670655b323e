// Package mock provides a test double for the stt package's Provider
// interface.
//
// Example:
//
//	p := &mock.Provider{Result: types.Transcript{Text: "hello world"}}
//	got, err := p.Transcribe(ctx, batch, stt.TranscribeConfig{})
package mock

import (
	"context"
	"sync"

	"github.com/voicepane/voicepane/pkg/provider/stt"
	"github.com/voicepane/voicepane/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Batch types.AudioSampleBatch
	Cfg   stt.TranscribeConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call, unless Err is set.
	Result types.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(_ context.Context, batch types.AudioSampleBatch, cfg stt.TranscribeConfig) (types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Batch: batch, Cfg: cfg})
	if p.Err != nil {
		return types.Transcript{}, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
