// Package whisper provides a local whisper.cpp-backed STT provider.
//
// The model is loaded once at startup via [New] and shared across all
// Transcribe calls; each call creates its own whisper.cpp inference context
// (contexts are not safe for concurrent use, but the underlying model is),
// so concurrent Transcribe calls do not interfere with one another.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/pkg/provider/stt"
	"github.com/voicepane/voicepane/pkg/types"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const defaultLanguage = "en"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code used when a Transcribe
// call's TranscribeConfig.Language is empty. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements stt.Provider using whisper.cpp's Go bindings (CGO),
// running inference entirely on-device with no network dependency.
type Provider struct {
	model    whisperlib.Model
	language string
	modelID  string
}

// New loads the whisper.cpp model from modelPath. The caller must call
// Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w: %w", modelPath, errkind.DependencyUnavailable, err)
	}
	p := &Provider{model: model, language: defaultLanguage, modelID: "whisper.cpp/" + filepath.Base(modelPath)}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, batch types.AudioSampleBatch, cfg stt.TranscribeConfig) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(batch.Samples) == 0 {
		return types.Transcript{}, fmt.Errorf("whisper: empty sample batch: %w", errkind.InputCorrupt)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	began := time.Now()
	samples := int16ToFloat32Mono(batch.Samples, batch.Channels)

	wctx, err := p.model.NewContext()
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create context: %w: %w", errkind.DependencyUnavailable, err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: process audio: %w: %w", errkind.DependencyUnavailable, err)
	}

	var parts []string
	var words []types.WordDetail
	var confSum float64
	var confCount int
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		words = append(words, types.WordDetail{
			Word:  text,
			Start: segment.Start,
			End:   segment.End,
		})
		confSum += 1.0 // whisper.cpp segments carry no per-segment probability in this binding
		confCount++
	}

	confidence := 0.0
	if confCount > 0 {
		confidence = confSum / float64(confCount)
	}

	return types.Transcript{
		Text:           strings.Join(parts, " "),
		Confidence:     confidence,
		Words:          words,
		StartedAt:      batch.CapturedAt,
		Duration:       0,
		Language:       lang,
		ModelID:        p.modelID,
		ProcessingTime: time.Since(began),
	}, nil
}
