// Package tesseract provides a local Tesseract-backed OCR provider using
// CGO bindings, running on-device with no network dependency. A fresh
// Tesseract client is created for each Extract call.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/vision/ocr"
	"github.com/voicepane/voicepane/pkg/types"
)

// Compile-time assertion that Provider implements ocr.Provider.
var _ ocr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguages sets the Tesseract language packs to load (e.g. "eng").
// Defaults to "eng".
func WithLanguages(langs ...string) Option {
	return func(p *Provider) { p.languages = langs }
}

// Provider implements ocr.Provider using Tesseract via
// github.com/otiai10/gosseract (CGO bindings over libtesseract).
//
// Client instances are NOT safe for concurrent use, so Extract creates a
// fresh client per call; this matches gosseract's documented usage pattern.
type Provider struct {
	languages []string
}

// New returns a Provider. Pass WithLanguages to load non-English packs.
func New(opts ...Option) *Provider {
	p := &Provider{languages: []string{"eng"}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Extract implements ocr.Provider.
func (p *Provider) Extract(ctx context.Context, req ocr.ExtractRequest) ([]types.TextExtraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tesseract: context already cancelled: %w", err)
	}
	if req.ImagePath == "" {
		return nil, fmt.Errorf("tesseract: empty image path: %w", errkind.InputCorrupt)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(p.languages...); err != nil {
		return nil, fmt.Errorf("tesseract: set language: %w: %w", errkind.DependencyUnavailable, err)
	}
	if err := client.SetImage(req.ImagePath); err != nil {
		return nil, fmt.Errorf("tesseract: load image %q: %w: %w", req.ImagePath, errkind.InputCorrupt, err)
	}

	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, fmt.Errorf("tesseract: recognize %q: %w: %w", req.ImagePath, errkind.DependencyUnavailable, err)
	}

	extractions := make([]types.TextExtraction, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		extractions = append(extractions, types.TextExtraction{
			FrameID:    req.FrameID,
			Region:     [4]int{b.Box.Min.X, b.Box.Min.Y, b.Box.Max.X, b.Box.Max.Y},
			Text:       b.Word,
			Confidence: b.Confidence / 100.0,
		})
	}

	return extractions, nil
}
