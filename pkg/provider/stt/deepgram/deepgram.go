// Package deepgram provides a Deepgram-backed STT provider using Deepgram's
// prerecorded (batch) REST endpoint. It implements the stt.Provider
// interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/pkg/provider/stt"
	"github.com/voicepane/voicepane/pkg/types"
)

const (
	defaultEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code used when a Transcribe
// call's TranscribeConfig.Language is empty.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the Deepgram prerecorded API endpoint. Intended for
// testing against a local fake server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

// Provider implements stt.Provider backed by Deepgram's prerecorded (batch)
// transcription API. Each Transcribe call uploads the batch's raw PCM audio
// as a single request and blocks until Deepgram returns the full transcript,
// matching the finite-batch semantics of stt.Provider.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	client   *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: defaultEndpoint,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider by uploading batch's PCM audio to
// Deepgram's prerecorded endpoint as linear16 audio and parsing the
// resulting JSON transcript.
func (p *Provider) Transcribe(ctx context.Context, batch types.AudioSampleBatch, cfg stt.TranscribeConfig) (types.Transcript, error) {
	if len(batch.Samples) == 0 {
		return types.Transcript{}, fmt.Errorf("deepgram: empty sample batch: %w", errkind.InputCorrupt)
	}

	began := time.Now()
	reqURL, err := p.buildURL(batch, cfg)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	body := encodeInt16LE(batch.Samples)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/l16")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: request: %w: %w", errkind.DependencyUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("deepgram: status %d: %w: %s", resp.StatusCode, errkind.DependencyUnavailable, string(data))
	}

	transcript, ok := parsePrerecordedResponse(data, batch.CapturedAt)
	if !ok {
		return types.Transcript{}, fmt.Errorf("deepgram: unrecognized response: %w", errkind.DependencyUnavailable)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	transcript.Language = lang
	transcript.ModelID = "deepgram/" + p.model
	transcript.ProcessingTime = time.Since(began)
	return transcript, nil
}

// buildURL constructs the Deepgram prerecorded endpoint URL for the given
// batch and config.
func (p *Provider) buildURL(batch types.AudioSampleBatch, cfg stt.TranscribeConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := batch.SampleRate
	ch := batch.Channels
	if ch <= 0 {
		ch = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(ch))
	for _, kw := range cfg.Keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// encodeInt16LE serializes signed 16-bit PCM samples as little-endian bytes.
func encodeInt16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// prerecordedResponse mirrors the subset of Deepgram's prerecorded response
// JSON this provider consumes.
type prerecordedResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// parsePrerecordedResponse parses a Deepgram prerecorded API response body
// into a Transcript. Returns (Transcript, true) on success, or (zero, false)
// if the response does not contain a usable result.
func parsePrerecordedResponse(data []byte, startedAt time.Time) (types.Transcript, bool) {
	var resp prerecordedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, false
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return types.Transcript{}, false
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	words := make([]types.WordDetail, 0, len(alt.Words))
	var lastEnd time.Duration
	for _, w := range alt.Words {
		words = append(words, types.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
		lastEnd = time.Duration(w.End * float64(time.Second))
	}

	return types.Transcript{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Words:      words,
		StartedAt:  startedAt,
		Duration:   lastEnd,
	}, true
}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)
