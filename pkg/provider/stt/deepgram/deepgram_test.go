package deepgram

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/voicepane/voicepane/pkg/provider/stt"
	"github.com/voicepane/voicepane/pkg/types"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batch := types.AudioSampleBatch{SampleRate: 16000, Channels: 1}
	rawURL, err := p.buildURL(batch, stt.TranscribeConfig{Language: "en"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batch := types.AudioSampleBatch{SampleRate: 48000, Channels: 1}
	rawURL, err := p.buildURL(batch, stt.TranscribeConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildURL_LanguageOverriddenByCfg(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batch := types.AudioSampleBatch{SampleRate: 16000, Channels: 1}
	rawURL, err := p.buildURL(batch, stt.TranscribeConfig{Language: "fr-FR"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildURL_DefaultsToMonoChannel(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batch := types.AudioSampleBatch{SampleRate: 16000}
	rawURL, err := p.buildURL(batch, stt.TranscribeConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "channels", "1", u.Query().Get("channels"))
}

func TestBuildURL_Keywords(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batch := types.AudioSampleBatch{SampleRate: 16000, Channels: 1}
	cfg := stt.TranscribeConfig{Keywords: []string{"Eldrinax", "Zorrath"}}

	rawURL, err := p.buildURL(batch, cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}
}

// ---- JSON parsing tests ----

func TestParsePrerecordedResponse_Success(t *testing.T) {
	raw := []byte(`{
		"results": {
			"channels": [{
				"alternatives": [{
					"transcript": "Hello world",
					"confidence": 0.95,
					"words": [
						{"word": "Hello", "start": 0.1, "end": 0.5, "confidence": 0.97},
						{"word": "world", "start": 0.6, "end": 1.0, "confidence": 0.93}
					]
				}]
			}]
		}
	}`)

	now := time.Now()
	tr, ok := parsePrerecordedResponse(raw, now)
	if !ok {
		t.Fatal("expected ok=true for valid response")
	}

	assertEqual(t, "text", "Hello world", tr.Text)
	if tr.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", tr.Confidence)
	}
	if len(tr.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(tr.Words))
	}
	assertEqual(t, "word[0]", "Hello", tr.Words[0].Word)
	if tr.Words[0].Start != time.Duration(0.1*float64(time.Second)) {
		t.Errorf("unexpected start: %v", tr.Words[0].Start)
	}
	if !tr.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v, want %v", tr.StartedAt, now)
	}
	wantDuration := time.Duration(1.0 * float64(time.Second))
	if tr.Duration != wantDuration {
		t.Errorf("Duration = %v, want %v", tr.Duration, wantDuration)
	}
}

func TestParsePrerecordedResponse_EmptyChannels(t *testing.T) {
	raw := []byte(`{"results":{"channels":[]}}`)
	_, ok := parsePrerecordedResponse(raw, time.Now())
	if ok {
		t.Error("expected ok=false when channels is empty")
	}
}

func TestParsePrerecordedResponse_EmptyAlternatives(t *testing.T) {
	raw := []byte(`{"results":{"channels":[{"alternatives":[]}]}}`)
	_, ok := parsePrerecordedResponse(raw, time.Now())
	if ok {
		t.Error("expected ok=false when alternatives is empty")
	}
}

func TestParsePrerecordedResponse_InvalidJSON(t *testing.T) {
	_, ok := parsePrerecordedResponse([]byte(`{invalid`), time.Now())
	if ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
}

// ---- Transcribe end-to-end against a fake server ----

func TestTranscribe_EmptyBatch(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Transcribe(t.Context(), types.AudioSampleBatch{}, stt.TranscribeConfig{})
	if err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestTranscribe_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("Authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"hi there","confidence":0.9,"words":[]}]}]}}`))
	}))
	defer server.Close()

	p, err := New("test-key", WithEndpoint(server.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batch := types.AudioSampleBatch{
		Samples:    []int16{1, 2, 3, 4},
		SampleRate: 16000,
		Channels:   1,
	}
	tr, err := p.Transcribe(t.Context(), batch, stt.TranscribeConfig{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "hi there", tr.Text)
}

func TestTranscribe_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer server.Close()

	p, err := New("bad-key", WithEndpoint(server.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	batch := types.AudioSampleBatch{Samples: []int16{1, 2}, SampleRate: 16000, Channels: 1}
	_, err = p.Transcribe(t.Context(), batch, stt.TranscribeConfig{})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
