// Command audiod is the audio capture daemon: it owns the microphone/system
// audio stream, runs it through speech-to-text, post-processing, speaker
// identification and conversation-boundary detection, and persists the
// result to the shared database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/voicepane/voicepane/internal/config"
	"github.com/voicepane/voicepane/internal/conversation"
	"github.com/voicepane/voicepane/internal/daemon"
	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/health"
	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/internal/resilience"
	"github.com/voicepane/voicepane/internal/ringbuffer"
	"github.com/voicepane/voicepane/internal/speaker"
	"github.com/voicepane/voicepane/internal/storage"
	"github.com/voicepane/voicepane/internal/transcript"
	"github.com/voicepane/voicepane/pkg/audio/miniaudio"
	capture "github.com/voicepane/voicepane/internal/capture/audio"
	"github.com/voicepane/voicepane/pkg/provider/stt"
	"github.com/voicepane/voicepane/pkg/provider/stt/deepgram"
	"github.com/voicepane/voicepane/pkg/provider/stt/whisper"
	"github.com/voicepane/voicepane/pkg/provider/vad"
	"github.com/voicepane/voicepane/pkg/provider/vad/silero"
	"github.com/voicepane/voicepane/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config/config.yaml", "path to the YAML configuration file")
	healthAddr := flag.String("health-addr", ":9101", "address for the /healthz and /readyz HTTP endpoints")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "audiod: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "audiod: %v\n", err)
		}
		return 5
	}

	// ── Logger & telemetry ────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownObserve, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "voicepane-audiod",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownObserve(ctx)
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttProvider, err := buildSTT(cfg, reg)
	if err != nil {
		slog.Error("failed to build speech-to-text provider", "err", err)
		return 1
	}

	vadEngine, err := buildVAD(cfg, reg)
	if err != nil {
		slog.Warn("voice-activity detection unavailable, falling back to timestamp-only boundaries", "err", err)
	}

	// ── Storage ───────────────────────────────────────────────────────────
	store, err := storage.Open(context.Background(), storage.Config{
		Path:          dbPath(cfg.DataDir, cfg.Storage.DatabasePath),
		MaxOpenConns:  cfg.Storage.MaxOpenConns,
		QueryTimeout:  time.Duration(cfg.Storage.QueryTimeoutSeconds) * time.Second,
		ANNEnabled:    cfg.Storage.ANNEnabled,
		ANNDimensions: cfg.Storage.ANNDimensions,
	})
	if err != nil {
		slog.Error("failed to open storage", "err", err)
		return exitCode(err)
	}
	defer store.Close()

	if err := seedDefaultSpeakers(context.Background(), store); err != nil {
		slog.Error("failed to seed default speaker profiles", "err", err)
		return 1
	}

	postprocessor, err := transcript.NewProcessor(transcript.DefaultConfig())
	if err != nil {
		slog.Error("failed to build transcript post-processor", "err", err)
		return 1
	}
	identifier := speaker.New()
	convDetector := conversation.New(conversation.DefaultConfig())

	audioDir := filepath.Join(expandHome(cfg.DataDir), "audio-captures")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		slog.Error("failed to create audio capture directory", "err", err)
		return 1
	}

	pipeline := &audioPipeline{
		store:         store,
		stt:           sttProvider,
		vad:           vadEngine,
		postprocessor: postprocessor,
		identifier:    identifier,
		conversations: convDetector,
		metrics:       metrics,
		sampleRateHz:  cfg.Audio.SampleRateHz,
		artifactDir:   audioDir,
		sessionID:     uuid.NewString(),
		source:        "virtual-loopback",
		deviceInfo:    cfg.Audio.Device,
	}

	// ── Capture backend ───────────────────────────────────────────────────
	device, err := miniaudio.New(miniaudio.Config{
		SampleRate: cfg.Audio.SampleRateHz,
		Channels:   cfg.Audio.Channels,
	})
	if err != nil {
		slog.Error("failed to initialise audio backend", "err", err)
		return exitCode(fmt.Errorf("audiod: audio backend: %w: %w", errkind.DependencyUnavailable, err))
	}
	defer device.Close()

	capturer, err := capture.Open(context.Background(), capture.Config{
		Device:       device,
		DeviceID:     cfg.Audio.Device,
		Source:       "virtual-loopback",
		SampleRateHz: cfg.Audio.SampleRateHz,
		Channels:     cfg.Audio.Channels,
		QueueDepth:   256,
		Consumer:     pipeline.consume,
		Metrics:      metrics,
	})
	if err != nil {
		slog.Error("failed to open audio device", "err", err)
		return exitCode(err)
	}
	defer capturer.Close()

	// ── Health endpoint ───────────────────────────────────────────────────
	healthHandler := health.New(health.Checker{
		Name: "storage",
		Check: func(ctx context.Context) error {
			_, err := store.ListSpeakers(ctx)
			return err
		},
	})
	mux := http.NewServeMux()
	healthHandler.Register(mux)
	httpSrv := &http.Server{Addr: *healthAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server error", "err", err)
		}
	}()
	defer httpSrv.Close()

	// ── Daemon supervision ────────────────────────────────────────────────
	segmentDuration := time.Duration(cfg.Audio.SegmentSeconds) * time.Second
	supervisor, err := daemon.New(daemon.Config{
		Name:    "audiod",
		LockDir: filepath.Join(expandHome(cfg.DataDir), "daemon-logs"),
		BeforeSegment: func(ctx context.Context) error {
			_, err := ringbuffer.Manage(ctx, ringbuffer.Config{
				Dir:            audioDir,
				MaxFiles:       cfg.Storage.MaxFilesPerSegmentDir,
				MaxTotalSizeMB: int64(cfg.Storage.MaxTotalSizeMB),
				Metrics:        metrics,
			})
			return err
		},
		Segment: func(ctx context.Context) error {
			return capturer.Segment(ctx, segmentDuration)
		},
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to start audiod", "err", err)
		return exitCode(err)
	}

	slog.Info("audiod ready", "segment_seconds", cfg.Audio.SegmentSeconds, "sample_rate_hz", cfg.Audio.SampleRateHz)

	// Supervisor.Run installs its own SIGINT/SIGTERM handling.
	if err := supervisor.Run(context.Background()); err != nil {
		slog.Error("audiod run error", "err", err)
		return exitCode(err)
	}
	slog.Info("audiod stopped")
	return 0
}

// audioPipeline wires one completed audio batch through STT, post-
// processing, speaker identification, conversation-boundary detection and
// persistence.
type audioPipeline struct {
	store         *storage.Store
	stt           stt.Provider
	vad           vad.Engine
	postprocessor *transcript.Processor
	identifier    *speaker.Identifier
	conversations *conversation.Detector
	metrics       *observe.Metrics
	sampleRateHz  int

	artifactDir string
	sessionID   string
	source      string
	deviceInfo  string

	currentConversationID string
}

// consume implements [internal/capture/audio.Consumer]. VAD, when
// available, runs as a post-hoc pass over the already-buffered batch to
// refine the segment's effective start/end before it reaches the
// conversation detector's silence-gap signal — the capture pump itself
// stays push-based and VAD-agnostic.
func (p *audioPipeline) consume(ctx context.Context, batch types.AudioSampleBatch) error {
	startedAt, endedAt := p.refineWithVAD(batch)

	raw, err := p.stt.Transcribe(ctx, batch, stt.TranscribeConfig{})
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordProviderRequest(ctx, "stt", "transcribe", "error")
		}
		return fmt.Errorf("audiod: transcribe: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordProviderRequest(ctx, "stt", "transcribe", "ok")
	}

	result := p.postprocessor.Process(raw)
	if result.Status == transcript.StatusDropped {
		slog.Debug("dropping low-confidence transcript", "confidence", result.Confidence)
		return nil
	}

	decision := p.identifier.Identify(speaker.IdentifyInput{
		Text: result.Text,
		At:   startedAt,
	}, p.knownSpeakers(ctx))

	speakerID := decision.SpeakerID
	if decision.IsNew {
		speakerID = uuid.NewString()
		profile := speaker.NewProfile(speakerID, nil, startedAt, 0)
		if err := p.store.UpsertSpeaker(ctx, profile); err != nil {
			return fmt.Errorf("audiod: upsert new speaker: %w", err)
		}
	}

	seg := types.TranscriptSegment{
		ID:            uuid.NewString(),
		SpeakerID:     speakerID,
		Text:          result.Text,
		RawText:       raw.Text,
		Confidence:    result.Confidence,
		StartedAt:     startedAt,
		EndedAt:       endedAt,
		ConfigVersion: result.ConfigVersion,
	}

	if boundary, ok := p.conversations.Observe(seg); ok {
		p.currentConversationID = uuid.NewString()
		slog.Debug("conversation boundary detected", "reasons", boundary.Reason, "confidence", boundary.Confidence)
	}
	if p.currentConversationID == "" {
		p.currentConversationID = uuid.NewString()
	}
	seg.ConversationID = p.currentConversationID

	if err := p.store.InsertSegment(ctx, seg); err != nil {
		return fmt.Errorf("audiod: insert segment: %w", err)
	}
	if err := p.store.UpsertConversation(ctx, types.Conversation{
		ID:         seg.ConversationID,
		StartedAt:  seg.StartedAt,
		EndedAt:    seg.EndedAt,
		SegmentIDs: []string{seg.ID},
	}); err != nil {
		return fmt.Errorf("audiod: upsert conversation: %w", err)
	}

	artifact := capture.BuildArtifact(raw, result.Text, result.ConfigVersion,
		p.sessionID, artifactSource(p.source), speakerID, p.deviceInfo)
	if _, err := capture.WriteArtifact(p.artifactDir, artifact, seg.StartedAt); err != nil {
		return fmt.Errorf("audiod: write segment artifact: %w", err)
	}

	return nil
}

// artifactSource maps the capture layer's source tag to the artifact's
// documented audio_source values (System, Microphone, Loopback).
func artifactSource(source string) string {
	switch source {
	case "microphone":
		return "Microphone"
	case "system":
		return "System"
	default:
		return "Loopback"
	}
}

// refineWithVAD runs a post-hoc VAD pass over batch's samples to tighten the
// segment's effective start/end to the detected speech span, falling back
// to the batch's own capture window when VAD is unavailable or detects no
// speech. Frames are submitted in 30ms windows, matching the common WebRTC-
// style frame size silero's session expects.
func (p *audioPipeline) refineWithVAD(batch types.AudioSampleBatch) (time.Time, time.Time) {
	start := batch.CapturedAt
	end := start.Add(sampleDuration(len(batch.Samples), batch.SampleRate))
	if p.vad == nil {
		return start, end
	}

	session, err := p.vad.NewSession(vad.Config{
		SampleRate:       batch.SampleRate,
		FrameSizeMs:      30,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	})
	if err != nil {
		slog.Warn("vad session unavailable", "err", err)
		return start, end
	}
	defer session.Close()

	frameSamples := batch.SampleRate * 30 / 1000
	if frameSamples <= 0 {
		return start, end
	}

	var firstSpeech, lastSpeech = -1, -1
	for i := 0; i+frameSamples <= len(batch.Samples); i += frameSamples {
		frame := int16SamplesToBytes(batch.Samples[i: i+frameSamples])
		event, err := session.ProcessFrame(frame)
		if err != nil {
			continue
		}
		switch event.Type {
		case types.VADSpeechStart, types.VADSpeechContinue:
			if firstSpeech == -1 {
				firstSpeech = i
			}
			lastSpeech = i + frameSamples
		}
	}
	if firstSpeech == -1 {
		return start, end
	}
	return start.Add(sampleDuration(firstSpeech, batch.SampleRate)), start.Add(sampleDuration(lastSpeech, batch.SampleRate))
}

func (p *audioPipeline) knownSpeakers(ctx context.Context) []types.SpeakerProfile {
	known, err := p.store.ListSpeakers(ctx)
	if err != nil {
		slog.Warn("failed to load known speakers", "err", err)
		return nil
	}
	return known
}

func sampleDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

func int16SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func seedDefaultSpeakers(ctx context.Context, store *storage.Store) error {
	existing, err := store.ListSpeakers(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.ID] = true
	}
	for _, p := range speaker.SeedDefaultProfiles(time.Now()) {
		if seen[p.ID] {
			continue
		}
		if err := store.UpsertSpeaker(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// ── Provider wiring ──────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.BaseURL
		if modelPath == "" {
			modelPath = entry.Model
		}
		var opts []whisper.Option
		if lang, ok := entry.Options["language"].(string); ok && lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelData, err := os.ReadFile(entry.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("audiod: read silero model: %w: %w", errkind.DependencyUnavailable, err)
		}
		var opts []silero.Option
		if path, ok := entry.Options["ort_library_path"].(string); ok && path != "" {
			opts = append(opts, silero.WithORTLibraryPath(path))
		}
		return silero.New(modelData, opts...)
	})
}

func buildSTT(cfg *config.Config, reg *config.Registry) (stt.Provider, error) {
	entry := cfg.Providers.STT
	if entry.Name == "" {
		return nil, fmt.Errorf("audiod: providers.stt.name is required: %w", errkind.DependencyUnavailable)
	}
	primary, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("audiod: create stt provider %q: %w", entry.Name, err)
	}

	fallback := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
	})
	for name, alt := range alternateSTTProviders(cfg, reg, entry.Name) {
		fallback.AddFallback(name, alt)
	}
	return fallback, nil
}

// alternateSTTProviders instantiates every registered STT provider other
// than the primary, so a primary-backend outage automatically fails over
// instead of leaving audiod with
// a single point of failure.
func alternateSTTProviders(cfg *config.Config, reg *config.Registry, primaryName string) map[string]stt.Provider {
	out := make(map[string]stt.Provider)
	for _, name := range config.ValidProviderNames["stt"] {
		if name == primaryName {
			continue
		}
		entry := config.ProviderEntry{Name: name, Model: cfg.Providers.STT.Model}
		p, err := reg.CreateSTT(entry)
		if err != nil {
			continue
		}
		out[name] = p
	}
	return out
}

func buildVAD(cfg *config.Config, reg *config.Registry) (vad.Engine, error) {
	entry := cfg.Providers.VAD
	if entry.Name == "" {
		return nil, fmt.Errorf("audiod: providers.vad.name not configured: %w", errkind.DependencyUnavailable)
	}
	return reg.CreateVAD(entry)
}

// ── Helpers ──────────────────────────────────────────────────────────────

func dbPath(dataDir, configured string) string {
	if configured != "" {
		return expandHome(configured)
	}
	return filepath.Join(expandHome(dataDir), "databases", "voicepane.db")
}

func expandHome(p string) string {
	if p == "~" || len(p) >= 2 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// exitCode maps err to the process exit code documented for the capture
// daemons: 2 lock held, 3 permission denied, 4 dependency unavailable,
// 5 invalid configuration, 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errkind.LockHeld):
		return 2
	case errors.Is(err, errkind.PermissionDenied):
		return 3
	case errors.Is(err, errkind.DependencyUnavailable):
		return 4
	default:
		return 1
	}
}
