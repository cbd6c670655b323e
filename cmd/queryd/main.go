// Command queryd is the query service: it owns the read-only JSON-RPC/MCP
// tool surface on top of the query planner, the LLM adapter, the
// security/rate limiter and the storage engine, and
// runs the cross-modal correlator as a background task that folds
// newly-ingested segments and frames into timeline-event rows.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voicepane/voicepane/internal/config"
	"github.com/voicepane/voicepane/internal/correlator"
	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/health"
	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/internal/query/executor"
	"github.com/voicepane/voicepane/internal/query/llmadapter"
	"github.com/voicepane/voicepane/internal/query/planner"
	"github.com/voicepane/voicepane/internal/query/ratelimit"
	"github.com/voicepane/voicepane/internal/resilience"
	"github.com/voicepane/voicepane/internal/rpc"
	"github.com/voicepane/voicepane/internal/storage"
	"github.com/voicepane/voicepane/pkg/provider/embeddings"
	"github.com/voicepane/voicepane/pkg/provider/embeddings/ollama"
	embeddingsopenai "github.com/voicepane/voicepane/pkg/provider/embeddings/openai"
	"github.com/voicepane/voicepane/pkg/provider/llm"
	"github.com/voicepane/voicepane/pkg/provider/llm/anyllm"
	llmopenai "github.com/voicepane/voicepane/pkg/provider/llm/openai"
)

// correlationInterval is how often the background correlator folds newly
// ingested segments and frames into timeline rows. Unlike the capture
// daemons' segment/interval knobs, this has no dedicated config entry —
// it only affects how fresh a correlated query's view of the timeline is,
// not any persisted data shape, so a fixed interval is sufficient.
const correlationInterval = 20 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config/config.yaml", "path to the YAML configuration file")
	healthAddr := flag.String("health-addr", ":9103", "address for the /healthz and /readyz HTTP endpoints")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "queryd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "queryd: %v\n", err)
		}
		return 5
	}

	// ── Logger & telemetry ────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownObserve, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "voicepane-queryd",
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

	llmProvider, err := buildLLM(cfg, reg)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return exitCode(err)
	}
	embedder, err := buildEmbeddings(cfg, reg)
	if err != nil {
		slog.Warn("embeddings provider unavailable, semantic_search will fail closed", "err", err)
		embedder = nil
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

	// ── Query service wiring ─────────────────────────────────────────────
	adapter := llmadapter.New(llmProvider,
		llmadapter.WithTimeout(time.Duration(cfg.Query.TimeoutSeconds)*time.Second),
		llmadapter.WithMetrics(metrics))

	qp := planner.New(adapter, store, planner.Config{
		MaxResults:            cfg.Query.MaxResults,
		MaxContextQueries:     cfg.Query.MaxContextQueries,
		ContextRetentionHours: cfg.Query.ContextRetentionHours,
	})

	exec := executor.New(store, embedder)

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute:   cfg.Query.RatePerMinute,
		ComplexityPerMinute: cfg.Query.ComplexityPerMinute,
	})

	server := rpc.NewServer(rpc.Deps{
		Executor:    exec,
		Planner:     qp,
		Limiter:     limiter,
		Metrics:     metrics,
		Logger:      logger,
		ToolTimeout: time.Duration(cfg.Query.TimeoutSeconds) * time.Second,
	})

	// ── Config hot-reload ─────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, newCfg *config.Config) {
		diff := config.Diff(old, newCfg)
		if diff.QueryChanged {
			limiter.UpdateConfig(ratelimit.Config{
				RequestsPerMinute:   newCfg.Query.RatePerMinute,
				ComplexityPerMinute: newCfg.Query.ComplexityPerMinute,
			})
			slog.Info("query rate limits reloaded",
				"rate_per_minute", newCfg.Query.RatePerMinute,
				"complexity_per_minute", newCfg.Query.ComplexityPerMinute)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

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

	// ── Run the RPC server and the background correlator together ───────
	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	corr, err := newCorrelator(store, metrics)
	if err != nil {
		slog.Error("failed to build correlator", "err", err)
		return 1
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("queryd ready", "protocol", "mcp/stdio")
		err := server.Run(egCtx)
		if egCtx.Err() != nil {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		runCorrelationLoop(egCtx, corr, store)
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.Error("queryd run error", "err", err)
		return 1
	}
	slog.Info("queryd stopped")
	return 0
}

// newCorrelator wires the storage engine as the correlator's sink; the
// correlator only ever appends timeline rows.
func newCorrelator(store *storage.Store, metrics *observe.Metrics) (*correlator.Correlator, error) {
	return correlator.New(correlator.Config{
		Sink:    store,
		Metrics: metrics,
	})
}

// Fixed device identities for the single-machine deployment this system
// targets. The storage schema has no per-row device-id column, so the
// correlator is fed one synthetic identity per modality rather than per
// physical device; this is sufficient for the correlator's temporal-
// proximity-plus-device-identity pairing rule, since the audio and video streams on
// a single machine are never the same identity.
const (
	audioDeviceID = "audiod"
	videoDeviceID = "videod"
)

// runCorrelationLoop periodically folds transcript segments and visual
// contexts ingested since the last pass into correlated timeline events,
// until ctx is cancelled. It never returns a hard error: a failed pass is
// logged and retried on the next tick, mirroring the capture path's
// retry-on-transient-error policy extended to this background task.
func runCorrelationLoop(ctx context.Context, corr *correlator.Correlator, store *storage.Store) {
	ticker := time.NewTicker(correlationInterval)
	defer ticker.Stop()

	var audioWatermark, videoWatermark int64

	runOnce := func() {
		// FindSegments' StartedAfter bound is inclusive (storage.SegmentFilter),
		// unlike FindVisualContextsSince's exclusive one; querying from
		// watermark+1 keeps the already-correlated boundary segment from being
		// resubmitted on every subsequent tick.
		segs, err := store.FindSegments(ctx, storage.SegmentFilter{StartedAfter: audioWatermark + 1, Limit: 1000})
		if err != nil {
			slog.Warn("correlator: list segments failed", "err", err)
			return
		}
		contexts, err := store.FindVisualContextsSince(ctx, videoWatermark, 1000)
		if err != nil {
			slog.Warn("correlator: list visual contexts failed", "err", err)
			return
		}
		if len(segs) == 0 && len(contexts) == 0 {
			return
		}

		audioEvents := make([]correlator.AudioEvent, 0, len(segs))
		for _, s := range segs {
			audioEvents = append(audioEvents, correlator.AudioEvent{
				SegmentID:  s.ID,
				DeviceID:   audioDeviceID,
				OccurredAt: s.StartedAt,
			})
			if ms := s.StartedAt.UnixMilli(); ms > audioWatermark {
				audioWatermark = ms
			}
		}

		videoEvents := make([]correlator.VideoEvent, 0, len(contexts))
		for _, vc := range contexts {
			frame, err := store.GetFrame(ctx, vc.FrameID)
			if err != nil {
				continue
			}
			videoEvents = append(videoEvents, correlator.VideoEvent{
				FrameID:         vc.FrameID,
				VisualContextID: vc.ID,
				DeviceID:        videoDeviceID,
				OccurredAt:      frame.CapturedAt,
			})
			if ms := vc.ClassifiedAt.UnixMilli(); ms > videoWatermark {
				videoWatermark = ms
			}
		}

		if err := corr.Correlate(ctx, audioEvents, videoEvents); err != nil {
			slog.Warn("correlator: correlate pass failed", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

// ── Provider wiring ──────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		backend, _ := entry.Options["backend"].(string)
		if backend == "" {
			backend = "openai"
		}
		return anyllm.New(backend, entry.Model)
	})
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embeddingsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, embeddingsopenai.WithBaseURL(entry.BaseURL))
		}
		return embeddingsopenai.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollama.Option
		if dims, ok := entry.Options["dimensions"].(int); ok && dims > 0 {
			opts = append(opts, ollama.WithDimensions(dims))
		}
		return ollama.New(entry.BaseURL, entry.Model, opts...)
	})
}

// buildLLM instantiates the configured LLM backend and wraps every other
// registered LLM provider as an automatic failover, matching audiod's own
// fallback-wiring shape for the LLM adapter's fails-with-LLMUnavailable contract
// living one layer up in internal/query/llmadapter.
func buildLLM(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	if cfg.LLM.Provider == "" {
		return nil, fmt.Errorf("queryd: llm.provider is required: %w", errkind.DependencyUnavailable)
	}
	entry := config.ProviderEntry{
		Name:    cfg.LLM.Provider,
		BaseURL: cfg.LLM.Endpoint,
		Model:   cfg.LLM.Model,
		APIKey:  os.Getenv("VOICEPANE_LLM_API_KEY"),
	}
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("queryd: create llm provider %q: %w", entry.Name, err)
	}

	fallback := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "llm", MaxFailures: 3, ResetTimeout: 30 * time.Second},
	})
	for _, name := range config.ValidProviderNames["llm"] {
		if name == entry.Name {
			continue
		}
		alt, err := reg.CreateLLM(config.ProviderEntry{Name: name, Model: cfg.LLM.Model})
		if err != nil {
			continue
		}
		fallback.AddFallback(name, alt)
	}
	return fallback, nil
}

func buildEmbeddings(cfg *config.Config, reg *config.Registry) (embeddings.Provider, error) {
	entry := cfg.Providers.Embeddings
	if entry.Name == "" {
		return nil, fmt.Errorf("queryd: providers.embeddings.name not configured: %w", errkind.DependencyUnavailable)
	}
	return reg.CreateEmbeddings(entry)
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

// exitCode maps err to the process exit codes documented for the capture
// daemons; queryd reuses the same taxonomy for its own startup
// failures (no lock/permission cases apply, so only the dependency and
// configuration codes are reachable here).
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errkind.DependencyUnavailable):
		return 4
	default:
		return 1
	}
}
