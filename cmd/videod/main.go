// Command videod is the screen capture daemon: it owns the periodic
// screenshot loop, runs change detection, OCR (with region-stability
// caching) and heuristic classification over kept frames, and persists the
// results to the shared database. It also hot-reloads
// the privacy gate's blocklist/schedule/stealth settings without a restart.
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

	capturevideo "github.com/voicepane/voicepane/internal/capture/video"
	"github.com/voicepane/voicepane/internal/config"
	"github.com/voicepane/voicepane/internal/daemon"
	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/health"
	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/internal/ringbuffer"
	"github.com/voicepane/voicepane/internal/storage"
	"github.com/voicepane/voicepane/internal/vision/changedet"
	"github.com/voicepane/voicepane/internal/vision/classify"
	"github.com/voicepane/voicepane/internal/vision/ocr"
	"github.com/voicepane/voicepane/internal/vision/ocr/tesseract"
	"github.com/voicepane/voicepane/pkg/types"
	"github.com/voicepane/voicepane/pkg/video/screenshot"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config/config.yaml", "path to the YAML configuration file")
	healthAddr := flag.String("health-addr", ":9102", "address for the /healthz and /readyz HTTP endpoints")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "videod: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "videod: %v\n", err)
		}
		return 5
	}

	// ── Logger & telemetry ────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownObserve, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "voicepane-videod",
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

	ocrProvider, err := buildOCR(cfg, reg)
	if err != nil {
		slog.Error("failed to build OCR provider", "err", err)
		return 1
	}
	cachingOCR := ocr.NewCachingAdapter(ocrProvider, metrics)

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

	classifier := classify.New()
	imageDir := filepath.Join(expandHome(cfg.DataDir), "video-captures")
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		slog.Error("failed to create video capture directory", "err", err)
		return 1
	}

	detector := changedet.New(changedet.Config{
		StoreThreshold: 0.08,
		StableDuration: 15 * time.Second,
	})
	gate := capturevideo.NewPrivacyGate(cfg.Video)

	pipeline := &videoPipeline{
		store:      store,
		ocr:        cachingOCR,
		classifier: classifier,
		metrics:    metrics,
	}

	// ── Capture backend ───────────────────────────────────────────────────
	backend := screenshot.New()
	defer backend.Close()

	capturer, err := capturevideo.New(capturevideo.Config{
		Backend:   backend,
		DisplayID: "primary",
		Gate:      gate,
		Detector:  detector,
		ImageDir:  imageDir,
		Consumer:  pipeline.consume,
		Metrics:   metrics,
	})
	if err != nil {
		slog.Error("failed to initialise video capturer", "err", err)
		return exitCode(err)
	}

	// ── Config hot-reload ─────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, newCfg *config.Config) {
		diff := config.Diff(old, newCfg)
		if diff.VideoChanged {
			gate.UpdateConfig(newCfg.Video)
			slog.Info("video privacy settings reloaded",
				"stealth", newCfg.Video.Stealth, "schedule", newCfg.Video.Schedule)
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
			_, err := store.FindFrames(ctx, 0, 1)
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
	interval := time.Duration(cfg.Video.IntervalSeconds) * time.Second
	supervisor, err := daemon.New(daemon.Config{
		Name:    "videod",
		LockDir: filepath.Join(expandHome(cfg.DataDir), "daemon-logs"),
		BeforeSegment: func(ctx context.Context) error {
			// Frames land in per-date subdirectories; the ring buffer
			// manages the directory currently being written to.
			_, err := ringbuffer.Manage(ctx, ringbuffer.Config{
				Dir:            filepath.Join(imageDir, time.Now().Format("2006-01-02")),
				MaxFiles:       cfg.Storage.MaxFilesPerSegmentDir,
				MaxTotalSizeMB: int64(cfg.Storage.MaxTotalSizeMB),
				Metrics:        metrics,
			})
			return err
		},
		Segment: func(ctx context.Context) error {
			if err := capturer.Segment(ctx); err != nil {
				return err
			}
			return sleepOrDone(ctx, interval)
		},
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to start videod", "err", err)
		return exitCode(err)
	}

	slog.Info("videod ready", "interval_seconds", cfg.Video.IntervalSeconds, "stealth", cfg.Video.Stealth)

	if err := supervisor.Run(context.Background()); err != nil {
		slog.Error("videod run error", "err", err)
		return exitCode(err)
	}
	slog.Info("videod stopped")
	return 0
}

// videoPipeline wires one kept frame through OCR (with region-stability
// caching), classification and persistence.
type videoPipeline struct {
	store      *storage.Store
	ocr        *ocr.CachingAdapter
	classifier *classify.Classifier
	metrics    *observe.Metrics
}

// consume implements [internal/capture/video.FrameConsumer]. change and
// regionHash let the OCR cache reuse prior extractions for blocks that have
// been visually stable long enough, without capture/video needing
// any OCR-specific knowledge.
func (p *videoPipeline) consume(ctx context.Context, frame types.CapturedFrame, change changedet.Result, regionHash func(idx int) uint64) error {
	if err := p.store.InsertFrame(ctx, frame); err != nil {
		return fmt.Errorf("videod: insert frame: %w", err)
	}

	extractions, err := p.ocr.ExtractFrame(ctx, ocr.ExtractRequest{
		FrameID:   frame.ID,
		ImagePath: frame.Path,
	}, frame.ForegroundApp, change.StableRegions, regionHash)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordProviderRequest(ctx, "ocr", "extract", "error")
		}
		slog.Warn("ocr extraction failed", "frame_id", frame.ID, "err", err)
		extractions = nil
	}

	now := time.Now()
	for i := range extractions {
		extractions[i].ID = uuid.NewString()
		extractions[i].FrameID = frame.ID
		extractions[i].ExtractedAt = now
	}
	if len(extractions) > 0 {
		if err := p.store.InsertExtractions(ctx, extractions); err != nil {
			return fmt.Errorf("videod: insert extractions: %w", err)
		}
	}

	visualContext := p.classifier.Classify(classify.ClassifyRequest{
		FrameID:     frame.ID,
		Extractions: extractions,
		Chrome:      classify.WindowChrome{ProcessName: frame.ForegroundApp},
	})
	visualContext.ID = uuid.NewString()
	visualContext.ClassifiedAt = now
	for i := range visualContext.DetectedTasks {
		visualContext.DetectedTasks[i].ID = uuid.NewString()
		visualContext.DetectedTasks[i].DetectedAt = now
	}

	if err := p.store.InsertVisualContext(ctx, visualContext); err != nil {
		return fmt.Errorf("videod: insert visual context: %w", err)
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-t.C:
		return nil
	}
}

// ── Provider wiring ──────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterOCR("tesseract", func(entry config.ProviderEntry) (ocr.Provider, error) {
		var opts []tesseract.Option
		if langs, ok := entry.Options["languages"].([]string); ok && len(langs) > 0 {
			opts = append(opts, tesseract.WithLanguages(langs...))
		} else if entry.Model != "" {
			opts = append(opts, tesseract.WithLanguages(entry.Model))
		}
		return tesseract.New(opts...), nil
	})
}

func buildOCR(cfg *config.Config, reg *config.Registry) (ocr.Provider, error) {
	entry := cfg.Providers.OCR
	if entry.Name == "" {
		entry = config.ProviderEntry{Name: "tesseract"}
	}
	p, err := reg.CreateOCR(entry)
	if err != nil {
		return nil, fmt.Errorf("videod: create ocr provider %q: %w", entry.Name, err)
	}
	return p, nil
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
