package video

import (
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/internal/vision/changedet"
	"github.com/voicepane/voicepane/pkg/types"
	"github.com/voicepane/voicepane/pkg/video"
)

// FrameConsumer persists a stored frame and is invoked once per kept
// frame. change carries the change-detector's verdict for this frame
// (its StableRegions pick out which blocks are eligible for OCR-cache
// reuse) and regionHash resolves a block index to the detector's current
// fingerprint for that block, letting the consumer drive
// [internal/vision/ocr.CachingAdapter] without the capture package needing
// to know anything about OCR.
type FrameConsumer func(ctx context.Context, frame types.CapturedFrame, change changedet.Result, regionHash func(idx int) uint64) error

// Config configures a [Capturer].
type Config struct {
	Backend       video.Capturer
	DisplayID     string
	Gate          *PrivacyGate
	Detector      *changedet.Detector
	ImageDir      string // root of "video-captures/<date>/<timestamp>.jpg"
	StoreBelowThreshold bool // if true, frames below the store threshold are still passed to Consumer, with ShouldStore false; this package runs no OCR
	Consumer      FrameConsumer
	Metrics       *observe.Metrics

	// ForegroundApp resolves the current foreground application identity,
	// consulted by the privacy gate before each capture.
	ForegroundApp func(ctx context.Context) string
}

// Capturer drives one screen-capture interval: consult the privacy gate,
// take a screenshot (masking the capturer's own windows in stealth mode),
// run change detection, persist the frame if it clears the store threshold,
// and invoke Config.Consumer.
type Capturer struct {
	cfg Config
}

// New validates cfg and returns a ready [Capturer].
func New(cfg Config) (*Capturer, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("capture/video: Config.Backend is required: %w", errkind.Internal)
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("capture/video: Config.Gate is required: %w", errkind.Internal)
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("capture/video: Config.Detector is required: %w", errkind.Internal)
	}
	if cfg.Consumer == nil {
		return nil, fmt.Errorf("capture/video: Config.Consumer is required: %w", errkind.Internal)
	}
	if cfg.ForegroundApp == nil {
		cfg.ForegroundApp = func(context.Context) string { return "" }
	}
	return &Capturer{cfg: cfg}, nil
}

// Segment performs exactly one capture interval. It is suitable as an
// [internal/daemon.SegmentFunc] invoked on the video daemon's
// Config.IntervalSeconds period.
func (c *Capturer) Segment(ctx context.Context) error {
	now := time.Now()
	foreground := c.cfg.ForegroundApp(ctx)

	allowed, reason := c.cfg.Gate.Check(now, foreground)
	if !allowed {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordFrameSuppressed(ctx, string(reason))
		}
		slog.Debug("video capture suppressed", "reason", reason, "app", foreground)
		return nil
	}

	var opts video.CaptureOptions
	if c.cfg.Gate.Stealth() {
		// Recursive-capture avoidance: hand the backend our own window ids
		// so they are masked out of the frame. A headless backend reports
		// none and the exclusion list stays empty.
		ids, err := c.cfg.Backend.SelfWindowIDs(ctx)
		if err != nil {
			slog.Warn("video capture: self-window lookup failed, capturing unmasked", "err", err)
		} else {
			opts.ExcludeWindowIDs = ids
		}
	}

	frame, err := c.cfg.Backend.Capture(ctx, c.cfg.DisplayID, opts)
	if err != nil {
		if err == video.ErrPermissionDenied {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.RecordFrameSuppressed(ctx, "permission_denied")
			}
			return fmt.Errorf("capture/video: %w: %w", errkind.PermissionDenied, err)
		}
		return fmt.Errorf("capture/video: capture: %w: %w", errkind.DeviceLost, err)
	}
	if frame.Image == nil {
		return nil
	}

	result, err := c.cfg.Detector.Observe(frame.Image, now)
	if err != nil {
		return fmt.Errorf("capture/video: change detection: %w", err)
	}

	if !result.ShouldStore && !c.cfg.StoreBelowThreshold {
		return nil
	}

	path, err := c.writeImage(frame, now)
	if err != nil {
		return fmt.Errorf("capture/video: write image: %w: %w", errkind.StorageFailure, err)
	}

	if err := c.cfg.Detector.Keep(frame.Image); err != nil {
		slog.Warn("video capture: failed to update change-detector baseline", "err", err)
	}

	captured := types.CapturedFrame{
		ID:             uuid.NewString(),
		Path:           path,
		CapturedAt:     now,
		PerceptualHash: result.Hash,
		ChangeScore:    result.ChangeScore,
		ForegroundApp:  foreground,
	}

	if err := c.cfg.Consumer(ctx, captured, result, c.cfg.Detector.RegionHash); err != nil {
		return fmt.Errorf("capture/video: consumer: %w", err)
	}
	return nil
}

// writeImage encodes frame to a JPEG under
// <ImageDir>/<YYYY-MM-DD>/<unixnano>.jpg, the persisted-state layout the
// ring buffer and query layer expect.
func (c *Capturer) writeImage(frame video.Frame, now time.Time) (string, error) {
	dir := filepath.Join(c.cfg.ImageDir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.jpg", now.UnixNano()))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := jpeg.Encode(f, frame.Image, &jpeg.Options{Quality: 85}); err != nil {
		return "", err
	}
	return path, nil
}
