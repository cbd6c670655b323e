// Package audio wires a [audio.Device]/[audio.Stream] pair (pkg/audio) into
// fixed-length sample batches for the speech-to-text stage. It
// owns the bounded drop-oldest backpressure queue between capture and STT
// and enforces the "no silent reconnect on device loss" contract.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voicepane/voicepane/internal/errkind"
	"github.com/voicepane/voicepane/internal/observe"
	"github.com/voicepane/voicepane/pkg/audio"
	"github.com/voicepane/voicepane/pkg/types"
)

// Consumer receives one completed sample batch — typically
// [pkg/provider/stt.Provider.Transcribe] wrapped by an
// [internal/resilience.FallbackGroup].
type Consumer func(ctx context.Context, batch types.AudioSampleBatch) error

// Config configures a [Capturer].
type Config struct {
	Device       audio.Device
	DeviceID     string
	Source       string // "microphone" | "system" | "virtual-loopback"
	SampleRateHz int
	Channels     int
	QueueDepth   int
	Consumer     Consumer
	Metrics      *observe.Metrics
}

// Capturer owns one open device stream and assembles its frames into
// [types.AudioSampleBatch] segments handed to [Config.Consumer]. Each
// [Capturer.Segment] call is suitable as an [internal/daemon.SegmentFunc].
type Capturer struct {
	cfg    Config
	stream audio.Stream
	queue  *dropOldestQueue
	conv   audio.FormatConverter
}

// Open opens cfg.DeviceID on cfg.Device, starting the
// backpressure pump goroutine. The returned Capturer's Segment method may be
// called repeatedly until the device is lost.
func Open(ctx context.Context, cfg Config) (*Capturer, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("capture/audio: Config.Device is required: %w", errkind.Internal)
	}
	if cfg.Consumer == nil {
		return nil, fmt.Errorf("capture/audio: Config.Consumer is required: %w", errkind.Internal)
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	stream, err := cfg.Device.Open(ctx, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("capture/audio: open device %q: %w: %w", cfg.DeviceID, errkind.DeviceLost, err)
	}

	c := &Capturer{
		cfg:    cfg,
		stream: stream,
		queue:  newDropOldestQueue(cfg.QueueDepth, cfg.Source, cfg.Metrics),
		conv:   audio.FormatConverter{Target: audio.Format{SampleRate: cfg.SampleRateHz, Channels: cfg.Channels}},
	}
	go c.pump()
	return c, nil
}

// pump forwards frames from the device stream into the bounded queue,
// applying format normalization first so the queue only ever holds
// already-normalized frames.
func (c *Capturer) pump() {
	defer c.queue.close()
	for frame := range c.stream.Frames() {
		converted := c.conv.Convert(frame)
		if len(converted.Data) == 0 {
			continue
		}
		c.queue.push(converted)
	}
}

// Segment accumulates queued frames for duration (or until ctx is
// cancelled), converts them into one [types.AudioSampleBatch], and passes it
// to Config.Consumer. It returns an error wrapping [errkind.DeviceLost] if
// the stream terminates mid-segment — Segment does not
// silently attempt to reopen the device; that decision belongs to the
// caller (typically [internal/daemon.Supervisor], which treats it as a
// retryable segment failure with backoff, not a reconnect).
func (c *Capturer) Segment(ctx context.Context, duration time.Duration) error {
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	var samples []int16
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return c.flush(ctx, samples, start)
		case <-deadline.C:
			return c.flush(ctx, samples, start)
		case frame, ok := <-c.queue.recv():
			if !ok {
				if err := c.stream.Err(); err != nil {
					return fmt.Errorf("capture/audio: stream closed: %w: %w", errkind.DeviceLost, err)
				}
				return fmt.Errorf("capture/audio: stream closed: %w", errkind.DeviceLost)
			}
			samples = append(samples, decodeInt16LE(frame.Data)...)
		}
	}
}

func (c *Capturer) flush(ctx context.Context, samples []int16, start time.Time) error {
	if len(samples) == 0 {
		return nil
	}
	batch := types.AudioSampleBatch{
		Source:     c.cfg.Source,
		Samples:    samples,
		SampleRate: c.cfg.SampleRateHz,
		Channels:   c.cfg.Channels,
		CapturedAt: start,
	}
	if err := c.cfg.Consumer(ctx, batch); err != nil {
		return fmt.Errorf("capture/audio: consumer: %w", err)
	}
	return nil
}

// Close releases the underlying device stream.
func (c *Capturer) Close() error {
	return c.stream.Close()
}

func decodeInt16LE(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}
