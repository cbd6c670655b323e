// Package miniaudio implements [audio.Device] and [audio.Stream] over the
// miniaudio library's Go bindings (github.com/gen2brain/malgo), capturing
// PCM from local input devices: built-in microphones and virtual loopback
// devices such as BlackHole or VB-Cable that expose system audio as a
// capture endpoint.
//
// One [Device] wraps one malgo context, shared by every stream it opens;
// create it once at daemon startup and Close it on shutdown.
package miniaudio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/voicepane/voicepane/pkg/audio"
)

// loopbackKeywords identify virtual loopback devices that carry system
// audio rather than a physical microphone signal.
var loopbackKeywords = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}

// Config parameterises a [Device].
type Config struct {
	// SampleRate is the capture rate requested from every opened device,
	// in Hz. Defaults to 16000.
	SampleRate int

	// Channels is the requested channel count. Defaults to 1.
	Channels int

	// FrameBuffer is the depth of each stream's frame channel. When the
	// consumer falls behind, the newest frame is dropped rather than
	// blocking the OS audio callback. Defaults to 64.
	FrameBuffer int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = 64
	}
	return c
}

// Device implements [audio.Device] over a malgo capture context.
type Device struct {
	cfg Config

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// New initialises the underlying audio context. Callers must Close the
// returned Device when capture is finished.
func New(cfg Config) (*Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &Device{cfg: cfg.withDefaults(), ctx: mctx}, nil
}

// Close tears down the audio context. Streams opened from this Device must
// be closed first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

// Enumerate implements [audio.Device].
func (d *Device) Enumerate(_ context.Context) ([]audio.DeviceInfo, error) {
	d.mu.Lock()
	mctx := d.ctx
	d.mu.Unlock()
	if mctx == nil {
		return nil, fmt.Errorf("miniaudio: context closed")
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: enumerate: %w", err)
	}

	out := make([]audio.DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, audio.DeviceInfo{
			ID:       info.Name(),
			Name:     info.Name(),
			Channels: d.cfg.Channels,
		})
	}
	return out, nil
}

// Open implements [audio.Device]. deviceID is matched case-insensitively
// against the enumerated device names; the sentinel "<loopback>" selects
// the first virtual loopback device found, and an empty or unmatched id
// falls back to the OS default capture device.
func (d *Device) Open(_ context.Context, deviceID string) (audio.Stream, error) {
	d.mu.Lock()
	mctx := d.ctx
	d.mu.Unlock()
	if mctx == nil {
		return nil, fmt.Errorf("miniaudio: context closed")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.cfg.Channels)
	deviceConfig.SampleRate = uint32(d.cfg.SampleRate)

	name := deviceID
	if info, ok := d.findDevice(mctx, deviceID); ok {
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		name = info.Name()
	}

	s := &stream{
		frames:     make(chan audio.AudioFrame, d.cfg.FrameBuffer),
		source:     name,
		sampleRate: d.cfg.SampleRate,
		channels:   d.cfg.Channels,
		started:    time.Now(),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSamples []byte, _ uint32) {
			s.deliver(pSamples)
		},
		Stop: func() {
			// Fires both on our own Close and when the OS tears the device
			// down; terminate distinguishes the two via the userStop flag.
			s.terminate(audio.ErrDeviceLost)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: open %q: %w", deviceID, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("miniaudio: start %q: %w", deviceID, err)
	}
	s.device = dev
	return s, nil
}

// findDevice resolves deviceID to an enumerated capture device.
func (d *Device) findDevice(mctx *malgo.AllocatedContext, deviceID string) (malgo.DeviceInfo, bool) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil || deviceID == "" {
		return malgo.DeviceInfo{}, false
	}

	want := strings.ToLower(strings.TrimSpace(deviceID))
	if want == "<loopback>" {
		for _, info := range infos {
			lower := strings.ToLower(info.Name())
			for _, kw := range loopbackKeywords {
				if strings.Contains(lower, kw) {
					return info, true
				}
			}
		}
		return malgo.DeviceInfo{}, false
	}

	for _, info := range infos {
		if strings.ToLower(info.Name()) == want {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// stream is one open capture session.
type stream struct {
	device     *malgo.Device
	source     string
	sampleRate int
	channels   int
	started    time.Time

	mu       sync.Mutex
	frames   chan audio.AudioFrame
	closed   bool
	userStop bool
	err      error
}

// deliver copies one OS callback's PCM into a frame and hands it to the
// channel, dropping the frame when the consumer is behind — the OS audio
// thread must never block.
func (s *stream) deliver(pcm []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ch := s.frames
	s.mu.Unlock()

	data := make([]byte, len(pcm))
	copy(data, pcm)

	frame := audio.AudioFrame{
		Data:       data,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Timestamp:  time.Since(s.started),
		Source:     s.source,
	}
	select {
	case ch <- frame:
	default:
	}
}

// terminate closes the frame channel exactly once. cause is recorded as the
// stream error unless Close initiated the stop.
func (s *stream) terminate(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if !s.userStop {
		s.err = cause
	}
	close(s.frames)
}

// Frames implements [audio.Stream].
func (s *stream) Frames() <-chan audio.AudioFrame {
	return s.frames
}

// Err implements [audio.Stream].
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream].
func (s *stream) Close() error {
	s.mu.Lock()
	if s.userStop {
		s.mu.Unlock()
		return nil
	}
	s.userStop = true
	dev := s.device
	s.mu.Unlock()

	if dev != nil {
		if dev.IsStarted() {
			_ = dev.Stop()
		}
		dev.Uninit()
	}
	s.terminate(nil)
	return nil
}

var _ audio.Device = (*Device)(nil)
var _ audio.Stream = (*stream)(nil)
