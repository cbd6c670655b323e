// Package audio defines the interfaces and types for local audio device
// capture and format conversion.
//
// The two primary abstractions are:
//
//   - [Device] — enumerates and opens local input devices.
//   - [Stream] — an open capture session on a device, delivering [AudioFrame]
//     values until the device is lost or the stream is closed.
//
// Implementations of [Device] wrap platform-specific capture SDKs;
// pkg/audio/miniaudio provides the concrete OS backend and pkg/audio/mock
// the test double. The interfaces are intentionally narrow to keep the
// capture daemon decoupled from device details.
//
// This package lives under pkg/ because external code (alternative capture
// backends) is expected to implement [Device] and [Stream].
package audio

import (
	"context"
	"errors"
)

// ErrDeviceLost is returned by [Stream.Frames] consumers (via the channel
// closing and [Stream.Err] returning this value) when the underlying input
// device disappears mid-capture — for example, a USB microphone unplugged or
// an OS audio session torn down.
var ErrDeviceLost = errors.New("audio: device lost")

// DeviceInfo describes one enumerable input device.
type DeviceInfo struct {
	// ID is the platform-specific device identifier, stable across restarts.
	ID string

	// Name is the human-readable device name (e.g. "Built-in Microphone").
	Name string

	// DefaultSampleRate is the device's native capture rate in Hz.
	DefaultSampleRate int

	// Channels is the device's native channel count.
	Channels int
}

// Stream represents an open capture session on a [Device].
//
// A Stream is obtained by calling [Device.Open] and remains valid until
// [Stream.Close] is called or the device is lost. The channel returned by
// [Stream.Frames] is closed automatically when the stream terminates.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the channel of captured frames. The channel is closed
	// when the stream terminates, whether by [Stream.Close] or device loss;
	// callers should check [Stream.Err] after the channel closes to
	// distinguish a clean close from [ErrDeviceLost].
	Frames() <-chan AudioFrame

	// Err returns the error that caused the stream to terminate, or nil if
	// [Stream.Close] was called cleanly. Must only be called after the
	// Frames channel has closed.
	Err() error

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}

// Device is the entry point for a capture backend.
// Implementations must be safe for concurrent use.
type Device interface {
	// Enumerate lists the currently available input devices.
	Enumerate(ctx context.Context) ([]DeviceInfo, error)

	// Open begins capturing from the device identified by deviceID. The
	// supplied ctx governs the open attempt only; once opened, the Stream
	// remains alive until [Stream.Close] is called or the device is lost.
	Open(ctx context.Context, deviceID string) (Stream, error)
}
