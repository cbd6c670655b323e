// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record Open calls and Close
// counts so that tests can assert on them, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(1)
//	device := &mock.Device{
//	    EnumerateResult: []audio.DeviceInfo{{ID: "default", Name: "Mock Mic"}},
//	    OpenResult:      stream,
//	}
//	got, err := device.Open(ctx, "default")
//	stream.Emit(audio.AudioFrame{SampleRate: 16000, Channels: 1})
//	stream.CloseWithErr(audio.ErrDeviceLost)
package mock

import (
	"context"
	"sync"

	"github.com/voicepane/voicepane/pkg/audio"
)

// ─── Stream ────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Use [Stream.Emit] to
// push frames and [Stream.CloseWithErr] to simulate device loss.
type Stream struct {
	mu sync.Mutex

	frames chan audio.AudioFrame
	err    error
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns a ready-to-use mock [Stream] with the given frame
// channel buffer depth.
func NewStream(bufferDepth int) *Stream {
	return &Stream{frames: make(chan audio.AudioFrame, bufferDepth)}
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		s.frames = make(chan audio.AudioFrame)
	}
	return s.frames
}

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit pushes a frame onto the stream. Panics if called after the stream has
// been closed, matching the contract that producers stop writing once
// [Stream.Close] or [Stream.CloseWithErr] has run.
func (s *Stream) Emit(frame audio.AudioFrame) {
	s.mu.Lock()
	ch := s.frames
	closed := s.closed
	s.mu.Unlock()
	if closed {
		panic("mock audio.Stream: Emit called after close")
	}
	ch <- frame
}

// Close implements [audio.Stream]. Closes cleanly (Err returns nil).
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

// CloseWithErr closes the stream and records err so that a subsequent call
// to [Stream.Err] returns it — used to simulate [audio.ErrDeviceLost].
func (s *Stream) CloseWithErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}

// ─── Device ────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	DeviceID string
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// EnumerateResult is returned by Enumerate.
	EnumerateResult []audio.DeviceInfo

	// EnumerateError is returned by Enumerate.
	EnumerateError error

	// OpenResult is the [audio.Stream] returned by Open.
	OpenResult audio.Stream

	// OpenError is returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Enumerate implements [audio.Device].
func (d *Device) Enumerate(_ context.Context) ([]audio.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.EnumerateResult, d.EnumerateError
}

// Open implements [audio.Device]. Records the call and returns OpenResult /
// OpenError.
func (d *Device) Open(_ context.Context, deviceID string) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{DeviceID: deviceID})
	return d.OpenResult, d.OpenError
}
