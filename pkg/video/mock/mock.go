// Package mock provides an in-memory mock implementation of [video.Capturer]
// for use in unit tests, mirroring pkg/audio/mock's conventions.
package mock

import (
	"context"
	"sync"

	"github.com/voicepane/voicepane/pkg/video"
)

// CaptureCall records a single Capture invocation.
type CaptureCall struct {
	DisplayID string
	Opts      video.CaptureOptions
}

// Capturer is a mock implementation of [video.Capturer]. Set Frames to
// control what successive Capture calls return, or Err to simulate a
// permission denial or device failure.
type Capturer struct {
	mu sync.Mutex

	// Displays is returned by EnumerateDisplays.
	Displays []video.DisplayInfo

	// Frames is consumed in order by successive Capture calls. If exhausted,
	// the last entry repeats.
	Frames []video.Frame

	// Err, if non-nil, is returned by Capture instead of a frame.
	Err error

	// SelfWindows is returned by SelfWindowIDs.
	SelfWindows []string

	callIdx int
	// Calls records every Capture invocation in order.
	Calls []CaptureCall
}

// EnumerateDisplays implements [video.Capturer].
func (c *Capturer) EnumerateDisplays(_ context.Context) ([]video.DisplayInfo, error) {
	return c.Displays, nil
}

// Capture implements [video.Capturer].
func (c *Capturer) Capture(_ context.Context, displayID string, opts video.CaptureOptions) (video.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, CaptureCall{DisplayID: displayID, Opts: opts})
	if c.Err != nil {
		return video.Frame{}, c.Err
	}
	if len(c.Frames) == 0 {
		return video.Frame{}, nil
	}
	idx := c.callIdx
	if idx >= len(c.Frames) {
		idx = len(c.Frames) - 1
	}
	c.callIdx++
	return c.Frames[idx], nil
}

// SelfWindowIDs implements [video.Capturer].
func (c *Capturer) SelfWindowIDs(_ context.Context) ([]string, error) {
	return c.SelfWindows, nil
}

// CallCount returns the number of Capture invocations. Thread-safe.
func (c *Capturer) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

var _ video.Capturer = (*Capturer)(nil)
