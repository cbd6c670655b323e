// Package video defines the interfaces and types for periodic screen
// capture.
//
// [Capturer] is the entry point for a capture backend, mirroring
// pkg/audio's [audio.Device]/[audio.Stream] shape applied to screen frames
// instead of a continuous audio stream: capture here is inherently
// pull-based (one frame per interval) rather than push-based, so a
// single synchronous Capture method replaces the audio package's
// channel-based Stream.
//
// pkg/video/screenshot provides the concrete backend, shelling out to the
// native screenshot tool on each platform; pkg/video/mock provides the test
// double.
package video

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrPermissionDenied is returned by [Capturer.Capture] when the OS denies
// screen-recording permission.
var ErrPermissionDenied = errors.New("video: screen recording permission denied")

// DisplayInfo describes one capturable display.
type DisplayInfo struct {
	// ID is the platform-specific display identifier.
	ID string
	// Primary reports whether this is the OS's primary display.
	Primary bool
	// Width, Height are the display's pixel dimensions.
	Width, Height int
}

// Frame is one captured screen image with its metadata.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
	DisplayID  string
	Width      int
	Height     int
}

// CaptureOptions carries per-capture behavior flags.
type CaptureOptions struct {
	// ExcludeWindowIDs lists window identifiers the backend must omit from
	// the captured image, typically the capturing process's own windows
	// (stealth mode / recursive-capture avoidance). Backends that cannot
	// mask an individual window ignore entries they cannot honor.
	ExcludeWindowIDs []string
}

// Capturer is the entry point for a screen-capture backend. Implementations
// must be safe for concurrent use.
type Capturer interface {
	// EnumerateDisplays lists the currently available displays.
	EnumerateDisplays(ctx context.Context) ([]DisplayInfo, error)

	// Capture takes a single screenshot of displayID (or the primary display
	// if displayID is empty). Returns [ErrPermissionDenied] if the OS denies
	// access.
	Capture(ctx context.Context, displayID string, opts CaptureOptions) (Frame, error)

	// SelfWindowIDs returns the platform identifiers of this process's own
	// windows, if any, so a stealth-mode caller can pass them back through
	// [CaptureOptions.ExcludeWindowIDs].
	SelfWindowIDs(ctx context.Context) ([]string, error)
}
