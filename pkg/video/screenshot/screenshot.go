// Package screenshot implements [video.Capturer] by shelling out to each
// platform's native screenshot tool: screencapture on macOS,
// gnome-screenshot or scrot on Linux. The per-OS command lives in a
// build-tagged backend; this file holds the shared decode and lifecycle
// logic.
//
// Shelling out trades a little per-frame latency for zero capture-SDK
// linkage, which suits a capture cadence measured in seconds: the daemon
// takes one frame per interval, not a video stream.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"time"

	"github.com/voicepane/voicepane/pkg/video"
)

// backend runs one platform's screenshot command and returns the raw
// encoded image bytes.
type backend interface {
	captureRaw(ctx context.Context) ([]byte, error)
	cleanup()
}

// Capturer implements [video.Capturer] over the platform backend.
type Capturer struct {
	b       backend
	tempDir string
}

// New returns a Capturer for the current platform. Call [Capturer.Close]
// when done to remove its scratch directory.
func New() *Capturer {
	tempDir, err := os.MkdirTemp("", "voicepane-screen-*")
	if err != nil {
		tempDir = os.TempDir()
	}
	return &Capturer{b: newBackend(tempDir), tempDir: tempDir}
}

// Close releases the backend and removes the scratch directory.
func (c *Capturer) Close() {
	c.b.cleanup()
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
}

// EnumerateDisplays implements [video.Capturer]. The shell tools capture
// the primary display only, so exactly one display is reported.
func (c *Capturer) EnumerateDisplays(_ context.Context) ([]video.DisplayInfo, error) {
	return []video.DisplayInfo{{ID: "primary", Primary: true}}, nil
}

// Capture implements [video.Capturer]. opts.ExcludeWindowIDs is accepted
// for the contract but has nothing to exclude here: this process owns no
// windows (see SelfWindowIDs), and the shell tools cannot mask another
// process's window.
func (c *Capturer) Capture(ctx context.Context, displayID string, _ video.CaptureOptions) (video.Frame, error) {
	data, err := c.b.captureRaw(ctx)
	if err != nil {
		if isPermissionError(err) {
			return video.Frame{}, video.ErrPermissionDenied
		}
		return video.Frame{}, fmt.Errorf("screenshot: capture: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return video.Frame{}, fmt.Errorf("screenshot: decode: %w", err)
	}

	bounds := img.Bounds()
	if displayID == "" {
		displayID = "primary"
	}
	return video.Frame{
		Image:      img,
		CapturedAt: time.Now(),
		DisplayID:  displayID,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
	}, nil
}

// SelfWindowIDs implements [video.Capturer]. The daemon is headless — the
// screenshot command runs and exits without creating a window — so there is
// never a window of our own to exclude; stealth mode is satisfied by
// construction.
func (c *Capturer) SelfWindowIDs(_ context.Context) ([]string, error) {
	return nil, nil
}

// isPermissionError recognizes the OS tools' screen-recording-permission
// failures from their stderr text.
func isPermissionError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"not permitted", "not authorized", "permission", "could not create image"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

var _ video.Capturer = (*Capturer)(nil)
