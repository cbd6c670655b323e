//go:build windows

package screenshot

import (
	"context"
	"fmt"
)

type windowsBackend struct{ tempDir string }

func newBackend(tempDir string) backend {
	return &windowsBackend{tempDir: tempDir}
}

// TODO: implement via Windows GDI BitBlt or the Desktop Duplication API.
func (w *windowsBackend) captureRaw(_ context.Context) ([]byte, error) {
	return nil, fmt.Errorf("screenshot: windows capture not implemented")
}

func (w *windowsBackend) cleanup() {}
