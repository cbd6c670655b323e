package screenshot

import (
	"context"
	"errors"
	"testing"
)

func TestEnumerateDisplaysReportsPrimaryOnly(t *testing.T) {
	c := New()
	defer c.Close()

	displays, err := c.EnumerateDisplays(context.Background())
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if len(displays) != 1 || !displays[0].Primary {
		t.Fatalf("expected exactly one primary display, got %v", displays)
	}
}

func TestSelfWindowIDsEmptyForHeadlessProcess(t *testing.T) {
	c := New()
	defer c.Close()

	ids, err := c.SelfWindowIDs(context.Background())
	if err != nil {
		t.Fatalf("self windows: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("headless daemon must own no windows, got %v", ids)
	}
}

func TestIsPermissionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("screencapture: exit status 1: could not create image from display"), true},
		{errors.New("operation not permitted"), true},
		{errors.New("no screenshot tool found (install gnome-screenshot or scrot)"), false},
		{errors.New("read screenshot: no such file"), false},
	}
	for _, tt := range tests {
		if got := isPermissionError(tt.err); got != tt.want {
			t.Errorf("isPermissionError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
