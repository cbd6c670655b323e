package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/voicepane/voicepane/internal/vision/ocr"
	"github.com/voicepane/voicepane/internal/vision/ocr/mock"
	"github.com/voicepane/voicepane/pkg/types"
)

func TestProvider_ReturnsResult(t *testing.T) {
	t.Parallel()

	want := []types.TextExtraction{{FrameID: "f1", Text: "hello"}}
	p := &mock.Provider{Result: want}

	got, err := p.Extract(context.Background(), ocr.ExtractRequest{FrameID: "f1"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 || got[0].Text != "hello" {
		t.Errorf("Extract() = %+v, want %+v", got, want)
	}
	if p.CallCount() != 1 {
		t.Errorf("CallCount() = %d, want 1", p.CallCount())
	}
}

func TestProvider_ReturnsError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("boom")
	p := &mock.Provider{Err: wantErr}

	_, err := p.Extract(context.Background(), ocr.ExtractRequest{FrameID: "f1"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Extract() err = %v, want %v", err, wantErr)
	}
}

func TestProvider_RecordsCalls(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	req1 := ocr.ExtractRequest{FrameID: "f1"}
	req2 := ocr.ExtractRequest{FrameID: "f2"}

	p.Extract(context.Background(), req1)
	p.Extract(context.Background(), req2)

	if len(p.Calls) != 2 {
		t.Fatalf("len(Calls) = %d, want 2", len(p.Calls))
	}
	if p.Calls[0].Req.FrameID != "f1" || p.Calls[1].Req.FrameID != "f2" {
		t.Errorf("Calls = %+v, want FrameIDs f1, f2", p.Calls)
	}
}
