package classify

import (
	"strings"
	"testing"

	"github.com/voicepane/voicepane/pkg/types"
)

func extractions(texts ...string) []types.TextExtraction {
	out := make([]types.TextExtraction, 0, len(texts))
	for _, t := range texts {
		out = append(out, types.TextExtraction{Text: t})
	}
	return out
}

func TestDetectApp_FromWindowChrome(t *testing.T) {
	c := New()
	rec := c.Classify(ClassifyRequest{
		Chrome: WindowChrome{Title: "main.go - Visual Studio Code"},
	})
	if rec.ForegroundApp != "vscode" {
		t.Errorf("app = %q, want vscode", rec.ForegroundApp)
	}
	if rec.Activity != ActivityEditing {
		t.Errorf("activity = %q, want %q", rec.Activity, ActivityEditing)
	}
}

func TestDetectApp_FromOCRText(t *testing.T) {
	c := New()
	rec := c.Classify(ClassifyRequest{
		Extractions: extractions("Slack | #general", "alice: did the deploy go out?"),
	})
	if rec.ForegroundApp != "slack" {
		t.Errorf("app = %q, want slack", rec.ForegroundApp)
	}
	if rec.Activity != ActivityCommunicating {
		t.Errorf("activity = %q, want %q", rec.Activity, ActivityCommunicating)
	}
}

func TestDetectApp_FallsBackToProcessName(t *testing.T) {
	c := New()
	rec := c.Classify(ClassifyRequest{
		Chrome:      WindowChrome{ProcessName: "obscure-editor"},
		Extractions: extractions("some text with no recognizable cues"),
	})
	if rec.ForegroundApp != "obscure-editor" {
		t.Errorf("app = %q, want the raw process name", rec.ForegroundApp)
	}
}

func TestDetectActivity_IdleOnEmptyScreen(t *testing.T) {
	c := New()
	rec := c.Classify(ClassifyRequest{})
	if rec.ForegroundApp != "unknown" {
		t.Errorf("app = %q, want unknown", rec.ForegroundApp)
	}
	if rec.Activity != ActivityIdle {
		t.Errorf("activity = %q, want %q", rec.Activity, ActivityIdle)
	}
}

func TestDetectActivity_EmptyScreenKeepsPriorActivity(t *testing.T) {
	c := New()
	rec := c.Classify(ClassifyRequest{PriorActivity: ActivityBrowsing})
	if rec.Activity != ActivityBrowsing {
		t.Errorf("activity = %q, want prior %q carried through a momentary blank frame", rec.Activity, ActivityBrowsing)
	}
}

func TestCodingProblemDetector_EmitsAboveThreshold(t *testing.T) {
	c := New()
	rec := c.Classify(ClassifyRequest{
		FrameID: "f1",
		Chrome:  WindowChrome{Title: "Two Sum - LeetCode"},
		Extractions: extractions(
			"1. Two Sum",
			"Given an array of integers nums and an integer target,",
			"return the indices of the two numbers that add up to target.",
			"Example 1:",
			"Input: nums = [2,7,11,15], target = 9",
			"Output: [0,1]",
			"Constraints:",
			"def twoSum(self, nums, target):",
		),
	})
	if len(rec.DetectedTasks) != 1 {
		t.Fatalf("expected one detected task, got %d", len(rec.DetectedTasks))
	}
	task := rec.DetectedTasks[0]
	if task.Kind != "coding_problem" {
		t.Errorf("kind = %q", task.Kind)
	}
	if task.Summary != "1. Two Sum" {
		t.Errorf("summary = %q, want the first non-empty line", task.Summary)
	}
	if task.Confidence < 0.55 {
		t.Errorf("confidence = %v, want >= detector threshold", task.Confidence)
	}
}

func TestCodingProblemDetector_SilentBelowThreshold(t *testing.T) {
	c := New()
	rec := c.Classify(ClassifyRequest{
		Extractions: extractions("weather for tomorrow", "sunny, high of 21"),
	})
	if len(rec.DetectedTasks) != 0 {
		t.Fatalf("below-threshold detection must emit no task, got %v", rec.DetectedTasks)
	}
}

func TestCodingProblemDetector_PlatformHint(t *testing.T) {
	d := NewCodingProblemDetector(DefaultCodingProblemConfig())
	task, ok := d.Detect(ClassifyRequest{
		Chrome: WindowChrome{Title: "Problem - HackerRank"},
		Extractions: extractions(
			"Given an array of n integers, find the maximum subarray sum.",
			"Input: the first line contains n.",
			"Output: a single integer.",
			"Constraints: 1 <= n <= 10^5",
			"Example 1:",
		),
	})
	if !ok {
		t.Fatal("expected a detection")
	}
	if want := "platform_hint: hackerrank"; !strings.Contains(task.Detail, want) {
		t.Errorf("detail missing %q:\n%s", want, task.Detail)
	}
}

func TestCodingProblemDetector_VisibleCodeAndLanguage(t *testing.T) {
	d := NewCodingProblemDetector(CodingProblemConfig{MinConfidence: 0.3})
	task, ok := d.Detect(ClassifyRequest{
		Extractions: extractions(
			"Given an array, return the sum.",
			"Example 1:",
			"Input: [1,2,3]",
			"Output: 6",
			"func sum(nums []int) int {",
		),
	})
	if !ok {
		t.Fatal("expected a detection")
	}
	if !strings.Contains(task.Detail, "visible_code") {
		t.Errorf("detail missing visible_code section:\n%s", task.Detail)
	}
	if !strings.Contains(task.Detail, "(go)") {
		t.Errorf("detail missing language hint:\n%s", task.Detail)
	}
}

func TestCustomDetectorAppended(t *testing.T) {
	c := New(stubDetector{})
	rec := c.Classify(ClassifyRequest{Extractions: extractions("anything")})
	found := false
	for _, task := range rec.DetectedTasks {
		if task.Kind == "stub" {
			found = true
		}
	}
	if !found {
		t.Error("custom detector not consulted")
	}
}

type stubDetector struct{}

func (stubDetector) Detect(ClassifyRequest) (types.DetectedTask, bool) {
	return types.DetectedTask{Kind: "stub", Confidence: 1}, true
}

