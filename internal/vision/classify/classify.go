// Package classify implements the vision classifier: deriving a
// foreground application identity, an activity label, and running a
// pluggable set of task detectors over a frame's OCR extractions and
// window-chrome features.
//
// Classification here is deliberately heuristic — over OCR text,
// window-chrome features, and UI-element cues; no LLM call is made on this hot path.
// every frame is classified, and invoking an LLM per frame would be far too
// slow and costly for a 1-30s capture interval. Task detectors are a
// pluggable interface so a richer (e.g. LLM-backed) detector can be added
// later without changing the classifier's shape.
package classify

import (
	"regexp"
	"strings"

	"github.com/voicepane/voicepane/pkg/types"
)

// Activity labels recognized by the baseline heuristic classifier.
const (
	ActivityEditing       = "editing"
	ActivityBrowsing      = "browsing"
	ActivityCommunicating = "communicating"
	ActivityIdle          = "idle"
	ActivityOther         = "other"
)

// WindowChrome carries window-manager-reported hints about the foreground
// window, used alongside OCR text for app/activity detection. Fields are
// best-effort; an OS-specific collector populates what it can.
type WindowChrome struct {
	// Title is the foreground window's title bar text, if available.
	Title string
	// ProcessName is the owning process's executable name, if available.
	ProcessName string
}

// ClassifyRequest carries one frame's classification inputs.
type ClassifyRequest struct {
	FrameID      string
	Extractions  []types.TextExtraction
	Chrome       WindowChrome
	PriorActivity string // previous frame's activity, for idle-detection hysteresis
}

// appSignature maps a few recognizable textual/window-chrome cues to a
// canonical foreground-application identity. This is necessarily a coarse,
// extensible heuristic list, not an exhaustive registry.
var appSignatures = []struct {
	app      string
	keywords []string
}{
	{"vscode", []string{"visual studio code", ".go -", ".py -", ".ts -", "untitled-1"}},
	{"terminal", []string{"zsh", "bash", "% ", "$ ", "user@"}},
	{"browser-chrome", []string{"google chrome", "new tab"}},
	{"browser-firefox", []string{"mozilla firefox"}},
	{"slack", []string{"slack |", "#general", "#random"}},
	{"zoom", []string{"zoom meeting"}},
	{"leetcode", []string{"leetcode"}},
	{"hackerrank", []string{"hackerrank"}},
}

// Classifier runs the foreground app/activity heuristic and a fixed list of
// pluggable [TaskDetector]s over each frame's OCR output.
type Classifier struct {
	detectors []TaskDetector
}

// New returns a Classifier. The baseline coding-problem detector is
// always installed; additional detectors passed as arguments are appended.
func New(detectors ...TaskDetector) *Classifier {
	all := append([]TaskDetector{NewCodingProblemDetector(DefaultCodingProblemConfig())}, detectors...)
	return &Classifier{detectors: all}
}

// Classify derives a [types.VisualContextRecord] for req.
func (c *Classifier) Classify(req ClassifyRequest) types.VisualContextRecord {
	app := detectApp(req.Chrome, req.Extractions)
	activity := detectActivity(app, req.Extractions, req.PriorActivity)

	var tasks []types.DetectedTask
	for _, d := range c.detectors {
		if task, ok := d.Detect(req); ok {
			tasks = append(tasks, task)
		}
	}

	return types.VisualContextRecord{
		FrameID:       req.FrameID,
		ForegroundApp: app,
		Activity:      activity,
		DetectedTasks: tasks,
	}
}

// detectApp returns the first appSignatures entry with a keyword found in
// the window title, process name or OCR text; failing that the process
// name; failing that "unknown".
func detectApp(chrome WindowChrome, extractions []types.TextExtraction) string {
	haystacks := []string{strings.ToLower(chrome.Title), strings.ToLower(chrome.ProcessName)}
	for _, e := range extractions {
		haystacks = append(haystacks, strings.ToLower(e.Text))
	}
	joined := strings.Join(haystacks, " ")

	for _, sig := range appSignatures {
		for _, kw := range sig.keywords {
			if strings.Contains(joined, kw) {
				return sig.app
			}
		}
	}
	if chrome.ProcessName != "" {
		return chrome.ProcessName
	}
	return "unknown"
}

var (
	browsingApps      = map[string]bool{"browser-chrome": true, "browser-firefox": true, "leetcode": true, "hackerrank": true}
	communicatingApps = map[string]bool{"slack": true, "zoom": true}
	editingApps       = map[string]bool{"vscode": true, "terminal": true}
)

// detectActivity maps the detected app plus a simple OCR-volume heuristic
// to an activity label. For an app outside the known sets, a frame with no
// recognized text keeps the prior activity, or is idle when there is none —
// e.g. a screensaver or a mostly-blank desktop.
func detectActivity(app string, extractions []types.TextExtraction, prior string) string {
	switch {
	case editingApps[app]:
		return ActivityEditing
	case browsingApps[app]:
		return ActivityBrowsing
	case communicatingApps[app]:
		return ActivityCommunicating
	}

	totalChars := 0
	for _, e := range extractions {
		totalChars += len(strings.TrimSpace(e.Text))
	}
	if totalChars == 0 {
		if prior != "" {
			return prior
		}
		return ActivityIdle
	}
	return ActivityOther
}

// TaskDetector is the pluggable detection hook: a detector inspects
// one frame's classification inputs and optionally emits a
// [types.DetectedTask]. Thresholds are the detector's own configuration;
// below-threshold detections must return ok=false rather than a
// low-confidence task.
type TaskDetector interface {
	Detect(req ClassifyRequest) (types.DetectedTask, bool)
}

// CodingProblemConfig parameterises [CodingProblemDetector].
type CodingProblemConfig struct {
	// MinConfidence is the minimum heuristic confidence required to emit a
	// task.
	MinConfidence float64
}

// DefaultCodingProblemConfig returns the documented default threshold.
func DefaultCodingProblemConfig() CodingProblemConfig {
	return CodingProblemConfig{MinConfidence: 0.55}
}

// platformHints maps recognizable platform keywords to a canonical
// platform_hint value.
var platformHints = []struct {
	keyword  string
	platform string
}{
	{"leetcode", "leetcode"},
	{"hackerrank", "hackerrank"},
	{"codesignal", "codesignal"},
	{"codeforces", "codeforces"},
	{"hackerearth", "hackerearth"},
}

// problemSignalPatterns are phrases that co-occur strongly with an on-screen
// coding problem statement. Each match increases the heuristic confidence
// score.
var problemSignalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bconstraints?\b`),
	regexp.MustCompile(`(?i)\bexample\s*\d*\s*:?\b`),
	regexp.MustCompile(`(?i)\binput\s*:`),
	regexp.MustCompile(`(?i)\boutput\s*:`),
	regexp.MustCompile(`(?i)\btime limit\b`),
	regexp.MustCompile(`(?i)\bgiven (an?|two) \w+`),
	regexp.MustCompile(`(?i)\breturn\s+the\b`),
	regexp.MustCompile(`(?i)\bcomplexity\b`),
}

// codeSignatureRe matches common function/class declarations across several
// languages, used to detect visible_code.
var codeSignatureRe = regexp.MustCompile(`(?m)^\s*(func |def |class |public\s+\w+\s+\w+\(|function )`)

// languageHints maps a simple keyword to a guessed source language for the
// visible_code payload field.
var languageHints = []struct {
	keyword  string
	language string
}{
	{"func ", "go"},
	{"def ", "python"},
	{"public class", "java"},
	{"function ", "javascript"},
	{"#include", "c++"},
}

// CodingProblemDetector is the baseline task detector. It extracts
// {title, statement, visible_code?, language?, platform_hint?} from OCR text
// using keyword/pattern heuristics, with no LLM call.
type CodingProblemDetector struct {
	cfg CodingProblemConfig
}

// NewCodingProblemDetector returns a [CodingProblemDetector].
func NewCodingProblemDetector(cfg CodingProblemConfig) *CodingProblemDetector {
	return &CodingProblemDetector{cfg: cfg}
}

// Detect implements [TaskDetector].
func (d *CodingProblemDetector) Detect(req ClassifyRequest) (types.DetectedTask, bool) {
	var fullText strings.Builder
	for _, e := range req.Extractions {
		fullText.WriteString(e.Text)
		fullText.WriteString("\n")
	}
	text := fullText.String()
	if strings.TrimSpace(text) == "" {
		return types.DetectedTask{}, false
	}

	signals := 0
	for _, re := range problemSignalPatterns {
		if re.MatchString(text) {
			signals++
		}
	}
	confidence := float64(signals) / float64(len(problemSignalPatterns))

	platformHint := ""
	lower := strings.ToLower(text + " " + req.Chrome.Title)
	for _, h := range platformHints {
		if strings.Contains(lower, h.keyword) {
			platformHint = h.platform
			confidence += 0.15
			break
		}
	}

	var visibleCode, language string
	if loc := codeSignatureRe.FindStringIndex(text); loc != nil {
		visibleCode = strings.TrimSpace(text[loc[0]:])
		if len(visibleCode) > 2000 {
			visibleCode = visibleCode[:2000]
		}
		for _, lh := range languageHints {
			if strings.Contains(text, lh.keyword) {
				language = lh.language
				break
			}
		}
		confidence += 0.1
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < d.cfg.MinConfidence {
		return types.DetectedTask{}, false
	}

	title := firstNonEmptyLine(text)

	return types.DetectedTask{
		Kind:       "coding_problem",
		Summary:    title,
		Detail:     buildDetail(text, visibleCode, language, platformHint),
		Confidence: confidence,
	}, true
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if len(line) > 120 {
				return line[:120]
			}
			return line
		}
	}
	return ""
}

func buildDetail(statement, visibleCode, language, platformHint string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(statement))
	if visibleCode != "" {
		b.WriteString("\n\n--- visible_code")
		if language != "" {
			b.WriteString(" (" + language + ")")
		}
		b.WriteString(" ---\n")
		b.WriteString(visibleCode)
	}
	if platformHint != "" {
		b.WriteString("\n\n--- platform_hint: " + platformHint + " ---")
	}
	return b.String()
}
