// Package transcript implements the transcript post-processor: a pure
// function over a speech-to-text [types.Transcript] that collapses known ASR
// artifacts into a single "[unclear audio]" marker and applies
// confidence-based retention.
//
// The post-processor is deliberately free of network calls, randomness, and
// wall-clock reads: given the same transcript and the same [PostprocessConfig]
// (identified by its ConfigVersion), [Processor.Process] always returns the
// same [Result]. This is required so that re-running the pipeline against
// archived transcripts after a config change is auditable — the stored
// ConfigVersion tells a caller exactly which ruleset produced a given
// Result, and re-processing with an unchanged config is idempotent.
package transcript

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/voicepane/voicepane/pkg/types"
)

// unclearMarker is the literal text substituted for any collapsed artifact.
const unclearMarker = "[unclear audio]"

// Status classifies the outcome of post-processing a transcript.
type Status string

const (
	// StatusKept means confidence >= KeepThreshold; the segment is stored
	// as-is with no caveats attached.
	StatusKept Status = "kept"

	// StatusFlagged means DropThreshold <= confidence < KeepThreshold; the
	// segment is retained but downstream consumers should surface that its
	// transcription is uncertain.
	StatusFlagged Status = "flagged"

	// StatusDropped means confidence < DropThreshold; the segment text is
	// discarded entirely and must not be persisted or surfaced to queries.
	StatusDropped Status = "dropped"
)

// PostprocessConfig parameterises [Processor]. The exact threshold and
// pattern values are policy, not design; they are configurable with the
// defaults returned by [DefaultConfig].
type PostprocessConfig struct {
	// ConfigVersion identifies this exact combination of thresholds and
	// patterns. It is stamped onto every [Result] so that a stored
	// transcript segment can be traced back to the ruleset that produced
	// it. Callers MUST bump this whenever any other field changes.
	ConfigVersion string

	// KeepThreshold is the STT confidence above which a segment
	// is kept without qualification.
	KeepThreshold float64

	// DropThreshold is the STT confidence below which a segment
	// is dropped entirely. Must be <= KeepThreshold.
	DropThreshold float64

	// ArtifactPatterns is a list of regular expressions matched against
	// the raw transcript text (case-insensitive). Any match is replaced
	// by the "[unclear audio]" marker. Typical entries recognise
	// whisper.cpp-style silence/noise tokens such as "[BLANK_AUDIO]" or
	// "(background noise)".
	ArtifactPatterns []string

	// RepeatThreshold is the minimum number of consecutive identical
	// word-tokens required to treat a run as an ASR repetition artifact
	// (e.g. "the the the the the") and collapse it to a single marker.
	// A value <= 1 disables repetition collapsing.
	RepeatThreshold int
}

// DefaultConfig returns the documented default thresholds and artifact
// patterns.
func DefaultConfig() PostprocessConfig {
	return PostprocessConfig{
		ConfigVersion: "postprocess-v1",
		KeepThreshold: 0.60,
		DropThreshold: 0.30,
		ArtifactPatterns: []string{
			`\[blank_audio\]`,
			`\[silence\]`,
			`\[inaudible\]`,
			`\(background noise\)`,
			`\(wind blowing\)`,
			`\(typing\)`,
		},
		RepeatThreshold: 3,
	}
}

// Result is the output of processing a single transcript.
type Result struct {
	// Text is the transcript text after artifact collapsing. Empty when
	// Status is StatusDropped.
	Text string

	// Confidence is the input transcript's STT confidence, unchanged.
	Confidence float64

	// Status is the retention decision computed from Confidence against
	// the configured thresholds.
	Status Status

	// ConfigVersion records which [PostprocessConfig] produced this
	// Result.
	ConfigVersion string
}

// Processor collapses ASR artifacts and applies confidence-based retention
// using a fixed [PostprocessConfig]. A Processor is immutable after
// construction and safe for concurrent use; all of its exported behavior is
// a pure function of its config and its Process input.
type Processor struct {
	cfg          PostprocessConfig
	artifactRes  []*regexp.Regexp
	collapseMark *regexp.Regexp
}

// NewProcessor compiles cfg's artifact patterns and returns a [Processor].
// Returns an error if any pattern fails to compile or if DropThreshold >
// KeepThreshold.
func NewProcessor(cfg PostprocessConfig) (*Processor, error) {
	if cfg.DropThreshold > cfg.KeepThreshold {
		return nil, fmt.Errorf("transcript: drop threshold %.2f exceeds keep threshold %.2f", cfg.DropThreshold, cfg.KeepThreshold)
	}
	if cfg.ConfigVersion == "" {
		return nil, fmt.Errorf("transcript: config version must not be empty")
	}

	res := make([]*regexp.Regexp, 0, len(cfg.ArtifactPatterns))
	for _, pat := range cfg.ArtifactPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("transcript: compiling artifact pattern %q: %w", pat, err)
		}
		res = append(res, re)
	}

	return &Processor{
		cfg:          cfg,
		artifactRes:  res,
		collapseMark: regexp.MustCompile(`\[unclear audio\](?:\s*\[unclear audio\])+`),
	}, nil
}

// Process applies artifact collapsing and confidence-based retention to t
// and returns the resulting [Result]. Process is a pure function of
// (t, p.cfg): calling it twice with the same transcript and the same
// Processor always yields an identical Result, and re-processing an
// already-processed Result's text is a no-op.
func (p *Processor) Process(t types.Transcript) Result {
	text := p.collapseArtifacts(t.Text)

	status := StatusKept
	switch {
	case t.Confidence < p.cfg.DropThreshold:
		status = StatusDropped
		text = ""
	case t.Confidence < p.cfg.KeepThreshold:
		status = StatusFlagged
	}

	return Result{
		Text:          text,
		Confidence:    t.Confidence,
		Status:        status,
		ConfigVersion: p.cfg.ConfigVersion,
	}
}

// collapseArtifacts replaces every known artifact pattern and every run of
// RepeatThreshold-or-more identical consecutive word tokens with a single
// "[unclear audio]" marker, then merges adjacent markers produced by either
// rule into one.
func (p *Processor) collapseArtifacts(text string) string {
	for _, re := range p.artifactRes {
		text = re.ReplaceAllString(text, unclearMarker)
	}

	text = p.collapseRepeats(text)
	text = p.collapseMark.ReplaceAllString(text, unclearMarker)

	return strings.TrimSpace(text)
}

// collapseRepeats scans whitespace-separated tokens and replaces any run of
// RepeatThreshold-or-more case-insensitively identical tokens with a single
// marker. Tokens that are themselves the marker are left untouched so that a
// prior artifact-pattern substitution is not re-examined.
func (p *Processor) collapseRepeats(text string) string {
	if p.cfg.RepeatThreshold <= 1 {
		return text
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text
	}

	var out []string
	i := 0
	for i < len(tokens) {
		j := i + 1
		for j < len(tokens) && strings.EqualFold(tokens[j], tokens[i]) {
			j++
		}
		runLen := j - i
		if runLen >= p.cfg.RepeatThreshold && tokens[i] != unclearMarker {
			out = append(out, unclearMarker)
		} else {
			out = append(out, tokens[i:j]...)
		}
		i = j
	}

	return strings.Join(out, " ")
}
