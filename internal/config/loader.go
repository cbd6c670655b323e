package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "deepgram"},
	"ocr":        {"tesseract", "cloud-vision"},
	"embeddings": {"openai", "ollama"},
	"vad":        {"silero"},
	"llm":        {"openai", "anyllm"},
}

// Load reads the YAML configuration file at path, fills unset fields with
// [Defaults], and returns a validated [Config]. It is a convenience wrapper
// around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Audio.SegmentSeconds <= 0 {
		errs = append(errs, errors.New("audio.segment_seconds must be positive"))
	}
	if cfg.Audio.SampleRateHz <= 0 {
		errs = append(errs, errors.New("audio.sample_rate_hz must be positive"))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}

	if cfg.Video.IntervalSeconds < 1 || cfg.Video.IntervalSeconds > 300 {
		errs = append(errs, fmt.Errorf("video.interval_seconds %d out of range [1,300]", cfg.Video.IntervalSeconds))
	}

	if cfg.Storage.MaxFilesPerSegmentDir <= 0 {
		errs = append(errs, errors.New("storage.max_files_per_segment_dir must be positive"))
	}
	if cfg.Storage.MaxTotalSizeMB <= 0 {
		errs = append(errs, errors.New("storage.max_total_size_mb must be positive"))
	}

	if cfg.Query.MaxResults <= 0 {
		errs = append(errs, errors.New("query.max_results must be positive"))
	}
	if cfg.Query.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("query.timeout_seconds must be positive"))
	}
	if cfg.Query.MaxContextQueries <= 0 {
		errs = append(errs, errors.New("query.max_context_queries must be positive"))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("ocr", cfg.Providers.OCR.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("llm", cfg.LLM.Provider)

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
