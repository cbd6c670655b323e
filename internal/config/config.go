// Package config provides the configuration schema, loader, and provider
// registry for the capture pipeline and query service.
package config

// Config is the root configuration structure, loaded from
// config/config.yaml. It nests one block per subsystem so that each daemon can load the
// whole file but only read the sections relevant to it.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  LogLevel        `yaml:"log_level"`
	Audio     AudioConfig     `yaml:"audio"`
	Video     VideoConfig     `yaml:"video"`
	Storage   StorageConfig   `yaml:"storage"`
	Query     QueryConfig     `yaml:"query"`
	LLM       LLMConfig       `yaml:"llm"`
	Providers ProvidersConfig `yaml:"providers"`
}

// LogLevel controls slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// AudioConfig configures the audio capture daemon.
type AudioConfig struct {
	// SegmentSeconds is the fixed length of one audio capture segment.
	SegmentSeconds int `yaml:"segment_seconds"`

	// Device selects the input device name; empty means the configured
	// virtual-loopback/system default.
	Device string `yaml:"device"`

	// SampleRateHz is the normalized output sample rate handed to the
	// speech-to-text stage.
	SampleRateHz int `yaml:"sample_rate_hz"`

	// Channels is the normalized output channel count (1 = mono).
	Channels int `yaml:"channels"`
}

// VideoConfig configures the screen capture daemon.
type VideoConfig struct {
	// IntervalSeconds is the period between frame captures, 1-300s.
	IntervalSeconds int `yaml:"interval_seconds"`

	// Quality is a coarse image-quality knob ("low", "medium", "high").
	Quality string `yaml:"quality"`

	// Stealth instructs the capturer to avoid appearing in its own captures.
	Stealth bool `yaml:"stealth"`

	// BlockedApps is a list of foreground-application identities that
	// suppress capture when focused.
	BlockedApps []string `yaml:"blocked_apps"`

	// Schedule is a free-form capture window expression; "24/7" means
	// always-on.
	Schedule string `yaml:"schedule"`
}

// StorageConfig configures the ring buffer and retention policy.
type StorageConfig struct {
	MaxFilesPerSegmentDir int `yaml:"max_files_per_segment_dir"`
	MaxTotalSizeMB        int `yaml:"max_total_size_mb"`
	RetentionDays         int `yaml:"retention_days"`

	// DatabasePath is the embedded SQLite database file.
	DatabasePath string `yaml:"database_path"`

	// MaxOpenConns bounds the connection pool; SQLite serializes writers
	// internally so this mainly governs concurrent read-only queries.
	MaxOpenConns int `yaml:"max_open_conns"`

	// QueryTimeoutSeconds bounds every externally-triggered read-only query.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`

	// ANNEnabled turns on the optional HNSW approximate-nearest-neighbor
	// index over semantic_embedding columns.
	ANNEnabled bool `yaml:"ann_enabled"`

	// ANNDimensions is the fixed embedding length the HNSW index is built
	// for; must match the configured embeddings provider's output size.
	ANNDimensions int `yaml:"ann_dimensions"`
}

// QueryConfig configures the query service's limits and context retention.
type QueryConfig struct {
	MaxResults            int `yaml:"max_results"`
	TimeoutSeconds        int `yaml:"timeout_seconds"`
	RatePerMinute         int `yaml:"rate_per_minute"`
	ComplexityPerMinute   int `yaml:"complexity_per_minute"`
	ContextRetentionHours int `yaml:"context_retention_hours"`
	MaxContextQueries     int `yaml:"max_context_queries"`
}

// LLMConfig selects and configures the LLM backend used by the query
// planner.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// ProvidersConfig declares which backend implementation to use for each
// pluggable capability. Each field selects a named provider registered in
// the [Registry].
type ProvidersConfig struct {
	STT        ProviderEntry `yaml:"stt"`
	OCR        ProviderEntry `yaml:"ocr"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	VAD        ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name selects the registered constructor in the [Registry].
type ProviderEntry struct {
	Name    string         `yaml:"name"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`
}

// Defaults returns a [Config] populated with the documented defaults.
func Defaults() Config {
	return Config{
		DataDir:  "~/.local/share/voicepane",
		LogLevel: LogInfo,
		Audio: AudioConfig{
			SegmentSeconds: 300,
			Device:         "<loopback>",
			SampleRateHz:   16000,
			Channels:       1,
		},
		Video: VideoConfig{
			IntervalSeconds: 30,
			Quality:         "medium",
			Stealth:         true,
			Schedule:        "24/7",
		},
		Storage: StorageConfig{
			MaxFilesPerSegmentDir: 50,
			MaxTotalSizeMB:        100,
			RetentionDays:         30,
			DatabasePath:          "~/.local/share/voicepane/voicepane.db",
			MaxOpenConns:          4,
			QueryTimeoutSeconds:   10,
			ANNEnabled:            true,
			ANNDimensions:         384,
		},
		Query: QueryConfig{
			MaxResults:            1000,
			TimeoutSeconds:        30,
			RatePerMinute:         60,
			ComplexityPerMinute:   100,
			ContextRetentionHours: 24,
			MaxContextQueries:     10,
		},
	}
}
