// Package types defines the shared data-model structs persisted and
// exchanged across the capture daemons, the correlator, the storage engine,
// and the query service. They are intentionally minimal — each package
// defines its own working types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// AudioSampleBatch is a fixed-size window of PCM audio handed from the
// capture layer to the speech-to-text stage.
type AudioSampleBatch struct {
	Source     string
	Samples    []int16
	SampleRate int
	Channels   int
	CapturedAt time.Time
}

// Transcript is a speech-to-text result for one AudioSampleBatch, before
// post-processing.
type Transcript struct {
	Text       string
	Confidence float64
	Words      []WordDetail
	StartedAt  time.Time
	Duration   time.Duration

	// Language is the BCP-47 tag the provider recognized or was configured
	// with; carried into the on-disk segment artifact.
	Language string
	// ModelID names the model that produced this transcript.
	ModelID string
	// ProcessingTime is how long the provider spent on this batch.
	ProcessingTime time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// TranscriptSegment is a single post-processed, persisted utterance.
type TranscriptSegment struct {
	ID             string
	ConversationID string
	SpeakerID      string
	Text           string
	RawText        string
	Confidence     float64
	StartedAt      time.Time
	EndedAt        time.Time
	ConfigVersion  string
	SemanticVector []float32
}

// Conversation groups a contiguous run of transcript segments bounded by a
// detected silence gap or speaker-change boundary.
type Conversation struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Topic     string
	SegmentIDs []string
}

// SpeakerProfile identifies a recurring voice across sessions.
type SpeakerProfile struct {
	ID                 string
	DisplayName        string
	VoiceEmbedding     []float32
	TextPatterns       []string
	ConfidenceThreshold float64
	TotalTime          time.Duration
	FirstSeen          time.Time
	LastSeen           time.Time
	MergedInto         string
}

// CapturedFrame is a single screenshot retained by the ring buffer.
type CapturedFrame struct {
	ID             string
	Path           string
	CapturedAt     time.Time
	PerceptualHash uint64
	ChangeScore    float64
	ForegroundApp  string
}

// TextExtraction is the OCR result for a region of a CapturedFrame.
type TextExtraction struct {
	ID          string
	FrameID     string
	Region      [4]int
	Text        string
	Confidence  float64
	RegionHash  uint64
	ExtractedAt time.Time
}

// DetectedTask is a task-detector finding (for example, a coding problem
// visible on screen).
type DetectedTask struct {
	ID         string
	Kind       string
	Summary    string
	Detail     string
	Confidence float64
	DetectedAt time.Time
}

// VisualContextRecord is the classifier's interpretation of a frame.
type VisualContextRecord struct {
	ID            string
	FrameID       string
	ForegroundApp string
	Activity      string
	DetectedTasks []DetectedTask
	ClassifiedAt  time.Time
}

// TimelineEvent links an audio-side and/or video-side record into the
// unified cross-modal timeline built by the correlator.
type TimelineEvent struct {
	ID                string
	OccurredAt        time.Time
	TranscriptSegID   string
	FrameID           string
	VisualContextID   string
	ClockOffsetMillis int64
}

// StructuredQuery is the deterministic, schema-validated query representation
// the LLM adapter must produce before the query planner ever compiles SQL.
// Intent is one of find_conversations, find_segments, speaker_analytics,
// semantic_search, context, list_speakers, export.
type StructuredQuery struct {
	Intent             string
	TimeRange          *TimeRange
	SpeakerIDs         []string
	Participants       []string
	Keywords           []string
	Topics             []string
	Limit              int
	Offset             int
	ComplexityEstimate int
}

// TimeRange bounds a query to a closed time interval.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// QueryFeedback records a session's judgement of a prior structured query,
// used by the query planner's feedback-learning step.
type QueryFeedback struct {
	ID             string
	SessionID      string
	NLQuery        string
	Structured     StructuredQuery
	Feedback       string // "good", "bad", "corrected"
	CorrectedQuery *StructuredQuery
	CreatedAt      time.Time
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	Role       string
	Content    string
	Name       string // optional participant name, for multi-speaker contexts
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM or exposed
// over the RPC service.
type ToolDefinition struct {
	Name                string
	Description         string
	Parameters          map[string]any
	EstimatedDurationMs int
	MaxDurationMs       int
	Idempotent          bool
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsJSONSchema  bool
	SupportsStreaming   bool
	SupportsVision      bool
}

// VADEvent represents a voice activity detection result for a single audio
// batch.
type VADEvent struct {
	Type        VADEventType
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	VADSpeechStart VADEventType = iota
	VADSpeechContinue
	VADSpeechEnd
	VADSilence
)
