// Package voiceembed computes fixed-length speaker voice embeddings from a
// window of 16 kHz mono PCM audio, using a locally-run ONNX speaker-encoder
// model (e.g. a 3D-Speaker / ECAPA-TDNN export). It shares its ONNX Runtime
// initialization and tensor-lifecycle pattern with
// pkg/provider/vad/silero, but with a single fixed-size input/output tensor
// pair instead of a
// stateful streaming session — a speaker embedding is a single feed-forward
// pass over a whole utterance window, not a per-frame recurrent update.
package voiceembed

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	expectedSampleRate = 16000

	// maxInputSamples bounds the input window (10s at 16kHz); longer audio
	// must be trimmed or chunked by the caller before embedding.
	maxInputSamples = 160000
)

var (
	initOnce sync.Once
	initErr  error
)

// Extractor runs the embedding model. Not safe for concurrent use; callers
// needing concurrency should construct one Extractor per goroutine or guard
// calls with their own mutex, matching gosseract/whisper.cpp's
// one-client-per-call-or-serialized convention used elsewhere in this
// codebase.
type Extractor struct {
	modelData  []byte
	dimensions int
	ortLibPath string
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithORTLibraryPath overrides the path to the ONNX Runtime shared library.
func WithORTLibraryPath(path string) Option {
	return func(e *Extractor) { e.ortLibPath = path }
}

// New creates an [Extractor] from the given embedded ONNX model bytes.
// dimensions is the model's fixed output embedding length (e.g. 192 for a
// typical ECAPA-TDNN speaker encoder).
func New(modelData []byte, dimensions int, opts ...Option) (*Extractor, error) {
	if len(modelData) == 0 {
		return nil, fmt.Errorf("voiceembed: model data must not be empty")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("voiceembed: dimensions must be positive")
	}
	e := &Extractor{modelData: modelData, dimensions: dimensions}
	for _, o := range opts {
		o(e)
	}

	initOnce.Do(func() {
		if e.ortLibPath != "" {
			ort.SetSharedLibraryPath(e.ortLibPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("voiceembed: initialize onnxruntime: %w", initErr)
	}
	return e, nil
}

// Dimensions returns the fixed embedding length this extractor produces.
func (e *Extractor) Dimensions() int {
	return e.dimensions
}

// Embed runs the model over samples (16 kHz mono float32 PCM, normalized to
// [-1,1]) and returns the speaker embedding vector.
func (e *Extractor) Embed(samples []float32) ([]float32, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("voiceembed: empty input")
	}
	if len(samples) > maxInputSamples {
		samples = samples[:maxInputSamples]
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return nil, fmt.Errorf("voiceembed: create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.dimensions)))
	if err != nil {
		return nil, fmt.Errorf("voiceembed: create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	session, err := ort.NewAdvancedSessionWithONNXData(
		e.modelData,
		[]string{"input"},
		[]string{"embedding"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("voiceembed: create session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return nil, fmt.Errorf("voiceembed: run inference: %w", err)
	}

	out := make([]float32, e.dimensions)
	copy(out, outputTensor.GetData())
	return out, nil
}
