// Package silero implements a vad.Engine backed by Silero VAD v5 running
// locally through ONNX Runtime. It runs entirely on-device with no network
// dependency, matching this pipeline's offline-first requirement.
package silero

import (
	"fmt"
	"sync"

	"github.com/voicepane/voicepane/pkg/provider/vad"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// windowSize is the number of float32 samples per inference call. Silero
	// VAD v5 at 16 kHz requires exactly 512 samples (32 ms).
	windowSize = 512

	// stateSize is the hidden state dimension per layer. Silero VAD v5 uses a
	// combined state tensor of shape [2, 1, 128].
	stateSize = 128

	expectedSampleRate = 16000
)

var (
	initOnce sync.Once
	initErr  error
)

// Engine implements vad.Engine using an embedded Silero VAD v5 ONNX model.
type Engine struct {
	modelData    []byte
	ortLibPath   string
	mu           sync.Mutex
	speechOnThr  float64
	speechOffThr float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithORTLibraryPath overrides the path to the ONNX Runtime shared library.
// If unset, the platform default search path is used.
func WithORTLibraryPath(path string) Option {
	return func(e *Engine) { e.ortLibPath = path }
}

// New creates a Silero VAD engine from the given embedded ONNX model bytes.
func New(modelData []byte, opts ...Option) (*Engine, error) {
	if len(modelData) == 0 {
		return nil, fmt.Errorf("silero: model data must not be empty")
	}
	e := &Engine{modelData: modelData}
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
		return nil, fmt.Errorf("silero: initialize onnxruntime: %w", initErr)
	}
	return e, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != expectedSampleRate {
		return nil, fmt.Errorf("silero: sample rate %d unsupported, only %d is supported", cfg.SampleRate, expectedSampleRate)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("silero: speech threshold %v out of range (0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("silero: silence threshold %v must be in [0, speechThreshold]", cfg.SilenceThreshold)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, windowSize))
	if err != nil {
		return nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(expectedSampleRate)})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		e.modelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	return &session{
		session:          session,
		inputTensor:      inputTensor,
		stateTensor:      stateTensor,
		srTensor:         srTensor,
		outputTensor:     outputTensor,
		stateNTensor:     stateNTensor,
		frameSizeBytes:   cfg.FrameSizeMs * expectedSampleRate / 1000 * 2,
		speechThreshold:  cfg.SpeechThreshold,
		silenceThreshold: cfg.SilenceThreshold,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)
