package silero

import (
	"fmt"
	"sync"

	"github.com/voicepane/voicepane/pkg/provider/vad"
	ort "github.com/yalue/onnxruntime_go"
)

// session is a live Silero VAD session. One 512-sample inference window
// straddles the caller's configured FrameSizeMs, so frames are accumulated
// into a 512-sample buffer before each inference call; a session tracks
// whether it is currently inside a speech region to emit SpeechStart/
// SpeechEnd transition events rather than a bare per-window classification.
type session struct {
	mu sync.Mutex

	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	stateTensor  *ort.Tensor[float32]
	srTensor     *ort.Tensor[int64]
	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	frameSizeBytes   int
	speechThreshold  float64
	silenceThreshold float64

	pcmBuf   []float32
	inSpeech bool
	closed   bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("silero: session is closed")
	}
	if s.frameSizeBytes > 0 && len(frame) != s.frameSizeBytes {
		return vad.VADEvent{}, fmt.Errorf("silero: frame size %d bytes, want %d", len(frame), s.frameSizeBytes)
	}
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, fmt.Errorf("silero: frame has odd byte length %d", len(frame))
	}

	s.pcmBuf = append(s.pcmBuf, pcmToFloat32(frame)...)

	var lastProb float64
	hadWindow := false
	for len(s.pcmBuf) >= windowSize {
		prob, err := s.infer(s.pcmBuf[:windowSize])
		if err != nil {
			return vad.VADEvent{}, err
		}
		s.pcmBuf = s.pcmBuf[windowSize:]
		lastProb = float64(prob)
		hadWindow = true
	}
	if !hadWindow {
		return vad.VADEvent{Type: vad.VADSilence, Probability: 0}, nil
	}

	wasInSpeech := s.inSpeech
	switch {
	case lastProb >= s.speechThreshold:
		s.inSpeech = true
	case lastProb < s.silenceThreshold:
		s.inSpeech = false
	}

	eventType := vad.VADSilence
	switch {
	case s.inSpeech && !wasInSpeech:
		eventType = vad.VADSpeechStart
	case s.inSpeech && wasInSpeech:
		eventType = vad.VADSpeechContinue
	case !s.inSpeech && wasInSpeech:
		eventType = vad.VADSpeechEnd
	}

	return vad.VADEvent{Type: eventType, Probability: lastProb}, nil
}

// infer runs a single Silero VAD inference on exactly windowSize float32
// samples, carrying forward the RNN hidden state between calls.
func (s *session) infer(window []float32) (float32, error) {
	copy(s.inputTensor.GetData(), window)

	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}

	prob := s.outputTensor.GetData()[0]
	copy(s.stateTensor.GetData(), s.stateNTensor.GetData())
	return prob, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clearFloat32Slice(s.stateTensor.GetData())
	s.pcmBuf = s.pcmBuf[:0]
	s.inSpeech = false
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.session.Destroy()
	s.inputTensor.Destroy()
	s.stateTensor.Destroy()
	s.srTensor.Destroy()
	s.outputTensor.Destroy()
	s.stateNTensor.Destroy()
	return nil
}

// pcmToFloat32 converts little-endian s16 PCM bytes to float32 samples
// normalized to [-1, 1]. Divides by 32768 (not 32767) so the full int16
// range maps within [-1, 1] rather than slightly overshooting at -32768.
func pcmToFloat32(buf []byte) []float32 {
	n := len(buf) / 2
	if n == 0 {
		return nil
	}
	samples := make([]float32, n)
	for i := range n {
		u := uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		samples[i] = float32(int16(u)) / 32768.0
	}
	return samples
}

func clearFloat32Slice(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

var _ vad.SessionHandle = (*session)(nil)
