package audio

import "time"

// AudioFrame represents a single captured window of audio data flowing
// through the pipeline. Frames are the atomic unit of audio transport —
// captured from an input device, resampled/converted, and handed to the
// speech-to-text stage.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 as captured, 16000 as required by most STT backends).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration

	// Source identifies which input device produced this frame.
	Source string
}
