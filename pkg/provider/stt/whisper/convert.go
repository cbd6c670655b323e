package whisper

// int16ToFloat32Mono converts signed 16-bit PCM samples to float32 samples
// normalised to [-1.0, 1.0], down-mixing to mono by averaging channels if
// channels > 1. whisper.cpp's Process expects mono float32 input regardless
// of the original capture channel count.
func int16ToFloat32Mono(samples []int16, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		for i, s := range samples {
			out[i] = float32(s) / 32768.0
		}
		return out
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(samples[i*channels+ch]) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}
