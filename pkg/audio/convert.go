package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter converts AudioFrames to a target format. It logs a warning
// on the first format mismatch and validates PCM data alignment.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. If the source format already
// matches the target, the frame is returned unchanged (zero allocation).
// Conversion order: resample first, then channel convert.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	// Validate: odd byte count for int16 PCM.
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return AudioFrame{
			Data:       nil,
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	// Fast path: source matches target.
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	// Log warning on first mismatch.
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	currentRate := frame.SampleRate
	currentChannels := frame.Channels

	// Step 1: Resample first (avoids resampling stereo when target is mono).
	if currentRate != c.Target.SampleRate {
		if currentChannels == 1 {
			pcm = ResampleMono16(pcm, currentRate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, currentRate, c.Target.SampleRate)
		}
		currentRate = c.Target.SampleRate
	}

	// Step 2: Channel conversion.
	if currentChannels != c.Target.Channels {
		if currentChannels == 1 && c.Target.Channels == 2 {
			pcm = MonoToStereo(pcm)
		} else if currentChannels == 2 && c.Target.Channels == 1 {
			pcm = StereoToMono(pcm)
		}
		currentChannels = c.Target.Channels
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: currentRate,
		Channels:   currentChannels,
		Timestamp:  frame.Timestamp,
	}
}

// ConvertStream wraps an input channel with a conversion goroutine. It closes
// the returned channel when in closes. Uses cap(in) for the output channel
// buffer. Frames with empty data (e.g. from odd byte count) are dropped.
func ConvertStream(in <-chan AudioFrame, target Format) <-chan AudioFrame {
	out := make(chan AudioFrame, cap(in))
	go func() {
		defer close(out)
		conv := FormatConverter{Target: target}
		for frame := range in {
			converted := conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	// Each stereo frame is 4 bytes (2 bytes L + 2 bytes R).
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		// Clamp to int16 range.
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// sincFilterHalfWidth is the number of source samples considered on each
// side of the interpolation point. Larger values reduce aliasing and
// passband ripple at the cost of more arithmetic per output sample.
const sincFilterHalfWidth = 8

// sinc evaluates the normalized sinc function sin(pi*x)/(pi*x).
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackmanWindow evaluates a Blackman window of width 2*sincFilterHalfWidth
// at offset t from its center, used to taper the sinc kernel to zero at its
// edges instead of truncating it abruptly.
func blackmanWindow(t float64) float64 {
	n := 2 * sincFilterHalfWidth
	x := (t + float64(sincFilterHalfWidth)) / float64(n)
	return 0.42 - 0.5*math.Cos(2*math.Pi*x) + 0.08*math.Cos(4*math.Pi*x)
}

// bandlimitedKernel returns the windowed-sinc filter weight to apply to the
// source sample that is offset samples away (fractional) from the target
// output position, scaled by the resampling ratio so the filter's cutoff
// tracks the lower of the two sample rates (anti-aliasing on downsampling).
func bandlimitedKernel(offset, cutoffRatio float64) float64 {
	x := offset * cutoffRatio
	if x < -sincFilterHalfWidth || x > sincFilterHalfWidth {
		return 0
	}
	return cutoffRatio * sinc(x) * blackmanWindow(offset)
}

// resampleChannel applies a bandlimited (windowed-sinc) resampling kernel to
// a single channel of int16 samples. This avoids the spectral images and passband attenuation that
// naive linear interpolation introduces, which matters here because
// downstream speech-to-text and speaker-embedding models are sensitive to
// high-frequency artifacts.
func resampleChannel(samples []int16, srcRate, dstRate int) []int16 {
	srcLen := len(samples)
	dstLen := int(int64(srcLen) * int64(dstRate) / int64(srcRate))
	if dstLen <= 0 {
		return nil
	}
	ratio := float64(srcRate) / float64(dstRate)
	cutoffRatio := 1.0
	if ratio > 1 {
		// Downsampling: lower the filter cutoff to the destination Nyquist
		// frequency to suppress aliasing.
		cutoffRatio = 1 / ratio
	}

	out := make([]int16, dstLen)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		center := int(math.Floor(srcPos))

		var acc float64
		lo := center - sincFilterHalfWidth
		hi := center + sincFilterHalfWidth
		for j := lo; j <= hi; j++ {
			weight := bandlimitedKernel(srcPos-float64(j), cutoffRatio)
			// Edge-replicate: samples before the first or after the last are
			// treated as equal to the nearest real sample. This keeps the
			// kernel's weight sum close to unity near the boundaries instead
			// of truncating support and attenuating the signal there.
			k := j
			if k < 0 {
				k = 0
			} else if k >= srcLen {
				k = srcLen - 1
			}
			acc += weight * float64(samples[k])
		}

		if acc > 32767 {
			acc = 32767
		} else if acc < -32768 {
			acc = -32768
		}
		out[i] = int16(acc)
	}
	return out
}

// decodeInt16LE decodes little-endian int16 PCM bytes into samples.
func decodeInt16LE(pcm []byte, n int) []int16 {
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// encodeInt16LE encodes samples into little-endian int16 PCM bytes.
func encodeInt16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using a
// bandlimited (windowed-sinc) kernel. The input must be little-endian int16
// samples. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	samples := decodeInt16LE(pcm, len(pcm)/2)
	return encodeInt16LE(resampleChannel(samples, srcRate, dstRate))
}

// ResampleStereo16 resamples 16-bit stereo PCM from srcRate to dstRate using
// a bandlimited (windowed-sinc) kernel applied independently to each
// channel. Each stereo frame is 4 bytes (L+R interleaved). If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	frames := len(pcm) / 4
	left := make([]int16, frames)
	right := make([]int16, frames)
	for i := range frames {
		left[i] = int16(pcm[i*4]) | int16(pcm[i*4+1])<<8
		right[i] = int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8
	}

	leftOut := resampleChannel(left, srcRate, dstRate)
	rightOut := resampleChannel(right, srcRate, dstRate)

	out := make([]byte, len(leftOut)*4)
	for i := range leftOut {
		out[i*4] = byte(leftOut[i])
		out[i*4+1] = byte(leftOut[i] >> 8)
		out[i*4+2] = byte(rightOut[i])
		out[i*4+3] = byte(rightOut[i] >> 8)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
