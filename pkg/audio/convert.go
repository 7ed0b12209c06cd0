// Package audio holds the sample-format plumbing between transports and the
// segmenter: PCM16/float32 conversion, down-mixing, resampling, WAV
// containers and Opus decoding.
//
// The segmenter consumes mono float32 samples in [-1, 1] at a fixed rate
// (16 kHz for whisper models). Everything in this package exists to get
// arbitrary client audio into that shape.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Sample rates accepted from clients. Anything outside this range is either
// not speech audio or would make resampling output unbounded.
const (
	MinSampleRate = 4000
	MaxSampleRate = 192000
)

// ErrSampleRate is returned by [CheckSampleRate].
var ErrSampleRate = errors.New("audio: sample rate out of range")

// CheckSampleRate reports whether rate lies in [MinSampleRate, MaxSampleRate].
func CheckSampleRate(rate int) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("%w: %d Hz (want %d to %d)", ErrSampleRate, rate, MinSampleRate, MaxSampleRate)
	}
	return nil
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000 Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Converter turns interleaved 16-bit PCM chunks of a source format into mono
// float32 samples at TargetRate. The first resampled chunk and the first
// misaligned chunk are logged once each. A Converter belongs to one stream.
type Converter struct {
	Source     Format
	TargetRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts one chunk. Down-mixing happens before resampling.
func (c *Converter) Convert(pcm []byte) []float32 {
	ch := max(c.Source.Channels, 1)
	if frame := 2 * ch; len(pcm)%frame != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: PCM chunk not frame aligned, trailing bytes dropped",
				"bytes", len(pcm),
				"format", c.Source.String(),
			)
		})
		pcm = pcm[:len(pcm)-len(pcm)%frame]
	}

	samples := PCM16ToFloat32(pcm, ch)
	if c.Source.SampleRate > 0 && c.TargetRate > 0 && c.Source.SampleRate != c.TargetRate {
		c.warnedMismatch.Do(func() {
			slog.Warn("audio: resampling input",
				"from", c.Source.String(),
				"to", formatString(c.TargetRate, 1),
			)
		})
		samples = Resample(samples, c.Source.SampleRate, c.TargetRate)
	}
	return samples
}

// PCM16ToFloat32 converts interleaved 16-bit signed little-endian PCM to mono
// float32 samples in [-1.0, 1.0], averaging channels per frame. Trailing
// bytes that do not form a full frame are ignored.
func PCM16ToFloat32(pcm []byte, channels int) []float32 {
	channels = max(channels, 1)
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:idx+2]))) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Float32ToPCM16 converts float32 samples to 16-bit signed little-endian PCM,
// clamping values outside [-1.0, 1.0].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Float32LEToSamples decodes raw little-endian IEEE-754 float32 bytes.
// Trailing bytes that do not form a full sample are ignored.
func Float32LEToSamples(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Resample resamples mono float32 samples from srcRate to dstRate using linear
// interpolation. If the rates match or either is outside [CheckSampleRate]'s
// range, the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	if CheckSampleRate(srcRate) != nil || CheckSampleRate(dstRate) != nil {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// DurationMs returns the duration of n mono samples at sampleRate in
// milliseconds. Returns 0 for an invalid rate.
func DurationMs(n, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return int(int64(n) * 1000 / int64(sampleRate))
}

// SamplesForMs returns the number of mono samples covering ms milliseconds.
func SamplesForMs(ms, sampleRate int) int {
	if ms <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(ms) * int64(sampleRate) / 1000)
}

func formatString(rate, channels int) string {
	switch {
	case channels <= 1:
		return fmt.Sprintf("%d Hz mono", rate)
	case channels == 2:
		return fmt.Sprintf("%d Hz stereo", rate)
	default:
		return fmt.Sprintf("%d Hz %d channels", rate, channels)
	}
}
