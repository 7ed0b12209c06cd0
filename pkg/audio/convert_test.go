package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/whisperstream/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestPCM16ToFloat32_Mono(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 16384, -32768, 32767})
	got := audio.PCM16ToFloat32(pcm, 1)
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32_StereoDownmix(t *testing.T) {
	// Two stereo frames: (16384, 0) and (-16384, -16384).
	pcm := samplesToBytes([]int16{16384, 0, -16384, -16384})
	got := audio.PCM16ToFloat32(pcm, 2)
	want := []float32{0.25, -0.5}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32_OddLength(t *testing.T) {
	got := audio.PCM16ToFloat32([]byte{0, 0x40, 7}, 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
}

func TestFloat32ToPCM16_Clamps(t *testing.T) {
	got := bytesToSamples(audio.Float32ToPCM16([]float32{0, 1, -1, 2.5, -3, 0.5}))
	want := []int16{0, 32767, -32767, 32767, -32768, 16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloat32LEToSamples(t *testing.T) {
	b := make([]byte, 10)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(-0.75))
	got := audio.Float32LEToSamples(b)
	if len(got) != 2 || got[0] != 0.25 || got[1] != -0.75 {
		t.Errorf("got %v, want [0.25 -0.75]", got)
	}
}

func TestResample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResample_Downsample48kTo16k(t *testing.T) {
	in := make([]float32, 960)
	for i := range in {
		in[i] = float32(i) / 960
	}
	out := audio.Resample(in, 48000, 16000)
	if len(out) != 320 {
		t.Fatalf("expected 320 samples, got %d", len(out))
	}
	if out[0] != 0 {
		t.Errorf("first sample: got %v, want 0", out[0])
	}
	if d := math.Abs(float64(out[1]) - 3.0/960); d > 1e-6 {
		t.Errorf("second sample off by %v", d)
	}
}

func TestResample_Upsample(t *testing.T) {
	out := audio.Resample([]float32{0, 1}, 16000, 48000)
	if len(out) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(out))
	}
	if out[0] != 0 || out[len(out)-1] != 1 {
		t.Errorf("endpoints: got %v", out)
	}
}

func TestResample_InvalidRate(t *testing.T) {
	in := []float32{0.1, 0.2}
	for _, rates := range [][2]int{{0, 16000}, {16000, 0}, {-1, 16000}, {1, 16000}, {16000, 1_000_000}} {
		if out := audio.Resample(in, rates[0], rates[1]); len(out) != len(in) {
			t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
		}
	}
}

func TestConverter_StereoResample(t *testing.T) {
	c := &audio.Converter{
		Source:     audio.Format{SampleRate: 32000, Channels: 2},
		TargetRate: 16000,
	}
	// 4 stereo frames at 32 kHz -> 2 mono samples at 16 kHz.
	pcm := samplesToBytes([]int16{16384, 16384, 16384, 16384, 0, 0, 0, 0})
	got := c.Convert(pcm)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 0.5 {
		t.Errorf("first sample: got %v, want 0.5", got[0])
	}
}

func TestConverter_MisalignedInput(t *testing.T) {
	c := &audio.Converter{Source: audio.Format{SampleRate: 16000, Channels: 2}, TargetRate: 16000}
	// One full stereo frame plus 3 stray bytes.
	pcm := append(samplesToBytes([]int16{100, 100}), 1, 2, 3)
	if got := c.Convert(pcm); len(got) != 1 {
		t.Errorf("expected 1 sample, got %d", len(got))
	}
}

func TestSamplesForMs(t *testing.T) {
	tests := []struct {
		ms, rate, want int
	}{
		{1000, 16000, 16000},
		{200, 16000, 3200},
		{0, 16000, 0},
		{-5, 16000, 0},
		{100, 0, 0},
	}
	for _, tc := range tests {
		if got := audio.SamplesForMs(tc.ms, tc.rate); got != tc.want {
			t.Errorf("SamplesForMs(%d, %d) = %d, want %d", tc.ms, tc.rate, got, tc.want)
		}
	}
	if got := audio.DurationMs(8000, 16000); got != 500 {
		t.Errorf("DurationMs(8000, 16000) = %d, want 500", got)
	}
}

func TestFormat_String(t *testing.T) {
	for f, want := range map[audio.Format]string{
		{SampleRate: 48000, Channels: 2}: "48000 Hz stereo",
		{SampleRate: 16000, Channels: 1}: "16000 Hz mono",
		{SampleRate: 8000}:               "8000 Hz mono",
		{SampleRate: 44100, Channels: 6}: "44100 Hz 6 channels",
	} {
		if got := f.String(); got != want {
			t.Errorf("%#v.String() = %q, want %q", f, got, want)
		}
	}
}

func TestCheckSampleRate(t *testing.T) {
	tests := map[int]bool{
		0:                       false,
		1:                       false,
		audio.MinSampleRate - 1: false,
		audio.MinSampleRate:     true,
		16000:                   true,
		48000:                   true,
		audio.MaxSampleRate:     true,
		audio.MaxSampleRate + 1: false,
	}
	for rate, ok := range tests {
		err := audio.CheckSampleRate(rate)
		if (err == nil) != ok {
			t.Errorf("CheckSampleRate(%d) = %v, want ok=%v", rate, err, ok)
		}
		if err != nil && !errors.Is(err, audio.ErrSampleRate) {
			t.Errorf("CheckSampleRate(%d) = %v, want ErrSampleRate", rate, err)
		}
	}
}
