package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const bitsPerSample = 16

// maxFmtSize is the largest fmt chunk read (WAVE_FORMAT_EXTENSIBLE). Longer
// chunks are read up to this size and the remainder is skipped.
const maxFmtSize = 40

// ErrUnsupportedWAV is returned by DecodeWAV for containers it cannot read.
var ErrUnsupportedWAV = errors.New("audio: unsupported WAV format")

// WAV is a decoded WAV file, down-mixed to mono.
type WAV struct {
	// Samples are mono float32 samples in [-1, 1].
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Channels is the channel count of the original file.
	Channels int
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// EncodeWAVFloat32 encodes mono float32 samples as a 16-bit PCM WAV file.
func EncodeWAVFloat32(samples []float32, sampleRate int) []byte {
	return EncodeWAV(Float32ToPCM16(samples), sampleRate, 1)
}

// DecodeWAV reads a RIFF/WAVE stream holding 16-bit PCM or 32-bit IEEE float
// audio and returns it down-mixed to mono. Unknown chunks are skipped. Sample
// rates outside [CheckSampleRate]'s range are rejected. Memory use is bounded
// by the bytes actually read, never by sizes declared in chunk headers.
func DecodeWAV(r io.Reader) (*WAV, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrUnsupportedWAV)
	}

	var (
		format   uint16
		channels int
		rate     int
		bits     int
		haveFmt  bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: no data chunk", ErrUnsupportedWAV)
			}
			return nil, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrUnsupportedWAV)
			}
			var body [maxFmtSize]byte
			n := min(size, maxFmtSize)
			if _, err := io.ReadFull(r, body[:n]); err != nil {
				return nil, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			rate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
			if format == 0xFFFE && n >= 26 {
				// WAVE_FORMAT_EXTENSIBLE: the sub-format GUID starts with the tag.
				format = binary.LittleEndian.Uint16(body[24:26])
			}
			haveFmt = true
			if rest := size - n + size%2; rest > 0 {
				if _, err := io.CopyN(io.Discard, r, rest); err != nil {
					return nil, fmt.Errorf("audio: skip fmt extension: %w", err)
				}
			}

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedWAV)
			}
			if channels <= 0 {
				return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedWAV, channels)
			}
			if err := CheckSampleRate(rate); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnsupportedWAV, err)
			}
			// The declared size is only an upper bound; streaming writers
			// leave it at 0xFFFFFFFF. The buffer grows with what is read.
			body, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return nil, fmt.Errorf("audio: read data chunk: %w", err)
			}
			samples, err := decodeSamples(body, format, bits, channels)
			if err != nil {
				return nil, err
			}
			return &WAV{Samples: samples, SampleRate: rate, Channels: channels}, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

func decodeSamples(body []byte, format uint16, bits, channels int) ([]float32, error) {
	switch {
	case format == 1 && bits == 16:
		return PCM16ToFloat32(body, channels), nil
	case format == 3 && bits == 32:
		interleaved := Float32LEToSamples(body)
		if channels == 1 {
			return interleaved, nil
		}
		frames := len(interleaved) / channels
		out := make([]float32, frames)
		for i := range frames {
			var sum float32
			for c := range channels {
				sum += interleaved[i*channels+c]
			}
			out[i] = sum / float32(channels)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: format tag %d with %d bits per sample", ErrUnsupportedWAV, format, bits)
	}
}
