package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// OpusSampleRate is the rate Opus streams are decoded at.
const OpusSampleRate = 48000

// opusMaxFrameSize is the largest frame a packet may carry (120 ms).
const opusMaxFrameSize = OpusSampleRate * 120 / 1000

// OpusDecoder decodes a single Opus stream into mono float32 samples at a
// target rate. Each stream needs its own decoder to keep decoder state
// correct across consecutive packets.
type OpusDecoder struct {
	dec        *gopus.Decoder
	channels   int
	targetRate int
}

// NewOpusDecoder creates a decoder for an Opus stream with the given channel
// count (1 or 2) that outputs mono samples at targetRate.
func NewOpusDecoder(channels, targetRate int) (*OpusDecoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: opus channels must be 1 or 2, got %d", channels)
	}
	if targetRate <= 0 {
		return nil, fmt.Errorf("audio: opus target rate must be positive, got %d", targetRate)
	}
	dec, err := gopus.NewDecoder(OpusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels, targetRate: targetRate}, nil
}

// Decode decodes one Opus packet.
func (d *OpusDecoder) Decode(packet []byte) ([]float32, error) {
	pcm, err := d.dec.Decode(packet, opusMaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	mono := int16sToMonoFloat32(pcm, d.channels)
	return Resample(mono, OpusSampleRate, d.targetRate), nil
}

// int16sToMonoFloat32 averages interleaved int16 frames into mono float32.
func int16sToMonoFloat32(pcm []int16, channels int) []float32 {
	frames := len(pcm) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += float32(pcm[i*channels+c]) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}
