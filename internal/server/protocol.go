package server

import (
	"fmt"
	"strconv"

	"github.com/MrWong99/whisperstream/internal/session"
	"github.com/MrWong99/whisperstream/pkg/audio"
)

// Encoding names the wire format of binary audio messages on /v1/stream.
type Encoding string

const (
	// EncodingF32LE is little-endian IEEE-754 float32 mono samples.
	EncodingF32LE Encoding = "f32le"
	// EncodingS16LE is interleaved little-endian 16-bit PCM.
	EncodingS16LE Encoding = "s16le"
	// EncodingOpus is one Opus packet per message.
	EncodingOpus Encoding = "opus"
)

// Control frame types sent by clients as text messages.
const (
	frameFlush  = "flush"
	frameConfig = "config"
	frameClose  = "close"
)

// Frame types sent by the server.
const (
	frameReady      = "ready"
	frameTranscript = "transcript"
	frameError      = "error"
)

// controlFrame is a client text message.
type controlFrame struct {
	Type               string `json:"type"`
	MinSilenceWindowMs int    `json:"min_silence_window_ms,omitempty"`
	MaxSilenceMs       int    `json:"max_silence_ms,omitempty"`
}

// readyFrame is sent once after the upgrade.
type readyFrame struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
}

// TranscriptFrame carries one transcription. It is also the element type of
// the POST /v1/transcribe response.
type TranscriptFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Seq       int            `json:"seq"`
	Text      string         `json:"text"`
	Reason    string         `json:"reason"`
	Forced    bool           `json:"forced"`
	AudioMs   int64          `json:"audio_ms"`
	Segments  []SegmentFrame `json:"segments,omitempty"`
}

// SegmentFrame is one engine segment with offsets relative to the span.
type SegmentFrame struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// ErrorFrame reports a failure without closing the stream.
type ErrorFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func transcriptFrame(ev session.Event) TranscriptFrame {
	f := TranscriptFrame{
		Type:      frameTranscript,
		SessionID: ev.SessionID,
		Seq:       ev.Seq,
		Text:      ev.Text,
		Reason:    string(ev.Reason),
		Forced:    ev.Forced,
		AudioMs:   ev.AudioDuration.Milliseconds(),
	}
	for _, seg := range ev.Segments {
		f.Segments = append(f.Segments, SegmentFrame{
			Text:    seg.Text,
			StartMs: seg.Start.Milliseconds(),
			EndMs:   seg.End.Milliseconds(),
		})
	}
	return f
}

func errorFrame(sessionID string, err error) ErrorFrame {
	return ErrorFrame{Type: frameError, SessionID: sessionID, Message: err.Error()}
}

// decoder turns one binary message into mono float32 samples at the
// session rate.
type decoder interface {
	decode(msg []byte) ([]float32, error)
}

type f32Decoder struct {
	srcRate, dstRate int
}

func (d f32Decoder) decode(msg []byte) ([]float32, error) {
	if len(msg)%4 != 0 {
		return nil, fmt.Errorf("f32le message of %d bytes is not sample aligned", len(msg))
	}
	samples := audio.Float32LEToSamples(msg)
	if d.srcRate != d.dstRate {
		samples = audio.Resample(samples, d.srcRate, d.dstRate)
	}
	return samples, nil
}

type s16Decoder struct {
	conv *audio.Converter
}

func (d s16Decoder) decode(msg []byte) ([]float32, error) {
	return d.conv.Convert(msg), nil
}

type opusDecoder struct {
	dec *audio.OpusDecoder
}

func (d opusDecoder) decode(msg []byte) ([]float32, error) {
	return d.dec.Decode(msg)
}

// streamParams are the query parameters of /v1/stream.
type streamParams struct {
	encoding   Encoding
	sampleRate int // source rate; 0 means the session rate
	channels   int
	opts       session.Options
}

func parseStreamParams(q map[string][]string) (streamParams, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	p := streamParams{encoding: EncodingF32LE, channels: 1}
	if e := get("encoding"); e != "" {
		p.encoding = Encoding(e)
	}
	switch p.encoding {
	case EncodingF32LE, EncodingS16LE, EncodingOpus:
	default:
		return p, fmt.Errorf("unsupported encoding %q (want f32le, s16le or opus)", p.encoding)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"sample_rate", &p.sampleRate},
		{"channels", &p.channels},
		{"min_silence_window_ms", &p.opts.MinSilenceWindowMs},
		{"max_silence_ms", &p.opts.MaxSilenceMs},
	}
	for _, f := range ints {
		v := get(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%s must be a non-negative integer, got %q", f.key, v)
		}
		*f.dst = n
	}
	if p.channels < 1 || p.channels > 2 {
		return p, fmt.Errorf("channels must be 1 or 2, got %d", p.channels)
	}
	if p.encoding == EncodingF32LE && p.channels != 1 {
		return p, fmt.Errorf("f32le streams must be mono")
	}
	if p.sampleRate != 0 {
		if err := audio.CheckSampleRate(p.sampleRate); err != nil {
			return p, fmt.Errorf("sample_rate: %w", err)
		}
	}

	p.opts.ID = get("session_id")
	p.opts.Language = get("language")
	if m := session.Mode(get("mode")); m != "" {
		if m != session.ModeStream && m != session.ModeStep {
			return p, fmt.Errorf("unsupported mode %q (want stream or step)", m)
		}
		p.opts.Mode = m
	}
	return p, nil
}

// newDecoder builds the per-connection decoder for p producing samples at
// dstRate.
func newDecoder(p streamParams, dstRate int) (decoder, error) {
	src := p.sampleRate
	if src == 0 {
		src = dstRate
	}
	switch p.encoding {
	case EncodingS16LE:
		return s16Decoder{conv: &audio.Converter{
			Source:     audio.Format{SampleRate: src, Channels: p.channels},
			TargetRate: dstRate,
		}}, nil
	case EncodingOpus:
		dec, err := audio.NewOpusDecoder(p.channels, dstRate)
		if err != nil {
			return nil, err
		}
		return opusDecoder{dec: dec}, nil
	default:
		return f32Decoder{srcRate: src, dstRate: dstRate}, nil
	}
}
