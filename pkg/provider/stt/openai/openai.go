// Package openai provides a transcriber backed by the OpenAI audio API
// (or any server implementing /audio/transcriptions and /audio/translations).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/whisperstream/pkg/audio"
	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

const defaultSampleRate = 16000

// Ensure Provider implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Provider)(nil)

// Provider implements stt.Transcriber using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	sampleRate int
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	sampleRate   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithSampleRate sets the rate of the samples passed to Transcribe.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		c.sampleRate = rate
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Failed spans are reported, not retried.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		sampleRate: cfg.sampleRate,
	}, nil
}

// ModelID returns the configured model name.
func (p *Provider) ModelID() string { return p.model }

// Transcribe implements stt.Transcriber. With opts.Translate the translations
// endpoint is used, which always produces English. The hosted API returns a
// single text block, so the result carries at most one segment.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	wav := audio.EncodeWAVFloat32(samples, p.sampleRate)
	file := oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav")

	var text string
	if opts.Translate {
		resp, err := p.client.Audio.Translations.New(ctx, oai.AudioTranslationNewParams{
			File:  file,
			Model: p.model,
		})
		if err != nil {
			return stt.Result{}, fmt.Errorf("openai stt: translate: %w", err)
		}
		text = resp.Text
	} else {
		params := oai.AudioTranscriptionNewParams{
			File:           file,
			Model:          p.model,
			ResponseFormat: oai.AudioResponseFormatJSON,
		}
		if opts.Language != "" && opts.Language != "auto" {
			params.Language = param.NewOpt(opts.Language)
		}
		resp, err := p.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
		}
		text = resp.Text
	}

	if text == "" {
		return stt.Result{Language: opts.Language}, nil
	}
	seg := stt.Segment{Text: text}
	if opts.EmitTimestamps && p.sampleRate > 0 {
		seg.End = time.Duration(len(samples)) * time.Second / time.Duration(p.sampleRate)
	}
	return stt.Result{Segments: []stt.Segment{seg}, Language: opts.Language}, nil
}
