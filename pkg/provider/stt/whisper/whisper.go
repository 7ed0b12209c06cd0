// Package whisper provides whisper.cpp-backed transcribers.
//
// Client talks to a running whisper-server binary (REST API at
// POST /inference). Native links the whisper.cpp library through its CGO
// bindings and runs inference in-process.
//
// Both are batch engines: the caller decides which span of audio to submit
// (see package segment) and each Transcribe call is an independent inference.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8080", whisper.WithModel("base.en"))
//	res, err := c.Transcribe(ctx, samples, stt.Options{Language: "en"})
//	fmt.Println(res.Text())
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/whisperstream/pkg/audio"
	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

const (
	defaultSampleRate = 16000
	defaultTimeout    = 2 * time.Minute
)

// Compile-time assertion that Client implements stt.Transcriber.
var _ stt.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithSampleRate sets the rate of the samples passed to Transcribe. It is
// written into the WAV header. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *Client) {
		c.sampleRate = rate
	}
}

// WithHTTPClient replaces the HTTP client. Defaults to a client with a two
// minute timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client implements stt.Transcriber backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Client struct {
	serverURL  string
	model      string
	sampleRate int
	httpClient *http.Client
}

// New creates a Client for the whisper.cpp HTTP server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  serverURL,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// inferenceResponse is the verbose_json body returned by whisper-server.
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// Transcribe encodes samples as a WAV file and POSTs it to the /inference
// endpoint as multipart/form-data.
func (c *Client) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}

	wav := audio.EncodeWAVFloat32(samples, c.sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := []struct{ name, value string }{
		{"response_format", "verbose_json"},
		{"language", opts.Language},
		{"model", c.model},
		{"translate", strconv.FormatBool(opts.Translate)},
		{"no_timestamps", strconv.FormatBool(!opts.EmitTimestamps)},
		{"no_context", strconv.FormatBool(opts.NoContext)},
	}
	if opts.Threads > 0 {
		fields = append(fields, struct{ name, value string }{"threads", strconv.Itoa(opts.Threads)})
	}
	if opts.AudioCtx > 0 {
		fields = append(fields, struct{ name, value string }{"audio_ctx", strconv.Itoa(opts.AudioCtx)})
	}
	if opts.MaxTokens > 0 {
		fields = append(fields, struct{ name, value string }{"max_len", strconv.Itoa(opts.MaxTokens)})
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", f.name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var ir inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return toResult(ir, opts), nil
}

// toResult maps the server response onto stt.Result. Servers that answer in
// plain json carry no segments; the text becomes a single segment.
func toResult(ir inferenceResponse, opts stt.Options) stt.Result {
	res := stt.Result{Language: ir.Language}
	if len(ir.Segments) == 0 || opts.SingleSegment {
		if ir.Text != "" {
			seg := stt.Segment{Text: ir.Text}
			if opts.EmitTimestamps && len(ir.Segments) > 0 {
				seg.Start = seconds(ir.Segments[0].Start)
				seg.End = seconds(ir.Segments[len(ir.Segments)-1].End)
			}
			res.Segments = []stt.Segment{seg}
		}
		return res
	}
	res.Segments = make([]stt.Segment, 0, len(ir.Segments))
	for _, s := range ir.Segments {
		seg := stt.Segment{Text: s.Text}
		if opts.EmitTimestamps {
			seg.Start = seconds(s.Start)
			seg.End = seconds(s.End)
		}
		res.Segments = append(res.Segments, seg)
	}
	return res
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
