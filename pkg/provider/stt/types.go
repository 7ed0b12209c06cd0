package stt

import (
	"strings"
	"time"
)

// Segment is one recognised text span.
type Segment struct {
	// Text is the transcribed speech content, as returned by the backend.
	Text string

	// Start is the segment start relative to the beginning of the submitted
	// span. Zero when timestamps were not requested or not reported.
	Start time.Duration

	// End is the segment end relative to the beginning of the submitted span.
	End time.Duration
}

// Result is the outcome of a Transcribe call.
type Result struct {
	// Segments are the recognised spans in temporal order.
	Segments []Segment

	// Language is the detected or requested language, when the backend
	// reports it.
	Language string
}

// Text concatenates the segment texts in order.
func (r Result) Text() string {
	switch len(r.Segments) {
	case 0:
		return ""
	case 1:
		return r.Segments[0].Text
	}
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}
