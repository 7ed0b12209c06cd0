package stt_test

import (
	"testing"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

func TestResult_Text(t *testing.T) {
	tests := []struct {
		name string
		segs []stt.Segment
		want string
	}{
		{"empty", nil, ""},
		{"single", []stt.Segment{{Text: " hello"}}, " hello"},
		{"ordered concatenation", []stt.Segment{{Text: " one"}, {Text: " two"}, {Text: " three"}}, " one two three"},
		{"empty segments ignored", []stt.Segment{{Text: ""}, {Text: "x"}, {Text: ""}}, "x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := (stt.Result{Segments: tc.segs}).Text(); got != tc.want {
				t.Errorf("Text() = %q, want %q", got, tc.want)
			}
		})
	}
}
