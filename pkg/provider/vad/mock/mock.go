// Package mock provides test doubles for the vad package interfaces.
//
// Use Detector to script silence/speech classifications and inspect the
// buffers that were submitted for classification.
//
// Example:
//
//	det := &mock.Detector{Results: []bool{false, false, true}}
//	seg, _ := segment.New(cfg, tr, segment.WithDetector(det))
package mock

import (
	"sync"

	"github.com/MrWong99/whisperstream/pkg/provider/vad"
)

// ClassifyCall records a single invocation of Detector.Classify.
type ClassifyCall struct {
	// Samples is a copy of the buffer passed to Classify.
	Samples []float32

	// WindowMs is the trailing window size passed to Classify.
	WindowMs int
}

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Results is consumed in order by successive Classify calls. When it is
	// exhausted, Default is returned.
	Results []bool

	// Default is returned once Results is exhausted.
	Default bool

	// ClassifyCalls records every call to Classify in order.
	ClassifyCalls []ClassifyCall

	// ResetCount is the number of times Reset was called.
	ResetCount int
}

// Classify records the call and returns the next scripted result.
func (d *Detector) Classify(samples []float32, windowMs int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	d.ClassifyCalls = append(d.ClassifyCalls, ClassifyCall{Samples: cp, WindowMs: windowMs})
	if len(d.Results) > 0 {
		r := d.Results[0]
		d.Results = d.Results[1:]
		return r
	}
	return d.Default
}

// Reset increments ResetCount.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCount++
}

// Calls returns a snapshot of the recorded Classify calls. Thread-safe.
func (d *Detector) Calls() []ClassifyCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ClassifyCall, len(d.ClassifyCalls))
	copy(out, d.ClassifyCalls)
	return out
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
