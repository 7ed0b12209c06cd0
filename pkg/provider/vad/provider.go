// Package vad defines the Detector interface for voice activity detection
// over accumulated float32 PCM buffers.
//
// Unlike frame-level detectors that consume fixed 10 to 30 ms frames, a Detector
// here is handed the whole buffer accumulated so far and asked a single
// question: is the trailing window of that buffer silence? The segmenter in
// package segment calls Classify once per ingested chunk with the complete
// voice buffer, so detectors must tolerate arbitrarily long inputs and
// degenerate ones (empty buffers, windows longer than the buffer).
//
// Detectors may carry adaptive state (for example a noise floor estimate).
// That state belongs to the detector instance; a single Detector must not be
// shared between goroutines unless the implementation documents otherwise.
package vad

// Config holds the parameters for a Detector. Thresholds are expressed in
// the detector's native scale; see each implementation for recommended
// starting values.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the buffers passed to
	// Classify. Common value: 16000.
	SampleRate int

	// Threshold is the energy ratio used to decide silence. For the energy
	// detector the trailing window counts as silence when its RMS falls below
	// max(previous RMS, noise floor) / Threshold.
	Threshold float64

	// FreqThreshold is the high-pass cutoff in Hz applied before measuring
	// energy. Zero or negative disables filtering.
	FreqThreshold float64

	// Verbose enables debug logging of the per-call energy measurements.
	Verbose bool
}

// Detector classifies the trailing window of a sample buffer.
type Detector interface {
	// Classify reports whether the last windowMs milliseconds of samples are
	// silence. Buffers that are empty or not longer than the window are
	// reported as silence. Classify never fails; implementations must
	// degrade to the silence default instead.
	//
	// samples is not modified.
	Classify(samples []float32, windowMs int) bool

	// Reset clears any adaptive state (noise floor, smoothing history) so
	// that the next Classify behaves as on a freshly constructed detector.
	Reset()
}
