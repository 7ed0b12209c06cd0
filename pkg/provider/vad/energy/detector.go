// Package energy implements an energy-based voice activity detector.
//
// The detector compares the RMS energy of a trailing window against the
// energy of everything before it and against an adaptive noise floor. An
// optional single-pole high-pass filter removes rumble before measuring.
//
// Usage:
//
//	d, err := energy.New(vad.Config{SampleRate: 16000, Threshold: 0.6, FreqThreshold: 100})
//	silent := d.Classify(buf, 1000)
package energy

import (
	"errors"
	"log/slog"

	"github.com/MrWong99/whisperstream/pkg/provider/vad"
)

// Compile-time assertion that Detector satisfies vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithNoiseFloor makes the detector read and update nf instead of a private
// floor. Passing the same NoiseFloor to several detectors shares the
// adaptation between them.
func WithNoiseFloor(nf *NoiseFloor) Option {
	return func(d *Detector) {
		if nf != nil {
			d.floor = nf
		}
	}
}

// WithLogger sets the logger used for verbose output. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// Detector is the energy-based vad.Detector. It is not safe for concurrent
// use; its NoiseFloor may be.
type Detector struct {
	sampleRate    int
	threshold     float64
	freqThreshold float64
	verbose       bool

	floor   *NoiseFloor
	log     *slog.Logger
	scratch []float32
}

// New creates a Detector. SampleRate and Threshold must be positive.
func New(cfg vad.Config, opts ...Option) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("energy: sample rate must be positive")
	}
	if cfg.Threshold <= 0 {
		return nil, errors.New("energy: threshold must be positive")
	}
	d := &Detector{
		sampleRate:    cfg.SampleRate,
		threshold:     cfg.Threshold,
		freqThreshold: cfg.FreqThreshold,
		verbose:       cfg.Verbose,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.floor == nil {
		d.floor = NewNoiseFloor(NoiseFloorConfig{})
	}
	return d, nil
}

// NoiseFloor returns the floor this detector adapts.
func (d *Detector) NoiseFloor() *NoiseFloor { return d.floor }

// Reset returns the noise floor to its initial value.
func (d *Detector) Reset() { d.floor.Reset() }

// Classify reports whether the trailing windowMs of samples is silence.
func (d *Detector) Classify(samples []float32, windowMs int) bool {
	n := len(samples)
	nLast := d.sampleRate * windowMs / 1000
	if n == 0 || nLast >= n {
		return true
	}
	if nLast < 0 {
		nLast = 0
	}

	// Work on a copy; the caller's buffer is the live voice buffer.
	if cap(d.scratch) < n {
		d.scratch = make([]float32, n)
	}
	buf := d.scratch[:n]
	copy(buf, samples)

	if d.freqThreshold > 0 {
		HighPass(buf, d.freqThreshold, float64(d.sampleRate))
	}

	split := n - nLast
	energyAll := rms(buf[:split])
	energyLast := rms(buf[split:])

	floor := d.floor.Value()
	ref := max(energyAll, floor)
	silent := energyLast < ref/d.threshold

	if silent {
		floor = d.floor.Observe(energyAll)
	}

	if d.verbose {
		d.log.Debug("vad classify",
			"samples", n,
			"window_samples", nLast,
			"energy_all", energyAll,
			"energy_last", energyLast,
			"noise_floor", floor,
			"threshold", d.threshold,
			"silent", silent,
		)
	}
	return silent
}
