package energy

import "sync"

const (
	// DefaultNoiseFloorAlpha is the exponential smoothing factor applied to
	// the noise floor on every silence classification.
	DefaultNoiseFloorAlpha = 0.01

	// DefaultNoiseFloorMin is the lower clamp of the noise floor.
	DefaultNoiseFloorMin = 0.1
)

// NoiseFloorConfig tunes a [NoiseFloor]. Zero values select the defaults.
type NoiseFloorConfig struct {
	// Initial is the value the floor starts from and returns to on Reset.
	// Defaults to Min.
	Initial float64

	// Min is the lower clamp. Defaults to [DefaultNoiseFloorMin].
	Min float64

	// Max is an optional upper clamp. Zero leaves the floor unbounded.
	Max float64

	// Alpha is the smoothing factor. Defaults to [DefaultNoiseFloorAlpha].
	Alpha float64
}

// NoiseFloor is an exponentially smoothed estimate of ambient energy.
// It is safe for concurrent use, so one instance may be shared by several
// detectors when process-wide adaptation is wanted.
type NoiseFloor struct {
	initial float64
	min     float64
	max     float64
	alpha   float64

	mu    sync.Mutex
	value float64
}

// NewNoiseFloor returns a NoiseFloor starting at cfg.Initial.
func NewNoiseFloor(cfg NoiseFloorConfig) *NoiseFloor {
	if cfg.Min <= 0 {
		cfg.Min = DefaultNoiseFloorMin
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultNoiseFloorAlpha
	}
	if cfg.Max > 0 && cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if cfg.Initial < cfg.Min {
		cfg.Initial = cfg.Min
	}
	if cfg.Max > 0 && cfg.Initial > cfg.Max {
		cfg.Initial = cfg.Max
	}
	return &NoiseFloor{
		initial: cfg.Initial,
		min:     cfg.Min,
		max:     cfg.Max,
		alpha:   cfg.Alpha,
		value:   cfg.Initial,
	}
}

// Value returns the current estimate.
func (n *NoiseFloor) Value() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

// Observe folds a silent-region energy into the estimate and returns the
// updated, clamped value.
func (n *NoiseFloor) Observe(energy float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.alpha*energy + (1-n.alpha)*n.value
	if v < n.min {
		v = n.min
	}
	if n.max > 0 && v > n.max {
		v = n.max
	}
	n.value = v
	return v
}

// Reset returns the estimate to its initial value.
func (n *NoiseFloor) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.value = n.initial
}
