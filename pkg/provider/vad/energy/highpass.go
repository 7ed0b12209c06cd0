package energy

import "math"

// HighPass applies a single-pole IIR high-pass filter to samples in place.
//
// The filter is a no-op when cutoffHz <= 0 or when cutoffHz is at or above
// the Nyquist frequency (sampleRate/2). The first sample is left untouched and
// seeds the filter state; every following output is
//
//	y[i] = alpha * (y[i-1] + x[i] - x[i-1])
//
// with alpha = rc/(rc+dt), rc = 1/(2*pi*cutoffHz) and dt = 1/sampleRate.
func HighPass(samples []float32, cutoffHz, sampleRate float64) {
	if len(samples) < 2 || sampleRate <= 0 {
		return
	}
	if cutoffHz <= 0 || cutoffHz >= sampleRate/2 {
		return
	}

	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / sampleRate
	alpha := rc / (rc + dt)

	prevIn := float64(samples[0])
	prevOut := prevIn
	for i := 1; i < len(samples); i++ {
		in := float64(samples[i])
		out := alpha * (prevOut + in - prevIn)
		samples[i] = float32(out)
		prevIn = in
		prevOut = out
	}
}

// rms returns the root-mean-square of samples, or 0 for an empty slice.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
