package energy_test

import (
	"math"
	"sync"
	"testing"

	"github.com/MrWong99/whisperstream/pkg/provider/vad/energy"
)

func TestNewNoiseFloor_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  energy.NoiseFloorConfig
		want float64
	}{
		{"zero config starts at min", energy.NoiseFloorConfig{}, energy.DefaultNoiseFloorMin},
		{"initial above min kept", energy.NoiseFloorConfig{Initial: 0.5}, 0.5},
		{"initial clamped to max", energy.NoiseFloorConfig{Initial: 5, Max: 2}, 2},
		{"max below min raised to min", energy.NoiseFloorConfig{Min: 1, Max: 0.5, Initial: 3}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := energy.NewNoiseFloor(tt.cfg).Value(); got != tt.want {
				t.Errorf("Value() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoiseFloor_ObserveSmoothsAndClamps(t *testing.T) {
	t.Parallel()
	nf := energy.NewNoiseFloor(energy.NoiseFloorConfig{Initial: 1, Min: 0.5, Max: 2, Alpha: 0.5})

	if got := nf.Observe(2); got != 1.5 {
		t.Errorf("Observe(2) = %v, want 1.5", got)
	}
	if got := nf.Observe(100); got != 2 {
		t.Errorf("Observe(100) = %v, want clamp at 2", got)
	}
	if got := nf.Observe(0); got != 1 {
		t.Errorf("Observe(0) = %v, want 1", got)
	}
	for range 10 {
		nf.Observe(0)
	}
	if got := nf.Value(); got != 0.5 {
		t.Errorf("Value() = %v, want clamp at 0.5", got)
	}

	nf.Reset()
	if got := nf.Value(); got != 1 {
		t.Errorf("after Reset Value() = %v, want 1", got)
	}
}

func TestNoiseFloor_ConcurrentObserve(t *testing.T) {
	t.Parallel()
	nf := energy.NewNoiseFloor(energy.NoiseFloorConfig{Initial: 1})

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				nf.Observe(1)
			}
		})
	}
	wg.Wait()

	if got := nf.Value(); math.Abs(got-1) > 1e-9 {
		t.Errorf("Value() = %v, want 1 after observing the steady state", got)
	}
}
