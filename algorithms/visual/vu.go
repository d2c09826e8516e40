package visual

import (
	"math"

	"github.com/RyanBlaney/sonido-beat/algorithms/beat"
	"github.com/RyanBlaney/sonido-beat/algorithms/common"
)

// VU turns a detector's band averages into per-band meter levels in [0, 1].
// A band whose fast average jumps above its slow one lights up at once and
// falls back at a speed tied to the current beat period.
type VU struct {
	levels []float64
}

// NewVU creates a meter. It sizes itself on the first Process call.
func NewVU() *VU {
	return &VU{}
}

// Process updates the levels using the detector's own frame interval
func (v *VU) Process(d *beat.Detector) {
	v.ProcessWithUpdate(d, d.LastUpdate())
}

// ProcessWithUpdate updates the levels as if dt seconds had passed, for
// callers that render at a different rate than they analyse
func (v *VU) ProcessWithUpdate(d *beat.Detector, dt float64) {
	bands := d.Bands()
	if len(v.levels) != len(bands) {
		v.levels = make([]float64, len(bands))
	}

	period := d.Period()

	for i, b := range bands {
		ratio := b.FastAverage / b.SlowAverage
		if !common.IsFinite(ratio) {
			ratio = 0
		}

		if ratio > 1.0 {
			ratio = math.Min(ratio-1.0, 1.0)
			if ratio > v.levels[i] {
				v.levels[i] = ratio
			} else if period > 0 {
				v.levels[i] -= (v.levels[i] - ratio) * dt * (1.0 / period) * 3.0
			}
		} else if period > 0 {
			v.levels[i] -= (dt / period) * 2.0
		}

		if v.levels[i] < 0 || !common.IsFinite(v.levels[i]) {
			v.levels[i] = 0
		}
	}
}

// Level returns the level of band i, 0 when out of range
func (v *VU) Level(i int) float64 {
	if i < 0 || i >= len(v.levels) {
		return 0
	}
	return v.levels[i]
}

// Levels returns a copy of all levels
func (v *VU) Levels() []float64 {
	out := make([]float64, len(v.levels))
	copy(out, v.levels)
	return out
}

// Peak returns the highest level
func (v *VU) Peak() float64 {
	return common.Max(v.levels)
}
