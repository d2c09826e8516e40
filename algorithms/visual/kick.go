package visual

import (
	"github.com/RyanBlaney/sonido-beat/algorithms/beat"
)

// DefaultKickRatio is the fast/slow average ratio of the lowest band that
// counts as a kick on its own
const DefaultKickRatio = 1.4

// BassKick flags kick drums from the two lowest bands of a detector
type BassKick struct {
	Ratio float64
	kick  bool
}

// NewBassKick creates a kick detector using DefaultKickRatio
func NewBassKick() *BassKick {
	return &BassKick{Ratio: DefaultKickRatio}
}

// Process re-evaluates the flag after the detector's latest frame. It is a
// kick when both lowest bands are in onset or the lowest one spikes past Ratio.
func (k *BassKick) Process(d *beat.Detector) {
	k.kick = false
	if d.NumBands() == 0 {
		return
	}

	low := d.Band(0)
	if d.NumBands() > 1 && low.Onset && d.Band(1).Onset {
		k.kick = true
		return
	}

	k.kick = low.FastAverage/low.SlowAverage > k.Ratio
}

// IsKick reports whether the last processed frame was a kick
func (k *BassKick) IsKick() bool {
	return k.kick
}
