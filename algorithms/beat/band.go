package beat

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
)

// minQuality keeps quality ratios finite
const minQuality = 0.001

// Onset timing tolerances as fractions of the learned period, and the quality
// multiplier earned for each one matched. Tighter matches earn more and a gap
// matching a tight tolerance also matches every looser one.
var (
	rewardTolerances  = [...]float64{0.001, 0.005, 0.01, 0.02, 0.04, 0.08, 0.10}
	rewardMultipliers = [...]float64{20.0, 10.0, 8.0, 1.0, 1.0 / 2.0, 1.0 / 4.0, 1.0 / 8.0}
)

// BandState is the per-band detection state of a Detector
type BandState struct {
	// Energy is the mean absolute magnitude of the band in the last frame
	Energy float64 `json:"energy"`
	// FastAverage chases Energy, SlowAverage chases FastAverage
	FastAverage float64 `json:"fast_average"`
	SlowAverage float64 `json:"slow_average"`

	// Onset is set while FastAverage sits above SlowAverage
	Onset bool `json:"onset"`
	// LastOnset is the timestamp the current gap is measured from
	LastOnset float64 `json:"last_onset"`

	// Learned beat period of this band in seconds
	FastPeriod float64 `json:"fast_period"`
	SlowPeriod float64 `json:"slow_period"`

	// Quality weights this band's vote in the tempo consensus
	Quality float64 `json:"quality"`
}

// BPM returns the tempo implied by the band's slow period
func (b BandState) BPM() float64 {
	if b.SlowPeriod <= 0 {
		return 0
	}
	return 60.0 / b.SlowPeriod
}

func newBandState(period float64) BandState {
	return BandState{
		FastPeriod: period,
		SlowPeriod: period,
		Quality:    minQuality,
	}
}

// track sets Energy from the magnitudes in r and moves both averages toward
// it by rate, the fraction of the distance covered this frame.
func (b *BandState) track(r []float64, rate float64) {
	b.Energy = floats.Norm(r, 1) / float64(len(r))
	b.FastAverage -= (b.FastAverage - b.Energy) * rate
	b.SlowAverage -= (b.SlowAverage - b.FastAverage) * rate
}

func (b *BandState) mirror(src *BandState) {
	b.Energy = src.Energy
	b.FastAverage = src.FastAverage
	b.SlowAverage = src.SlowAverage
}

func (b *BandState) clampPeriods(floor, ceil float64) {
	b.FastPeriod = common.Clamp(b.FastPeriod, floor, ceil)
	b.SlowPeriod = common.Clamp(b.SlowPeriod, floor, ceil)
}

// reward compares gap with the learned period and adds the quality earned for
// every tolerance it falls within. It reports whether any tolerance matched.
func (b *BandState) reward(gap, increment float64) bool {
	rewarded := false
	for i, tolerance := range rewardTolerances {
		if math.Abs(b.FastPeriod-gap) < b.FastPeriod*tolerance {
			b.Quality += increment * rewardMultipliers[i]
			rewarded = true
		}
	}
	return rewarded
}

// updateBand runs onset detection and period learning for one band
func (d *Detector) updateBand(b *BandState, now float64) {
	cfg := &d.config

	det := b.FastAverage*cfg.DetectionFactor >= b.SlowAverage

	b.clampPeriods(d.floor, d.ceil)

	rewarded := false

	// rising edge: score the gap since the last accepted onset
	if !b.Onset && det {
		gap := now - b.LastOnset

		if gap > d.floor && gap < d.ceil {
			rewarded = b.reward(gap, cfg.QualityReward)
			if rewarded {
				b.LastOnset = now
			}
		} else if gap >= d.ceil {
			// a beat may have been missed in between
			gap /= 2.0
			if gap > d.floor && gap < d.ceil {
				rewarded = b.reward(gap, cfg.QualityReward)
			}
			if !rewarded {
				gap *= 2.0
			}

			// the next gap is measured from here either way
			b.LastOnset = now
		}

		qmp := math.Min(1.0, b.Quality/d.qualityAvg*cfg.QualityStep)
		weak := b.Quality < d.qualityAvg*cfg.QualityTolerance && d.locked

		switch {
		case rewarded:
			b.FastPeriod -= (b.FastPeriod - gap) * qmp
			b.SlowPeriod -= (b.SlowPeriod - b.FastPeriod) * qmp
		case gap >= d.floor && gap <= d.ceil:
			if weak {
				b.FastPeriod -= (b.FastPeriod - gap) * cfg.QualityStep
				b.SlowPeriod -= (b.SlowPeriod - b.FastPeriod) * cfg.QualityStep
			}
			b.Quality -= cfg.QualityStep
		case gap >= d.ceil:
			if weak {
				b.FastPeriod -= (b.FastPeriod - d.period) * 0.5
				b.SlowPeriod -= (b.SlowPeriod - b.FastPeriod) * 0.5
			}
			b.Quality -= cfg.QualityReward * cfg.QualityStep
		}
	}

	// stale band, or active against the consensus tempo
	if (!rewarded && now-b.LastOnset > d.ceil) || (det && math.Abs(b.FastPeriod-d.period) > d.bpmOffset) {
		b.Quality -= b.Quality * cfg.QualityStep * cfg.QualityDecay * d.lastUpdate
	}

	if b.Quality < minQuality {
		b.Quality = minQuality
	}

	b.clampPeriods(d.floor, d.ceil)
	b.Onset = det
}
