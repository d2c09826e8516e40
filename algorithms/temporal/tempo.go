// Package temporal holds offline tempo analysis over whole frame sequences.
package temporal

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// OnsetEnvelope returns the half-wave rectified first difference of a
// per-frame energy sequence. The first frame has no predecessor and is 0.
func OnsetEnvelope(energy []float64) []float64 {
	env := make([]float64, len(energy))
	for i := 1; i < len(energy); i++ {
		env[i] = math.Max(0, energy[i]-energy[i-1])
	}
	return env
}

// Autocorrelation calculates the autocorrelation of signal for lags
// [0, maxLag), normalized so lag 0 is 1
func Autocorrelation(signal []float64, maxLag int) []float64 {
	maxLag = min(maxLag, len(signal))
	if maxLag <= 0 {
		return nil
	}

	ac := make([]float64, maxLag)
	n := float64(len(signal))
	for lag := range maxLag {
		ac[lag] = floats.Dot(signal[:len(signal)-lag], signal[lag:]) / n
	}

	if ac[0] > 0 {
		floats.Scale(1/ac[0], ac)
	}
	return ac
}

// TempoEstimation finds the dominant beat period of an onset envelope
// sampled at FrameRate frames per second
type TempoEstimation struct {
	FrameRate float64
	BPMMin    float64
	BPMMax    float64
}

// NewTempoEstimation creates a new tempo estimator
func NewTempoEstimation(frameRate, bpmMin, bpmMax float64) *TempoEstimation {
	return &TempoEstimation{
		FrameRate: frameRate,
		BPMMin:    bpmMin,
		BPMMax:    bpmMax,
	}
}

// Estimate returns the tempo of the strongest autocorrelation peak within the
// BPM range and the normalized strength of that peak. It returns 0, 0 when
// the envelope is too short or has no peak in range.
func (te *TempoEstimation) Estimate(envelope []float64) (bpm, strength float64) {
	if te.FrameRate <= 0 || te.BPMMin <= 0 || te.BPMMax <= te.BPMMin {
		return 0, 0
	}

	minLag := max(int(math.Floor(60.0/te.BPMMax*te.FrameRate)), 1)
	maxLag := int(math.Ceil(60.0 / te.BPMMin * te.FrameRate))

	ac := Autocorrelation(envelope, maxLag+2)
	if len(ac) < 3 {
		return 0, 0
	}
	maxLag = min(maxLag, len(ac)-2)

	best := 0
	for lag := minLag; lag <= maxLag; lag++ {
		// local maxima only, the first of equal peaks wins
		if ac[lag] > ac[lag-1] && ac[lag] >= ac[lag+1] && (best == 0 || ac[lag] > ac[best]) {
			best = lag
		}
	}
	if best == 0 {
		return 0, 0
	}

	// parabolic interpolation between the neighbouring lags
	lag := float64(best)
	if denom := ac[best-1] - 2*ac[best] + ac[best+1]; denom != 0 {
		lag += 0.5 * (ac[best-1] - ac[best+1]) / denom
	}

	return 60.0 * te.FrameRate / lag, ac[best]
}
