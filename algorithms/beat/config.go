package beat

import (
	"fmt"
)

// Config holds the tuning of a Detector. The zero value is not usable, start
// from DefaultConfig or ConfigForRange.
type Config struct {
	// Bands is the number of equal-width spectrum ranges analysed independently
	Bands int `json:"bands"`

	// Admissible tempo range in BPM
	BPMMin float64 `json:"bpm_min"`
	BPMMax float64 `json:"bpm_max"`

	// DetectionRate is how fast the band averages adapt (per second)
	DetectionRate float64 `json:"detection_rate"`
	// DetectionFactor is the tolerance of the fast-over-slow average onset test
	DetectionFactor float64 `json:"detection_factor"`

	QualityReward    float64 `json:"quality_reward"`
	QualityDecay     float64 `json:"quality_decay"`
	QualityTolerance float64 `json:"quality_tolerance"`
	QualityStep      float64 `json:"quality_step"`

	// MinimumContributions is the number of confident bands needed before a
	// tempo guess is accepted
	MinimumContributions int `json:"minimum_contributions"`

	// FinishLine caps the contest histograms
	FinishLine float64 `json:"finish_line"`

	// Debug logs the contest state once per beat
	Debug bool `json:"debug,omitempty"`
}

// DefaultConfig returns the tuning the detector was designed around: 128
// bands over a 100-200 BPM range.
func DefaultConfig() *Config {
	return &Config{
		Bands:                128,
		BPMMin:               100.0,
		BPMMax:               200.0,
		DetectionRate:        12.0,
		DetectionFactor:      0.915,
		QualityReward:        10.0,
		QualityDecay:         0.6,
		QualityTolerance:     0.96,
		QualityStep:          0.1,
		MinimumContributions: 6,
		FinishLine:           60.0,
	}
}

// ConfigForRange returns the default tuning restricted to [bpmMin, bpmMax].
// A range should span roughly one octave so that the halving correction can
// fold slower onsets back into it.
func ConfigForRange(bpmMin, bpmMax float64) *Config {
	config := DefaultConfig()
	config.BPMMin = bpmMin
	config.BPMMax = bpmMax
	return config
}

// Validate reports the first setting that would make the detector misbehave
func (c *Config) Validate() error {
	switch {
	case c.Bands <= 0:
		return fmt.Errorf("bands must be positive, got %d", c.Bands)
	case c.BPMMin <= 0:
		return fmt.Errorf("bpm_min must be positive, got %g", c.BPMMin)
	case c.BPMMax <= c.BPMMin:
		return fmt.Errorf("bpm_max (%g) must be greater than bpm_min (%g)", c.BPMMax, c.BPMMin)
	case c.DetectionRate <= 0:
		return fmt.Errorf("detection_rate must be positive, got %g", c.DetectionRate)
	case c.DetectionFactor <= 0:
		return fmt.Errorf("detection_factor must be positive, got %g", c.DetectionFactor)
	case c.QualityReward <= 0 || c.QualityStep <= 0:
		return fmt.Errorf("quality_reward and quality_step must be positive")
	case c.QualityDecay < 0 || c.QualityTolerance <= 0:
		return fmt.Errorf("quality_decay must be non-negative and quality_tolerance positive")
	case c.MinimumContributions < 1:
		return fmt.Errorf("minimum_contributions must be at least 1, got %d", c.MinimumContributions)
	case c.FinishLine <= 0:
		return fmt.Errorf("finish_line must be positive, got %g", c.FinishLine)
	}
	return nil
}

// periodBounds returns the shortest and longest admissible beat period in seconds
func (c *Config) periodBounds() (floor, ceil float64) {
	return 60.0 / c.BPMMax, 60.0 / c.BPMMin
}
