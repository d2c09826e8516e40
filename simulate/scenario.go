package simulate

import (
	"errors"
	"fmt"
)

// ErrInvalidScenario is wrapped by every scenario validation error
var ErrInvalidScenario = errors.New("invalid scenario")

const (
	SourceSpectrum = "spectrum"
	SourcePCM      = "pcm"
)

// Range is one detector in the simulation
type Range struct {
	Name   string  `json:"name"`
	BPMMin float64 `json:"bpm_min"`
	BPMMax float64 `json:"bpm_max"`

	// Duty is the fraction of each beat the spectrum source spends on the
	// loud frame
	Duty float64 `json:"duty"`
}

// Scenario describes a simulated run
type Scenario struct {
	BPM           float64 `json:"bpm"`
	Duration      float64 `json:"duration"`       // seconds
	FrameInterval float64 `json:"frame_interval"` // seconds between frames
	FrameSize     int     `json:"frame_size"`
	SampleRate    int     `json:"sample_rate"` // pcm source only
	Seed          int64   `json:"seed"`
	Source        string  `json:"source"`

	Ranges []Range `json:"ranges"`

	// Visual names the range whose detector drives the VU meter and the
	// kick detector. Empty disables both.
	Visual string `json:"visual"`

	Debug bool `json:"debug"`
}

// DefaultRanges returns the low, mid and high detectors
func DefaultRanges() []Range {
	return []Range{
		{Name: "low", BPMMin: 48, BPMMax: 95, Duty: 0.1},
		{Name: "med", BPMMin: 85, BPMMax: 169, Duty: 0.2},
		{Name: "high", BPMMin: 150, BPMMax: 280, Duty: 0.5},
	}
}

// DefaultScenario returns 30 seconds of 145.5 BPM at 62.5 frames per second
func DefaultScenario() *Scenario {
	return &Scenario{
		BPM:           145.5,
		Duration:      30,
		FrameInterval: 0.016,
		FrameSize:     1024,
		SampleRate:    44100,
		Seed:          1,
		Source:        SourceSpectrum,
		Ranges:        DefaultRanges(),
		Visual:        "med",
	}
}

// Validate checks the scenario can be run
func (s *Scenario) Validate() error {
	if s.BPM <= 0 {
		return fmt.Errorf("%w: bpm must be positive, got %g", ErrInvalidScenario, s.BPM)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %g", ErrInvalidScenario, s.Duration)
	}
	if s.FrameInterval <= 0 {
		return fmt.Errorf("%w: frame interval must be positive, got %g", ErrInvalidScenario, s.FrameInterval)
	}
	if s.FrameSize < 2 {
		return fmt.Errorf("%w: frame size must be at least 2, got %d", ErrInvalidScenario, s.FrameSize)
	}

	switch s.Source {
	case SourceSpectrum:
	case SourcePCM:
		if s.SampleRate <= 0 {
			return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidScenario, s.SampleRate)
		}
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidScenario, s.Source)
	}

	if len(s.Ranges) == 0 {
		return fmt.Errorf("%w: no ranges", ErrInvalidScenario)
	}

	visualFound := s.Visual == ""
	for i, r := range s.Ranges {
		if r.BPMMin <= 0 || r.BPMMax <= r.BPMMin {
			return fmt.Errorf("%w: range %d (%s): bad bpm range %g-%g", ErrInvalidScenario, i, r.Name, r.BPMMin, r.BPMMax)
		}
		if r.Duty <= 0 || r.Duty > 1 {
			return fmt.Errorf("%w: range %d (%s): duty must be in (0, 1], got %g", ErrInvalidScenario, i, r.Name, r.Duty)
		}
		if r.Name == s.Visual {
			visualFound = true
		}
	}
	if !visualFound {
		return fmt.Errorf("%w: visual range %q not found", ErrInvalidScenario, s.Visual)
	}

	return nil
}

// Period returns the simulated beat period in seconds
func (s *Scenario) Period() float64 {
	return 60.0 / s.BPM
}
