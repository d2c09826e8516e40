// Package simulate drives beat detectors with synthetic frames at a known
// tempo and reports what they settled on.
package simulate

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/RyanBlaney/sonido-beat/algorithms/beat"
	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/algorithms/temporal"
	"github.com/RyanBlaney/sonido-beat/algorithms/visual"
	"github.com/RyanBlaney/sonido-beat/logging"

	"gonum.org/v1/gonum/floats"
)

// cancellation is checked every this many frames
const checkEvery = 256

// Result is what one detector ended up with
type Result struct {
	Name   string  `json:"name"`
	BPMMin float64 `json:"bpm_min"`
	BPMMax float64 `json:"bpm_max"`

	WinningBPM       float64 `json:"winning_bpm"`
	WinningBPMCoarse float64 `json:"winning_bpm_coarse"`
	FinalBPM         float64 `json:"final_bpm"`

	// statistics of the smoothed BPM over the second half of the run
	MeanBPM     float64 `json:"mean_bpm"`
	BPMVariance float64 `json:"bpm_variance"`

	// offline autocorrelation estimate over the whole run, for comparison
	ReferenceBPM      float64 `json:"reference_bpm"`
	ReferenceStrength float64 `json:"reference_strength"`

	Beats         int     `json:"beats"`
	Contributions int     `json:"contributions"`
	QualityTotal  float64 `json:"quality_total"`
}

// VisualResult summarises the VU meter and kick detector
type VisualResult struct {
	Range  string  `json:"range"`
	Kicks  int     `json:"kicks"`
	PeakVU float64 `json:"peak_vu"`
	MeanVU float64 `json:"mean_vu"`
}

// Report is the outcome of a run
type Report struct {
	Scenario Scenario      `json:"scenario"`
	Frames   int           `json:"frames"`
	Results  []Result      `json:"results"`
	Visual   *VisualResult `json:"visual,omitempty"`
}

// Result returns the result for the named range
func (r *Report) Result(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return Result{}, false
}

type runner struct {
	scenario Scenario
	logger   logging.Logger

	ranges    []Range
	detectors []*beat.Detector
	settled   [][]float64
	energy    [][]float64

	visual    *beat.Detector
	vu        *visual.VU
	kick      *visual.BassKick
	wasKick   bool
	vuMeans   []float64
	visualOut *VisualResult
}

// Run simulates the scenario. A nil scenario runs DefaultScenario. The
// context is checked periodically and its error is returned, wrapped, if it
// is done before the run completes.
func Run(ctx context.Context, s *Scenario) (*Report, error) {
	if s == nil {
		s = DefaultScenario()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	r, err := newRunner(ctx, s)
	if err != nil {
		return nil, err
	}

	src := newSource(s, rand.New(rand.NewSource(s.Seed)))
	if src.Shared() {
		for _, d := range r.detectors[1:] {
			d.MirrorFrom(r.detectors[0])
		}
	}

	r.logger.Info("Starting simulation", logging.Fields{
		"duration":  s.Duration,
		"detectors": len(r.detectors),
	})

	frames := 0
	for ; ; frames++ {
		t := float64(frames) * s.FrameInterval
		if t >= s.Duration {
			break
		}

		if frames%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("simulation stopped at %.2fs: %w", t, err)
			}
		}

		if err := r.step(src, t); err != nil {
			return nil, err
		}
	}

	report := r.report(frames)
	for _, res := range report.Results {
		r.logger.Info("Detector finished", logging.Fields{
			"range":       res.Name,
			"winning_bpm": res.WinningBPM,
			"coarse_bpm":  res.WinningBPMCoarse,
			"mean_bpm":    res.MeanBPM,
			"reference":   res.ReferenceBPM,
		})
	}

	return report, nil
}

func newRunner(ctx context.Context, s *Scenario) (*runner, error) {
	r := &runner{
		scenario: *s,
		ranges:   append([]Range(nil), s.Ranges...),
		logger: logging.WithContext(ctx).WithFields(logging.Fields{
			"component": "simulate",
			"bpm":       s.BPM,
			"source":    s.Source,
		}),
	}
	r.scenario.Ranges = r.ranges

	for _, rg := range r.ranges {
		cfg := beat.ConfigForRange(rg.BPMMin, rg.BPMMax)
		cfg.Debug = s.Debug
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("range %s: %w", rg.Name, err)
		}

		d := beat.NewDetector(cfg)
		r.detectors = append(r.detectors, d)
		r.settled = append(r.settled, nil)
		r.energy = append(r.energy, nil)

		if rg.Name == s.Visual && r.visual == nil {
			r.visual = d
			r.vu = visual.NewVU()
			r.kick = visual.NewBassKick()
			r.visualOut = &VisualResult{Range: rg.Name}
		}
	}

	return r, nil
}

// step feeds the frame at t to every detector
func (r *runner) step(src frameSource, t float64) error {
	for i, d := range r.detectors {
		spectrum, err := src.Frame(t, r.ranges[i])
		if err != nil {
			return err
		}
		d.Process(t, spectrum)
		r.energy[i] = append(r.energy[i], floats.Sum(spectrum))

		if t >= r.scenario.Duration/2 && d.HasTempo() {
			r.settled[i] = append(r.settled[i], d.BPM())
		}
	}

	if r.visual == nil {
		return nil
	}

	r.vu.Process(r.visual)
	r.kick.Process(r.visual)

	kick := r.kick.IsKick()
	if kick && !r.wasKick {
		r.visualOut.Kicks++
	}
	r.wasKick = kick

	r.visualOut.PeakVU = max(r.visualOut.PeakVU, r.vu.Peak())
	r.vuMeans = append(r.vuMeans, common.Mean(r.vu.Levels()))

	return nil
}

func (r *runner) report(frames int) *Report {
	report := &Report{
		Scenario: r.scenario,
		Frames:   frames,
		Results:  make([]Result, 0, len(r.detectors)),
	}

	frameRate := 1.0 / r.scenario.FrameInterval
	for i, d := range r.detectors {
		rg := r.ranges[i]
		refBPM, refStrength := temporal.NewTempoEstimation(frameRate, rg.BPMMin, rg.BPMMax).
			Estimate(temporal.OnsetEnvelope(r.energy[i]))

		report.Results = append(report.Results, Result{
			Name:              rg.Name,
			BPMMin:            rg.BPMMin,
			BPMMax:            rg.BPMMax,
			WinningBPM:        d.WinningBPM(),
			WinningBPMCoarse:  d.WinningBPMCoarse(),
			FinalBPM:          d.BPM(),
			MeanBPM:           common.Mean(r.settled[i]),
			BPMVariance:       common.Variance(r.settled[i]),
			ReferenceBPM:      refBPM,
			ReferenceStrength: refStrength,
			Beats:             d.BeatCounter(),
			Contributions:     d.Contributions(),
			QualityTotal:      d.QualityTotal(),
		})
	}

	if r.visualOut != nil {
		r.visualOut.MeanVU = common.Mean(r.vuMeans)
		report.Visual = r.visualOut
	}

	return report
}
