package simulate

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/RyanBlaney/sonido-beat/algorithms/spectral"
)

// frameSource produces the spectrum a detector sees at time t
type frameSource interface {
	Frame(t float64, r Range) ([]float64, error)

	// Shared reports whether every range gets the same frame for a given t
	Shared() bool
}

func newSource(s *Scenario, rng *rand.Rand) frameSource {
	if s.Source == SourcePCM {
		return newClickTrack(s, rng)
	}
	return newSpectrumSource(s, rng)
}

// spectrumSource switches between a quiet and a loud noise spectrum. The
// loud one has more energy in its lower half and is shown for the first
// Duty fraction of every beat.
type spectrumSource struct {
	period float64
	quiet  []float64
	loud   []float64
}

func newSpectrumSource(s *Scenario, rng *rand.Rand) *spectrumSource {
	src := &spectrumSource{
		period: s.Period(),
		quiet:  make([]float64, s.FrameSize),
		loud:   make([]float64, s.FrameSize),
	}

	half := s.FrameSize / 2
	for i := range s.FrameSize {
		src.quiet[i] = math.Floor(rng.Float64() * 2)
		if i < half {
			src.loud[i] = math.Floor(rng.Float64() * 10)
		} else {
			src.loud[i] = math.Floor(rng.Float64() * 2)
		}
	}

	return src
}

func (s *spectrumSource) Frame(t float64, r Range) ([]float64, error) {
	if math.Mod(t, s.period) < s.period*r.Duty {
		return s.loud, nil
	}
	return s.quiet, nil
}

func (s *spectrumSource) Shared() bool {
	return false
}

const (
	clickLength = 0.03  // seconds
	clickDecay  = 150.0 // envelope rate, 1/s
	clickTone   = 80.0  // Hz
	noiseFloor  = 0.01
)

// clickTrack renders a metronome to PCM and returns the magnitude spectrum of
// the frame starting at t. Each click is a decaying noise burst over a low
// tone so it reaches every band.
type clickTrack struct {
	period     float64
	sampleRate float64
	rng        *rand.Rand
	fft        *spectral.FFT
	buf        []float64

	lastT    float64
	lastSpec []float64
}

func newClickTrack(s *Scenario, rng *rand.Rand) *clickTrack {
	return &clickTrack{
		period:     s.Period(),
		sampleRate: float64(s.SampleRate),
		rng:        rng,
		fft:        spectral.NewFFT(s.FrameSize),
		buf:        make([]float64, s.FrameSize),
		lastT:      -1,
	}
}

func (c *clickTrack) Frame(t float64, _ Range) ([]float64, error) {
	if t == c.lastT && c.lastSpec != nil {
		return c.lastSpec, nil
	}

	start := math.Round(t * c.sampleRate)
	for i := range c.buf {
		at := (start + float64(i)) / c.sampleRate
		c.buf[i] = c.sample(math.Mod(at, c.period))
	}

	spec, err := c.fft.Magnitudes(c.buf)
	if err != nil {
		return nil, fmt.Errorf("click track at %.3fs: %w", t, err)
	}

	c.lastT = t
	c.lastSpec = spec
	return spec, nil
}

// sample returns the signal at phase seconds into a beat
func (c *clickTrack) sample(phase float64) float64 {
	noise := c.rng.Float64()*2 - 1
	if phase >= clickLength {
		return noiseFloor * noise
	}

	env := math.Exp(-phase * clickDecay)
	return env * (0.7*noise + 0.3*math.Sin(2*math.Pi*clickTone*phase))
}

func (c *clickTrack) Shared() bool {
	return true
}
