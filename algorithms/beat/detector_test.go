package beat

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
)

const (
	testBins = 1024
	testFPS  = 60
)

func filled(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// impulseTrain returns frame timestamps and spectra for a flat spectrum that
// jumps from 1 to 10 for a single frame every framesPerBeat frames.
func impulseTrain(framesPerBeat int) func(i int) (float64, []float64) {
	quiet := filled(testBins, 1.0)
	loud := filled(testBins, 10.0)
	return func(i int) (float64, []float64) {
		ts := float64(i) / testFPS
		if i%framesPerBeat == 0 {
			return ts, loud
		}
		return ts, quiet
	}
}

func noiseFrame(rng *rand.Rand, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = rng.Float64()*2 - 1
	}
	return s
}

func assertInvariants(t *testing.T, d *Detector, frame int) {
	t.Helper()
	floor, ceil := d.config.periodBounds()
	for i, b := range d.bands {
		if b.Quality < minQuality {
			t.Fatalf("frame %d band %d: quality %g below floor", frame, i, b.Quality)
		}
		if b.FastPeriod < floor || b.FastPeriod > ceil || b.SlowPeriod < floor || b.SlowPeriod > ceil {
			t.Fatalf("frame %d band %d: periods %g/%g outside [%g, %g]", frame, i, b.FastPeriod, b.SlowPeriod, floor, ceil)
		}
	}
	bpm := d.BPM()
	if math.IsNaN(bpm) || bpm < 0 {
		t.Fatalf("frame %d: invalid bpm %g", frame, bpm)
	}
	if d.HalfCounter() != d.QuarterCounter()/2 || d.BeatCounter() != d.QuarterCounter()/4 {
		t.Fatalf("frame %d: counters out of step q=%d h=%d b=%d", frame, d.QuarterCounter(), d.HalfCounter(), d.BeatCounter())
	}
}

func TestDetector_FirstFrameIsBaseline(t *testing.T) {
	d := NewDetector(nil)
	d.Process(3.0, filled(testBins, 5.0))

	assert.Equal(t, 0.0, d.LastUpdate())
	assert.Equal(t, 0.0, d.TotalTime())
	assert.Equal(t, 0.0, d.Band(0).Energy)
	assert.False(t, d.HasTempo())

	d.Process(3.5, filled(testBins, 5.0))
	assert.InDelta(t, 0.5, d.LastUpdate(), 1e-12)
	assert.InDelta(t, 5.0, d.Band(0).Energy, 1e-12)
}

func TestDetector_InitialPeriodsSpanRange(t *testing.T) {
	d := NewDetector(nil)
	require.Equal(t, 128, d.NumBands())

	assert.InDelta(t, 0.6, d.Band(0).FastPeriod, 1e-12)
	for i := 1; i < d.NumBands(); i++ {
		assert.Less(t, d.Band(i).FastPeriod, d.Band(i-1).FastPeriod)
		assert.Greater(t, d.Band(i).FastPeriod, 0.3)
		assert.Equal(t, minQuality, d.Band(i).Quality)
	}
}

func TestDetector_BandEnergy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bands = 4
	d := NewDetector(cfg)

	// 130 bins over 4 bands: width 32, the last two bins are dropped
	spectrum := make([]float64, 130)
	for i := range spectrum {
		spectrum[i] = -float64(i / 32)
	}
	spectrum[128] = 1000
	spectrum[129] = 1000

	d.Process(0, spectrum)
	d.Process(0.05, spectrum)

	rate := 0.05 * cfg.DetectionRate
	for i := range 4 {
		b := d.Band(i)
		assert.InDelta(t, float64(i), b.Energy, 1e-12, "band %d", i)
		assert.InDelta(t, float64(i)*rate, b.FastAverage, 1e-12, "band %d", i)
		assert.InDelta(t, float64(i)*rate*rate, b.SlowAverage, 1e-12, "band %d", i)
	}
}

func TestDetector_DegenerateInput(t *testing.T) {
	t.Run("more bands than bins", func(t *testing.T) {
		d := NewDetector(nil)
		for i := range 100 {
			d.Process(float64(i)/testFPS, filled(10, 1.0))
		}
		assert.Equal(t, 0.0, d.Band(0).Energy)
		assertInvariants(t, d, 100)
	})

	t.Run("empty spectrum", func(t *testing.T) {
		d := NewDetector(nil)
		for i := range 100 {
			d.Process(float64(i)/testFPS, nil)
		}
		assertInvariants(t, d, 100)
	})

	t.Run("zero bands", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Bands = 0
		d := NewDetector(cfg)
		for i := range 100 {
			d.Process(float64(i)/testFPS, filled(testBins, 1.0))
		}
		assert.Equal(t, 0, d.NumBands())
		assert.Equal(t, 0.0, d.BPM())
		assert.InDelta(t, 99.0/testFPS, d.TotalTime(), 1e-9)
	})
}

func TestDetector_SteadyTempoConverges(t *testing.T) {
	d := NewDetector(nil)
	frame := impulseTrain(testFPS / 2) // 120 BPM

	var settled []float64
	lastQuarter := 0
	for i := 0; i <= 20*testFPS; i++ {
		ts, spectrum := frame(i)
		d.Process(ts, spectrum)
		assertInvariants(t, d, i)

		require.GreaterOrEqual(t, d.QuarterCounter(), lastQuarter, "frame %d", i)
		lastQuarter = d.QuarterCounter()

		if ts >= 10.0 {
			settled = append(settled, d.BPM())
		}
	}

	for _, bpm := range settled {
		require.InDelta(t, 120.0, bpm, 1.0)
	}
	assert.Less(t, common.Variance(settled), 1.0)
	assert.InDelta(t, 120.0, d.WinningBPM(), 1.0)
	assert.InDelta(t, 120.0, d.PredictedBPM(), 1.0)
	assert.Greater(t, d.BeatCounter(), 20)

	t.Logf("bpm %.3f winning %.1f coarse %.0f beats %d contributions %d",
		d.BPM(), d.WinningBPM(), d.WinningBPMCoarse(), d.BeatCounter(), d.Contributions())
}

func TestDetector_Silence(t *testing.T) {
	d := NewDetector(nil)
	silence := make([]float64, testBins)

	for i := 0; i <= 60*testFPS; i++ {
		d.Process(float64(i)/testFPS, silence)
		assertInvariants(t, d, i)
	}

	for i, b := range d.Bands() {
		assert.Equal(t, minQuality, b.Quality, "band %d", i)
	}
}

func TestDetector_NoiseKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d := NewDetector(nil)

	lastQuarter := 0
	for i := 0; i <= 30*testFPS; i++ {
		// jittered frame clock
		ts := float64(i)/testFPS + rng.Float64()*0.002
		d.Process(ts, noiseFrame(rng, testBins))
		assertInvariants(t, d, i)
		require.GreaterOrEqual(t, d.QuarterCounter(), lastQuarter)
		lastQuarter = d.QuarterCounter()
	}
}

func TestDetector_TimestampRegressionResets(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	d := NewDetector(nil)
	frame := impulseTrain(testFPS / 2)

	for i := 0; i <= 5*testFPS; i++ {
		ts, spectrum := frame(i)
		d.Process(ts, spectrum)
	}
	require.True(t, d.HasTempo())

	last := noiseFrame(rng, testBins)
	d.Process(1.25, last)

	fresh := NewDetector(nil)
	fresh.Process(1.25, last)

	assert.Equal(t, fresh.detectorState, d.detectorState)
	assert.Equal(t, fresh.bands, d.bands)
	assert.Equal(t, 0, d.QuarterCounter())
	assert.Equal(t, 0.0, d.BPM())
}

func TestDetector_ExplicitReset(t *testing.T) {
	d := NewDetector(nil)
	frame := impulseTrain(testFPS / 2)
	for i := 0; i <= 3*testFPS; i++ {
		ts, spectrum := frame(i)
		d.Process(ts, spectrum)
	}

	d.Reset()
	fresh := NewDetector(nil)
	assert.Equal(t, fresh.detectorState, d.detectorState)
	assert.Equal(t, fresh.bands, d.bands)
}

func TestDetector_MirrorEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	src := NewDetector(nil)
	dst := NewDetector(nil)
	dst.MirrorFrom(src)

	for i := 0; i <= 10*testFPS; i++ {
		ts := float64(i) / testFPS
		src.Process(ts, noiseFrame(rng, testBins))
		// whatever dst is handed is ignored while mirroring
		dst.Process(ts, noiseFrame(rng, 64))

		for b := range src.NumBands() {
			s, m := src.Band(b), dst.Band(b)
			require.Equal(t, s.Energy, m.Energy)
			require.Equal(t, s.FastAverage, m.FastAverage)
			require.Equal(t, s.SlowAverage, m.SlowAverage)
		}
	}

	dst.MirrorFrom(nil)
	dst.Process(100, filled(testBins, 2.0))
	assert.Equal(t, 2.0, dst.Band(0).Energy)
}

func TestDetector_MirrorSelfIgnored(t *testing.T) {
	d := NewDetector(nil)
	d.MirrorFrom(d)
	assert.Nil(t, d.mirror)
}

func TestDetector_MinimumContributionsGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinimumContributions = cfg.Bands + 1
	d := NewDetector(cfg)
	frame := impulseTrain(testFPS / 2)

	most := 0
	for i := 0; i <= 10*testFPS; i++ {
		ts, spectrum := frame(i)
		d.Process(ts, spectrum)
		most = max(most, d.Contributions())
	}

	// bands do vote, there are just never enough of them
	assert.Greater(t, most, 0)
	assert.False(t, d.HasTempo())
	assert.Equal(t, 0.0, d.BPM())
	assert.Equal(t, 0.0, d.PredictedBPM())
	assert.Equal(t, 0.0, d.BPMOffset())
	assert.Equal(t, 0, d.QuarterCounter())
	assert.Empty(t, d.contest)
	assert.Empty(t, d.coarse)
}

// seededVote returns a four band detector whose bands agree on quality and
// learned 0.5s, 0.45s, 0.55s and 0.6s. The last one sits on the range edge
// and never votes.
func seededVote(minContributions int) *Detector {
	cfg := DefaultConfig()
	cfg.Bands = 4
	cfg.MinimumContributions = minContributions
	d := NewDetector(cfg)
	d.lastUpdate = 1.0 / testFPS

	for i, period := range []float64{0.5, 0.45, 0.55, 0.6} {
		d.bands[i].Quality = 1.0
		d.bands[i].SlowPeriod = period
	}
	return d
}

func TestDetector_VoteOffset(t *testing.T) {
	d := seededVote(3)

	require.True(t, d.vote())
	assert.Equal(t, 3, d.Contributions())
	assert.True(t, d.HasTempo())

	// the first contributor is the reference while no tempo is locked
	assert.InDelta(t, (0.05+0.05)/3.0, d.BPMOffset(), 1e-12)

	// equal weights: the lowest bucket, 60/0.55 = 109.09 truncated, wins
	assert.InDelta(t, 109.0, d.PredictedBPM(), 1e-9)
	assert.InDelta(t, 109.0, d.BPM(), 1e-9)

	period := d.Period()
	require.True(t, d.vote())
	want := (math.Abs(period-0.5) + math.Abs(period-0.45) + math.Abs(period-0.55)) / 3.0
	assert.InDelta(t, want, d.BPMOffset(), 1e-12)
}

func TestDetector_VoteNeedsEnoughBands(t *testing.T) {
	d := seededVote(4)

	assert.False(t, d.vote())
	assert.Equal(t, 3, d.Contributions())
	assert.False(t, d.HasTempo())
	assert.Equal(t, 0.0, d.PredictedBPM())
}

func TestDetector_BandOutOfRange(t *testing.T) {
	d := NewDetector(nil)
	assert.Equal(t, BandState{}, d.Band(-1))
	assert.Equal(t, BandState{}, d.Band(d.NumBands()))
	assert.Equal(t, minQuality, d.Band(0).Quality)
}
