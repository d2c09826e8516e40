// Package beat estimates tempo and beat phase in real time from a stream of
// FFT magnitude frames.
//
// The spectrum is split into equal-width bands. Each band watches its own
// energy for onsets, learns a beat period from the gaps between them and earns
// quality when onsets keep landing on that period. Confident bands vote on a
// consensus tempo every frame, and a decaying histogram of those votes picks
// the tempo the quarter/half/beat counters are clocked by.
package beat

import (
	"math"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/logging"
)

// detectorState is everything Reset clears
type detectorState struct {
	started    bool
	lastTimer  float64
	lastUpdate float64
	totalTime  float64

	// current beat period in seconds, meaningful only while locked
	period    float64
	locked    bool
	predicted float64
	bpmOffset float64

	qualityTotal   float64
	qualityAvg     float64
	maQualityAvg   float64
	maQualityTotal float64
	contributions  int

	beatTimer      float64
	quarterCounter int
	halfCounter    int
	beatCounter    int

	contest       contest
	coarse        contest
	winKey        int
	winVal        float64
	winningPeriod float64
	winKeyCoarse  int
	winValCoarse  float64
}

// Detector is the beat estimator. Feed it one spectrum per frame with Process
// and read the estimate back through the accessors.
//
// A Detector is not safe for concurrent use. Callers sharing one between an
// audio and a render goroutine must serialize Process and the reads.
type Detector struct {
	config      Config
	floor, ceil float64

	bands []BandState
	detectorState

	// mirror, when set, supplies band energies instead of the spectrum
	mirror *Detector

	draft  contest
	logger logging.Logger
}

// NewDetector creates a detector. A nil config uses DefaultConfig. The config
// is copied, later changes to it have no effect.
func NewDetector(config *Config) *Detector {
	if config == nil {
		config = DefaultConfig()
	}

	d := &Detector{
		config: *config,
		draft:  make(contest),
		logger: logging.WithFields(logging.Fields{
			"component": "beat_detector",
			"bpm_min":   config.BPMMin,
			"bpm_max":   config.BPMMax,
		}),
	}
	d.floor, d.ceil = d.config.periodBounds()
	d.bands = make([]BandState, max(d.config.Bands, 0))
	d.Reset()

	return d
}

// Reset returns the detector to its initial state. The mirror source, if any,
// is kept.
func (d *Detector) Reset() {
	n := len(d.bands)
	for i := range d.bands {
		// spread the initial guesses over the admissible range
		period := d.ceil + (d.floor-d.ceil)*float64(i)/float64(n)
		d.bands[i] = newBandState(period)
	}

	d.detectorState = detectorState{
		contest: make(contest),
		coarse:  make(contest),
	}
}

// MirrorFrom makes the detector copy its band energies from src on every
// frame instead of computing them from the spectrum passed to Process. src
// must have processed the same frame first. Pass nil to stop mirroring.
func (d *Detector) MirrorFrom(src *Detector) {
	if src == d {
		src = nil
	}
	d.mirror = src
}

// Process consumes one spectral frame taken at timestamp seconds. Magnitudes
// may be signed, their absolute value is used. The first frame and any frame
// whose timestamp goes backwards only set the time baseline, the latter after
// a full Reset.
func (d *Detector) Process(timestamp float64, spectrum []float64) {
	if !d.started {
		d.started = true
		d.lastTimer = timestamp
		return
	}

	if timestamp < d.lastTimer {
		d.logger.Debug("Timestamp went backwards, resetting", logging.Fields{
			"previous":  d.lastTimer,
			"timestamp": timestamp,
		})
		d.Reset()
		d.started = true
		d.lastTimer = timestamp
		return
	}

	d.lastUpdate = timestamp - d.lastTimer
	d.lastTimer = timestamp
	d.totalTime += d.lastUpdate

	if !common.IsFinite(d.period) {
		d.clearTempo()
	}

	if len(d.bands) == 0 {
		return
	}

	d.trackBands(spectrum)

	for i := range d.bands {
		d.updateBand(&d.bands[i], timestamp)
	}

	if d.vote() {
		d.updateContest()
		d.advancePhase()
	}
}

// trackBands updates band energies and their averages
func (d *Detector) trackBands(spectrum []float64) {
	if d.mirror != nil {
		src := d.mirror.bands
		for i := range min(len(d.bands), len(src)) {
			d.bands[i].mirror(&src[i])
		}
		return
	}

	// remainder samples past the last full band are ignored
	width := len(spectrum) / len(d.bands)
	if width == 0 {
		return
	}

	rate := d.lastUpdate * d.config.DetectionRate
	for i := range d.bands {
		d.bands[i].track(spectrum[i*width:(i+1)*width], rate)
	}
}

// vote collects the tempo guesses of the confident bands and, when enough of
// them agree to be trusted, moves the current tempo toward the winning one.
// It reports whether a prediction was accepted.
func (d *Detector) vote() bool {
	cfg := &d.config
	dt := d.lastUpdate

	d.qualityTotal = 0
	for i := range d.bands {
		d.qualityTotal += d.bands[i].Quality
	}
	d.qualityAvg = d.qualityTotal / float64(len(d.bands))

	d.maQualityAvg += (d.qualityAvg - d.maQualityAvg) * dt * cfg.DetectionRate / 2.0
	d.maQualityTotal += (d.qualityTotal - d.maQualityTotal) * dt * cfg.DetectionRate / 2.0
	d.maQualityAvg -= 0.98 * d.maQualityAvg * dt * 3.0

	if d.maQualityTotal <= 0 {
		d.maQualityTotal = 1.0
	}
	if d.maQualityAvg <= 0 {
		d.maQualityAvg = 1.0
	}

	clear(d.draft)

	reference := d.period
	offset := 0.0
	d.contributions = 0

	for i := range d.bands {
		b := &d.bands[i]
		if b.Quality*cfg.QualityTolerance < d.maQualityAvg {
			continue
		}
		if b.SlowPeriod >= d.ceil || b.SlowPeriod <= d.floor {
			continue
		}

		d.draft.vote(draftKey(60.0/b.SlowPeriod), b.Quality/d.qualityAvg)
		d.contributions++

		if reference == 0 {
			reference = b.SlowPeriod
		} else {
			offset += math.Abs(reference - b.SlowPeriod)
		}
	}

	if d.contributions < cfg.MinimumContributions {
		return false
	}

	winner, _ := d.draft.winner()
	if winner == 0 {
		return false
	}

	d.predicted = 60.0 / (float64(winner) / 10.0)
	d.bpmOffset = offset / float64(d.contributions)

	if !d.locked {
		d.period = d.predicted
		d.locked = true
		d.logger.Debug("Tempo locked", logging.Fields{
			"bpm":           60.0 / d.period,
			"contributions": d.contributions,
			"at":            d.totalTime,
		})
	}

	d.period -= (d.period - d.predicted) * dt
	if !common.IsFinite(d.period) || d.period <= 0 {
		d.clearTempo()
	}

	return true
}

// updateContest promotes strong buckets to the coarse histogram, caps both at
// the finish line and decays them.
func (d *Detector) updateContest() {
	finishLine := d.config.FinishLine
	factor := d.lastUpdate / d.config.DetectionRate

	d.contest.promote(d.coarse, finishLine/2.0, d.lastUpdate)

	d.contest.normalize(finishLine)
	d.coarse.normalize(finishLine)

	d.contest.decay(factor)
	d.coarse.decay(factor)
}

// advancePhase steps the quarter counter when a quarter of the winning period
// has elapsed and re-runs the contest on that tick.
func (d *Detector) advancePhase() {
	d.beatTimer += d.lastUpdate

	quarter := d.winningPeriod / 4.0
	if d.beatTimer <= quarter || !d.locked {
		return
	}

	if quarter > 0 {
		for d.beatTimer > quarter {
			d.beatTimer -= quarter
		}
	}

	d.quarterCounter++
	d.halfCounter = d.quarterCounter / 2
	d.beatCounter = d.quarterCounter / 4

	d.contest.vote(contestKey(60.0/d.period), d.config.QualityReward)

	key, val := d.contest.winner()
	d.winVal = val
	if key != 0 {
		d.winKey = key
		d.winningPeriod = 60.0 / (float64(key) / 10.0)
	}

	key, val = d.coarse.winner()
	d.winValCoarse = val
	if key != 0 {
		d.winKeyCoarse = key
	}

	if d.config.Debug && d.quarterCounter%4 == 0 {
		d.logger.Debug("Beat", logging.Fields{
			"beat":           d.beatCounter,
			"bpm":            d.BPM(),
			"winning_bpm":    d.WinningBPM(),
			"winning_weight": d.winVal,
			"coarse_bpm":     d.WinningBPMCoarse(),
			"coarse_weight":  d.winValCoarse,
			"bpm_offset":     d.bpmOffset,
			"quality_total":  d.qualityTotal,
			"quality_trend":  d.maQualityTotal,
		})
	}
}

func (d *Detector) clearTempo() {
	d.period = 0
	d.locked = false
}

// BPM returns the current smoothed tempo, or 0 before one is established
func (d *Detector) BPM() float64 {
	if !d.locked || d.period <= 0 {
		return 0
	}
	return 60.0 / d.period
}

// Period returns the current beat period in seconds, or 0 before a tempo is
// established
func (d *Detector) Period() float64 {
	if !d.locked {
		return 0
	}
	return d.period
}

// HasTempo reports whether a tempo has been established
func (d *Detector) HasTempo() bool {
	return d.locked
}

// PredictedBPM returns the last accepted raw consensus guess
func (d *Detector) PredictedBPM() float64 {
	if d.predicted <= 0 {
		return 0
	}
	return 60.0 / d.predicted
}

// WinningBPM returns the leader of the contest, in tenths of a BPM resolution
func (d *Detector) WinningBPM() float64 {
	return float64(d.winKey) / 10.0
}

// WinningBPMCoarse returns the leader of the whole-BPM contest
func (d *Detector) WinningBPMCoarse() float64 {
	return float64(d.winKeyCoarse)
}

// BPMOffset returns the mean disagreement, in seconds, between the period of
// the contributing bands and the current period
func (d *Detector) BPMOffset() float64 {
	return d.bpmOffset
}

// Contributions returns how many bands voted in the last frame
func (d *Detector) Contributions() int {
	return d.contributions
}

// QuarterCounter returns the number of quarter beats elapsed
func (d *Detector) QuarterCounter() int { return d.quarterCounter }

// HalfCounter returns QuarterCounter / 2
func (d *Detector) HalfCounter() int { return d.halfCounter }

// BeatCounter returns QuarterCounter / 4
func (d *Detector) BeatCounter() int { return d.beatCounter }

// QualityTotal returns the summed quality of all bands after the last frame
func (d *Detector) QualityTotal() float64 {
	return d.qualityTotal
}

// QualityAverage returns the mean band quality after the last frame
func (d *Detector) QualityAverage() float64 {
	return d.qualityAvg
}

// LastUpdate returns the time between the last two processed frames
func (d *Detector) LastUpdate() float64 {
	return d.lastUpdate
}

// TotalTime returns the time covered since the baseline frame
func (d *Detector) TotalTime() float64 {
	return d.totalTime
}

// NumBands returns the number of bands the spectrum is split into
func (d *Detector) NumBands() int {
	return len(d.bands)
}

// Band returns a copy of the state of band i, or the zero BandState when i
// is out of range
func (d *Detector) Band(i int) BandState {
	if i < 0 || i >= len(d.bands) {
		return BandState{}
	}
	return d.bands[i]
}

// Bands returns a copy of every band's state
func (d *Detector) Bands() []BandState {
	out := make([]BandState, len(d.bands))
	copy(out, d.bands)
	return out
}

// Config returns a copy of the detector's configuration
func (d *Detector) Config() Config {
	return d.config
}
