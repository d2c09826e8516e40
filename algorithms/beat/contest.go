package beat

import (
	"maps"
	"math"
	"slices"
)

// contest is a sparse histogram of tempo buckets. Buckets are created on the
// first vote and only ever decay afterwards.
type contest map[int]float64

func (c contest) vote(key int, weight float64) {
	c[key] += weight
}

func (c contest) max() float64 {
	m := 0.0
	for _, v := range c {
		if v > m {
			m = v
		}
	}
	return m
}

// winner returns the heaviest bucket, the lowest key on ties, or 0 when no
// bucket holds positive weight.
func (c contest) winner() (key int, weight float64) {
	for _, k := range slices.Sorted(maps.Keys(c)) {
		if c[k] > weight {
			key, weight = k, c[k]
		}
	}
	return key, weight
}

// promote feeds every bucket heavier than threshold into the ten times coarser
// histogram, scaled by dt.
func (c contest) promote(coarse contest, threshold, dt float64) {
	for _, k := range slices.Sorted(maps.Keys(c)) {
		if v := c[k]; v > threshold {
			coarse[int(math.Round(float64(k)/10.0))] += (v / 10.0) * dt
		}
	}
}

// normalize rescales so the heaviest bucket sits on the finish line, but only
// once something has crossed it.
func (c contest) normalize(finishLine float64) {
	m := c.max()
	if m <= finishLine {
		return
	}
	for k, v := range c {
		c[k] = (v / m) * finishLine
	}
}

func (c contest) decay(factor float64) {
	for k, v := range c {
		c[k] = v - v*factor
	}
}

// draftKey buckets a tempo into tenths of a BPM, truncating
func draftKey(bpm float64) int {
	return int(math.Floor(math.Round(bpm*1000.0) / 100.0))
}

// contestKey buckets a tempo into tenths of a BPM, rounding
func contestKey(bpm float64) int {
	return int(math.Round(bpm * 10.0))
}
