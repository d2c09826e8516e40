package spectral

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFT_SinePeak(t *testing.T) {
	const size = 1024
	f := NewFFT(size)

	// exactly on bin 64
	frame := make([]float64, size)
	for i := range frame {
		frame[i] = math.Sin(2 * math.Pi * 64 * float64(i) / size)
	}

	mags, err := f.Magnitudes(frame)
	require.NoError(t, err)
	require.Len(t, mags, size/2)

	peak := 0
	for i, m := range mags {
		if m > mags[peak] {
			peak = i
		}
	}
	assert.Equal(t, 64, peak)
	assert.InDelta(t, 1.0, mags[64], 1e-6)
	assert.Less(t, mags[200], 1e-6)

	// input untouched
	assert.InDelta(t, math.Sin(2*math.Pi*64/size), frame[1], 1e-15)
}

func TestFFT_SizeMismatch(t *testing.T) {
	f := NewFFT(256)
	_, err := f.Magnitudes(make([]float64, 100))
	assert.Error(t, err)
	assert.Equal(t, 256, f.Size())
}

func TestFFT_ComputeEmpty(t *testing.T) {
	assert.Empty(t, NewFFT(8).Compute(nil))
}
