package spectral

import (
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/RyanBlaney/sonido-beat/algorithms/windowing"
)

// FFT turns fixed-size PCM frames into magnitude spectra
type FFT struct {
	size     int
	window   *windowing.Hann
	scratch  []float64
	gainNorm float64
}

// NewFFT creates an analyser for frames of size samples
func NewFFT(size int) *FFT {
	window := windowing.NewHann(size, false)

	gainNorm := 0.0
	if g := window.CoherentGain(); g > 0 && size > 0 {
		// a full-scale sine maps to a magnitude of 1
		gainNorm = 2.0 / (g * float64(size))
	}

	return &FFT{
		size:     size,
		window:   window,
		scratch:  make([]float64, size),
		gainNorm: gainNorm,
	}
}

// Size returns the frame size the analyser expects
func (f *FFT) Size() int {
	return f.size
}

// Compute computes the Fast Fourier Transform of x using mjibson/go-dsp,
// which handles non-power-of-2 sizes too
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// Magnitudes windows frame and returns the magnitudes of the first size/2
// bins. frame is left untouched.
func (f *FFT) Magnitudes(frame []float64) ([]float64, error) {
	if len(frame) != f.size {
		return nil, fmt.Errorf("frame length (%d) doesn't match fft size (%d)", len(frame), f.size)
	}

	copy(f.scratch, frame)
	if err := f.window.ApplyInPlace(f.scratch); err != nil {
		return nil, err
	}

	spectrum := f.Compute(f.scratch)

	magnitudes := make([]float64, f.size/2)
	for i := range magnitudes {
		magnitudes[i] = cmplx.Abs(spectrum[i]) * f.gainNorm
	}

	return magnitudes, nil
}
