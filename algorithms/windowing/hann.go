package windowing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Hann represents a Hann window function
type Hann struct {
	size         int
	symmetric    bool
	coefficients []float64
}

// NewHann creates a new Hann window. Periodic windows (symmetric false) suit
// spectral analysis, symmetric ones suit filter design.
func NewHann(size int, symmetric bool) *Hann {
	h := &Hann{
		size:      size,
		symmetric: symmetric,
	}
	h.generate()
	return h
}

func (h *Hann) generate() {
	h.coefficients = make([]float64, h.size)

	denominator := float64(h.size)
	if h.symmetric {
		denominator = float64(h.size - 1)
	}
	if denominator <= 0 {
		floats.AddConst(1, h.coefficients)
		return
	}

	for i := range h.size {
		h.coefficients[i] = 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/denominator))
	}
}

// Apply returns a windowed copy of signal, or nil on a length mismatch
func (h *Hann) Apply(signal []float64) []float64 {
	if len(signal) != h.size {
		return nil
	}

	windowed := make([]float64, h.size)
	floats.MulTo(windowed, signal, h.coefficients)
	return windowed
}

// ApplyInPlace applies the window to a signal in-place
func (h *Hann) ApplyInPlace(signal []float64) error {
	if len(signal) != h.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), h.size)
	}

	floats.Mul(signal, h.coefficients)
	return nil
}

// CoherentGain returns the mean coefficient, the factor a windowed sinusoid's
// amplitude is scaled by
func (h *Hann) CoherentGain() float64 {
	if h.size == 0 {
		return 0
	}
	return floats.Sum(h.coefficients) / float64(h.size)
}

// GetCoefficients returns a copy of the window coefficients
func (h *Hann) GetCoefficients() []float64 {
	coeffs := make([]float64, len(h.coefficients))
	copy(coeffs, h.coefficients)
	return coeffs
}

// GetSize returns the window size
func (h *Hann) GetSize() int {
	return h.size
}
