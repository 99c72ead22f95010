// Package curve holds frequency response curves: ordered (frequency, dB)
// pairs with interpolation, resampling and fractional-octave smoothing.
package curve

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

var (
	// ErrInvalidCurve is returned for mismatched, short, non-positive or
	// unordered frequency data.
	ErrInvalidCurve = errors.New("invalid curve")
	// ErrOutOfRange is returned by AtStrict outside the curve's frequency span
	ErrOutOfRange = errors.New("frequency out of range")
)

// Curve is an immutable frequency response. Frequencies are strictly
// increasing and positive and there are at least two points.
type Curve struct {
	freq []float64
	spl  []float64
	// interpolation runs in log10 frequency
	logf   []float64
	interp interp.PiecewiseLinear
}

// Data is the JSON shape of a curve
type Data struct {
	Freq []float64 `json:"freq"`
	SPL  []float64 `json:"spl"`
}

// New builds a curve from strictly increasing frequencies. Inputs are copied.
func New(freq, spl []float64) (*Curve, error) {
	if len(freq) != len(spl) {
		return nil, fmt.Errorf("%w: %d frequencies but %d magnitudes", ErrInvalidCurve, len(freq), len(spl))
	}
	if len(freq) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidCurve, len(freq))
	}
	for i, f := range freq {
		if !(f > 0) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: frequency %d is not positive: %v", ErrInvalidCurve, i, f)
		}
		if i > 0 && f <= freq[i-1] {
			return nil, fmt.Errorf("%w: frequencies not strictly increasing at index %d", ErrInvalidCurve, i)
		}
		if math.IsNaN(spl[i]) || math.IsInf(spl[i], 0) {
			return nil, fmt.Errorf("%w: magnitude %d is not finite", ErrInvalidCurve, i)
		}
	}

	c := &Curve{
		freq: append([]float64(nil), freq...),
		spl:  append([]float64(nil), spl...),
		logf: make([]float64, len(freq)),
	}
	for i, f := range c.freq {
		c.logf[i] = math.Log10(f)
	}
	if err := c.interp.Fit(c.logf, c.spl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCurve, err)
	}
	return c, nil
}

// NewSorted sorts the pairs by frequency before building the curve.
// Duplicate frequencies are still rejected.
func NewSorted(freq, spl []float64) (*Curve, error) {
	if len(freq) != len(spl) {
		return New(freq, spl)
	}
	idx := make([]int, len(freq))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return freq[idx[a]] < freq[idx[b]] })

	f := make([]float64, len(freq))
	s := make([]float64, len(spl))
	for i, j := range idx {
		f[i], s[i] = freq[j], spl[j]
	}
	return New(f, s)
}

// FromData builds a curve from its JSON shape, sorting if needed
func FromData(d Data) (*Curve, error) {
	return NewSorted(d.Freq, d.SPL)
}

// Flat returns a constant curve on the given grid
func Flat(freq []float64, level float64) (*Curve, error) {
	spl := make([]float64, len(freq))
	for i := range spl {
		spl[i] = level
	}
	return New(freq, spl)
}

// LogGrid returns n log-spaced frequencies from fmin to fmax inclusive
func LogGrid(fmin, fmax float64, n int) []float64 {
	if n < 2 || !(fmin > 0) || !(fmax > fmin) {
		return nil
	}
	return floats.LogSpan(make([]float64, n), fmin, fmax)
}

// Len returns the number of points
func (c *Curve) Len() int { return len(c.freq) }

// Freq returns a copy of the frequencies
func (c *Curve) Freq() []float64 { return append([]float64(nil), c.freq...) }

// SPL returns a copy of the magnitudes in dB
func (c *Curve) SPL() []float64 { return append([]float64(nil), c.spl...) }

// Data returns the JSON shape of the curve
func (c *Curve) Data() Data {
	return Data{Freq: c.Freq(), SPL: c.SPL()}
}

// Bounds returns the frequency span and the magnitude span
func (c *Curve) Bounds() (fmin, fmax, dbMin, dbMax float64) {
	return c.freq[0], c.freq[len(c.freq)-1], floats.Min(c.spl), floats.Max(c.spl)
}

// At interpolates linearly in log frequency, holding the edge values outside
// the curve's span.
func (c *Curve) At(f float64) float64 {
	if !(f > 0) {
		return c.spl[0]
	}
	return c.interp.Predict(math.Log10(f))
}

// AtStrict is At without extrapolation
func (c *Curve) AtStrict(f float64) (float64, error) {
	if f < c.freq[0] || f > c.freq[len(c.freq)-1] {
		return 0, fmt.Errorf("%w: %v Hz outside [%v, %v]", ErrOutOfRange, f, c.freq[0], c.freq[len(c.freq)-1])
	}
	return c.At(f), nil
}

// Resample evaluates the curve on another grid with edge clamping
func (c *Curve) Resample(grid []float64) (*Curve, error) {
	spl := make([]float64, len(grid))
	for i, f := range grid {
		spl[i] = c.At(f)
	}
	return New(grid, spl)
}

// Smooth applies 1/n octave smoothing and returns a curve on the same grid
func (c *Curve) Smooth(n int) (*Curve, error) {
	sm, err := NewSmoother(c.freq, n)
	if err != nil {
		return nil, err
	}
	return New(c.freq, sm.Apply(make([]float64, len(c.spl)), c.spl))
}

// Add returns c + other, with other resampled onto c's grid
func (c *Curve) Add(other *Curve) *Curve {
	out := make([]float64, len(c.spl))
	for i, f := range c.freq {
		out[i] = c.spl[i] + other.At(f)
	}
	return c.with(out)
}

// Sub returns c - other, with other resampled onto c's grid
func (c *Curve) Sub(other *Curve) *Curve {
	out := make([]float64, len(c.spl))
	for i, f := range c.freq {
		out[i] = c.spl[i] - other.At(f)
	}
	return c.with(out)
}

// Shift returns the curve offset by db
func (c *Curve) Shift(db float64) *Curve {
	out := make([]float64, len(c.spl))
	for i, v := range c.spl {
		out[i] = v + db
	}
	return c.with(out)
}

// with builds a curve sharing c's grid. spl must be finite.
func (c *Curve) with(spl []float64) *Curve {
	out := &Curve{freq: c.freq, spl: spl, logf: c.logf}
	// the grid is already validated, Fit cannot fail on it
	_ = out.interp.Fit(out.logf, out.spl)
	return out
}
