package peq

import (
	"math"
)

// Grid evaluates chain responses on a fixed frequency grid. The cosine term
// of every grid point is computed once, so evaluating a chain costs one
// biquad design per band plus a closed-form magnitude per point.
type Grid struct {
	freq       []float64
	sampleRate float64
	cw         []float64
}

// NewGrid precomputes the grid for the given sample rate
func NewGrid(freq []float64, sampleRate float64) *Grid {
	g := &Grid{
		freq:       append([]float64(nil), freq...),
		sampleRate: sampleRate,
		cw:         make([]float64, len(freq)),
	}
	for i, f := range freq {
		g.cw[i] = 2 * math.Cos(2*math.Pi*f/sampleRate)
	}
	return g
}

// Len returns the grid size
func (g *Grid) Len() int { return len(g.freq) }

// Freq returns a copy of the grid frequencies
func (g *Grid) Freq() []float64 { return append([]float64(nil), g.freq...) }

// SampleRate returns the design sample rate
func (g *Grid) SampleRate() float64 { return g.sampleRate }

// ChainDB writes the summed dB response of filters into dst, which must have
// the grid's length. A band that cannot be realized at the sample rate turns
// the whole response into NaN.
func (g *Grid) ChainDB(dst []float64, filters []Filter) []float64 {
	for i := range dst {
		dst[i] = 0
	}
	for _, f := range filters {
		c := f.Coefficients(g.sampleRate)
		if !realizable(c) {
			for i := range dst {
				dst[i] = math.NaN()
			}
			return dst
		}
		b0, b1, b2, a1, a2 := c.B0, c.B1, c.B2, c.A1, c.A2
		for i, cw := range g.cw {
			num := (b0-b2)*(b0-b2) + b1*b1 + (b1*(b0+b2)+b0*b2*cw)*cw
			den := (1-a2)*(1-a2) + a1*a1 + (a1*(a2+1)+cw*a2)*cw
			dst[i] += 10 * math.Log10(num/den)
		}
	}
	return dst
}

// Response is a convenience wrapper returning the chain response on freq
func Response(filters []Filter, freq []float64, sampleRate float64) []float64 {
	g := NewGrid(freq, sampleRate)
	return g.ChainDB(make([]float64, g.Len()), filters)
}
