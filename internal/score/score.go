// Package score computes preference ratings for frequency responses. They
// are reported next to the optimizer loss as a user-facing quality
// indication and feed the score-driven loss variants.
package score

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/autopeq/internal/curve"
)

// ErrInsufficientData is returned when a curve has no points in the range a
// model rates.
var ErrInsufficientData = errors.New("not enough data in the rated frequency range")

// Input is what a scorer rates. Only Response is required; spin curves fall
// back to Response when absent.
type Input struct {
	Response   *curve.Curve
	Target     *curve.Curve
	PIR        *curve.Curve
	SoundPower *curve.Curve
}

// Scorer rates a response; higher is better
type Scorer interface {
	Name() string
	Score(in Input) (float64, error)
}

// indexRange returns the half-open index range of freq inside [lo, hi]
func indexRange(freq []float64, lo, hi float64) (int, int) {
	a, b := len(freq), len(freq)
	for i, f := range freq {
		if f >= lo {
			a = i
			break
		}
	}
	for i := a; i < len(freq); i++ {
		if freq[i] > hi {
			b = i
			break
		}
	}
	return a, b
}

func log10s(freq []float64) []float64 {
	out := make([]float64, len(freq))
	for i, f := range freq {
		out[i] = math.Log10(f)
	}
	return out
}

// Headphone constants of the Olive et al. in-room headphone model
const (
	headphoneIntercept = 114.49
	headphoneSDWeight  = 12.62
	headphoneASWeight  = 15.52
	headphoneMinFreq   = 50.0
	headphoneMaxFreq   = 10000.0
)

// HeadphoneModel evaluates the headphone preference model on a fixed grid
type HeadphoneModel struct {
	lo, hi int
	x      []float64
}

// NewHeadphoneModel prepares the model for an increasing frequency grid
func NewHeadphoneModel(freq []float64) (*HeadphoneModel, error) {
	lo, hi := indexRange(freq, headphoneMinFreq, headphoneMaxFreq)
	if hi-lo < 3 {
		return nil, ErrInsufficientData
	}
	return &HeadphoneModel{lo: lo, hi: hi, x: log10s(freq[lo:hi])}, nil
}

// Components returns the standard deviation of the error curve and the
// absolute slope of its regression line over log frequency.
func (m *HeadphoneModel) Components(errDB []float64) (sd, slope float64) {
	y := errDB[m.lo:m.hi]
	_, beta := stat.LinearRegression(m.x, y, nil, false)
	return stat.StdDev(y, nil), math.Abs(beta)
}

// Penalty is the weighted model terms without the intercept; lower is better
func (m *HeadphoneModel) Penalty(errDB []float64) float64 {
	sd, slope := m.Components(errDB)
	return headphoneSDWeight*sd + headphoneASWeight*slope
}

// Score is the predicted preference rating
func (m *HeadphoneModel) Score(errDB []float64) float64 {
	return headphoneIntercept - m.Penalty(errDB)
}

// Headphone rates the deviation of a headphone response from its target
type Headphone struct{}

// Name implements Scorer
func (Headphone) Name() string { return "headphone" }

// Score implements Scorer
func (Headphone) Score(in Input) (float64, error) {
	if in.Response == nil {
		return 0, ErrInsufficientData
	}
	freq := in.Response.Freq()
	m, err := NewHeadphoneModel(freq)
	if err != nil {
		return 0, err
	}
	e := in.Response.SPL()
	if in.Target != nil {
		for i, f := range freq {
			e[i] -= in.Target.At(f)
		}
	}
	return m.Score(e), nil
}
