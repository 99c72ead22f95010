// Package peq describes parametric equalizer chains: filter descriptors, the
// flat parameter vectors the search works on, and the chain's magnitude
// response.
package peq

import (
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// FilterType is the kind of biquad a band realizes
type FilterType int

const (
	Peak FilterType = iota
	HighPass
	LowPass
)

var filterTypeNames = [...]string{Peak: "PK", HighPass: "HP", LowPass: "LP"}

func (t FilterType) String() string {
	if t < 0 || int(t) >= len(filterTypeNames) {
		return fmt.Sprintf("FilterType(%d)", int(t))
	}
	return filterTypeNames[t]
}

// ParseFilterType accepts PK/HP/LP in any case, plus long names
func ParseFilterType(s string) (FilterType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PK", "PEAK", "PEQ":
		return Peak, nil
	case "HP", "HPQ", "HIGHPASS":
		return HighPass, nil
	case "LP", "LPQ", "LOWPASS":
		return LowPass, nil
	}
	return 0, fmt.Errorf("unknown filter type %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (t FilterType) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(filterTypeNames) {
		return nil, fmt.Errorf("invalid filter type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *FilterType) UnmarshalText(b []byte) error {
	v, err := ParseFilterType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Filter is one decoded band. Gain is zero for HighPass and LowPass.
type Filter struct {
	Type FilterType `json:"type"`
	Freq float64    `json:"freq"`
	Q    float64    `json:"q"`
	Gain float64    `json:"gain"`
}

func (f Filter) String() string {
	return fmt.Sprintf("%s Fc %.1f Hz Gain %.2f dB Q %.3f", f.Type, f.Freq, f.Gain, f.Q)
}

// Coefficients designs the band's RBJ biquad. Parameters the design cannot
// realize at sampleRate, such as a centre at or above Nyquist, produce the
// zero value.
func (f Filter) Coefficients(sampleRate float64) biquad.Coefficients {
	switch f.Type {
	case HighPass:
		return design.Highpass(f.Freq, f.Q, sampleRate)
	case LowPass:
		return design.Lowpass(f.Freq, f.Q, sampleRate)
	default:
		return design.Peak(f.Freq, f.Gain, f.Q, sampleRate)
	}
}

// MagnitudeDB returns the band's response in dB at freq
func (f Filter) MagnitudeDB(freq, sampleRate float64) float64 {
	c := f.Coefficients(sampleRate)
	if !realizable(c) {
		return math.NaN()
	}
	return c.MagnitudeDB(freq, sampleRate)
}

func realizable(c biquad.Coefficients) bool {
	return c.B0 != 0 || c.B1 != 0 || c.B2 != 0
}
