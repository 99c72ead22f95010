package autoeq

import (
	"fmt"
	"math"
	"strings"

	"github.com/copyleftdev/autopeq/internal/curve"
	"github.com/copyleftdev/autopeq/internal/loss"
	"github.com/copyleftdev/autopeq/internal/optimization"
	"github.com/copyleftdev/autopeq/internal/optimization/de"
	"github.com/copyleftdev/autopeq/internal/optimization/local"
	"github.com/copyleftdev/autopeq/internal/optimization/mayfly"
	"github.com/copyleftdev/autopeq/internal/peq"
)

// MaxFilters is the upper sanity bound on the number of bands
const MaxFilters = 20

// Algorithm names the global search. "autoeq:de" (or "de") selects
// differential evolution; "mayfly:<variant>" selects a Mayfly variant.
type Algorithm string

const (
	AlgorithmDE     Algorithm = "autoeq:de"
	AlgorithmMayfly Algorithm = "mayfly:desma"
)

// parse splits the algorithm into its family and, for Mayfly, the variant
func (a Algorithm) parse() (family string, variant mayfly.Variant, err error) {
	name := strings.ToLower(strings.TrimSpace(string(a)))
	switch name {
	case "", "de", "autoeq:de":
		return "de", "", nil
	case "mayfly":
		return "mayfly", mayfly.VariantMA, nil
	}
	if v, ok := strings.CutPrefix(name, "mayfly:"); ok {
		variant, err := mayfly.ParseVariant(v)
		if err != nil {
			return "", "", err
		}
		return "mayfly", variant, nil
	}
	return "", "", fmt.Errorf("unknown algorithm %q", string(a))
}

// Config is the full description of one optimization run. It is validated as
// a whole before any search begins.
type Config struct {
	NumFilters int          `json:"num_filters"`
	SampleRate float64      `json:"sample_rate"`
	PEQModel   peq.Topology `json:"peq_model"`
	Loss       loss.Kind    `json:"loss"`
	MinFreq    float64      `json:"min_freq"`
	MaxFreq    float64      `json:"max_freq"`
	MinQ       float64      `json:"min_q"`
	MaxQ       float64      `json:"max_q"`
	MinGain    float64      `json:"min_gain"`
	MaxGain    float64      `json:"max_gain"`
	MinDB      float64      `json:"min_db"`
	Algorithm  Algorithm    `json:"algo"`
	Population int          `json:"population"`
	MaxEval    int          `json:"maxeval"`
	Strategy   de.Strategy  `json:"strategy"`
	Init       string       `json:"init,omitempty"`
	F          float64      `json:"de_f"`
	CR         float64      `json:"de_cr"`
	Adaptive   bool         `json:"adaptive"`
	WeightF    float64      `json:"adaptive_weight_f"`
	WeightCR   float64      `json:"adaptive_weight_cr"`
	Tolerance  float64      `json:"tolerance"`
	ATolerance float64      `json:"atolerance"`
	Stagnation int          `json:"stagnation_generations"`
	Refine     bool         `json:"refine"`
	LocalAlgo  local.Method `json:"local_algo"`
	RefineEval int          `json:"refine_maxeval"`
	Smooth     bool         `json:"smooth"`
	SmoothN    int          `json:"smooth_n"`
	MinSpacing float64      `json:"min_spacing_oct"`
	SpacingW   float64      `json:"spacing_weight"`
	Seed       int64        `json:"seed"`
	Input      *curve.Data  `json:"input"`
	Target     *curve.Data  `json:"target,omitempty"`
	PIR        *curve.Data  `json:"pir,omitempty"`
	SoundPower *curve.Data  `json:"sound_power,omitempty"`
}

// DefaultConfig returns the defaults of the equalizer design screen
func DefaultConfig() Config {
	return Config{
		NumFilters: 5,
		SampleRate: 48000,
		PEQModel:   peq.Pk,
		Loss:       loss.SpeakerFlat,
		MinFreq:    60,
		MaxFreq:    16000,
		MinQ:       1,
		MaxQ:       3,
		MinGain:    -3,
		MaxGain:    3,
		MinDB:      1,
		Algorithm:  AlgorithmDE,
		Population: 30,
		MaxEval:    20000,
		Strategy:   de.CurrentToBest1Bin,
		F:          0.8,
		CR:         0.9,
		WeightF:    0.8,
		WeightCR:   0.7,
		Tolerance:  1e-3,
		ATolerance: 1e-4,
		Stagnation: 30,
		LocalAlgo:  local.NelderMead,
		RefineEval: 2000,
		Smooth:     true,
		SmoothN:    1,
		MinSpacing: 0.5,
		SpacingW:   20,
	}
}

// SpeakerDefaults returns the defaults of the speaker workflow
func SpeakerDefaults() Config {
	c := DefaultConfig()
	c.NumFilters = 7
	c.Loss = loss.Flat
	return c
}

// RoomDefaults returns the defaults of the room correction workflow. Room
// modes are narrow and deep, so it allows more bands, more gain and higher Q.
func RoomDefaults() Config {
	c := DefaultConfig()
	c.NumFilters = 10
	c.Loss = loss.Flat
	c.MinGain = -6
	c.MaxGain = 6
	c.MaxQ = 10
	c.MinFreq = 20
	c.MaxFreq = 500
	c.MinSpacing = 0.25
	c.SpacingW = 10
	c.SmoothN = 3
	return c
}

// curves are the validated curves of a Config
type curves struct {
	input, target, pir, soundPower *curve.Curve
}

func invalid(format string, args ...interface{}) *optimization.Error {
	return optimization.NewInvalidConfigf(format, args...).WithComponent("autoeq").WithOperation("Config.Validate")
}

func invalidCurve(name string, err error) *optimization.Error {
	return (&optimization.Error{
		Kind:    optimization.KindInvalidConfig,
		Message: name + " curve",
		Err:     err,
	}).WithComponent("autoeq").WithOperation("Config.Validate")
}

func optionalCurve(name string, d *curve.Data) (*curve.Curve, error) {
	if d == nil || (len(d.Freq) == 0 && len(d.SPL) == 0) {
		return nil, nil
	}
	c, err := curve.FromData(*d)
	if err != nil {
		return nil, invalidCurve(name, err)
	}
	return c, nil
}

// Validate checks the whole configuration
func (c Config) Validate() error {
	_, err := c.validate()
	return err
}

func (c Config) validate() (*curves, error) {
	if c.Input == nil || len(c.Input.Freq) == 0 || len(c.Input.SPL) == 0 {
		return nil, optimization.NewEmptyInput("input curve is required").
			WithComponent("autoeq").WithOperation("Config.Validate")
	}
	if c.NumFilters < 1 || c.NumFilters > MaxFilters {
		return nil, invalid("num_filters must be between 1 and %d, got %d", MaxFilters, c.NumFilters)
	}
	if !(c.SampleRate > 0) || math.IsInf(c.SampleRate, 0) {
		return nil, invalid("sample_rate must be positive, got %v", c.SampleRate)
	}
	if !(c.MinFreq > 0) || !(c.MinFreq < c.MaxFreq) {
		return nil, invalid("frequency bounds must satisfy 0 < min_freq < max_freq, got [%v, %v]", c.MinFreq, c.MaxFreq)
	}
	if c.MaxFreq >= c.SampleRate/2 {
		return nil, invalid("max_freq %v must be below Nyquist %v", c.MaxFreq, c.SampleRate/2)
	}
	if !(c.MinQ > 0) || !(c.MinQ < c.MaxQ) {
		return nil, invalid("Q bounds must satisfy 0 < min_q < max_q, got [%v, %v]", c.MinQ, c.MaxQ)
	}
	if !(c.MinGain < c.MaxGain) || math.IsInf(c.MinGain, 0) || math.IsInf(c.MaxGain, 0) {
		return nil, invalid("gain bounds must satisfy min_gain < max_gain, got [%v, %v]", c.MinGain, c.MaxGain)
	}
	if c.MinDB < 0 || c.MinDB >= math.Max(-c.MinGain, c.MaxGain) {
		return nil, invalid("min_db must be in [0, %v), got %v", math.Max(-c.MinGain, c.MaxGain), c.MinDB)
	}
	if c.MaxEval < 1 {
		return nil, invalid("maxeval must be positive, got %d", c.MaxEval)
	}
	if c.Tolerance < 0 || c.ATolerance < 0 {
		return nil, invalid("tolerances must be non-negative")
	}
	if c.MinSpacing < 0 || c.SpacingW < 0 {
		return nil, invalid("spacing settings must be non-negative")
	}
	if c.Smooth && c.SmoothN < 1 {
		return nil, invalid("smooth_n must be at least 1, got %d", c.SmoothN)
	}
	if c.Refine && c.RefineEval < 1 {
		return nil, invalid("refine_maxeval must be positive, got %d", c.RefineEval)
	}
	if _, err := local.ParseMethod(string(c.LocalAlgo)); err != nil {
		return nil, invalid("%v", err)
	}
	if _, err := de.ParseInit(c.Init); err != nil {
		return nil, invalid("%v", err)
	}
	family, _, err := c.Algorithm.parse()
	if err != nil {
		return nil, invalid("%v", err)
	}
	if family == "de" {
		if err := c.deConfig().Validate(); err != nil {
			return nil, err
		}
	} else if c.Population < 2 {
		return nil, invalid("population must be at least 2, got %d", c.Population)
	}

	cv := &curves{}
	if cv.input, err = optionalCurve("input", c.Input); err != nil {
		return nil, err
	}
	if cv.target, err = optionalCurve("target", c.Target); err != nil {
		return nil, err
	}
	if cv.pir, err = optionalCurve("pir", c.PIR); err != nil {
		return nil, err
	}
	if cv.soundPower, err = optionalCurve("sound_power", c.SoundPower); err != nil {
		return nil, err
	}
	return cv, nil
}

func (c Config) deConfig() de.Config {
	init, _ := de.ParseInit(c.Init)
	return de.Config{
		PopulationSize:        c.Population,
		F:                     c.F,
		CR:                    c.CR,
		Strategy:              c.Strategy,
		Adaptive:              c.Adaptive,
		AdaptiveWeightF:       c.WeightF,
		AdaptiveWeightCR:      c.WeightCR,
		Tolerance:             c.Tolerance,
		AbsTolerance:          c.ATolerance,
		StagnationGenerations: c.Stagnation,
		Init:                  init,
		Seed:                  c.Seed,
	}
}

func (c Config) limits() peq.Limits {
	return peq.Limits{
		MinFreq: c.MinFreq,
		MaxFreq: c.MaxFreq,
		MinQ:    c.MinQ,
		MaxQ:    c.MaxQ,
		MinGain: c.MinGain,
		MaxGain: c.MaxGain,
	}
}

func (c Config) smoothN() int {
	if !c.Smooth {
		return 0
	}
	return c.SmoothN
}
