package loss

import (
	"math"

	"github.com/tphakala/simd/f64"

	"github.com/copyleftdev/autopeq/internal/curve"
	"github.com/copyleftdev/autopeq/internal/optimization"
	"github.com/copyleftdev/autopeq/internal/peq"
	"github.com/copyleftdev/autopeq/internal/score"
)

const (
	// trebleFreq is where headphone-flat halves its weights
	trebleFreq = 10000.0
	// headphoneRMSWeight keeps the headphone score loss anchored to the target
	headphoneRMSWeight = 1.0
	// minGainWeight scales the penalty for peak bands below the minimum gain
	minGainWeight = 10.0
)

// Setup is everything an Objective captures
type Setup struct {
	Kind Kind
	// Input is the measured response; its grid is the evaluation grid
	Input *curve.Curve
	// Target defaults to flat 0 dB
	Target *curve.Curve
	// PIR and SoundPower are used by SpeakerScore; Input stands in when nil
	PIR        *curve.Curve
	SoundPower *curve.Curve

	Layout     peq.Layout
	SampleRate float64

	// MinFreq and MaxFreq limit the range the deviation is measured over;
	// zero values leave that side open.
	MinFreq float64
	MaxFreq float64

	MinSpacingOct float64
	SpacingWeight float64

	// MinGainDB is the smallest absolute gain a peak band should use; 0
	// disables the penalty.
	MinGainDB float64

	// SmoothN enables 1/N octave smoothing of the corrected response when > 0
	SmoothN int
}

// Objective evaluates parameter vectors. It keeps scratch buffers and is not
// safe for concurrent use; build one per run.
type Objective struct {
	kind   Kind
	layout peq.Layout
	grid   *peq.Grid
	lo, hi int

	// base is what eq responses add onto during evaluation; devBase is the
	// (smoothed) input minus target
	base     []float64
	devBase  []float64
	pirBase  []float64
	spBase   []float64
	weights  []float64
	smoother *curve.Smoother

	headphone *score.HeadphoneModel
	speaker   *score.SpeakerModel

	minSpacing    float64
	spacingWeight float64
	minGain       float64

	filters []peq.Filter
	eq      []float64
	eqS     []float64
	dev     []float64
	sq      []float64
	pir     []float64
	sp      []float64
	centres []float64
}

func fail(msg string) error {
	return optimization.NewInvalidConfig(msg).WithComponent("loss").WithOperation("New")
}

// New builds an objective from the setup
func New(s Setup) (*Objective, error) {
	if s.Input == nil {
		return nil, optimization.NewEmptyInput("input curve is required").WithComponent("loss").WithOperation("New")
	}
	if s.Kind < 0 || int(s.Kind) >= len(kindNames) {
		return nil, fail("unknown loss kind")
	}
	if s.Layout.NumFilters < 1 {
		return nil, fail("at least one filter is required")
	}
	if !(s.SampleRate > 0) {
		return nil, fail("sample rate must be positive")
	}
	if s.MinSpacingOct < 0 || s.SpacingWeight < 0 {
		return nil, fail("spacing settings must be non-negative")
	}
	if s.MinGainDB < 0 {
		return nil, fail("minimum gain must be non-negative")
	}

	freq := s.Input.Freq()
	n := len(freq)
	o := &Objective{
		kind:          s.Kind,
		layout:        s.Layout,
		grid:          peq.NewGrid(freq, s.SampleRate),
		minSpacing:    s.MinSpacingOct,
		spacingWeight: s.SpacingWeight,
		minGain:       s.MinGainDB,
		filters:       make([]peq.Filter, s.Layout.NumFilters),
		eq:            make([]float64, n),
		dev:           make([]float64, n),
		sq:            make([]float64, n),
		centres:       make([]float64, s.Layout.NumFilters),
	}

	o.lo, o.hi = 0, n
	for o.lo < n && s.MinFreq > 0 && freq[o.lo] < s.MinFreq {
		o.lo++
	}
	for o.hi > o.lo && s.MaxFreq > 0 && freq[o.hi-1] > s.MaxFreq {
		o.hi--
	}
	if o.hi-o.lo < 2 {
		return nil, fail("fewer than two input points inside the loss frequency range")
	}

	if s.SmoothN > 0 {
		sm, err := curve.NewSmoother(freq, s.SmoothN)
		if err != nil {
			return nil, fail(err.Error())
		}
		o.smoother = sm
		o.eqS = make([]float64, n)
	}

	in := s.Input.SPL()
	o.devBase = o.smoothed(in)
	if s.Target != nil {
		for i, f := range freq {
			o.devBase[i] -= s.Target.At(f)
		}
	}
	o.base = o.devBase

	switch s.Kind {
	case SpeakerScore:
		m, err := score.NewSpeakerModel(freq)
		if err != nil {
			return nil, fail("speaker score: " + err.Error())
		}
		o.speaker = m
		o.pirBase = o.smoothed(resampled(s.PIR, freq, in))
		o.spBase = o.smoothed(resampled(s.SoundPower, freq, in))
		o.pir = make([]float64, n)
		o.sp = make([]float64, n)
		// the model rates absolute shape, so the on-axis base keeps no target
		o.base = o.smoothed(in)
	case HeadphoneScore:
		m, err := score.NewHeadphoneModel(freq)
		if err != nil {
			return nil, fail("headphone score: " + err.Error())
		}
		o.headphone = m
	}
	o.weights = weights(s.Kind, freq, o.lo, o.hi)
	return o, nil
}

func resampled(c *curve.Curve, freq, fallback []float64) []float64 {
	if c == nil {
		return append([]float64(nil), fallback...)
	}
	out := make([]float64, len(freq))
	for i, f := range freq {
		out[i] = c.At(f)
	}
	return out
}

func (o *Objective) smoothed(v []float64) []float64 {
	if o.smoother == nil {
		return append([]float64(nil), v...)
	}
	return o.smoother.Apply(make([]float64, len(v)), v)
}

// weights returns normalized per-point weights over [lo, hi)
func weights(k Kind, freq []float64, lo, hi int) []float64 {
	w := make([]float64, hi-lo)
	for j := range w {
		i := lo + j
		switch k {
		case SpeakerFlat, HeadphoneFlat:
			left, right := i, i
			if i > lo {
				left = i - 1
			}
			if i < hi-1 {
				right = i + 1
			}
			w[j] = math.Log10(freq[right]/freq[left]) / 2
			if k == HeadphoneFlat && freq[i] > trebleFreq {
				w[j] /= 2
			}
		default:
			w[j] = 1
		}
	}
	if total := f64.Sum(w); total > 0 {
		f64.Scale(w, w, 1/total)
	}
	return w
}

// Dim returns the parameter vector length the objective expects
func (o *Objective) Dim() int { return o.layout.Dim() }

// Grid returns the evaluation grid
func (o *Objective) Grid() *peq.Grid { return o.grid }

// Evaluate returns the loss of x; lower is better. Unrealizable filters give
// a non-finite value.
func (o *Objective) Evaluate(x []float64) float64 {
	o.layout.DecodeInto(o.filters, x)
	o.grid.ChainDB(o.eq, o.filters)
	eq := o.eq
	if o.smoother != nil {
		eq = o.smoother.Apply(o.eqS, o.eq)
	}

	var base float64
	switch o.kind {
	case SpeakerScore:
		for i, v := range eq {
			o.dev[i] = o.base[i] + v
			o.pir[i] = o.pirBase[i] + v
			o.sp[i] = o.spBase[i] + v
		}
		base = o.speaker.Components(o.dev, o.pir, o.sp).Penalty()
	case HeadphoneScore:
		for i, v := range eq {
			o.dev[i] = o.base[i] + v
		}
		base = o.headphone.Penalty(o.dev) + headphoneRMSWeight*o.weightedRMS()
	default:
		for i, v := range eq {
			o.dev[i] = o.base[i] + v
		}
		base = o.weightedRMS()
	}

	o.layout.BandFreqs(o.centres, x)
	return base + SpacingPenalty(o.centres, o.minSpacing, o.spacingWeight) +
		GainPenalty(o.filters, o.minGain, minGainWeight)
}

func (o *Objective) weightedRMS() float64 {
	d := o.dev[o.lo:o.hi]
	sq := o.sq[:len(d)]
	for i, v := range d {
		sq[i] = v * v
	}
	return math.Sqrt(f64.DotProduct(o.weights, sq))
}

// Deviation returns corrected minus target on the grid for a decoded chain,
// after smoothing when enabled.
func (o *Objective) Deviation(filters []peq.Filter) []float64 {
	eq := o.grid.ChainDB(make([]float64, o.grid.Len()), filters)
	if o.smoother != nil {
		eq = o.smoother.Apply(make([]float64, len(eq)), eq)
	}
	out := make([]float64, len(eq))
	for i, v := range eq {
		out[i] = o.devBase[i] + v
	}
	return out
}

// RMS returns the plain RMS of a deviation over the loss frequency range
func (o *Objective) RMS(dev []float64) float64 {
	d := dev[o.lo:o.hi]
	return math.Sqrt(f64.DotProduct(d, d) / float64(len(d)))
}

// SpacingPenalty adds weight*deficit^2 for every pair of centre frequencies
// closer than minOct octaves.
func SpacingPenalty(freqs []float64, minOct, weight float64) float64 {
	if minOct <= 0 || weight <= 0 {
		return 0
	}
	p := 0.0
	for i := 0; i < len(freqs); i++ {
		for j := i + 1; j < len(freqs); j++ {
			d := math.Abs(math.Log2(freqs[j] / freqs[i]))
			if d < minOct {
				deficit := minOct - d
				p += weight * deficit * deficit
			}
		}
	}
	return p
}

// GainPenalty adds weight*deficit^2 for every peak band whose absolute gain
// is below minDB. Highpass and lowpass bands carry no gain and are skipped.
func GainPenalty(filters []peq.Filter, minDB, weight float64) float64 {
	if minDB <= 0 || weight <= 0 {
		return 0
	}
	p := 0.0
	for _, f := range filters {
		if f.Type != peq.Peak {
			continue
		}
		if deficit := minDB - math.Abs(f.Gain); deficit > 0 {
			p += weight * deficit * deficit
		}
	}
	return p
}
