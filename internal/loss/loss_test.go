package loss

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/autopeq/internal/curve"
	"github.com/copyleftdev/autopeq/internal/optimization"
	"github.com/copyleftdev/autopeq/internal/peq"
)

const fs = 48000.0

var dipFilter = peq.Filter{Type: peq.Peak, Freq: 1000, Q: 1.4, Gain: 6}

// dipCurve is the inverse of dipFilter, so dipFilter corrects it exactly
func dipCurve(t *testing.T, n int) *curve.Curve {
	t.Helper()
	grid := curve.LogGrid(20, 20000, n)
	resp := peq.Response([]peq.Filter{dipFilter}, grid, fs)
	for i := range resp {
		resp[i] = -resp[i]
	}
	c, err := curve.New(grid, resp)
	require.NoError(t, err)
	return c
}

func encode(t *testing.T, l peq.Layout, filters ...peq.Filter) []float64 {
	t.Helper()
	x, err := l.Encode(filters)
	require.NoError(t, err)
	return x
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	k, err := ParseKind("Speaker_Flat")
	require.NoError(t, err)
	assert.Equal(t, SpeakerFlat, k)
	_, err = ParseKind("speaker-pref")
	assert.Error(t, err)

	assert.Equal(t, FamilySpeaker, SpeakerScore.Family())
	assert.Equal(t, FamilyHeadphone, HeadphoneFlat.Family())
	assert.Equal(t, FamilyNone, Flat.Family())
}

func TestNewValidation(t *testing.T) {
	input := dipCurve(t, 50)
	base := Setup{Kind: Flat, Input: input, Layout: peq.NewLayout(peq.Pk, 1), SampleRate: fs}

	_, err := New(Setup{Kind: Flat, Layout: base.Layout, SampleRate: fs})
	assert.True(t, errors.Is(err, optimization.ErrEmptyInput))

	tests := []struct {
		name   string
		mutate func(*Setup)
	}{
		{"no filters", func(s *Setup) { s.Layout.NumFilters = 0 }},
		{"no sample rate", func(s *Setup) { s.SampleRate = 0 }},
		{"negative spacing", func(s *Setup) { s.SpacingWeight = -1 }},
		{"empty range", func(s *Setup) { s.MinFreq, s.MaxFreq = 1000, 1001 }},
		{"unknown kind", func(s *Setup) { s.Kind = Kind(99) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			_, err := New(s)
			assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))
		})
	}
}

func TestPerfectCorrection(t *testing.T) {
	layout := peq.NewLayout(peq.Pk, 1)
	x := encode(t, layout, dipFilter)

	for _, k := range []Kind{Flat, SpeakerFlat, HeadphoneFlat} {
		t.Run(k.String(), func(t *testing.T) {
			obj, err := New(Setup{Kind: k, Input: dipCurve(t, 100), Layout: layout, SampleRate: fs})
			require.NoError(t, err)
			assert.InDelta(t, 0, obj.Evaluate(x), 1e-9)

			wrong := encode(t, layout, peq.Filter{Type: peq.Peak, Freq: 4000, Q: 1.4, Gain: 6})
			assert.Greater(t, obj.Evaluate(wrong), 1.0)
		})
	}
}

func TestTargetAndRange(t *testing.T) {
	layout := peq.NewLayout(peq.Pk, 1)
	grid := curve.LogGrid(20, 20000, 60)
	input, err := curve.Flat(grid, 0)
	require.NoError(t, err)
	target, err := curve.Flat(grid, 2)
	require.NoError(t, err)

	obj, err := New(Setup{Kind: Flat, Input: input, Target: target, Layout: layout, SampleRate: fs})
	require.NoError(t, err)
	neutral := encode(t, layout, peq.Filter{Type: peq.Peak, Freq: 1000, Q: 1, Gain: 0})
	assert.InDelta(t, 2, obj.Evaluate(neutral), 1e-9)

	// a boost at 10 kHz is invisible when the range stops at 2 kHz
	limited, err := New(Setup{Kind: Flat, Input: input, Layout: layout, SampleRate: fs, MinFreq: 20, MaxFreq: 2000})
	require.NoError(t, err)
	hf := encode(t, layout, peq.Filter{Type: peq.Peak, Freq: 15000, Q: 4, Gain: 3})
	assert.Less(t, limited.Evaluate(hf), 0.01)
	full, err := New(Setup{Kind: Flat, Input: input, Layout: layout, SampleRate: fs})
	require.NoError(t, err)
	assert.Greater(t, full.Evaluate(hf), 0.1)
}

func TestSpacingPenalty(t *testing.T) {
	assert.Equal(t, 0.0, SpacingPenalty([]float64{100, 1000}, 0.5, 20))
	assert.Equal(t, 0.0, SpacingPenalty([]float64{100, 100}, 0, 20))
	assert.InDelta(t, 20*0.25, SpacingPenalty([]float64{100, 100}, 0.5, 20), 1e-12)
	assert.InDelta(t, 20*0.25*0.25, SpacingPenalty([]float64{100, 100 * math.Pow(2, 0.25)}, 0.5, 20), 1e-12)

	layout := peq.NewLayout(peq.Pk, 2)
	obj, err := New(Setup{
		Kind: Flat, Input: dipCurve(t, 100), Layout: layout, SampleRate: fs,
		MinSpacingOct: 0.5, SpacingWeight: 20,
	})
	require.NoError(t, err)

	half := peq.Filter{Type: peq.Peak, Freq: 1000, Q: 1.4, Gain: 3}
	stacked := encode(t, layout, half, half)
	apart := encode(t, layout, half, peq.Filter{Type: peq.Peak, Freq: 4000, Q: 1.4, Gain: 3})
	separated := encode(t, layout, dipFilter, peq.Filter{Type: peq.Peak, Freq: 4000, Q: 1.4, Gain: 0})

	// two half-gain peaks at the same frequency fit the dip almost as well
	// as one full peak, but the crowding penalty makes them strictly worse
	assert.Greater(t, obj.Evaluate(stacked), obj.Evaluate(separated))
	assert.Greater(t, obj.Evaluate(stacked), 0.0)
	assert.Less(t, obj.Evaluate(separated), 1e-9)
	assert.Greater(t, obj.Evaluate(apart), obj.Evaluate(separated))
}

func TestGainPenalty(t *testing.T) {
	quiet := peq.Filter{Type: peq.Peak, Freq: 4000, Q: 1.4, Gain: 0.5}
	hp := peq.Filter{Type: peq.HighPass, Freq: 40, Q: 0.7}
	assert.Equal(t, 0.0, GainPenalty([]peq.Filter{dipFilter, hp}, 1, 10), "highpass bands carry no gain")
	assert.Equal(t, 0.0, GainPenalty([]peq.Filter{quiet}, 0, 10))
	assert.InDelta(t, 10*0.25, GainPenalty([]peq.Filter{quiet}, 1, 10), 1e-12)
	quiet.Gain = -0.5
	assert.InDelta(t, 10*0.25, GainPenalty([]peq.Filter{quiet}, 1, 10), 1e-12)

	layout := peq.NewLayout(peq.Pk, 2)
	setup := Setup{Kind: Flat, Input: dipCurve(t, 100), Layout: layout, SampleRate: fs}
	plain, err := New(setup)
	require.NoError(t, err)
	setup.MinGainDB = 1
	floored, err := New(setup)
	require.NoError(t, err)

	idle := encode(t, layout, dipFilter, peq.Filter{Type: peq.Peak, Freq: 4000, Q: 1.4, Gain: 0})
	assert.Less(t, plain.Evaluate(idle), 1e-9)
	assert.InDelta(t, minGainWeight, floored.Evaluate(idle), 1e-9, "an idle band pays the full deficit")

	setup.MinGainDB = -1
	_, err = New(setup)
	assert.Error(t, err)
}

func TestSmoothing(t *testing.T) {
	layout := peq.NewLayout(peq.Pk, 1)
	input := dipCurve(t, 200)
	raw, err := New(Setup{Kind: Flat, Input: input, Layout: layout, SampleRate: fs})
	require.NoError(t, err)
	smooth, err := New(Setup{Kind: Flat, Input: input, Layout: layout, SampleRate: fs, SmoothN: 1})
	require.NoError(t, err)

	neutral := encode(t, layout, peq.Filter{Type: peq.Peak, Freq: 100, Q: 1, Gain: 0})
	assert.Less(t, smooth.Evaluate(neutral), raw.Evaluate(neutral))

	// smoothing is linear, so the exact correction still cancels
	assert.InDelta(t, 0, smooth.Evaluate(encode(t, layout, dipFilter)), 1e-9)
}

func TestScoreKinds(t *testing.T) {
	layout := peq.NewLayout(peq.Pk, 1)
	input := dipCurve(t, 120)
	x := encode(t, layout, dipFilter)
	neutral := encode(t, layout, peq.Filter{Type: peq.Peak, Freq: 1000, Q: 1.4, Gain: 0})

	for _, k := range []Kind{SpeakerScore, HeadphoneScore} {
		t.Run(k.String(), func(t *testing.T) {
			obj, err := New(Setup{Kind: k, Input: input, Layout: layout, SampleRate: fs})
			require.NoError(t, err)
			assert.Less(t, obj.Evaluate(x), obj.Evaluate(neutral))
		})
	}

	// a room-range grid cannot host the headphone model
	room, err := curve.Flat(curve.LogGrid(20, 40, 10), 0)
	require.NoError(t, err)
	_, err = New(Setup{Kind: HeadphoneScore, Input: room, Layout: layout, SampleRate: fs})
	assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))
}

func TestNumericFailure(t *testing.T) {
	layout := peq.NewLayout(peq.Pk, 1)
	obj, err := New(Setup{Kind: Flat, Input: dipCurve(t, 50), Layout: layout, SampleRate: fs})
	require.NoError(t, err)
	// a centre above Nyquist cannot be designed
	x := encode(t, layout, peq.Filter{Type: peq.Peak, Freq: 30000, Q: 1, Gain: 3})
	v := obj.Evaluate(x)
	assert.True(t, math.IsNaN(v) || math.IsInf(v, 0))
}

func TestDeviationAndRMS(t *testing.T) {
	layout := peq.NewLayout(peq.Pk, 1)
	obj, err := New(Setup{Kind: Flat, Input: dipCurve(t, 80), Layout: layout, SampleRate: fs})
	require.NoError(t, err)

	dev := obj.Deviation([]peq.Filter{dipFilter})
	require.Len(t, dev, 80)
	assert.InDelta(t, 0, obj.RMS(dev), 1e-9)

	none := obj.Deviation(nil)
	assert.Greater(t, obj.RMS(none), 0.5)
	assert.Equal(t, 3, obj.Dim())
	assert.Equal(t, 80, obj.Grid().Len())
}
