package score

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/autopeq/internal/curve"
)

func grid() []float64 { return curve.LogGrid(20, 20000, 241) }

func mustCurve(t *testing.T, freq []float64, f func(float64) float64) *curve.Curve {
	t.Helper()
	spl := make([]float64, len(freq))
	for i, v := range freq {
		spl[i] = f(v)
	}
	c, err := curve.New(freq, spl)
	require.NoError(t, err)
	return c
}

func TestHeadphone(t *testing.T) {
	g := grid()
	flat := mustCurve(t, g, func(float64) float64 { return 0 })

	perfect, err := Headphone{}.Score(Input{Response: flat})
	require.NoError(t, err)
	assert.InDelta(t, headphoneIntercept, perfect, 1e-9)

	tilted := mustCurve(t, g, func(f float64) float64 { return 3 * math.Log10(f/1000) })
	tiltScore, err := Headphone{}.Score(Input{Response: tilted})
	require.NoError(t, err)
	assert.Less(t, tiltScore, perfect)

	// the same tilt as target leaves no error
	matched, err := Headphone{}.Score(Input{Response: tilted, Target: tilted})
	require.NoError(t, err)
	assert.InDelta(t, perfect, matched, 1e-9)

	m, err := NewHeadphoneModel(g)
	require.NoError(t, err)
	sd, slope := m.Components(tilted.SPL())
	assert.InDelta(t, 3, slope, 1e-9)
	assert.Greater(t, sd, 0.0)
}

func TestHeadphoneNeedsData(t *testing.T) {
	_, err := NewHeadphoneModel([]float64{10000, 12000, 15000})
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = Headphone{}.Score(Input{})
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestSpeakerComponents(t *testing.T) {
	g := grid()
	m, err := NewSpeakerModel(g)
	require.NoError(t, err)

	flat := make([]float64, len(g))
	c := m.Components(flat, nil, nil)
	assert.InDelta(t, 0, c.NBDOn, 1e-12)
	assert.InDelta(t, 0, c.NBDPIR, 1e-12)
	assert.InDelta(t, 1, c.SMPIR, 1e-12)
	assert.InDelta(t, math.Log10(20), c.LFX, 1e-9, "flat response extends to the grid floor")

	// a bass roll-off below 80 Hz moves the extension up
	rolled := make([]float64, len(g))
	for i, f := range g {
		if f < 80 {
			rolled[i] = -12
		}
	}
	r := m.Components(rolled, nil, nil)
	assert.Greater(t, r.LFX, c.LFX)
	assert.Less(t, r.LFX, math.Log10(80))

	// ripple raises narrow-band deviation and lowers the score
	ripple := make([]float64, len(g))
	for i := range g {
		ripple[i] = 2 * math.Sin(float64(i))
	}
	p := m.Components(ripple, nil, nil)
	assert.Greater(t, p.NBDOn, 0.5)
	assert.Less(t, p.Score(), c.Score())
	assert.Greater(t, p.Penalty(), c.Penalty())
}

func TestSpeakerScorer(t *testing.T) {
	g := grid()
	on := mustCurve(t, g, func(float64) float64 { return 85 })
	pir := mustCurve(t, g, func(f float64) float64 { return 85 - 2*math.Log2(f/100)/7 })

	s, err := Speaker{}.Score(Input{Response: on, PIR: pir})
	require.NoError(t, err)
	assert.Equal(t, "speaker", Speaker{}.Name())

	alone, err := Speaker{}.Score(Input{Response: on})
	require.NoError(t, err)
	// a straight tilted PIR is as smooth as a flat one
	assert.InDelta(t, alone, s, 0.5)

	_, err = NewSpeakerModel(curve.LogGrid(20, 200, 10))
	assert.True(t, errors.Is(err, ErrInsufficientData))
}
