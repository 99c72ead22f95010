package autoeq

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/autopeq/internal/curve"
	"github.com/copyleftdev/autopeq/internal/loss"
	"github.com/copyleftdev/autopeq/internal/optimization"
	"github.com/copyleftdev/autopeq/internal/optimization/de"
	"github.com/copyleftdev/autopeq/internal/peq"
	"github.com/copyleftdev/autopeq/internal/score"
)

// dipInput is flat 0 dB except a -6 dB dip about an octave wide at 1 kHz.
// It is the exact inverse of one peak filter, so one band can correct it.
func dipInput(n int) *curve.Data {
	freq := curve.LogGrid(20, 20000, n)
	spl := peq.Response([]peq.Filter{{Type: peq.Peak, Freq: 1000, Q: 1.4, Gain: 6}}, freq, 48000)
	for i := range spl {
		spl[i] = -spl[i]
	}
	return &curve.Data{Freq: freq, SPL: spl}
}

func dipConfig(seed int64) Config {
	cfg := DefaultConfig()
	cfg.NumFilters = 1
	cfg.Loss = loss.Flat
	cfg.MinFreq = 20
	cfg.MaxFreq = 20000
	cfg.MinQ = 0.5
	cfg.MaxQ = 5
	cfg.MinGain = -12
	cfg.MaxGain = 12
	cfg.MaxEval = 3000
	cfg.Smooth = false
	cfg.Seed = seed
	cfg.Input = dipInput(20)
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, dipConfig(1).Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		kind   error
	}{
		{"no input", func(c *Config) { c.Input = nil }, optimization.ErrEmptyInput},
		{"empty input", func(c *Config) { c.Input = &curve.Data{} }, optimization.ErrEmptyInput},
		{"no filters", func(c *Config) { c.NumFilters = 0 }, optimization.ErrInvalidConfig},
		{"too many filters", func(c *Config) { c.NumFilters = MaxFilters + 1 }, optimization.ErrInvalidConfig},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, optimization.ErrInvalidConfig},
		{"inverted freq bounds", func(c *Config) { c.MinFreq, c.MaxFreq = 1000, 100 }, optimization.ErrInvalidConfig},
		{"above nyquist", func(c *Config) { c.MaxFreq = 30000 }, optimization.ErrInvalidConfig},
		{"at nyquist", func(c *Config) { c.MaxFreq = c.SampleRate / 2 }, optimization.ErrInvalidConfig},
		{"negative min_db", func(c *Config) { c.MinDB = -1 }, optimization.ErrInvalidConfig},
		{"min_db above gain bounds", func(c *Config) { c.MinDB = 12 }, optimization.ErrInvalidConfig},
		{"zero min q", func(c *Config) { c.MinQ = 0 }, optimization.ErrInvalidConfig},
		{"inverted gain", func(c *Config) { c.MinGain, c.MaxGain = 3, -3 }, optimization.ErrInvalidConfig},
		{"no budget", func(c *Config) { c.MaxEval = 0 }, optimization.ErrInvalidConfig},
		{"small population", func(c *Config) { c.Population = 3 }, optimization.ErrInvalidConfig},
		{"negative spacing", func(c *Config) { c.SpacingW = -1 }, optimization.ErrInvalidConfig},
		{"zero smoothing", func(c *Config) { c.Smooth, c.SmoothN = true, 0 }, optimization.ErrInvalidConfig},
		{"negative tolerance", func(c *Config) { c.Tolerance = -1 }, optimization.ErrInvalidConfig},
		{"unknown algorithm", func(c *Config) { c.Algorithm = "pso" }, optimization.ErrInvalidConfig},
		{"unknown mayfly variant", func(c *Config) { c.Algorithm = "mayfly:nope" }, optimization.ErrInvalidConfig},
		{"unknown init", func(c *Config) { c.Init = "sobol" }, optimization.ErrInvalidConfig},
		{"unknown local method", func(c *Config) { c.LocalAlgo = "powell" }, optimization.ErrInvalidConfig},
		{
			"duplicate input frequency",
			func(c *Config) { c.Input = &curve.Data{Freq: []float64{100, 100, 200}, SPL: []float64{0, 0, 0}} },
			optimization.ErrInvalidConfig,
		},
		{
			"mismatched target",
			func(c *Config) { c.Target = &curve.Data{Freq: []float64{100, 200}, SPL: []float64{0}} },
			optimization.ErrInvalidConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := dipConfig(1)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestOptimizeInvalidConfig(t *testing.T) {
	cfg := dipConfig(1)
	cfg.NumFilters = 0
	res, err := Optimize(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorMessage)
	assert.Empty(t, res.Filters)
}

func TestDipCorrection(t *testing.T) {
	for _, refine := range []bool{false, true} {
		name := "global"
		if refine {
			name = "refined"
		}
		t.Run(name, func(t *testing.T) {
			cfg := dipConfig(42)
			cfg.Refine = refine
			res, err := Optimize(context.Background(), cfg, nil, nil)
			require.NoError(t, err)
			require.True(t, res.Success)
			require.Len(t, res.Filters, 1)

			f := res.Filters[0]
			assert.Equal(t, peq.Peak, f.Type)
			assert.InDelta(t, 1000, f.Freq, 400, "filter %s", f)
			assert.InDelta(t, 6, f.Gain, 1.5, "filter %s", f)
			assert.Less(t, res.ObjectiveValue, 0.5)
			assert.LessOrEqual(t, res.Evaluations, cfg.MaxEval+cfg.RefineEval)
			assert.False(t, res.EarlyTermination)
			assert.Equal(t, "de/"+cfg.Strategy.String(), res.Algorithm)

			c := res.Curves
			require.NotNil(t, c)
			require.Len(t, c.Freq, 20)
			for i := range c.Freq {
				assert.InDelta(t, c.Input[i]+c.FilterResponse[i], c.Corrected[i], 1e-12)
				assert.Equal(t, 0.0, c.Target[i])
				assert.Less(t, math.Abs(c.Deviation[i]), 1.5)
			}
			assert.Nil(t, res.Scores, "flat loss scores nothing by default")
		})
	}
}

func TestRefineNeverWorsens(t *testing.T) {
	cfg := dipConfig(5)
	cfg.MaxEval = 200
	global, err := Optimize(context.Background(), cfg, nil, nil)
	require.NoError(t, err)

	cfg.Refine = true
	refined, err := Optimize(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, refined.ObjectiveValue, global.ObjectiveValue)
	assert.Greater(t, refined.Evaluations, global.Evaluations)
}

func TestMayfly(t *testing.T) {
	cfg := dipConfig(11)
	cfg.Algorithm = "mayfly:desma"
	cfg.Population = 10
	cfg.MaxEval = 2000
	res, err := Optimize(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "mayfly/desma", res.Algorithm)
	assert.LessOrEqual(t, res.Evaluations, cfg.MaxEval)

	// an inactive band leaves the full dip, about 1.6 dB RMS on this grid
	assert.Less(t, res.ObjectiveValue, 1.0)
}

func TestDeterministic(t *testing.T) {
	cfg := dipConfig(7)
	cfg.MaxEval = 600
	cfg.Refine = true
	a, err := Optimize(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	b, err := Optimize(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Parameters, b.Parameters)
	assert.Equal(t, a.ObjectiveValue, b.ObjectiveValue)
	assert.Equal(t, a.History, b.History)
}

func TestPreCancelled(t *testing.T) {
	cfg := dipConfig(3)
	token := optimization.NewCancellationToken()
	token.Set()

	res, err := Optimize(context.Background(), cfg, nil, token)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.EarlyTermination)
	assert.Equal(t, optimization.TerminationCancelled, res.Termination)
	assert.Equal(t, cfg.Population, res.Evaluations)
	assert.Len(t, res.Filters, 1)
}

func TestContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := dipConfig(3)
	cfg.Refine = true

	res, err := Optimize(ctx, cfg, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, optimization.TerminationCancelled, res.Termination)
	assert.False(t, res.Refined)
}

func TestProgressAbort(t *testing.T) {
	cfg := dipConfig(3)
	cfg.Refine = true
	var updates []optimization.ProgressUpdate
	progress := func(u optimization.ProgressUpdate) bool {
		updates = append(updates, u)
		return u.Iteration < 2
	}

	res, err := Optimize(context.Background(), cfg, progress, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, optimization.TerminationAborted, res.Termination)
	assert.Equal(t, 2, res.Generations)
	assert.Equal(t, 3*cfg.Population, res.Evaluations)
	require.Len(t, updates, 3)
	for i, u := range updates {
		assert.Equal(t, optimization.PhaseGlobal, u.Phase)
		assert.Equal(t, i, u.Iteration)
		assert.Len(t, u.BestParams, 3)
		if i > 0 {
			assert.LessOrEqual(t, u.BestFitness, updates[i-1].BestFitness)
		}
	}
}

func TestRefineProgressPhase(t *testing.T) {
	cfg := dipConfig(3)
	cfg.MaxEval = 90
	cfg.Refine = true
	cfg.RefineEval = 100
	phases := map[optimization.Phase]int{}
	_, err := Optimize(context.Background(), cfg, func(u optimization.ProgressUpdate) bool {
		phases[u.Phase]++
		return true
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, phases[optimization.PhaseGlobal])
	assert.Positive(t, phases[optimization.PhaseRefine])
}

func TestScores(t *testing.T) {
	cfg := dipConfig(9)
	cfg.Input = dipInput(120)
	cfg.Loss = loss.SpeakerFlat
	cfg.MinFreq = 60
	cfg.MaxFreq = 16000
	res, err := Optimize(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Scores)
	assert.Equal(t, "speaker", res.Scores.Scorer)
	assert.Greater(t, res.Scores.After, res.Scores.Before)

	cfg.Loss = loss.Flat
	res, err = Optimize(context.Background(), cfg, nil, nil, WithScorer(score.Headphone{}))
	require.NoError(t, err)
	require.NotNil(t, res.Scores)
	assert.Equal(t, "headphone", res.Scores.Scorer)
	assert.Greater(t, res.Scores.After, res.Scores.Before)
}

func TestConfigJSON(t *testing.T) {
	raw := `{
		"num_filters": 3,
		"sample_rate": 44100,
		"peq_model": "hp-pk-lp",
		"loss": "headphone_flat",
		"min_freq": 20, "max_freq": 20000,
		"min_q": 0.5, "max_q": 6,
		"min_gain": -6, "max_gain": 6,
		"algo": "autoeq:de",
		"population": 20,
		"maxeval": 500,
		"strategy": "rand1bin",
		"local_algo": "cobyla",
		"input": {"freq": [20, 1000, 20000], "spl": [0, -3, 0]}
	}`
	cfg := DefaultConfig()
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	assert.Equal(t, peq.HpPkLp, cfg.PEQModel)
	assert.Equal(t, loss.HeadphoneFlat, cfg.Loss)
	assert.Equal(t, 0.8, cfg.F, "unset fields keep their defaults")
	require.NoError(t, cfg.Validate())

	res, err := Optimize(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Filters, 3)
	types := map[peq.FilterType]int{}
	for _, f := range res.Filters {
		types[f.Type]++
	}
	assert.Equal(t, map[peq.FilterType]int{peq.HighPass: 1, peq.Peak: 1, peq.LowPass: 1}, types)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"success":true`)
	assert.Contains(t, string(out), `"type":"HP"`)

	bad := DefaultConfig()
	assert.Error(t, json.Unmarshal([]byte(`{"loss":"loudest"}`), &bad))
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		filters  int
		loss     loss.Kind
		gain     float64
		q        [2]float64
		freq     [2]float64
		spacing  float64
		spacingW float64
		smoothN  int
	}{
		{"default", DefaultConfig(), 5, loss.SpeakerFlat, 3, [2]float64{1, 3}, [2]float64{60, 16000}, 0.5, 20, 1},
		{"speaker", SpeakerDefaults(), 7, loss.Flat, 3, [2]float64{1, 3}, [2]float64{60, 16000}, 0.5, 20, 1},
		{"room", RoomDefaults(), 10, loss.Flat, 6, [2]float64{1, 10}, [2]float64{20, 500}, 0.25, 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			assert.Equal(t, tt.filters, cfg.NumFilters)
			assert.Equal(t, tt.loss, cfg.Loss)
			assert.Equal(t, -tt.gain, cfg.MinGain)
			assert.Equal(t, tt.gain, cfg.MaxGain)
			assert.Equal(t, 1.0, cfg.MinDB)
			assert.Equal(t, tt.q, [2]float64{cfg.MinQ, cfg.MaxQ})
			assert.Equal(t, tt.freq, [2]float64{cfg.MinFreq, cfg.MaxFreq})
			assert.Equal(t, tt.spacing, cfg.MinSpacing)
			assert.Equal(t, tt.spacingW, cfg.SpacingW)
			assert.Equal(t, tt.smoothN, cfg.SmoothN)
			assert.Equal(t, 48000.0, cfg.SampleRate)
			assert.Equal(t, peq.Pk, cfg.PEQModel)
			assert.Equal(t, de.CurrentToBest1Bin, cfg.Strategy)
			assert.Equal(t, [2]float64{0.8, 0.7}, [2]float64{cfg.WeightF, cfg.WeightCR})
			assert.False(t, cfg.Refine)

			cfg.Input = dipInput(40)
			assert.NoError(t, cfg.Validate())
		})
	}
}
