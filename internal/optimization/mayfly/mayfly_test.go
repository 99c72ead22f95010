package mayfly

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/autopeq/internal/optimization"
)

func TestParseVariant(t *testing.T) {
	for _, v := range Variants() {
		got, err := ParseVariant(string(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	v, err := ParseVariant(" DESMA ")
	require.NoError(t, err)
	assert.Equal(t, VariantDESMA, v)

	_, err = ParseVariant("pso")
	assert.Error(t, err)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Variant: VariantMA, Population: 1})
	assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))

	_, err = New(Config{Variant: "swarm", Population: 10})
	assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))
}

func TestBudgetAndBounds(t *testing.T) {
	bounds := [][2]float64{{-1, 1}, {10, 20}, {3, 3}}
	for _, v := range Variants() {
		t.Run(string(v), func(t *testing.T) {
			rec := optimization.NewEvalRecorder(optimization.Sphere)
			opt, err := New(Config{Variant: v, Population: 10, RoundEvaluations: 200, Seed: 4})
			require.NoError(t, err)

			res, err := opt.Optimize(context.Background(), optimization.Problem{
				Objective:      rec.Objective(),
				Bounds:         bounds,
				MaxEvaluations: 500,
			})
			require.NoError(t, err)
			assert.LessOrEqual(t, rec.Count(), 500)
			assert.Equal(t, rec.Count(), res.Evaluations)
			for _, p := range rec.Points() {
				for j, b := range bounds {
					assert.GreaterOrEqual(t, p[j], b[0])
					assert.LessOrEqual(t, p[j], b[1])
				}
			}
			for i := 1; i < len(res.History); i++ {
				assert.LessOrEqual(t, res.History[i].Best, res.History[i-1].Best)
			}
		})
	}
}

func TestFindsSphereMinimum(t *testing.T) {
	opt, err := New(Config{Variant: VariantDESMA, Population: 20, Seed: 17})
	require.NoError(t, err)
	res, err := opt.Optimize(context.Background(), optimization.Problem{
		Objective:      optimization.Sphere,
		Bounds:         optimization.UniformBounds(3, -5, 5),
		MaxEvaluations: 8000,
	})
	require.NoError(t, err)
	assert.Less(t, res.BestSolution.Value, 0.1)
}

func TestDeterministic(t *testing.T) {
	run := func() *optimization.OptimizationResult {
		opt, err := New(Config{Variant: VariantMA, Population: 10, Seed: 99})
		require.NoError(t, err)
		res, err := opt.Optimize(context.Background(), optimization.Problem{
			Objective:      optimization.Rastrigin,
			Bounds:         optimization.UniformBounds(2, -5, 5),
			MaxEvaluations: 1000,
		})
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.BestSolution, b.BestSolution)
	assert.Equal(t, a.Evaluations, b.Evaluations)
}

func TestStopping(t *testing.T) {
	t.Run("pre-cancelled", func(t *testing.T) {
		tok := optimization.NewCancellationToken()
		tok.Set()
		opt, err := New(Config{Variant: VariantMA, Population: 10, Seed: 1})
		require.NoError(t, err)

		res, err := opt.Optimize(context.Background(), optimization.Problem{
			Objective:      optimization.Sphere,
			Bounds:         optimization.UniformBounds(2, -1, 1),
			MaxEvaluations: 1000,
			Cancel:         tok,
		})
		require.NoError(t, err)
		assert.Equal(t, optimization.TerminationCancelled, res.Termination)
		assert.Equal(t, 1, res.Evaluations)
		require.NotNil(t, res.BestSolution)
		assert.Len(t, res.BestSolution.Parameters, 2)
	})

	t.Run("callback abort", func(t *testing.T) {
		opt, err := New(Config{Variant: VariantMA, Population: 10, Seed: 1})
		require.NoError(t, err)

		res, err := opt.Optimize(context.Background(), optimization.Problem{
			Objective:      optimization.Sphere,
			Bounds:         optimization.UniformBounds(2, -1, 1),
			MaxEvaluations: 5000,
			Progress: func(u optimization.ProgressUpdate) bool {
				return u.Iteration < 3
			},
		})
		require.NoError(t, err)
		assert.Equal(t, optimization.TerminationAborted, res.Termination)
		assert.Equal(t, 3, res.Iterations)
		assert.Equal(t, 30, res.Evaluations)
	})

	t.Run("initial point seeds the best", func(t *testing.T) {
		tok := optimization.NewCancellationToken()
		tok.Set()
		opt, err := New(Config{Variant: VariantMA, Population: 10, Seed: 1})
		require.NoError(t, err)

		res, err := opt.Optimize(context.Background(), optimization.Problem{
			Objective:      optimization.Sphere,
			Bounds:         optimization.UniformBounds(2, -1, 1),
			MaxEvaluations: 1000,
			Initial:        []float64{0.25, -0.5},
			Cancel:         tok,
		})
		require.NoError(t, err)
		assert.Equal(t, []float64{0.25, -0.5}, res.BestSolution.Parameters)
	})
}
