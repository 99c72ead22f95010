package optimization

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWait = time.Second
	testTick = 5 * time.Millisecond
)

func TestProblemValidate(t *testing.T) {
	tests := []struct {
		name    string
		problem Problem
		wantErr bool
	}{
		{
			name:    "valid",
			problem: Problem{Objective: Sphere, Bounds: UniformBounds(2, -1, 1), MaxEvaluations: 10},
		},
		{
			name:    "pinned dimension is allowed",
			problem: Problem{Objective: Sphere, Bounds: [][2]float64{{0, 0}, {-1, 1}}, MaxEvaluations: 10},
		},
		{
			name:    "no objective",
			problem: Problem{Bounds: UniformBounds(2, -1, 1), MaxEvaluations: 10},
			wantErr: true,
		},
		{
			name:    "no bounds",
			problem: Problem{Objective: Sphere, MaxEvaluations: 10},
			wantErr: true,
		},
		{
			name:    "inverted bound",
			problem: Problem{Objective: Sphere, Bounds: [][2]float64{{1, -1}}, MaxEvaluations: 10},
			wantErr: true,
		},
		{
			name:    "infinite bound",
			problem: Problem{Objective: Sphere, Bounds: [][2]float64{{math.Inf(-1), 1}}, MaxEvaluations: 10},
			wantErr: true,
		},
		{
			name:    "zero budget",
			problem: Problem{Objective: Sphere, Bounds: UniformBounds(1, -1, 1)},
			wantErr: true,
		},
		{
			name: "initial point dimension mismatch",
			problem: Problem{
				Objective: Sphere, Bounds: UniformBounds(2, -1, 1), MaxEvaluations: 10,
				Initial: []float64{0},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.problem.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestErrorKinds(t *testing.T) {
	err := NewEmptyInput("no captured curve").WithComponent("autoeq").WithOperation("Optimize")
	assert.Equal(t, "autoeq: Optimize: no captured curve", err.Error())
	assert.True(t, errors.Is(err, ErrEmptyInput))
	assert.False(t, errors.Is(err, ErrInvalidConfig))

	wrapped := WrapError(err, "validation failed")
	assert.True(t, errors.Is(wrapped, ErrEmptyInput))
	assert.Equal(t, KindEmptyInput, wrapped.Kind)

	plain := WrapError(errors.New("boom"), "run failed")
	assert.Equal(t, KindInternal, plain.Kind)
	assert.Nil(t, WrapError(nil, "ignored"))

	oe, ok := IsOptimizationError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "validation failed", oe.Message)
}

func TestCancellationToken(t *testing.T) {
	var nilToken *CancellationToken
	assert.False(t, nilToken.IsSet())

	tok := NewCancellationToken()
	assert.False(t, tok.IsSet())
	tok.Set()
	assert.True(t, tok.IsSet())
	tok.Reset()
	assert.False(t, tok.IsSet())

	ctx, cancel := context.WithCancel(context.Background())
	stop := tok.Bind(ctx)
	defer stop()
	cancel()
	assert.Eventually(t, tok.IsSet, testWait, testTick)
}

func TestReporter(t *testing.T) {
	var updates []ProgressUpdate
	tok := NewCancellationToken()
	r := NewReporter(Problem{
		Progress: func(u ProgressUpdate) bool {
			updates = append(updates, u)
			return len(updates) < 2
		},
		Cancel: tok,
	})

	best := &Solution{Parameters: []float64{1, 2}, Value: 3}
	assert.Equal(t, Termination(""), r.Report(1, 10, best))
	best.Parameters[0] = 99
	require.Len(t, updates, 1)
	assert.Equal(t, PhaseGlobal, updates[0].Phase)
	assert.Equal(t, []float64{1, 2}, updates[0].BestParams, "update must not alias the live best")

	assert.Equal(t, TerminationAborted, r.Report(2, 20, best))
	assert.Len(t, updates, 2)

	// once aborted, the callback is not invoked again
	assert.Equal(t, TerminationAborted, r.Report(3, 30, best))
	assert.Len(t, updates, 2)

	r2 := NewReporter(Problem{Cancel: tok, Phase: PhaseRefine})
	assert.Equal(t, Termination(""), r2.Stopped())
	tok.Set()
	assert.Equal(t, TerminationCancelled, r2.Report(1, 1, nil))
}

func TestSanitizeAndClip(t *testing.T) {
	v, ok := Sanitize(math.NaN())
	assert.False(t, ok)
	assert.True(t, math.IsInf(v, 1))
	v, ok = Sanitize(math.Inf(-1))
	assert.False(t, ok)
	assert.True(t, math.IsInf(v, 1))
	v, ok = Sanitize(1.5)
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)

	x := []float64{-5, 0.5, 5}
	Clip(x, UniformBounds(3, -1, 1))
	assert.Equal(t, []float64{-1, 0.5, 1}, x)
}

func TestEvalRecorder(t *testing.T) {
	rec := NewEvalRecorder(Sphere)
	obj := rec.Objective()
	x := []float64{1, 2}
	assert.Equal(t, 5.0, obj(x))
	x[0] = 7
	require.Equal(t, 1, rec.Count())
	assert.Equal(t, []float64{1, 2}, rec.Points()[0])
	assert.Equal(t, 0.0, Rosenbrock([]float64{1, 1, 1}))
	assert.InDelta(t, 0.0, Rastrigin([]float64{0, 0}), 1e-12)
}
