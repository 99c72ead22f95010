package optimization

import (
	"context"
	"math"
)

// Optimizer defines the interface for search algorithms
type Optimizer interface {
	// Name returns the algorithm identifier
	Name() string

	// Optimize runs the search over the problem until its budget is spent,
	// it converges, or it is cancelled.
	Optimize(ctx context.Context, problem Problem) (*OptimizationResult, error)
}

// ObjectiveFunction maps a parameter vector to a fitness value (lower is better)
type ObjectiveFunction func([]float64) float64

// Problem describes one bounded minimization run
type Problem struct {
	// Objective function to minimize
	Objective ObjectiveFunction

	// Bounds for each dimension [min, max]
	Bounds [][2]float64

	// MaxEvaluations caps the number of objective calls
	MaxEvaluations int

	// Initial is an optional starting point (used by local methods)
	Initial []float64

	// Progress is invoked at iteration boundaries; may be nil
	Progress ProgressFunc

	// Cancel is polled at iteration boundaries; may be nil
	Cancel *CancellationToken

	// Phase labels progress updates emitted for this problem
	Phase Phase
}

// Dim returns the dimensionality of the problem
func (p *Problem) Dim() int {
	return len(p.Bounds)
}

// Validate checks the problem definition before any evaluation
func (p *Problem) Validate() error {
	if p.Objective == nil {
		return NewInvalidConfig("objective function is required").WithOperation("Problem.Validate")
	}
	if len(p.Bounds) == 0 {
		return NewInvalidConfig("bounds are required").WithOperation("Problem.Validate")
	}
	for i, b := range p.Bounds {
		if math.IsNaN(b[0]) || math.IsNaN(b[1]) || math.IsInf(b[0], 0) || math.IsInf(b[1], 0) {
			return NewInvalidConfigf("bound %d is not finite: %v", i, b).WithOperation("Problem.Validate")
		}
		if b[0] > b[1] {
			return NewInvalidConfigf("bound %d has min > max: %v", i, b).WithOperation("Problem.Validate")
		}
	}
	if p.MaxEvaluations < 1 {
		return NewInvalidConfigf("max evaluations must be positive, got %d", p.MaxEvaluations).WithOperation("Problem.Validate")
	}
	if p.Initial != nil && len(p.Initial) != len(p.Bounds) {
		return NewInvalidConfigf("initial point has %d dims, bounds have %d", len(p.Initial), len(p.Bounds)).
			WithOperation("Problem.Validate")
	}
	return nil
}

// Solution represents a point in the search space and its fitness
type Solution struct {
	Parameters []float64 `json:"parameters"`
	Value      float64   `json:"value"`
}

// Clone returns a deep copy of the solution
func (s *Solution) Clone() *Solution {
	if s == nil {
		return nil
	}
	return &Solution{
		Parameters: append([]float64(nil), s.Parameters...),
		Value:      s.Value,
	}
}

// Evaluation records the best-so-far state at the end of one iteration
type Evaluation struct {
	Iteration   int     `json:"iteration"`
	Evaluations int     `json:"evaluations"`
	Best        float64 `json:"best"`
}

// Termination explains why a search stopped
type Termination string

const (
	TerminationMaxEvaluations Termination = "max_evaluations"
	TerminationConverged      Termination = "converged"
	TerminationCancelled      Termination = "cancelled"
	TerminationAborted        Termination = "aborted"
)

// Early reports whether the search was stopped by the caller
func (t Termination) Early() bool {
	return t == TerminationCancelled || t == TerminationAborted
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution    *Solution
	History         []Evaluation
	Iterations      int
	Evaluations     int
	NumericFailures int
	Termination     Termination
}

// Converged reports whether the run stopped on its convergence criterion
func (r *OptimizationResult) Converged() bool {
	return r.Termination == TerminationConverged
}

// Sanitize maps NaN and infinite fitness values to +Inf so that pathological
// candidates always lose selection.
func Sanitize(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.Inf(1), false
	}
	return v, true
}

// Clip clamps x into bounds in place
func Clip(x []float64, bounds [][2]float64) {
	for i := range x {
		if x[i] < bounds[i][0] {
			x[i] = bounds[i][0]
		} else if x[i] > bounds[i][1] {
			x[i] = bounds[i][1]
		}
	}
}
