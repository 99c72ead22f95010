package optimization

import (
	"math"
	"sync"
)

// Sphere is a convex test objective with its minimum 0 at the origin
func Sphere(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum
}

// Rosenbrock is the banana-valley test objective, minimum 0 at (1, ..., 1)
func Rosenbrock(x []float64) float64 {
	sum := 0.0
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum
}

// Rastrigin is a multimodal test objective, minimum 0 at the origin
func Rastrigin(x []float64) float64 {
	sum := 10.0 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

// UniformBounds returns n identical [lo, hi] bounds
func UniformBounds(n int, lo, hi float64) [][2]float64 {
	b := make([][2]float64, n)
	for i := range b {
		b[i] = [2]float64{lo, hi}
	}
	return b
}

// EvalRecorder wraps an objective and keeps a copy of every evaluated point
type EvalRecorder struct {
	mu     sync.Mutex
	fn     ObjectiveFunction
	points [][]float64
}

// NewEvalRecorder wraps fn
func NewEvalRecorder(fn ObjectiveFunction) *EvalRecorder {
	return &EvalRecorder{fn: fn}
}

// Objective returns the recording objective
func (r *EvalRecorder) Objective() ObjectiveFunction {
	return func(x []float64) float64 {
		r.mu.Lock()
		r.points = append(r.points, append([]float64(nil), x...))
		r.mu.Unlock()
		return r.fn(x)
	}
}

// Points returns the evaluated points in call order
func (r *EvalRecorder) Points() [][]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.points
}

// Count returns the number of evaluations
func (r *EvalRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}
