// Package local polishes a point found by a global search with a bounded
// local method from gonum/optimize.
package local

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/autopeq/internal/optimization"
)

// Method selects the local algorithm
type Method string

const (
	// NelderMead is the derivative-free simplex method
	NelderMead Method = "neldermead"
	// LBFGS is limited-memory BFGS on central finite-difference gradients
	LBFGS Method = "lbfgs"
)

// ParseMethod maps a method name to a Method. "cobyla" is accepted as an
// alias for the derivative-free method.
func ParseMethod(name string) (Method, error) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(name)))
	switch key {
	case "", "neldermead", "nm", "cobyla", "simplex":
		return NelderMead, nil
	case "lbfgs", "bfgs":
		return LBFGS, nil
	}
	return "", fmt.Errorf("unknown local method %q", name)
}

// Config holds local refinement settings
type Config struct {
	Method Method
	// SimplexSize is the initial simplex edge in the unit cube
	SimplexSize float64
	// Tolerance is the absolute and relative function convergence tolerance
	Tolerance float64
	// Iterations is how many major iterations may pass without improvement
	Iterations int
}

// DefaultConfig returns Nelder-Mead settings suited to filter parameters
func DefaultConfig() Config {
	return Config{
		Method:      NelderMead,
		SimplexSize: 0.05,
		Tolerance:   1e-6,
		Iterations:  50,
	}
}

// Validate rejects unusable settings
func (c Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return optimization.NewInvalidConfigf(format, args...).WithComponent("local").WithOperation("Config.Validate")
	}
	if _, err := ParseMethod(string(c.Method)); err != nil {
		return fail("%v", err)
	}
	if c.SimplexSize <= 0 || c.SimplexSize > 1 {
		return fail("simplex size must be in (0, 1], got %v", c.SimplexSize)
	}
	if c.Tolerance < 0 {
		return fail("tolerance must be non-negative, got %v", c.Tolerance)
	}
	if c.Iterations < 1 {
		return fail("iterations must be positive, got %d", c.Iterations)
	}
	return nil
}

// Optimizer refines from Problem.Initial
type Optimizer struct {
	config Config
	logger *zap.Logger
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithLogger sets the logger used for run diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates a local optimizer
func New(config Config, opts ...Option) (*Optimizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.Method, _ = ParseMethod(string(config.Method))
	o := &Optimizer{config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("local")
	return o, nil
}

// Name returns the algorithm identifier
func (o *Optimizer) Name() string {
	return "local/" + string(o.config.Method)
}

var errStop = errors.New("local search stopped")

// refinement is the state of one run. gonum works in the unit cube; points
// are mapped back onto the bounds before every objective call.
type refinement struct {
	ctx      context.Context
	problem  optimization.Problem
	reporter *optimization.Reporter

	best     *optimization.Solution
	evals    int
	failures int
	iters    int
	history  []optimization.Evaluation
	term     optimization.Termination
	point    []float64
}

func (r *refinement) objective(u []float64) float64 {
	if r.term != "" {
		return math.Inf(1)
	}
	if r.evals >= r.problem.MaxEvaluations {
		r.term = optimization.TerminationMaxEvaluations
		return math.Inf(1)
	}
	fromUnit(r.point, u, r.problem.Bounds)
	r.evals++
	v, ok := optimization.Sanitize(r.problem.Objective(r.point))
	if !ok {
		r.failures++
	}
	if r.best == nil || v < r.best.Value {
		r.best = &optimization.Solution{Parameters: append([]float64(nil), r.point...), Value: v}
	}
	return v
}

// Init implements optimize.Recorder
func (r *refinement) Init() error { return nil }

// Record implements optimize.Recorder. Returning an error ends Minimize.
func (r *refinement) Record(_ *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if r.term != "" {
		return errStop
	}
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	r.iters++
	r.history = append(r.history, optimization.Evaluation{
		Iteration:   r.iters,
		Evaluations: r.evals,
		Best:        r.best.Value,
	})
	if t := r.reporter.Report(r.iters, r.evals, r.best); t != "" {
		r.term = t
		return errStop
	}
	if r.ctx.Err() != nil {
		r.term = optimization.TerminationCancelled
		return errStop
	}
	return nil
}

// Optimize refines Problem.Initial (the bounds centre when unset). The
// returned best is never worse than the starting point.
func (o *Optimizer) Optimize(ctx context.Context, problem optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := problem.Validate(); err != nil {
		return nil, err
	}
	if problem.Phase == "" {
		problem.Phase = optimization.PhaseRefine
	}

	r := &refinement{
		ctx:      ctx,
		problem:  problem,
		reporter: optimization.NewReporter(problem),
		point:    make([]float64, problem.Dim()),
	}

	start := make([]float64, problem.Dim())
	if problem.Initial != nil {
		x := append([]float64(nil), problem.Initial...)
		optimization.Clip(x, problem.Bounds)
		toUnit(start, x, problem.Bounds)
	} else {
		for i := range start {
			start[i] = 0.5
		}
	}

	// the start point is always evaluated so a best exists
	f0 := r.objective(start)
	if t := r.reporter.Stopped(); t != "" {
		r.term = t
	} else if ctx.Err() != nil {
		r.term = optimization.TerminationCancelled
	}

	if r.term == "" {
		p := optimize.Problem{Func: r.objective}
		settings := &optimize.Settings{
			Converger: &optimize.FunctionConverge{
				Absolute:   o.config.Tolerance,
				Relative:   o.config.Tolerance,
				Iterations: o.config.Iterations,
			},
			FuncEvaluations: problem.MaxEvaluations,
			Recorder:        r,
		}

		var method optimize.Method
		switch o.config.Method {
		case LBFGS:
			p.Grad = func(grad, u []float64) {
				fd.Gradient(grad, r.objective, u, &fd.Settings{Formula: fd.Central, Step: 1e-4})
			}
			method = &optimize.LBFGS{}
		default:
			// the simplex method needs no gradient, so the start value is reused
			settings.InitValues = &optimize.Location{F: f0}
			method = &optimize.NelderMead{SimplexSize: o.config.SimplexSize}
		}

		res, err := optimize.Minimize(p, start, settings, method)
		switch {
		case r.term != "":
		case err != nil:
			// line search failures and similar are ordinary ends for a polish step
			o.logger.Debug("local search ended with error", zap.Error(err))
			r.term = optimization.TerminationConverged
		case res.Status == optimize.FunctionEvaluationLimit:
			r.term = optimization.TerminationMaxEvaluations
		default:
			r.term = optimization.TerminationConverged
		}
	}

	o.logger.Info("local refinement finished",
		zap.String("method", string(o.config.Method)),
		zap.String("termination", string(r.term)),
		zap.Int("iterations", r.iters),
		zap.Int("evaluations", r.evals),
		zap.Float64("start", f0),
		zap.Float64("best", r.best.Value))

	return &optimization.OptimizationResult{
		BestSolution:    r.best.Clone(),
		History:         r.history,
		Iterations:      r.iters,
		Evaluations:     r.evals,
		NumericFailures: r.failures,
		Termination:     r.term,
	}, nil
}

func toUnit(dst, x []float64, bounds [][2]float64) {
	for i, b := range bounds {
		w := b[1] - b[0]
		if w == 0 {
			dst[i] = 0
			continue
		}
		dst[i] = (x[i] - b[0]) / w
	}
}

func fromUnit(dst, u []float64, bounds [][2]float64) {
	for i, b := range bounds {
		v := u[i]
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		dst[i] = b[0] + v*(b[1]-b[0])
	}
}
