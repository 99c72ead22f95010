// Package de implements differential evolution over bounded real vectors.
package de

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/autopeq/internal/optimization"
)

// Optimizer implements differential evolution
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

// New creates a differential evolution optimizer
func New(config Config, opts ...Option) (*Optimizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("de")
	return o, nil
}

// Name returns the algorithm identifier
func (o *Optimizer) Name() string {
	return "de/" + o.config.Strategy.String()
}

// run holds the mutable state of one Optimize call. Nothing in it is shared.
type run struct {
	problem  optimization.Problem
	rng      *rand.Rand
	pop      [][]float64
	fit      []float64
	fs, crs  []float64
	best     int
	evals    int
	failures int
}

func (r *run) eval(x []float64) float64 {
	r.evals++
	v, ok := optimization.Sanitize(r.problem.Objective(x))
	if !ok {
		r.failures++
	}
	return v
}

func (r *run) bestSolution() *optimization.Solution {
	return &optimization.Solution{
		Parameters: append([]float64(nil), r.pop[r.best]...),
		Value:      r.fit[r.best],
	}
}

// Optimize runs differential evolution. Cancellation through the token, the
// context, or the progress callback is not an error: the best individual
// found so far is returned with the matching termination reason.
func (o *Optimizer) Optimize(ctx context.Context, problem optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := problem.Validate(); err != nil {
		return nil, err
	}

	cfg := o.config
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	r := &run{
		problem: problem,
		rng:     rand.New(rand.NewSource(seed)),
	}
	np, dim := cfg.PopulationSize, problem.Dim()

	switch cfg.Init {
	case InitLatinHypercube:
		r.pop = latinHypercubeSample(r.rng, np, problem.Bounds)
	default:
		r.pop = uniformSample(r.rng, np, problem.Bounds)
	}

	// The initial population is always evaluated in full so that a best
	// individual exists even when the budget is smaller than np.
	r.fit = make([]float64, np)
	for i := range r.pop {
		r.fit[i] = r.eval(r.pop[i])
		if r.fit[i] < r.fit[r.best] {
			r.best = i
		}
	}

	if cfg.Adaptive {
		r.fs = make([]float64, np)
		r.crs = make([]float64, np)
		for i := range r.fs {
			r.fs[i] = cfg.F
			r.crs[i] = cfg.CR
		}
	}

	o.logger.Debug("population initialized",
		zap.Int("population", np),
		zap.Int("dimensions", dim),
		zap.String("strategy", cfg.Strategy.String()),
		zap.Float64("best", r.fit[r.best]),
		zap.Int64("seed", seed))

	reporter := optimization.NewReporter(problem)
	history := make([]optimization.Evaluation, 0, problem.MaxEvaluations/np+2)
	history = append(history, optimization.Evaluation{Iteration: 0, Evaluations: r.evals, Best: r.fit[r.best]})

	term := reporter.Report(0, r.evals, r.bestSolution())
	if term == "" && ctx.Err() != nil {
		term = optimization.TerminationCancelled
	}

	donors := make([]int, cfg.Strategy.donors())
	mutant := make([]float64, dim)
	trial := make([]float64, dim)
	generation := 0

	for term == "" {
		if r.evals >= problem.MaxEvaluations {
			term = optimization.TerminationMaxEvaluations
			break
		}
		generation++

		for i := 0; i < np && r.evals < problem.MaxEvaluations; i++ {
			f, cr := cfg.F, cfg.CR
			if cfg.Adaptive {
				f, cr = r.fs[i], r.crs[i]
				if r.rng.Float64() > cfg.AdaptiveWeightF {
					f = 0.1 + 0.9*r.rng.Float64()
				}
				if r.rng.Float64() > cfg.AdaptiveWeightCR {
					cr = r.rng.Float64()
				}
			}

			pickDistinct(r.rng, np, i, donors)
			cfg.Strategy.mutate(mutant, r.pop, i, r.best, donors, f)
			if cfg.Strategy.exponential() {
				crossoverExp(r.rng, trial, r.pop[i], mutant, cr)
			} else {
				crossoverBin(r.rng, trial, r.pop[i], mutant, cr)
			}
			optimization.Clip(trial, problem.Bounds)

			ft := r.eval(trial)
			// original wins ties
			if ft < r.fit[i] {
				copy(r.pop[i], trial)
				r.fit[i] = ft
				if cfg.Adaptive {
					r.fs[i], r.crs[i] = f, cr
				}
				if ft < r.fit[r.best] {
					r.best = i
				}
			}
		}

		bestValue := r.fit[r.best]
		history = append(history, optimization.Evaluation{
			Iteration:   generation,
			Evaluations: r.evals,
			Best:        bestValue,
		})

		o.logger.Debug("generation complete",
			zap.Int("generation", generation),
			zap.Int("evaluations", r.evals),
			zap.Float64("best", bestValue))

		if term = reporter.Report(generation, r.evals, r.bestSolution()); term != "" {
			break
		}
		if ctx.Err() != nil {
			term = optimization.TerminationCancelled
			break
		}
		if converged(history, cfg) {
			term = optimization.TerminationConverged
		}
	}

	o.logger.Info("differential evolution finished",
		zap.String("termination", string(term)),
		zap.Int("generations", generation),
		zap.Int("evaluations", r.evals),
		zap.Int("numeric_failures", r.failures),
		zap.Float64("best", r.fit[r.best]))

	return &optimization.OptimizationResult{
		BestSolution:    r.bestSolution(),
		History:         history,
		Iterations:      generation,
		Evaluations:     r.evals,
		NumericFailures: r.failures,
		Termination:     term,
	}, nil
}

// converged reports whether the best fitness improved by less than
// atol + tol*|best| over the last StagnationGenerations generations.
func converged(history []optimization.Evaluation, cfg Config) bool {
	w := cfg.StagnationGenerations
	if w <= 0 || len(history) <= w {
		return false
	}
	best := history[len(history)-1].Best
	old := history[len(history)-1-w].Best
	if math.IsInf(best, 0) {
		return false
	}
	return old-best <= cfg.AbsTolerance+cfg.Tolerance*math.Abs(best)
}

// pickDistinct fills out with distinct indices in [0, n) that differ from exclude
func pickDistinct(rng *rand.Rand, n, exclude int, out []int) {
	for k := range out {
		for {
			c := rng.Intn(n)
			if c == exclude || contains(out[:k], c) {
				continue
			}
			out[k] = c
			break
		}
	}
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// crossoverBin takes each dimension from the mutant with probability cr.
// One random dimension always comes from the mutant.
func crossoverBin(rng *rand.Rand, dst, target, mutant []float64, cr float64) {
	forced := rng.Intn(len(dst))
	for j := range dst {
		if j == forced || rng.Float64() < cr {
			dst[j] = mutant[j]
		} else {
			dst[j] = target[j]
		}
	}
}

// crossoverExp copies a run of consecutive (wrapping) dimensions from the
// mutant, starting at a random position, at least one long.
func crossoverExp(rng *rand.Rand, dst, target, mutant []float64, cr float64) {
	copy(dst, target)
	n := len(dst)
	j := rng.Intn(n)
	for l := 0; l < n; l++ {
		dst[j] = mutant[j]
		j = (j + 1) % n
		if rng.Float64() >= cr {
			break
		}
	}
}

func uniformSample(rng *rand.Rand, n int, bounds [][2]float64) [][]float64 {
	samples := make([][]float64, n)
	for i := range samples {
		samples[i] = make([]float64, len(bounds))
		for j, b := range bounds {
			samples[i][j] = b[0] + rng.Float64()*(b[1]-b[0])
		}
	}
	return samples
}

// latinHypercubeSample generates points using Latin Hypercube Sampling
func latinHypercubeSample(rng *rand.Rand, n int, bounds [][2]float64) [][]float64 {
	nDims := len(bounds)
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, nDims)
	}

	strata := make([]float64, n)
	for i := 0; i < nDims; i++ {
		// one point per stratum, strata shuffled per dimension
		for j := 0; j < n; j++ {
			strata[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})

		lo, hi := bounds[i][0], bounds[i][1]
		for j := 0; j < n; j++ {
			samples[j][i] = lo + strata[j]*(hi-lo)
		}
	}
	return samples
}
