// Package mayfly adapts the Mayfly family of swarm optimizers to the bounded
// search protocol used by the equalizer optimizer.
package mayfly

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	mf "github.com/cwbudde/mayfly"
	"go.uber.org/zap"

	"github.com/copyleftdev/autopeq/internal/optimization"
)

// Variant names one of the Mayfly algorithm flavours
type Variant string

const (
	VariantMA      Variant = "ma"
	VariantDESMA   Variant = "desma"
	VariantOLCE    Variant = "olce"
	VariantEOBBMA  Variant = "eobbma"
	VariantGSASMA  Variant = "gsasma"
	VariantMPMA    Variant = "mpma"
	VariantAOBLMOA Variant = "aoblmoa"
)

// Variants lists every supported variant
func Variants() []Variant {
	return []Variant{VariantMA, VariantDESMA, VariantOLCE, VariantEOBBMA, VariantGSASMA, VariantMPMA, VariantAOBLMOA}
}

// ParseVariant maps a name to a Variant
func ParseVariant(name string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(name)))
	if v == "" {
		return VariantMA, nil
	}
	for _, known := range Variants() {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unsupported mayfly variant %q", name)
}

// Config holds the Mayfly search settings
type Config struct {
	Variant Variant
	// Population is the size of both the male and female swarms
	Population int
	// RoundEvaluations caps one library run; the search restarts with a
	// fresh swarm until the problem budget is spent. 0 means one round.
	RoundEvaluations int
	// Seed for reproducibility; 0 seeds from the clock
	Seed int64
}

// DefaultConfig returns a small-swarm configuration
func DefaultConfig() Config {
	return Config{Variant: VariantDESMA, Population: 20}
}

// Validate rejects unusable settings
func (c Config) Validate() error {
	if _, err := ParseVariant(string(c.Variant)); err != nil {
		return optimization.NewInvalidConfig(err.Error()).WithComponent("mayfly").WithOperation("Config.Validate")
	}
	if c.Population < 2 {
		return optimization.NewInvalidConfigf("population must be at least 2, got %d", c.Population).
			WithComponent("mayfly").WithOperation("Config.Validate")
	}
	if c.RoundEvaluations < 0 {
		return optimization.NewInvalidConfigf("round evaluations must be non-negative, got %d", c.RoundEvaluations).
			WithComponent("mayfly").WithOperation("Config.Validate")
	}
	return nil
}

// Optimizer runs Mayfly rounds against a problem
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

// New creates a Mayfly optimizer
func New(config Config, opts ...Option) (*Optimizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Variant == "" {
		config.Variant = VariantMA
	}
	o := &Optimizer{config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("mayfly")
	return o, nil
}

// Name returns the algorithm identifier
func (o *Optimizer) Name() string {
	return "mayfly/" + string(o.config.Variant)
}

// search is the state of one Optimize call. The library calls the objective
// synchronously, so progress and cancellation are handled from inside it.
type search struct {
	ctx      context.Context
	problem  optimization.Problem
	reporter *optimization.Reporter
	pop      int

	best       *optimization.Solution
	evals      int
	failures   int
	generation int
	sinceTick  int
	history    []optimization.Evaluation
	term       optimization.Termination
	point      []float64
}

// penalty is returned once the run must stop so the library drains quickly
// without ever displacing the best position.
func (s *search) penalty() float64 {
	if s.best == nil || math.IsInf(s.best.Value, 1) {
		return math.MaxFloat64
	}
	return s.best.Value + 1
}

func (s *search) evaluate(x []float64) float64 {
	s.evals++
	v, ok := optimization.Sanitize(s.problem.Objective(x))
	if !ok {
		s.failures++
	}
	if s.best == nil || v < s.best.Value {
		s.best = &optimization.Solution{Parameters: append([]float64(nil), x...), Value: v}
	}
	return v
}

func (s *search) objective(pos []float64) float64 {
	if s.term != "" {
		return s.penalty()
	}
	if s.evals >= s.problem.MaxEvaluations {
		s.term = optimization.TerminationMaxEvaluations
		return s.penalty()
	}

	denormalize(s.point, pos, s.problem.Bounds)
	v := s.evaluate(s.point)

	s.sinceTick++
	if s.sinceTick >= s.pop {
		s.tick()
	}
	return v
}

// tick closes a pseudo-generation of pop evaluations
func (s *search) tick() {
	s.sinceTick = 0
	s.generation++
	s.history = append(s.history, optimization.Evaluation{
		Iteration:   s.generation,
		Evaluations: s.evals,
		Best:        s.best.Value,
	})
	if t := s.reporter.Report(s.generation, s.evals, s.best); t != "" {
		s.term = t
		return
	}
	if s.ctx.Err() != nil {
		s.term = optimization.TerminationCancelled
	}
}

// Optimize runs Mayfly rounds until the evaluation budget is spent or the
// run is stopped. Like differential evolution, stopping early is not an
// error.
func (o *Optimizer) Optimize(ctx context.Context, problem optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := problem.Validate(); err != nil {
		return nil, err
	}

	cfg := o.config
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &search{
		ctx:      ctx,
		problem:  problem,
		reporter: optimization.NewReporter(problem),
		pop:      cfg.Population,
		point:    make([]float64, problem.Dim()),
	}

	if problem.Initial != nil {
		x := append([]float64(nil), problem.Initial...)
		optimization.Clip(x, problem.Bounds)
		s.evaluate(x)
	}
	if t := s.reporter.Stopped(); t != "" {
		s.term = t
	} else if ctx.Err() != nil {
		s.term = optimization.TerminationCancelled
	}

	rounds := 0
	for s.term == "" && s.evals < problem.MaxEvaluations {
		budget := problem.MaxEvaluations - s.evals
		if cfg.RoundEvaluations > 0 && cfg.RoundEvaluations < budget {
			budget = cfg.RoundEvaluations
		}
		iters := budget / (2 * cfg.Population)
		if iters < 1 {
			iters = 1
		}

		mcfg, err := newLibraryConfig(cfg.Variant, cfg.Population, problem.Dim(), iters)
		if err != nil {
			return nil, optimization.WrapError(err, "mayfly setup failed").WithComponent("mayfly")
		}
		mcfg.Rand = rand.New(rand.NewSource(seed + int64(rounds)*7919))
		mcfg.ObjectiveFunc = s.objective

		before := s.evals
		if _, err := run(mcfg); err != nil {
			o.logger.Warn("mayfly round failed", zap.Int("round", rounds), zap.Error(err))
			if s.best == nil {
				return nil, optimization.WrapError(err, "mayfly round failed").WithComponent("mayfly")
			}
			break
		}
		rounds++
		o.logger.Debug("mayfly round complete",
			zap.Int("round", rounds),
			zap.Int("evaluations", s.evals),
			zap.Float64("best", s.best.Value))

		if s.evals == before {
			break
		}
	}
	if s.term == "" {
		s.term = optimization.TerminationMaxEvaluations
	}
	if s.best == nil {
		// stopped before the first evaluation: the budget still guarantees one
		x := make([]float64, problem.Dim())
		for i, b := range problem.Bounds {
			x[i] = (b[0] + b[1]) / 2
		}
		s.evaluate(x)
	}

	o.logger.Info("mayfly finished",
		zap.String("variant", string(cfg.Variant)),
		zap.String("termination", string(s.term)),
		zap.Int("rounds", rounds),
		zap.Int("evaluations", s.evals),
		zap.Int("numeric_failures", s.failures),
		zap.Float64("best", s.best.Value))

	return &optimization.OptimizationResult{
		BestSolution:    s.best.Clone(),
		History:         s.history,
		Iterations:      s.generation,
		Evaluations:     s.evals,
		NumericFailures: s.failures,
		Termination:     s.term,
	}, nil
}

func denormalize(dst, pos []float64, bounds [][2]float64) {
	for i, b := range bounds {
		p := pos[i]
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		dst[i] = b[0] + p*(b[1]-b[0])
	}
}

func newLibraryConfig(variant Variant, pop, dims, iters int) (*mf.Config, error) {
	var cfg *mf.Config
	switch variant {
	case VariantMA:
		cfg = mf.NewDefaultConfig()
	case VariantDESMA:
		cfg = mf.NewDESMAConfig()
	case VariantOLCE:
		cfg = mf.NewOLCEConfig()
	case VariantEOBBMA:
		cfg = mf.NewEOBBMAConfig()
	case VariantGSASMA:
		cfg = mf.NewGSASMAConfig()
	case VariantMPMA:
		cfg = mf.NewMPMAConfig()
	case VariantAOBLMOA:
		cfg = mf.NewAOBLMOAConfig()
	default:
		return nil, fmt.Errorf("unsupported variant %q", variant)
	}
	cfg.ProblemSize = dims
	cfg.LowerBound = 0.0
	cfg.UpperBound = 1.0
	cfg.MaxIterations = iters
	cfg.NPop = pop
	cfg.NPopF = pop
	// the library draws NC/2 parent pairs from both swarms
	cfg.NC = 2 * pop
	cfg.NM = max(1, int(math.Round(0.05*float64(pop))))
	return cfg, nil
}

func run(cfg *mf.Config) (_ *mf.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mf.Optimize(cfg)
}
