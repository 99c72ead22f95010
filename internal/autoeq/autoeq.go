// Package autoeq runs a complete equalizer optimization: it validates the
// configuration, builds the objective, runs the global search and the
// optional local refinement, and assembles the decoded result.
package autoeq

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/autopeq/internal/curve"
	"github.com/copyleftdev/autopeq/internal/loss"
	"github.com/copyleftdev/autopeq/internal/optimization"
	"github.com/copyleftdev/autopeq/internal/optimization/de"
	"github.com/copyleftdev/autopeq/internal/optimization/local"
	"github.com/copyleftdev/autopeq/internal/optimization/mayfly"
	"github.com/copyleftdev/autopeq/internal/peq"
	"github.com/copyleftdev/autopeq/internal/score"
)

// Scores are preference ratings of the response before and after EQ
type Scores struct {
	Scorer string  `json:"scorer"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// Curves are the diagnostic curves of a finished run, all on the input grid
type Curves struct {
	Freq           []float64 `json:"freq"`
	Input          []float64 `json:"input"`
	Target         []float64 `json:"target"`
	FilterResponse []float64 `json:"filter_response"`
	Corrected      []float64 `json:"corrected"`
	Deviation      []float64 `json:"deviation"`
}

// Result is the outcome of Optimize
type Result struct {
	Success          bool                      `json:"success"`
	ErrorMessage     string                    `json:"error_message,omitempty"`
	Filters          []peq.Filter              `json:"filters,omitempty"`
	Parameters       []float64                 `json:"parameters,omitempty"`
	ObjectiveValue   float64                   `json:"objective_value"`
	Scores           *Scores                   `json:"scores,omitempty"`
	Curves           *Curves                   `json:"curves,omitempty"`
	Termination      optimization.Termination  `json:"termination,omitempty"`
	EarlyTermination bool                      `json:"early_termination"`
	Evaluations      int                       `json:"evaluations"`
	Generations      int                       `json:"generations"`
	NumericFailures  int                       `json:"numeric_failures"`
	Refined          bool                      `json:"refined"`
	Algorithm        string                    `json:"algorithm,omitempty"`
	Duration         time.Duration             `json:"duration"`
	History          []optimization.Evaluation `json:"history,omitempty"`
}

// Option customizes a single Optimize call
type Option func(*runner)

// WithLogger sets the logger for the run and the searches it drives
func WithLogger(logger *zap.Logger) Option {
	return func(r *runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithScorer overrides the preference scorer picked from the loss family
func WithScorer(s score.Scorer) Option {
	return func(r *runner) {
		r.scorer = s
	}
}

type runner struct {
	logger *zap.Logger
	scorer score.Scorer
}

func defaultScorer(k loss.Kind) score.Scorer {
	switch k.Family() {
	case loss.FamilySpeaker:
		return score.Speaker{}
	case loss.FamilyHeadphone:
		return score.Headphone{}
	}
	return nil
}

// Optimize runs the full pipeline for cfg. progress and token may be nil; ctx
// is bridged onto the token so cancelling it stops the run at the next
// iteration boundary. A stopped run is still a successful run carrying the
// best filters found so far.
func Optimize(ctx context.Context, cfg Config, progress optimization.ProgressFunc, token *optimization.CancellationToken, opts ...Option) (*Result, error) {
	start := time.Now()
	r := &runner{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	logger := r.logger.Named("autoeq")

	res, err := r.optimize(ctx, cfg, progress, token, logger)
	if err != nil {
		logger.Warn("optimization failed", zap.Error(err))
		return &Result{Success: false, ErrorMessage: err.Error(), Duration: time.Since(start)}, err
	}
	res.Duration = time.Since(start)
	logger.Info("optimization finished",
		zap.Float64("objective", res.ObjectiveValue),
		zap.Int("evaluations", res.Evaluations),
		zap.String("termination", string(res.Termination)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (r *runner) optimize(ctx context.Context, cfg Config, progress optimization.ProgressFunc, token *optimization.CancellationToken, logger *zap.Logger) (*Result, error) {
	cv, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	layout := peq.NewLayout(cfg.PEQModel, cfg.NumFilters)
	obj, err := loss.New(loss.Setup{
		Kind:          cfg.Loss,
		Input:         cv.input,
		Target:        cv.target,
		PIR:           cv.pir,
		SoundPower:    cv.soundPower,
		Layout:        layout,
		SampleRate:    cfg.SampleRate,
		MinFreq:       cfg.MinFreq,
		MaxFreq:       cfg.MaxFreq,
		MinSpacingOct: cfg.MinSpacing,
		SpacingWeight: cfg.SpacingW,
		MinGainDB:     cfg.MinDB,
		SmoothN:       cfg.smoothN(),
	})
	if err != nil {
		return nil, err
	}

	if token == nil {
		token = optimization.NewCancellationToken()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	stop := token.Bind(ctx)
	defer stop()

	global, err := r.globalOptimizer(cfg, logger)
	if err != nil {
		return nil, err
	}
	bounds := layout.Bounds(cfg.limits())

	logger.Info("global search started",
		zap.String("algorithm", global.Name()),
		zap.String("loss", cfg.Loss.String()),
		zap.String("peq_model", cfg.PEQModel.String()),
		zap.Int("num_filters", cfg.NumFilters),
		zap.Int("dim", len(bounds)),
		zap.Int("maxeval", cfg.MaxEval),
	)
	gres, err := global.Optimize(ctx, optimization.Problem{
		Objective:      obj.Evaluate,
		Bounds:         bounds,
		MaxEvaluations: cfg.MaxEval,
		Progress:       progress,
		Cancel:         token,
		Phase:          optimization.PhaseGlobal,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Algorithm:       global.Name(),
		Termination:     gres.Termination,
		Evaluations:     gres.Evaluations,
		Generations:     gres.Iterations,
		NumericFailures: gres.NumericFailures,
		History:         gres.History,
	}
	best := gres.BestSolution

	if cfg.Refine && !gres.Termination.Early() {
		refined, err := r.refine(ctx, cfg, obj.Evaluate, bounds, best, progress, token, logger)
		if err != nil {
			return nil, err
		}
		res.Evaluations += refined.Evaluations
		res.NumericFailures += refined.NumericFailures
		if refined.Termination.Early() {
			res.Termination = refined.Termination
		}
		if refined.BestSolution != nil && refined.BestSolution.Value <= best.Value {
			best = refined.BestSolution
			res.Refined = true
		}
	}

	res.EarlyTermination = res.Termination.Early()
	res.Parameters = append([]float64(nil), best.Parameters...)
	res.ObjectiveValue = best.Value
	res.Filters = layout.DecodeSorted(best.Parameters)
	res.Curves = diagnostics(cv, obj, res.Filters, cfg.SampleRate)

	scorer := r.scorer
	if scorer == nil {
		scorer = defaultScorer(cfg.Loss)
	}
	if scorer != nil {
		s, err := scores(scorer, cv, res.Curves)
		if err != nil {
			logger.Debug("preference score unavailable", zap.String("scorer", scorer.Name()), zap.Error(err))
		} else {
			res.Scores = s
		}
	}

	res.Success = true
	return res, nil
}

func (r *runner) globalOptimizer(cfg Config, logger *zap.Logger) (optimization.Optimizer, error) {
	family, variant, err := cfg.Algorithm.parse()
	if err != nil {
		return nil, optimization.NewInvalidConfig(err.Error()).WithComponent("autoeq")
	}
	if family == "mayfly" {
		return mayfly.New(mayfly.Config{
			Variant:    variant,
			Population: cfg.Population,
			Seed:       cfg.Seed,
		}, mayfly.WithLogger(logger))
	}
	return de.New(cfg.deConfig(), de.WithLogger(logger))
}

func (r *runner) refine(ctx context.Context, cfg Config, f optimization.ObjectiveFunction, bounds [][2]float64,
	start *optimization.Solution, progress optimization.ProgressFunc, token *optimization.CancellationToken,
	logger *zap.Logger) (*optimization.OptimizationResult, error) {
	lcfg := local.DefaultConfig()
	lcfg.Method = cfg.LocalAlgo
	opt, err := local.New(lcfg, local.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	logger.Info("refinement started",
		zap.String("algorithm", opt.Name()),
		zap.Float64("start", start.Value),
		zap.Int("maxeval", cfg.RefineEval),
	)
	return opt.Optimize(ctx, optimization.Problem{
		Objective:      f,
		Bounds:         bounds,
		MaxEvaluations: cfg.RefineEval,
		Initial:        start.Parameters,
		Progress:       progress,
		Cancel:         token,
		Phase:          optimization.PhaseRefine,
	})
}

func diagnostics(cv *curves, obj *loss.Objective, filters []peq.Filter, sampleRate float64) *Curves {
	freq := cv.input.Freq()
	in := cv.input.SPL()
	c := &Curves{
		Freq:           freq,
		Input:          in,
		Target:         make([]float64, len(freq)),
		FilterResponse: peq.Response(filters, freq, sampleRate),
		Corrected:      make([]float64, len(freq)),
		Deviation:      obj.Deviation(filters),
	}
	for i, f := range freq {
		if cv.target != nil {
			c.Target[i] = cv.target.At(f)
		}
		c.Corrected[i] = in[i] + c.FilterResponse[i]
	}
	return c
}

var errNonFinite = errors.New("equalized response is not finite")

func scores(s score.Scorer, cv *curves, c *Curves) (*Scores, error) {
	before, err := s.Score(score.Input{
		Response:   cv.input,
		Target:     cv.target,
		PIR:        cv.pir,
		SoundPower: cv.soundPower,
	})
	if err != nil {
		return nil, err
	}
	for _, v := range c.FilterResponse {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errNonFinite
		}
	}
	eq, err := curve.New(c.Freq, c.FilterResponse)
	if err != nil {
		return nil, err
	}
	withEQ := func(k *curve.Curve) *curve.Curve {
		if k == nil {
			return nil
		}
		return k.Add(eq)
	}
	after, err := s.Score(score.Input{
		Response:   cv.input.Add(eq),
		Target:     cv.target,
		PIR:        withEQ(cv.pir),
		SoundPower: withEQ(cv.soundPower),
	})
	if err != nil {
		return nil, err
	}
	return &Scores{Scorer: s.Name(), Before: before, After: after}, nil
}
