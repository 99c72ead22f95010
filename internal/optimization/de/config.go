package de

import (
	"fmt"
	"strings"

	"github.com/copyleftdev/autopeq/internal/optimization"
)

const minPopulation = 4

// Init selects how the first population is sampled
type Init int

const (
	InitUniform Init = iota
	InitLatinHypercube
)

// ParseInit maps "uniform" or "lhs"/"latin-hypercube" to an Init
func ParseInit(name string) (Init, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "uniform", "random":
		return InitUniform, nil
	case "lhs", "latin-hypercube", "latinhypercube":
		return InitLatinHypercube, nil
	}
	return 0, fmt.Errorf("unknown population init: %q", name)
}

func (i Init) String() string {
	if i == InitLatinHypercube {
		return "lhs"
	}
	return "uniform"
}

// Config holds the differential evolution hyperparameters
type Config struct {
	// PopulationSize is the number of individuals, at least 4
	PopulationSize int
	// F is the mutation (differential weight) factor
	F float64
	// CR is the binomial/exponential crossover probability
	CR float64
	// Strategy picks the mutation/crossover variant
	Strategy Strategy
	// Adaptive enables per-individual self-adaptation of F and CR
	Adaptive bool
	// AdaptiveWeightF is the probability an individual keeps its F
	AdaptiveWeightF float64
	// AdaptiveWeightCR is the probability an individual keeps its CR
	AdaptiveWeightCR float64
	// Tolerance is the relative convergence tolerance
	Tolerance float64
	// AbsTolerance is the absolute convergence tolerance
	AbsTolerance float64
	// StagnationGenerations is the sliding window, in generations, over
	// which improvement is measured. 0 disables the convergence test.
	StagnationGenerations int
	// Init selects the initial sampler
	Init Init
	// Seed for reproducibility; 0 seeds from the clock
	Seed int64
}

// DefaultConfig returns the defaults used by the equalizer optimizer
func DefaultConfig() Config {
	return Config{
		PopulationSize:        30,
		F:                     0.8,
		CR:                    0.9,
		Strategy:              CurrentToBest1Bin,
		AdaptiveWeightF:       0.8,
		AdaptiveWeightCR:      0.7,
		Tolerance:             1e-3,
		AbsTolerance:          1e-4,
		StagnationGenerations: 30,
	}
}

// Validate rejects inconsistent hyperparameters
func (c Config) Validate() error {
	const op = "Config.Validate"
	fail := func(format string, args ...interface{}) error {
		return optimization.NewInvalidConfigf(format, args...).WithComponent("de").WithOperation(op)
	}
	if c.Strategy < 0 || int(c.Strategy) >= len(strategyNames) {
		return fail("unknown strategy %d", int(c.Strategy))
	}
	if c.PopulationSize < minPopulation {
		return fail("population size must be at least %d, got %d", minPopulation, c.PopulationSize)
	}
	if c.PopulationSize < c.Strategy.MinPopulation() {
		return fail("strategy %s needs a population of at least %d, got %d",
			c.Strategy, c.Strategy.MinPopulation(), c.PopulationSize)
	}
	if c.F <= 0 || c.F > 2 {
		return fail("mutation factor must be in (0, 2], got %v", c.F)
	}
	if c.CR < 0 || c.CR > 1 {
		return fail("recombination must be in [0, 1], got %v", c.CR)
	}
	if c.Adaptive {
		if c.AdaptiveWeightF < 0 || c.AdaptiveWeightF > 1 {
			return fail("adaptive F weight must be in [0, 1], got %v", c.AdaptiveWeightF)
		}
		if c.AdaptiveWeightCR < 0 || c.AdaptiveWeightCR > 1 {
			return fail("adaptive CR weight must be in [0, 1], got %v", c.AdaptiveWeightCR)
		}
	}
	if c.Tolerance < 0 || c.AbsTolerance < 0 {
		return fail("tolerances must be non-negative")
	}
	if c.StagnationGenerations < 0 {
		return fail("stagnation window must be non-negative, got %d", c.StagnationGenerations)
	}
	return nil
}
