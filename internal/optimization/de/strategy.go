package de

import (
	"fmt"
	"strings"
)

// Strategy selects how mutant vectors are built and how they are crossed
// with the current individual.
type Strategy int

const (
	Rand1Bin Strategy = iota
	Rand1Exp
	Best1Bin
	Best1Exp
	Rand2Bin
	Best2Bin
	CurrentToBest1Bin
	RandToBest1Bin
)

var strategyNames = [...]string{
	Rand1Bin:          "rand1bin",
	Rand1Exp:          "rand1exp",
	Best1Bin:          "best1bin",
	Best1Exp:          "best1exp",
	Rand2Bin:          "rand2bin",
	Best2Bin:          "best2bin",
	CurrentToBest1Bin: "currenttobest1bin",
	RandToBest1Bin:    "randtobest1bin",
}

// Strategies lists every supported strategy
func Strategies() []Strategy {
	out := make([]Strategy, len(strategyNames))
	for i := range strategyNames {
		out[i] = Strategy(i)
	}
	return out
}

// ParseStrategy maps a strategy name to its value. Separators are ignored so
// "current-to-best/1/bin" and "currenttobest1bin" are the same strategy.
func ParseStrategy(name string) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(key)
	for i, n := range strategyNames {
		if n == key {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown differential evolution strategy: %q", name)
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// MarshalText implements encoding.TextMarshaler
func (s Strategy) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(strategyNames) {
		return nil, fmt.Errorf("invalid strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// donors is the number of random individuals, distinct from each other and
// from the target, the strategy draws per trial.
func (s Strategy) donors() int {
	switch s {
	case Best1Bin, Best1Exp, CurrentToBest1Bin:
		return 2
	case Rand1Bin, Rand1Exp, RandToBest1Bin:
		return 3
	case Best2Bin:
		return 4
	case Rand2Bin:
		return 5
	}
	return 0
}

// MinPopulation is the smallest population the strategy can run with
func (s Strategy) MinPopulation() int {
	n := s.donors() + 1
	if n < minPopulation {
		return minPopulation
	}
	return n
}

func (s Strategy) exponential() bool {
	return s == Rand1Exp || s == Best1Exp
}

// mutate writes the mutant for target i into dst. r holds the donor indices.
func (s Strategy) mutate(dst []float64, pop [][]float64, i, best int, r []int, f float64) {
	x := pop[i]
	b := pop[best]
	for j := range dst {
		switch s {
		case Rand1Bin, Rand1Exp:
			dst[j] = pop[r[0]][j] + f*(pop[r[1]][j]-pop[r[2]][j])
		case Best1Bin, Best1Exp:
			dst[j] = b[j] + f*(pop[r[0]][j]-pop[r[1]][j])
		case Rand2Bin:
			dst[j] = pop[r[0]][j] + f*(pop[r[1]][j]-pop[r[2]][j]+pop[r[3]][j]-pop[r[4]][j])
		case Best2Bin:
			dst[j] = b[j] + f*(pop[r[0]][j]-pop[r[1]][j]+pop[r[2]][j]-pop[r[3]][j])
		case CurrentToBest1Bin:
			dst[j] = x[j] + f*(b[j]-x[j]) + f*(pop[r[0]][j]-pop[r[1]][j])
		case RandToBest1Bin:
			base := pop[r[0]][j]
			dst[j] = base + f*(b[j]-base) + f*(pop[r[1]][j]-pop[r[2]][j])
		}
	}
}
