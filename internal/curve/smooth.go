package curve

import (
	"fmt"
	"math"
)

// Smoother applies 1/N octave moving-average smoothing on a fixed grid. The
// window for each point is precomputed so Apply is linear in the grid size.
// A Smoother reuses an internal buffer and is not safe for concurrent use.
type Smoother struct {
	lo, hi []int
	prefix []float64
}

// NewSmoother prepares 1/n octave smoothing for an increasing grid. Each
// output point averages every input point within half the window on either
// side, in log2 frequency.
func NewSmoother(freq []float64, n int) (*Smoother, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: smoothing fraction must be at least 1, got %d", ErrInvalidCurve, n)
	}
	half := 0.5 / float64(n)
	s := &Smoother{
		lo:     make([]int, len(freq)),
		hi:     make([]int, len(freq)),
		prefix: make([]float64, len(freq)+1),
	}
	lo, hi := 0, 0
	for i, f := range freq {
		for math.Log2(f/freq[lo]) > half {
			lo++
		}
		if hi < i {
			hi = i
		}
		for hi+1 < len(freq) && math.Log2(freq[hi+1]/f) <= half {
			hi++
		}
		s.lo[i], s.hi[i] = lo, hi
	}
	return s, nil
}

// Len returns the grid size the smoother was built for
func (s *Smoother) Len() int { return len(s.lo) }

// Apply writes the smoothed src into dst and returns dst. dst and src may
// not alias.
func (s *Smoother) Apply(dst, src []float64) []float64 {
	s.prefix[0] = 0
	for i, v := range src {
		s.prefix[i+1] = s.prefix[i] + v
	}
	for i := range dst {
		lo, hi := s.lo[i], s.hi[i]
		dst[i] = (s.prefix[hi+1] - s.prefix[lo]) / float64(hi-lo+1)
	}
	return dst
}
