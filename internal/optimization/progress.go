package optimization

import (
	"context"
	"sync/atomic"
)

// Phase names the stage of a run that emitted a progress update
type Phase string

const (
	PhaseGlobal Phase = "global"
	PhaseRefine Phase = "refine"
)

// ProgressUpdate is a per-iteration snapshot delivered to the caller.
type ProgressUpdate struct {
	Phase       Phase     `json:"phase"`
	Iteration   int       `json:"iteration"`
	Evaluations int       `json:"evaluations"`
	BestFitness float64   `json:"best_fitness"`
	BestParams  []float64 `json:"best_params,omitempty"`
}

// ProgressFunc receives progress updates. Returning false asks the search
// to stop and return its best-so-far result.
//
// It is called synchronously from the goroutine running the search, at
// iteration boundaries only, and must return promptly: nothing in the engine
// enforces a timeout.
type ProgressFunc func(ProgressUpdate) bool

// CancellationToken is a flag shared between the caller, which sets it, and
// the running search, which polls it at iteration boundaries.
// The zero value is ready to use.
type CancellationToken struct {
	flag atomic.Bool
}

// NewCancellationToken returns an unset token
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Set requests cancellation
func (t *CancellationToken) Set() {
	t.flag.Store(true)
}

// IsSet reports whether cancellation was requested. A nil token is never set.
func (t *CancellationToken) IsSet() bool {
	return t != nil && t.flag.Load()
}

// Reset clears the flag so the token can be reused for another run
func (t *CancellationToken) Reset() {
	t.flag.Store(false)
}

// Bind sets the token when ctx is done. The returned function detaches the
// binding and must be called once the run is over.
func (t *CancellationToken) Bind(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, t.Set)
}

// Reporter tracks the stop state of one search and funnels progress calls
// through a single place.
type Reporter struct {
	progress ProgressFunc
	cancel   *CancellationToken
	phase    Phase
	aborted  bool
}

// NewReporter builds a reporter for a problem
func NewReporter(p Problem) *Reporter {
	phase := p.Phase
	if phase == "" {
		phase = PhaseGlobal
	}
	return &Reporter{progress: p.Progress, cancel: p.Cancel, phase: phase}
}

// Report publishes an update and returns the termination reason if the run
// must stop, or "" to continue.
func (r *Reporter) Report(iteration, evaluations int, best *Solution) Termination {
	if r.progress != nil && !r.aborted {
		u := ProgressUpdate{
			Phase:       r.phase,
			Iteration:   iteration,
			Evaluations: evaluations,
		}
		if best != nil {
			u.BestFitness = best.Value
			u.BestParams = append([]float64(nil), best.Parameters...)
		}
		if !r.progress(u) {
			r.aborted = true
		}
	}
	return r.Stopped()
}

// Stopped returns the pending stop reason without invoking the callback
func (r *Reporter) Stopped() Termination {
	if r.aborted {
		return TerminationAborted
	}
	if r.cancel.IsSet() {
		return TerminationCancelled
	}
	return ""
}
