package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/copyleftdev/autopeq/internal/autoeq"
	apierrors "github.com/copyleftdev/autopeq/internal/errors"
	"github.com/copyleftdev/autopeq/internal/logging"
	"github.com/copyleftdev/autopeq/internal/optimization"
)

// JobStatus is the lifecycle state of an optimization job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job will not change any more
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// job is the mutable state of one optimization. All fields are guarded by
// Server.mu.
type job struct {
	id       string
	status   JobStatus
	config   autoeq.Config
	created  time.Time
	started  *time.Time
	ended    *time.Time
	updated  time.Time
	progress *optimization.ProgressUpdate
	result   *autoeq.Result
	err      string
	token    *optimization.CancellationToken
	cancel   context.CancelFunc
}

// JobSnapshot is the externally visible state of a job
type JobSnapshot struct {
	ID         string                       `json:"optimization_id"`
	Status     JobStatus                    `json:"status"`
	CreatedAt  time.Time                    `json:"created_at"`
	StartTime  *time.Time                   `json:"start_time,omitempty"`
	EndTime    *time.Time                   `json:"end_time,omitempty"`
	LastUpdate time.Time                    `json:"last_update"`
	Progress   *optimization.ProgressUpdate `json:"progress,omitempty"`
	Result     *autoeq.Result               `json:"result,omitempty"`
	Error      string                       `json:"error,omitempty"`
}

func (j *job) snapshot() JobSnapshot {
	s := JobSnapshot{
		ID:         j.id,
		Status:     j.status,
		CreatedAt:  j.created,
		StartTime:  j.started,
		EndTime:    j.ended,
		LastUpdate: j.updated,
		Result:     j.result,
		Error:      j.err,
	}
	if j.progress != nil {
		p := *j.progress
		s.Progress = &p
	}
	return s
}

func (s *Server) newID() string {
	return fmt.Sprintf("opt_%d_%d", time.Now().UnixNano(), s.seq.Add(1))
}

// Start validates cfg and queues a job for it
func (s *Server) Start(cfg autoeq.Config) (JobSnapshot, error) {
	if err := cfg.Validate(); err != nil {
		return JobSnapshot{}, err
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if timeout := s.cfg.Optimization.JobTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(s.baseCtx, timeout)
	} else {
		ctx, cancel = context.WithCancel(s.baseCtx)
	}

	now := time.Now()
	j := &job{
		id:      s.newID(),
		status:  StatusPending,
		config:  cfg,
		created: now,
		updated: now,
		token:   optimization.NewCancellationToken(),
		cancel:  cancel,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return JobSnapshot{}, apierrors.ErrUnavailable
	}
	s.jobs[j.id] = j
	s.order = append(s.order, j.id)
	s.evictLocked()
	snap := j.snapshot()
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.started.Inc()
	s.metrics.pending.Inc()
	s.logger.Info("Optimization queued", map[string]interface{}{
		"optimization_id": j.id,
		"algo":            string(cfg.Algorithm),
		"loss":            cfg.Loss.String(),
		"num_filters":     cfg.NumFilters,
		"maxeval":         cfg.MaxEval,
	})

	go s.run(ctx, j)
	return snap, nil
}

// evictLocked drops the oldest finished jobs beyond the retention limit.
// Jobs that have not finished are never evicted.
func (s *Server) evictLocked() {
	excess := len(s.jobs) - s.cfg.Optimization.MaxJobs
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && s.jobs[id].status.Terminal() {
			delete(s.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Status returns a snapshot of the job
func (s *Server) Status(id string) (JobSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobSnapshot{}, fmt.Errorf("%w: %s", apierrors.ErrNotFound, id)
	}
	return j.snapshot(), nil
}

// Cancel requests cancellation. A running job stops at its next iteration
// boundary and keeps the best filters found so far.
func (s *Server) Cancel(id string) (JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobSnapshot{}, fmt.Errorf("%w: %s", apierrors.ErrNotFound, id)
	}
	if j.status.Terminal() {
		return JobSnapshot{}, fmt.Errorf("%w: %s is %s", apierrors.ErrConflict, id, j.status)
	}
	j.token.Set()
	j.cancel()
	j.updated = time.Now()

	s.logger.Info("Optimization cancellation requested", map[string]interface{}{
		"optimization_id": id,
		"status":          string(j.status),
	})
	return j.snapshot(), nil
}

func (s *Server) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer j.cancel()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.metrics.pending.Dec()
		s.finish(j, nil, nil, time.Time{}, s.timeoutReason(ctx))
		return
	}
	defer func() { <-s.sem }()
	s.metrics.pending.Dec()

	start := time.Now()
	s.mu.Lock()
	j.status = StatusRunning
	j.started = &start
	j.updated = start
	s.mu.Unlock()

	s.metrics.running.Inc()
	defer s.metrics.running.Dec()

	jobLogger := s.logger.WithFields(map[string]interface{}{"optimization_id": j.id})
	progress := func(u optimization.ProgressUpdate) bool {
		if math.IsInf(u.BestFitness, 0) || math.IsNaN(u.BestFitness) {
			return true
		}
		s.mu.Lock()
		j.progress = &u
		j.updated = time.Now()
		s.mu.Unlock()
		return true
	}

	res, err := s.optimize(ctx, j.config, progress, j.token, autoeq.WithLogger(logging.NewZapLogger(jobLogger)))
	s.finish(j, res, err, start, s.timeoutReason(ctx))
}

// timeoutReason describes why ctx ended when OPT_JOB_TIMEOUT stopped the job
func (s *Server) timeoutReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("job timeout of %s exceeded", s.cfg.Optimization.JobTimeout)
	}
	return ""
}

// finish records the outcome. A nil result without an error means the job
// was cancelled before it got a worker. A non-empty timeout is recorded as the
// error of a job that was cancelled by its deadline.
func (s *Server) finish(j *job, res *autoeq.Result, err error, start time.Time, timeout string) {
	now := time.Now()
	s.mu.Lock()
	j.ended = &now
	j.updated = now
	switch {
	case err != nil:
		j.status = StatusFailed
		j.err = err.Error()
		j.result = res
	case res == nil:
		j.status = StatusCancelled
		j.err = timeout
	case res.EarlyTermination:
		j.status = StatusCancelled
		j.err = timeout
		j.result = res
	default:
		j.status = StatusCompleted
		j.result = res
	}
	status := j.status
	s.mu.Unlock()

	s.metrics.finished.WithLabelValues(string(status)).Inc()
	fields := map[string]interface{}{
		"optimization_id": j.id,
		"status":          string(status),
	}
	if !start.IsZero() {
		s.metrics.duration.Observe(now.Sub(start).Seconds())
		fields["duration"] = now.Sub(start).String()
	}
	if res != nil && res.Success {
		s.metrics.evaluations.Add(float64(res.Evaluations))
		s.metrics.failures.Add(float64(res.NumericFailures))
		if !math.IsInf(res.ObjectiveValue, 0) && !math.IsNaN(res.ObjectiveValue) {
			s.metrics.objective.Observe(res.ObjectiveValue)
		}
		fields["objective"] = res.ObjectiveValue
		fields["evaluations"] = res.Evaluations
		fields["termination"] = string(res.Termination)
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Warn("Optimization failed", fields)
		return
	}
	if status == StatusCancelled && timeout != "" {
		fields["reason"] = timeout
		s.logger.Warn("Optimization timed out", fields)
		return
	}
	s.logger.Info("Optimization finished", fields)
}
