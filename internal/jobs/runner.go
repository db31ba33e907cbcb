package jobs

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/internal/resilience"
)

// HandlerFunc executes one job attempt.
type HandlerFunc func(ctx context.Context, job model.EnrichmentJob) error

// Outcomes reported to a runner observer.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDead      = "dead"
)

// RunnerConfig controls batch size, concurrency and retry behaviour.
type RunnerConfig struct {
	Concurrency    int
	BatchSize      int
	PollInterval   time.Duration
	AttemptTimeout time.Duration
	MaxAttempts    int
	Backoff        resilience.Backoff
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = c.Concurrency * 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 2 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Runner claims jobs from a Queue and executes them with bounded
// concurrency.
type Runner struct {
	queue   Queue
	handle  HandlerFunc
	cfg     RunnerConfig
	now     func() time.Time
	observe func(job model.EnrichmentJob, outcome string, elapsed time.Duration)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObserver registers a callback invoked after every attempt.
func WithObserver(fn func(job model.EnrichmentJob, outcome string, elapsed time.Duration)) RunnerOption {
	return func(r *Runner) { r.observe = fn }
}

// WithRunnerClock replaces time.Now for retry scheduling.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(queue Queue, handle HandlerFunc, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	r := &Runner{queue: queue, handle: handle, cfg: cfg.withDefaults(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run polls the queue until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "jobs.runner"))
	log.Info("runner started",
		zap.Int("concurrency", r.cfg.Concurrency),
		zap.Int("batch_size", r.cfg.BatchSize))

	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("runner: batch failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			log.Info("runner stopped")
			return nil
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("runner stopped")
			return nil
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// Drain runs batches until no due job is left and returns how many attempts
// were made. Jobs scheduled for a later retry are left in the queue.
func (r *Runner) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.RunOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// RunOnce claims one batch and runs it to completion.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	claimed, err := r.queue.Claim(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "runner: claim")
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, job := range claimed {
		g.Go(func() error {
			r.process(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

// process runs one attempt and records its outcome. Status updates use a
// context that survives cancellation so a shutdown does not strand jobs in
// the running state.
func (r *Runner) process(ctx context.Context, job model.EnrichmentJob) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("job_role", string(job.JobRole)),
		zap.String("entity_type", string(job.EntityType)),
		zap.String("entity_id", job.EntityID),
		zap.Int("attempt", job.Attempt),
	)

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	start := time.Now()
	err := r.safeHandle(attemptCtx, job)
	elapsed := time.Since(start)
	cancel()

	updateCtx := context.WithoutCancel(ctx)
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.cfg.MaxAttempts
	}

	var outcome string
	var qerr error
	switch {
	case err == nil:
		outcome = OutcomeSucceeded
		qerr = r.queue.Complete(updateCtx, job.ID)
		log.Info("job succeeded", zap.Duration("elapsed", elapsed))
	case IsTerminal(err):
		outcome = OutcomeFailed
		qerr = r.queue.Fail(updateCtx, job.ID, err.Error())
		log.Warn("job failed", zap.Error(err))
	case job.Attempt >= maxAttempts:
		outcome = OutcomeDead
		qerr = r.queue.MarkDead(updateCtx, job.ID, err.Error())
		log.Error("job retries exhausted", zap.Int("max_attempts", maxAttempts), zap.Error(err))
	default:
		outcome = OutcomeRetried
		delay := r.cfg.Backoff.Delay(job.Attempt)
		qerr = r.queue.Retry(updateCtx, job.ID, r.now().Add(delay), err.Error())
		log.Warn("job will retry", zap.Duration("delay", delay), zap.Error(err))
	}
	if qerr != nil {
		log.Error("runner: update job status", zap.String("outcome", outcome), zap.Error(qerr))
	}
	if r.observe != nil {
		r.observe(job, outcome, elapsed)
	}
}

func (r *Runner) safeHandle(ctx context.Context, job model.EnrichmentJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("runner: handler panic: %v", p)
		}
	}()
	return r.handle(ctx, job)
}
