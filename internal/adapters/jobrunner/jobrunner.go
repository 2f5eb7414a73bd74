// Package jobrunner runs the enhancement worker pool: it leases jobs from the queue,
// keeps their leases alive, and hands them to the orchestrator.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/service"
)

// Queue is the worker-facing side of the job queue.
type Queue interface {
	Subscribe() (func(), <-chan struct{})
	ReserveNext(ctx context.Context, lease time.Duration) (*model.EnhancementJob, error)
	Heartbeat(ctx context.Context, tc tenant.Context, id string, extend time.Duration) (bool, error)
}

// Processor runs one leased job to a queue action.
type Processor interface {
	Process(ctx context.Context, j *model.EnhancementJob) service.Outcome
}

// errLeaseLost cancels a job whose lease was taken over by the reaper.
var errLeaseLost = errors.New("job lease lost")

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Queue     Queue
	Processor Processor
	Config    config.WorkerConfig
	Logger    *slog.Logger
}

// Runner pulls jobs and executes them with the orchestrator.
type Runner struct {
	queue     Queue
	processor Processor
	logger    *slog.Logger
	lease     time.Duration
	heartbeat time.Duration
	idlePoll  time.Duration
	workers   int
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// NewRunner constructs a job runner. Zero config values get the worker defaults.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}

	cfg := opts.Config
	if cfg.JobLease <= 0 {
		cfg.JobLease = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.JobLease {
		cfg.HeartbeatInterval = cfg.JobLease / 3
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 5 * time.Second
	}

	return &Runner{
		queue:     opts.Queue,
		processor: opts.Processor,
		logger:    resolveLogger(opts.Logger).With("component", "job_runner"),
		lease:     cfg.JobLease,
		heartbeat: cfg.HeartbeatInterval,
		idlePoll:  cfg.IdlePoll,
		workers:   cfg.Concurrency,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
// Jobs in flight at cancellation are abandoned by the orchestrator; their leases
// expire and the reaper hands them to another worker.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "workers", r.workers, "lease", r.lease)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, ch := r.queue.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for i := range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, i, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, worker int, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.queue.ReserveNext(ctx, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, worker, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

// waitForNotify blocks until a job is announced or the idle poll elapses. The poll
// picks up jobs whose redelivery delay expired, which produce no notification.
func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.idlePoll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, worker int, job *model.EnhancementJob) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// A job without a tenant id gets the zero scope; its heartbeats are refused
	// and the orchestrator dead-letters it.
	scope, _ := tenant.Scope(job.TenantID)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		r.keepAlive(jobCtx, scope, job.ID, cancel)
	}()

	out := r.processor.Process(jobCtx, job)
	cancel(nil)
	<-hbDone

	if cause := context.Cause(jobCtx); errors.Is(cause, errLeaseLost) {
		r.logger.WarnContext(ctx, "job lease lost while processing", "job_id", job.ID, "worker", worker)
	}
	r.logger.DebugContext(ctx, "job processed",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"worker", worker,
		"action", out.Action,
		"status", out.Status,
	)
}

// keepAlive extends the lease until ctx ends. A refused heartbeat means the lease
// has expired and been reclaimed, so the job is cancelled.
func (r *Runner) keepAlive(ctx context.Context, tc tenant.Context, id string, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := r.queue.Heartbeat(ctx, tc, id, r.lease)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				r.logger.WarnContext(ctx, "heartbeat failed", "tenant_id", tc.ID(), "job_id", id, "error", err)
			}
		case !ok:
			cancel(errLeaseLost)
			return
		}
	}
}
