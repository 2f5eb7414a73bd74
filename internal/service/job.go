package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/ticket-enhancer/internal/core"
	domainjob "github.com/target/ticket-enhancer/internal/domain/job"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/observability/metrics"
)

// defaultDeadListLimit bounds ListDead when the caller passes no limit.
const defaultDeadListLimit = 100

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	DeadSet         core.DeadSetRepository    // Optional: operator access to the dead set
	DefaultLease    time.Duration             // Required: default lease duration for jobs
	Logger          *slog.Logger              // Optional: structured logger
	Metrics         *metrics.Recorder         // Optional: lifecycle metrics
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// JobService is the worker-facing side of the queue: leasing, lease upkeep,
// availability notifications, and operator access to stats and the dead set.
type JobService struct {
	repo        core.JobRepository
	deadSet     core.DeadSetRepository
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
		logger.Debug("JobService initialized",
			"default_lease", leasePolicy.Default(),
		)
	}

	return &JobService{
		repo:        opts.Repo,
		deadSet:     opts.DeadSet,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// LeaseDuration resolves a requested lease through the lease policy.
func (s *JobService) LeaseDuration(requested time.Duration) time.Duration {
	return s.leasePolicy.Resolve(requested).Duration()
}

// ReserveNext leases the next available job. It returns model.ErrNoJobsAvailable
// (wrapped) when the queue is idle.
func (s *JobService) ReserveNext(ctx context.Context, lease time.Duration) (*model.EnhancementJob, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Source == domainjob.LeaseSourceClamped && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped lease duration",
			"requested_duration", decision.Requested,
			"lease_seconds", decision.Seconds)
	}

	start := time.Now()
	job, err := s.repo.ReserveNext(ctx, decision.Duration())
	if err != nil {
		return nil, fmt.Errorf("reserve next job: %w", err)
	}

	s.metrics.JobLifecycle(metrics.JobMetric{
		Transition: metrics.TransitionReserve,
		Result:     metrics.ResultSuccess,
		Duration:   time.Since(start),
	})
	if s.logger != nil && job != nil {
		s.logger.DebugContext(
			ctx,
			"job reserved",
			"id",
			job.ID,
			"tenant_id",
			job.TenantID,
			"lease_seconds",
			decision.Seconds,
		)
	}

	return job, nil
}

// Subscribe creates a subscription for job availability notifications.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *JobService) Subscribe() (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe()
}

// Heartbeat extends the lease on one of the tenant's jobs to indicate it's still
// being processed. It returns false when the worker no longer holds the lease.
func (s *JobService) Heartbeat(ctx context.Context, tc tenant.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	updated, err := s.repo.Heartbeat(ctx, tc, id, decision.Duration())
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}

	if s.logger != nil && updated {
		s.logger.DebugContext(ctx, "job heartbeat updated", "tenant_id", tc.ID(), "id", id, "extend_seconds", decision.Seconds)
	}

	return updated, nil
}

// Stats returns queue depth, running and dead counts, and the oldest pending age.
func (s *JobService) Stats(ctx context.Context) (*model.QueueStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	stats.OldestPendingSeconds = stats.OldestPendingAge.Seconds()
	return stats, nil
}

// ListDead returns the most recently failed dead-set entries.
func (s *JobService) ListDead(ctx context.Context, limit int) ([]model.DeadJob, error) {
	if s.deadSet == nil {
		return nil, errors.New("dead set access is not configured")
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultDeadListLimit
	}
	jobs, err := s.deadSet.ListDead(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	return jobs, nil
}

// RequeueDead replaces a dead job with a fresh pending job for the same event.
func (s *JobService) RequeueDead(ctx context.Context, id string) (*model.EnhancementJob, error) {
	if s.deadSet == nil {
		return nil, errors.New("dead set access is not configured")
	}
	if id == "" {
		return nil, errors.New("job id is required")
	}
	job, err := s.deadSet.RequeueDead(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("requeue dead job %s: %w", id, err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "dead job requeued",
			"dead_id", id,
			"job_id", job.ID,
			"tenant_id", job.TenantID,
		)
	}
	return job, nil
}

// StopAllListeners stops all active job notification listeners.
// This should be called during graceful shutdown to clean up goroutines.
func (s *JobService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all job listeners")
	}

	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
