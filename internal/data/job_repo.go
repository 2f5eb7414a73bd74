package data

import (
	"database/sql"
	"log/slog"
	"time"
)

// jobAddedChannel is the NOTIFY channel workers LISTEN on.
const jobAddedChannel = "enhancement_job_added"

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	// MaxRetries is the redelivery cap applied when an enqueue request leaves it unset.
	MaxRetries int
	// RetryDelay is the base redelivery backoff; it doubles per attempt up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// DefaultTenantConcurrency caps running leases for tenants without their own limit.
	DefaultTenantConcurrency int
	Logger                   *slog.Logger
	TimeProvider             TimeProvider
}

const (
	defaultMaxRetries        = 5
	defaultRetryDelay        = 5 * time.Second
	defaultMaxRetryDelay     = 5 * time.Minute
	defaultTenantConcurrency = 4
)

// JobRepo provides database operations for the enhancement job queue.
type JobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaultMaxRetryDelay
	}
	if cfg.DefaultTenantConcurrency <= 0 {
		cfg.DefaultTenantConcurrency = defaultTenantConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  tenant_id,
  ticket_id,
  event_id,
  dedup_key,
  status,
  retry_count,
  max_retries,
  scheduled_at,
  started_at,
  completed_at,
  lease_expires_at,
  last_error,
  created_at,
  updated_at
`

// qualifiedJobColumns is jobColumns prefixed with the "j" alias used in CTE updates.
const qualifiedJobColumns = `j.id, j.tenant_id, j.ticket_id, j.event_id, j.dedup_key, j.status,
  j.retry_count, j.max_retries, j.scheduled_at, j.started_at, j.completed_at,
  j.lease_expires_at, j.last_error, j.created_at, j.updated_at`
