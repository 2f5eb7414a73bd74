// Package core defines the ports between the enhancement services and their storage.
package core

import (
	"context"
	"time"

	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on the data package.

// JobRepository is the durable leased queue of enhancement jobs.
//
// Tenant-scoped methods take tenant.Context by value; a zero context is rejected
// before any query is issued.
type JobRepository interface {
	// Enqueue inserts a job for the (ticket, event) pair. created is false when the
	// pair was already queued; the existing job is returned.
	Enqueue(ctx context.Context, tc tenant.Context, req model.EnqueueRequest) (job *model.EnhancementJob, created bool, err error)
	// TenantPending counts the tenant's jobs that are waiting for a worker.
	TenantPending(ctx context.Context, tc tenant.Context) (int, error)
	// ReserveNext leases the next job, interleaving tenants fairly. It is queue-wide:
	// the leased row names the tenant the worker then loads.
	ReserveNext(ctx context.Context, lease time.Duration) (*model.EnhancementJob, error)
	WaitForNotification(ctx context.Context) error
	// Heartbeat, Complete, Fail and MarkDead act on one of the tenant's jobs; a job
	// owned by another tenant is treated as a lost lease.
	Heartbeat(ctx context.Context, tc tenant.Context, id string, lease time.Duration) (bool, error)
	Complete(ctx context.Context, tc tenant.Context, id string) (bool, error)
	// Fail releases the lease for redelivery. It returns the job's new status
	// (pending or dead), or "" when the caller no longer held the lease.
	Fail(ctx context.Context, tc tenant.Context, id, reason string) (model.JobStatus, error)
	MarkDead(ctx context.Context, tc tenant.Context, id, reason string) (bool, error)
	// Stats is queue-wide and unscoped.
	Stats(ctx context.Context) (*model.QueueStats, error)
}

// DeadSetRepository exposes the dead set to operators.
type DeadSetRepository interface {
	ListDead(ctx context.Context, limit int) ([]model.DeadJob, error)
	// RequeueDead replaces a dead job with a fresh pending job for the same event.
	RequeueDead(ctx context.Context, id string) (*model.EnhancementJob, error)
}

// DeleteOldJobsParams groups parameters for JobMaintenance.DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// JobMaintenance is used by the reaper.
type JobMaintenance interface {
	RequeueExpired(ctx context.Context, batchSize int) (model.RequeueResult, error)
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
	DeleteOldResults(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// TenantRepository stores tenant configuration. Rows carry encrypted secrets.
type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
	Upsert(ctx context.Context, t *model.Tenant) (*model.Tenant, error)
	List(ctx context.Context) ([]*model.Tenant, error)
}

// ResultRepository stores terminal enhancement results. The first insert for a job wins.
type ResultRepository interface {
	// Save returns false when a result for the job already exists.
	Save(ctx context.Context, tc tenant.Context, res *model.EnhancementResult) (bool, error)
	GetByJobID(ctx context.Context, tc tenant.Context, jobID string) (*model.EnhancementResult, error)
}
