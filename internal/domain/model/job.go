// Package model defines the core data types shared by the enhancement pipeline.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// JobStatus represents the queue state of an enhancement job.
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be leased.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a worker holds the job's lease.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job reached a terminal result and was acknowledged.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusDead indicates the job exhausted its redeliveries or hit a security fault.
	JobStatusDead JobStatus = "dead"
)

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusDead:
		return true
	default:
		return false
	}
}

// EnhancementJob identifies one unit of work: enhance one ticket for one webhook event.
type EnhancementJob struct {
	ID             string     `json:"id"                         db:"id"`
	TenantID       string     `json:"tenant_id"                  db:"tenant_id"`
	TicketID       string     `json:"ticket_id"                  db:"ticket_id"`
	EventID        string     `json:"event_id"                   db:"event_id"`
	DedupKey       string     `json:"dedup_key"                  db:"dedup_key"`
	Status         JobStatus  `json:"status"                     db:"status"`
	RetryCount     int        `json:"retry_count"                db:"retry_count"`
	MaxRetries     int        `json:"max_retries"                db:"max_retries"`
	ScheduledAt    time.Time  `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"     db:"completed_at"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	LastError      *string    `json:"last_error,omitempty"       db:"last_error"`
	EnqueuedAt     time.Time  `json:"enqueued_at"                db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"                 db:"updated_at"`
}

// FinalAttempt reports whether a failure of the current delivery exhausts the redelivery cap.
func (j *EnhancementJob) FinalAttempt() bool {
	return j.RetryCount+1 >= j.MaxRetries
}

// EnqueueRequest describes a job to enqueue. The tenant comes from the caller's scope.
type EnqueueRequest struct {
	TicketID   string
	EventID    string
	MaxRetries int
}

// Validate validates the EnqueueRequest fields.
func (r *EnqueueRequest) Validate() error {
	if strings.TrimSpace(r.TicketID) == "" {
		return errors.New("ticket id is required")
	}
	if strings.TrimSpace(r.EventID) == "" {
		return errors.New("event id is required")
	}
	if r.MaxRetries < 1 {
		return errors.New("max retries must be >= 1")
	}
	return nil
}

// DedupKey derives the deduplication key for a (ticket, event) pair.
// The NUL separator keeps ("a","bc") and ("ab","c") distinct.
func DedupKey(ticketID, eventID string) string {
	sum := sha256.Sum256([]byte(ticketID + "\x00" + eventID))
	return hex.EncodeToString(sum[:])
}

// QueueStats is the autoscaling signal exported by the queue.
type QueueStats struct {
	Pending          int           `json:"pending"`
	Running          int           `json:"running"`
	Dead             int           `json:"dead"`
	OldestPendingAge time.Duration `json:"-"`
	// OldestPendingSeconds mirrors OldestPendingAge for JSON consumers.
	OldestPendingSeconds float64 `json:"oldest_pending_seconds"`
}

// DeadJob is a dead-set entry shown to operators.
type DeadJob struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	TicketID   string    `json:"ticket_id"`
	EventID    string    `json:"event_id"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RequeueResult reports what a lease-expiry sweep did.
type RequeueResult struct {
	// Requeued jobs returned to pending for another delivery.
	Requeued int64
	// Dead jobs exhausted their redeliveries and received a Timeout result.
	Dead int64
}
