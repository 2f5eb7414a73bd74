package model

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// WebhookEvent is the signed payload posted by a ticketing system.
type WebhookEvent struct {
	TenantID  string    `json:"tenant_id" validate:"required,max=128"`
	TicketID  string    `json:"ticket_id" validate:"required,max=256"`
	EventID   string    `json:"event_id"  validate:"required,max=256"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks required fields and length limits.
func (e *WebhookEvent) Validate() error {
	return structValidator().Struct(e)
}

// IngestStatus is the receiver's answer for an accepted delivery.
type IngestStatus string

const (
	// IngestEnqueued means a new job was created.
	IngestEnqueued IngestStatus = "enqueued"
	// IngestDuplicate means the delivery was recognized and acknowledged without a new job.
	IngestDuplicate IngestStatus = "duplicate"
)

// IngestResult is returned to the webhook sender with 202 Accepted.
type IngestResult struct {
	Status IngestStatus `json:"status"`
	JobID  string       `json:"job_id,omitempty"`
}
