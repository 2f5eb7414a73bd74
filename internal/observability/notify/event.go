// Package notify carries operator alerts to paging and chat sinks.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Alert kinds raised by the pipeline.
const (
	// KindIsolationViolation is raised when work touched data outside its tenant scope.
	KindIsolationViolation = "tenant_isolation_violation"
	// KindDeadSetGrowth is raised when jobs exhaust their redeliveries.
	KindDeadSetGrowth = "dead_set_growth"
)

// Alert is the canonical payload sinks format for operators.
type Alert struct {
	Kind       string
	Summary    string
	TenantID   string
	JobID      string
	TicketID   string
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of delivering alerts.
type Sink interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, alert Alert) error

// SendAlert implements the Sink interface.
func (f SinkFunc) SendAlert(ctx context.Context, alert Alert) error {
	if f == nil {
		return nil
	}
	return f(ctx, alert)
}

// DedupKey identifies repeated alerts for the same subject so pagers can collapse them.
func (a Alert) DedupKey() string {
	key := a.Kind
	for _, part := range []string{a.TenantID, a.JobID} {
		if part != "" {
			key += ":" + part
		}
	}
	return key
}
