// Package alerting fans operator alerts out to every configured notification sink.
package alerting

import (
	"context"
	"log/slog"
	"time"

	"github.com/target/ticket-enhancer/internal/observability/notify"
	"golang.org/x/sync/errgroup"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the alerting service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Timeout bounds one fan-out; zero uses the caller's deadline.
	Timeout time.Duration
	Now     func() time.Time
}

// Service dispatches alerts to all registered sinks.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	timeout time.Duration
	now     func() time.Time
}

// NewService constructs an alerting service. Nil sinks are skipped.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	return &Service{
		logger:  logger.With("component", "alerting"),
		sinks:   sinks,
		timeout: opts.Timeout,
		now:     now,
	}
}

// Notify delivers the alert to every sink concurrently and waits for all of them.
// One sink failing never prevents delivery to the others.
func (s *Service) Notify(ctx context.Context, alert notify.Alert) {
	if s == nil || len(s.sinks) == 0 {
		return
	}
	if alert.Severity == "" {
		alert.Severity = notify.SeverityCritical
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = s.now().UTC()
	}

	// Alerts often follow a job whose own context is about to be cancelled.
	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var g errgroup.Group
	for _, entry := range s.sinks {
		g.Go(func() error {
			if err := entry.Sink.SendAlert(ctx, alert); err != nil {
				s.logger.ErrorContext(ctx, "alert delivery failed",
					"sink", entry.Name,
					"kind", alert.Kind,
					"tenant_id", alert.TenantID,
					"job_id", alert.JobID,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Enabled reports whether the service has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
