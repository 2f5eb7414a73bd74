// Package usage publishes per-result token accounting to Kafka for cost tracking.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/retry"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the usage message body. One is published per terminal result.
type Event struct {
	JobID            string    `json:"job_id"`
	TenantID         string    `json:"tenant_id"`
	TicketID         string    `json:"ticket_id"`
	EventID          string    `json:"event_id"`
	Status           string    `json:"status"`
	ErrorCode        string    `json:"error_code,omitempty"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Attempt          int       `json:"attempt"`
	MissingSources   []string  `json:"missing_sources,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NewEvent projects a result onto the usage event.
func NewEvent(res model.EnhancementResult) Event {
	return Event{
		JobID:            res.JobID,
		TenantID:         res.TenantID,
		TicketID:         res.TicketID,
		EventID:          res.EventID,
		Status:           string(res.Status),
		ErrorCode:        res.ErrorCode,
		Model:            res.Usage.Model,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		Attempt:          res.Attempt,
		MissingSources:   res.MissingSources,
		OccurredAt:       res.CreatedAt,
	}
}

// PublisherOptions configures NewPublisher.
type PublisherOptions struct {
	Config config.UsageEventsConfig
	// Writer overrides the Kafka writer built from Config; tests inject one.
	Writer MessageWriter
	Logger *slog.Logger
	// Sleep replaces the retry sleep in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Publisher writes usage events keyed by tenant id, so one tenant's events stay ordered
// on a single partition.
type Publisher struct {
	writer       MessageWriter
	writeTimeout time.Duration
	policy       retry.Policy
	logger       *slog.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	cfg := opts.Config
	w := opts.Writer
	if w == nil {
		if !cfg.IsEnabled() {
			return nil, errors.New("usage events: brokers and topic are required")
		}
		w = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "usage_publisher")

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Publisher{
		writer:       w,
		writeTimeout: writeTimeout,
		policy: retry.Policy{
			MaxAttempts: max(cfg.MaxAttempts, 1),
			Backoff:     retry.Exponential{Base: 100 * time.Millisecond, Factor: 2, Max: 2 * time.Second, Jitter: 0.2},
			Retryable: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
			OnRetry: func(attempt int, err error, delay time.Duration) {
				logger.Warn("usage event write failed, retrying", "attempt", attempt, "delay", delay, "error", err)
			},
			Sleep: opts.Sleep,
		},
		logger: logger,
	}, nil
}

// PublishUsage implements ports.UsagePublisher.
func (p *Publisher) PublishUsage(ctx context.Context, res model.EnhancementResult) error {
	body, err := json.Marshal(NewEvent(res))
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(res.TenantID),
		Value: body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "job_id", Value: []byte(res.JobID)},
		},
	}

	err = retry.Do(ctx, p.policy, func(ctx context.Context, _ int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
		return p.writer.WriteMessages(attemptCtx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish usage event for job %s: %w", res.JobID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
