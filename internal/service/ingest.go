package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/core"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
	"github.com/target/ticket-enhancer/internal/observability/metrics"
)

// ErrTenantBackpressure marks QueueUnavailable errors caused by the tenant's own backlog
// rather than by the queue being unreachable.
var ErrTenantBackpressure = errors.New("tenant backlog limit reached")

// Webhook outcomes recorded in metrics.
const (
	webhookEnqueued      = "enqueued"
	webhookDuplicate     = "duplicate"
	webhookInvalid       = "invalid_payload"
	webhookUnknownTenant = "unknown_tenant"
	webhookBadSignature  = "invalid_signature"
	webhookReplay        = "replay"
	webhookBackpressure  = "backpressure"
	webhookQueueError    = "queue_unavailable"
)

// IngestServiceOptions groups dependencies for IngestService.
type IngestServiceOptions struct {
	Tenants TenantLoader         // Required: resolves the tenant named in the payload
	Jobs    core.JobRepository   // Required: durable queue
	Dedup   *core.DedupGuard     // Optional: Redis fast path; nil leaves dedup to the database
	Config  config.WebhookConfig // Required: replay window, backlog limit
	// MaxRedeliveries is stamped on every new job.
	MaxRedeliveries int
	Metrics         *metrics.Recorder // Optional
	Logger          *slog.Logger      // Optional
	Now             func() time.Time  // Optional: clock override for tests
}

// IngestService is the webhook receiver: it authenticates a delivery and turns it
// into at most one queued job per (tenant, ticket, event).
type IngestService struct {
	tenants    TenantLoader
	jobs       core.JobRepository
	dedup      *core.DedupGuard
	cfg        config.WebhookConfig
	maxRetries int
	metrics    *metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewIngestService constructs a new IngestService.
func NewIngestService(opts IngestServiceOptions) (*IngestService, error) {
	if opts.Tenants == nil {
		return nil, errors.New("TenantLoader is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &IngestService{
		tenants:    opts.Tenants,
		jobs:       opts.Jobs,
		dedup:      opts.Dedup,
		cfg:        opts.Config,
		maxRetries: opts.MaxRedeliveries,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "webhook_ingest"),
		now:        now,
	}, nil
}

// Ingest verifies and enqueues one webhook delivery. body must be the raw request
// body exactly as received; the signature is computed over those bytes.
func (s *IngestService) Ingest(ctx context.Context, body []byte, signature string) (model.IngestResult, error) {
	evt, err := decodeWebhookEvent(body)
	if err != nil {
		s.metrics.WebhookOutcome(webhookInvalid)
		return model.IngestResult{}, err
	}

	tc, err := s.tenants.Load(ctx, evt.TenantID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeUnknownTenant) {
			s.metrics.WebhookOutcome(webhookUnknownTenant)
			s.logger.WarnContext(ctx, "webhook for unknown tenant", "tenant_id", evt.TenantID)
		}
		return model.IngestResult{}, err
	}

	if err := verifySignature(tc.WebhookSecret(), body, signature); err != nil {
		s.metrics.WebhookOutcome(webhookBadSignature)
		s.logger.WarnContext(ctx, "webhook signature rejected",
			"security_event", "invalid_signature",
			"tenant_id", tc.ID(),
			"event_id", evt.EventID,
		)
		return model.IngestResult{}, err
	}

	if err := s.checkFreshness(evt.Timestamp); err != nil {
		s.metrics.WebhookOutcome(webhookReplay)
		s.logger.WarnContext(ctx, "webhook outside replay window",
			"security_event", "replay",
			"tenant_id", tc.ID(),
			"event_id", evt.EventID,
			"timestamp", evt.Timestamp,
		)
		return model.IngestResult{}, err
	}

	return s.enqueue(ctx, tc, evt)
}

func (s *IngestService) enqueue(ctx context.Context, tc tenant.Context, evt model.WebhookEvent) (model.IngestResult, error) {
	dedupKey := model.DedupKey(evt.TicketID, evt.EventID)

	claimed, err := s.dedup.Claim(ctx, tc, dedupKey)
	if err != nil {
		// Redis is an optimisation; the unique constraint still catches duplicates.
		s.logger.WarnContext(ctx, "dedup fast path unavailable", "tenant_id", tc.ID(), "error", err)
		claimed = true
	}
	if !claimed {
		s.metrics.WebhookOutcome(webhookDuplicate)
		s.logger.DebugContext(ctx, "duplicate webhook", "tenant_id", tc.ID(), "event_id", evt.EventID)
		return model.IngestResult{Status: model.IngestDuplicate}, nil
	}

	pending, err := s.jobs.TenantPending(ctx, tc)
	if err != nil {
		return model.IngestResult{}, s.queueFailure(ctx, tc, dedupKey, err)
	}
	if limit := s.cfg.MaxPendingPerTenant; limit > 0 && pending >= limit {
		s.release(ctx, tc, dedupKey)
		s.metrics.WebhookOutcome(webhookBackpressure)
		s.logger.WarnContext(ctx, "tenant backlog limit reached", "tenant_id", tc.ID(), "pending", pending, "limit", limit)
		return model.IngestResult{}, apperrors.Wrapf(ErrTenantBackpressure, apperrors.ErrCodeQueueUnavailable,
			"tenant %s has %d pending jobs", tc.ID(), pending)
	}

	job, created, err := s.jobs.Enqueue(ctx, tc, model.EnqueueRequest{
		TicketID:   evt.TicketID,
		EventID:    evt.EventID,
		MaxRetries: s.maxRetries,
	})
	if err != nil {
		return model.IngestResult{}, s.queueFailure(ctx, tc, dedupKey, err)
	}
	if !created {
		s.metrics.WebhookOutcome(webhookDuplicate)
		return model.IngestResult{Status: model.IngestDuplicate, JobID: job.ID}, nil
	}

	s.metrics.WebhookOutcome(webhookEnqueued)
	s.logger.InfoContext(ctx, "enhancement job enqueued",
		"tenant_id", tc.ID(),
		"ticket_id", evt.TicketID,
		"event_id", evt.EventID,
		"job_id", job.ID,
	)
	return model.IngestResult{Status: model.IngestEnqueued, JobID: job.ID}, nil
}

func (s *IngestService) queueFailure(ctx context.Context, tc tenant.Context, dedupKey string, err error) error {
	s.release(ctx, tc, dedupKey)
	s.metrics.WebhookOutcome(webhookQueueError)
	s.logger.ErrorContext(ctx, "enqueue failed", "tenant_id", tc.ID(), "error", err)
	if apperrors.IsIsolationViolation(err) {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrCodeQueueUnavailable, "queue unavailable")
}

// release forgets the dedup claim so the sender's retry is processed.
func (s *IngestService) release(ctx context.Context, tc tenant.Context, dedupKey string) {
	if err := s.dedup.Release(context.WithoutCancel(ctx), tc, dedupKey); err != nil {
		s.logger.WarnContext(ctx, "release dedup claim", "tenant_id", tc.ID(), "error", err)
	}
}

func (s *IngestService) checkFreshness(ts time.Time) error {
	now := s.now()
	if window := s.cfg.ReplayWindow; window > 0 && now.Sub(ts) > window {
		return apperrors.Newf(apperrors.ErrCodeReplayDetected, "event timestamp %s is older than %s", ts.UTC().Format(time.RFC3339), window)
	}
	if skew := s.cfg.FutureSkew; skew >= 0 && ts.Sub(now) > skew {
		return apperrors.Newf(apperrors.ErrCodeReplayDetected, "event timestamp %s is in the future", ts.UTC().Format(time.RFC3339))
	}
	return nil
}

func decodeWebhookEvent(body []byte) (model.WebhookEvent, error) {
	var evt model.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return model.WebhookEvent{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "malformed webhook payload")
	}
	if err := evt.Validate(); err != nil {
		return model.WebhookEvent{}, validationError(err, "invalid webhook payload")
	}
	return evt, nil
}

// signaturePrefix is the scheme marker in the signature header.
const signaturePrefix = "sha256="

// verifySignature compares HMAC-SHA256(secret, body) with the header in constant time.
// The bare hex form without the scheme prefix is accepted too.
func verifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return apperrors.New(apperrors.ErrCodeInvalidSignature, "tenant has no webhook secret")
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return apperrors.New(apperrors.ErrCodeInvalidSignature, "missing signature")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidSignature, "malformed signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperrors.New(apperrors.ErrCodeInvalidSignature, fmt.Sprintf("signature mismatch (%d bytes)", len(body)))
	}
	return nil
}
