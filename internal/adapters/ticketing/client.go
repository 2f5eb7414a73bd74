// Package ticketing reads tickets from and writes enhancements to each tenant's
// helpdesk API. Paths, the update method, and where fields live in the ticket
// document are tenant settings, so one client serves every vendor.
package ticketing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/adapters/jsonapi"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
	"github.com/target/ticket-enhancer/internal/ports"
	"github.com/target/ticket-enhancer/internal/retry"
)

// IdempotencyHeader carries the dedup key for ticketing APIs that support it.
const IdempotencyHeader = "Idempotency-Key"

// Options configures NewClient.
type Options struct {
	Config     config.TicketingConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Sleep replaces the backoff sleep in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client implements ports.TicketClient over HTTP JSON.
type Client struct {
	hc             *http.Client
	requestTimeout time.Duration
	policy         retry.Policy
	logger         *slog.Logger
}

var _ ports.TicketClient = (*Client)(nil)

// NewClient constructs a Client.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Config.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		hc:             hc,
		requestTimeout: timeout,
		policy: retry.Policy{
			MaxAttempts:   opts.Config.MaxAttempts,
			Backoff:       retry.Exponential{Base: opts.Config.RetryBase, Factor: 2, Max: opts.Config.RetryMax, Jitter: 0.2},
			Retryable:     retry.HTTPRetryable,
			MaxRetryAfter: opts.Config.RetryMax,
			Sleep:         opts.Sleep,
		},
		logger: logger.With("component", "ticketing_client"),
	}
}

type enhancementBody struct {
	Key            string   `json:"key"`
	JobID          string   `json:"job_id"`
	Status         string   `json:"status"`
	Text           string   `json:"text"`
	MissingSources []string `json:"missing_sources,omitempty"`
}

// GetTicket reads one ticket. A 404 is NotFound; other failures are returned after
// the retry policy gives up.
func (c *Client) GetTicket(ctx context.Context, tc tenant.Context, ticketID string) (model.Ticket, error) {
	if err := tenant.Require(tc); err != nil {
		return model.Ticket{}, err
	}
	if tc.TicketingBaseURL() == "" {
		return model.Ticket{}, apperrors.Validationf("tenant %s has no ticketing base URL", tc.ID())
	}

	var ticket model.Ticket
	err := retry.Do(ctx, c.retryPolicy(ctx, tc, ticketID, "get_ticket"), func(ctx context.Context, _ int) error {
		t, err := c.readTicket(ctx, tc, ticketID)
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err == nil {
		return ticket, nil
	}
	var se *retry.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return model.Ticket{}, apperrors.Wrapf(err, apperrors.ErrCodeNotFound, "ticket %s not found", ticketID)
	}
	return model.Ticket{}, fmt.Errorf("get ticket %s: %w", ticketID, err)
}

// WriteEnhancement posts the enhancement at most once per dedup key. Vendors that
// honor Idempotency-Key get the key as a header. For the rest the ticket is read
// before every attempt, so a write whose response was lost is not repeated. A 409
// from the vendor is also treated as an existing enhancement.
func (c *Client) WriteEnhancement(ctx context.Context, tc tenant.Context, req ports.WriteRequest) (model.WriteOutcome, error) {
	if err := tenant.Require(tc); err != nil {
		return "", err
	}
	if tc.TicketingBaseURL() == "" {
		return "", apperrors.Validationf("tenant %s has no ticketing base URL", tc.ID())
	}
	if req.DedupKey == "" {
		return "", apperrors.Validation("dedup key is required")
	}

	settings := tc.Ticketing()
	url := jsonapi.JoinURL(tc.TicketingBaseURL(), jsonapi.Expand(settings.UpdatePath, map[string]string{"ticket_id": req.TicketID}))
	call := jsonapi.Request{
		Method: settings.UpdateMethod,
		URL:    url,
		Bearer: tc.TicketingAPIKey(),
		Body: enhancementBody{
			Key:            req.DedupKey,
			JobID:          req.JobID,
			Status:         string(req.Status),
			Text:           req.Text,
			MissingSources: req.MissingSources,
		},
	}
	if settings.SupportsIdempotencyKey {
		call.Headers = map[string]string{IdempotencyHeader: req.DedupKey}
	}

	var (
		outcome  model.WriteOutcome
		attempts int
	)
	err := retry.Do(ctx, c.retryPolicy(ctx, tc, req.TicketID, "write_enhancement"), func(ctx context.Context, attempt int) error {
		attempts = attempt
		if !settings.SupportsIdempotencyKey {
			current, err := c.readTicket(ctx, tc, req.TicketID)
			if err != nil {
				return fmt.Errorf("read before write: %w", err)
			}
			if current.HasEnhancement(req.DedupKey) {
				outcome = model.WriteOutcomeDuplicate
				return nil
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		_, err := jsonapi.Do(attemptCtx, c.hc, call)
		var se *retry.StatusError
		switch {
		case err == nil:
			outcome = model.WriteOutcomeWritten
			return nil
		case errors.As(err, &se) && se.StatusCode == http.StatusConflict:
			outcome = model.WriteOutcomeDuplicate
			return nil
		default:
			return err
		}
	})
	if err == nil {
		c.logger.DebugContext(ctx, "enhancement written",
			"tenant_id", tc.ID(),
			"ticket_id", req.TicketID,
			"job_id", req.JobID,
			"outcome", outcome,
			"attempts", attempts,
		)
		return outcome, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", apperrors.Wrap(err, apperrors.ErrCodeTimeout, "job deadline expired during ticket write")
	case ctx.Err() != nil:
		return "", apperrors.Wrap(err, apperrors.ErrCodeCanceled, "ticket write canceled")
	}
	return "", apperrors.Wrapf(err, apperrors.ErrCodeWriteBackFailed, "ticket write failed after %d attempt(s)", attempts)
}

// readTicket performs one GET bounded by the per-request timeout and maps the
// document through the tenant's field paths.
func (c *Client) readTicket(ctx context.Context, tc tenant.Context, ticketID string) (model.Ticket, error) {
	settings := tc.Ticketing()
	url := jsonapi.JoinURL(tc.TicketingBaseURL(), jsonapi.Expand(settings.TicketPath, map[string]string{"ticket_id": ticketID}))

	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	body, err := jsonapi.Do(attemptCtx, c.hc, jsonapi.Request{URL: url, Bearer: tc.TicketingAPIKey()})
	if err != nil {
		return model.Ticket{}, err
	}
	doc, err := jsonapi.Decode(body)
	if err != nil {
		return model.Ticket{}, err
	}
	return model.Ticket{
		ID:              ticketID,
		Subject:         jsonapi.String(settings.SubjectPath, doc),
		Description:     jsonapi.String(settings.DescriptionPath, doc),
		Requester:       jsonapi.String(settings.RequesterPath, doc),
		EnhancementKeys: jsonapi.Strings(settings.EnhancementKeyPath, doc),
	}, nil
}

func (c *Client) retryPolicy(ctx context.Context, tc tenant.Context, ticketID, op string) retry.Policy {
	p := c.policy
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.WarnContext(ctx, "ticketing call failed, retrying",
			"operation", op,
			"tenant_id", tc.ID(),
			"ticket_id", ticketID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return p
}
