package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
	"github.com/target/ticket-enhancer/internal/observability/metrics"
	"github.com/target/ticket-enhancer/internal/ports"
	"github.com/target/ticket-enhancer/internal/retry"
	"golang.org/x/sync/errgroup"
)

// defaultSourceRetryDelay separates the first attempt from the single retry.
const defaultSourceRetryDelay = 200 * time.Millisecond

// AggregatorOptions groups dependencies for Aggregator.
type AggregatorOptions struct {
	Sources    []ports.ContextSource // Required: registered source implementations
	RetryDelay time.Duration         // Optional: pause before a source retry
	Metrics    *metrics.Recorder     // Optional
	Logger     *slog.Logger          // Optional
	Now        func() time.Time      // Optional
}

// Aggregator fetches every configured context source for a ticket concurrently and
// merges whatever arrived into a ContextBundle.
type Aggregator struct {
	sources    map[string]ports.ContextSource
	retryDelay time.Duration
	metrics    *metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(opts AggregatorOptions) (*Aggregator, error) {
	if len(opts.Sources) == 0 {
		return nil, errors.New("at least one context source is required")
	}
	sources := make(map[string]ports.ContextSource, len(opts.Sources))
	for _, src := range opts.Sources {
		if src == nil {
			continue
		}
		sources[src.Name()] = src
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultSourceRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		sources:    sources,
		retryDelay: retryDelay,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "aggregator"),
		now:        now,
	}, nil
}

// Gather runs every source the tenant has enabled and returns one entry per source.
//
// Each source runs under its own timeout and retry budget. A failing or slow source
// is recorded as unavailable and never cancels its siblings; Gather returns once
// every source has either answered or given up.
//
// A tenant isolation violation from any source is the one exception: it cancels the
// remaining fetches and is returned so the job can be quarantined.
func (a *Aggregator) Gather(ctx context.Context, tc tenant.Context, ticket model.Ticket) (model.ContextBundle, error) {
	specs := tc.Sources()
	bundle := make(model.ContextBundle, len(specs))

	// Only isolation violations are returned from the goroutines, so ordinary
	// failures never cancel the group context.
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for _, spec := range specs {
		g.Go(func() error {
			res, err := a.fetch(gctx, tc, spec, ticket)
			mu.Lock()
			bundle[spec.Name] = res
			mu.Unlock()
			a.record(gctx, tc, spec.Name, res)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.ErrorContext(ctx, "context source crossed tenant boundary",
			"tenant_id", tc.ID(),
			"ticket_id", ticket.ID,
			"error", err,
		)
		return bundle, err
	}
	return bundle, nil
}

// fetch returns a non-nil error only for tenant isolation violations; every other
// failure is folded into the SourceResult.
func (a *Aggregator) fetch(
	ctx context.Context,
	tc tenant.Context,
	spec tenant.SourceSpec,
	ticket model.Ticket,
) (model.SourceResult, error) {
	src, ok := a.sources[spec.Name]
	if !ok || spec.URL == "" {
		return model.Unavailable(model.ReasonNotConfigured, "source "+spec.Name+" has no endpoint for this tenant"), nil
	}

	start := a.now()
	fetchCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var (
		data     ports.SourceData
		attempts int
	)
	err := retry.Do(fetchCtx, retry.Policy{
		MaxAttempts: 1 + spec.Retries,
		Backoff:     retry.Constant(a.retryDelay),
		Retryable:   retry.HTTPRetryable,
	}, func(ctx context.Context, attempt int) error {
		attempts = attempt
		var ferr error
		data, ferr = src.Fetch(ctx, tc, spec, ticket)
		return ferr
	})

	var res model.SourceResult
	switch {
	case apperrors.IsIsolationViolation(err):
		res = model.Unavailable(model.ReasonError, err.Error())
		res.Latency = a.now().Sub(start)
		res.Attempts = attempts
		return res, err
	case err == nil && isEmptyDocument(data.Data):
		res = model.Unavailable(model.ReasonEmpty, "")
		res.Cached = data.Cached
	case err == nil:
		res = model.Available(data.Data)
		res.Cached = data.Cached
	case ctx.Err() != nil:
		// The job itself was cancelled or ran out of time.
		reason := model.ReasonCanceled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = model.ReasonTimeout
		}
		res = model.Unavailable(reason, err.Error())
	case errors.Is(fetchCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		res = model.Unavailable(model.ReasonTimeout, err.Error())
	default:
		res = model.Unavailable(model.ReasonError, err.Error())
	}
	res.Latency = a.now().Sub(start)
	res.Attempts = attempts
	return res, nil
}

func (a *Aggregator) record(ctx context.Context, tc tenant.Context, name string, res model.SourceResult) {
	a.metrics.SourceFetch(name, res)
	level := slog.LevelInfo
	if !res.Available && res.Reason != model.ReasonNotConfigured && res.Reason != model.ReasonEmpty {
		level = slog.LevelWarn
	}
	a.logger.Log(ctx, level, "context source finished",
		"tenant_id", tc.ID(),
		"source", name,
		"available", res.Available,
		"reason", res.Reason,
		"detail", res.Detail,
		"attempts", res.Attempts,
		"latency_ms", res.Latency.Milliseconds(),
		"cached", res.Cached,
	)
}

// isEmptyDocument treats absent, null, and empty JSON containers as no data.
func isEmptyDocument(data json.RawMessage) bool {
	switch string(bytes.TrimSpace(data)) {
	case "", "null", "[]", "{}", `""`:
		return true
	default:
		return false
	}
}
