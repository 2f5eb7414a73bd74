package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/ticket-enhancer/internal/core"
	"github.com/target/ticket-enhancer/internal/domain/job"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
	obserrors "github.com/target/ticket-enhancer/internal/observability/errors"
	"github.com/target/ticket-enhancer/internal/observability/metrics"
	"github.com/target/ticket-enhancer/internal/observability/notify"
	"github.com/target/ticket-enhancer/internal/ports"
)

// ticketBundleEntry is the bundle key recording a ticket that could not be read.
const ticketBundleEntry = "ticket"

// sideEffectTimeout bounds best-effort usage and archive calls after a terminal result.
const sideEffectTimeout = 10 * time.Second

// Action is what the orchestrator did with the job's lease.
type Action string

const (
	// ActionComplete acknowledges the job; a terminal result exists.
	ActionComplete Action = "complete"
	// ActionRetry released the lease for another delivery.
	ActionRetry Action = "retry"
	// ActionDead moved the job to the dead set.
	ActionDead Action = "dead"
	// ActionAbandon left the lease to expire because the worker is shutting down.
	ActionAbandon Action = "abandon"
)

// Outcome summarises one Process call.
//
// Results are immutable, so a retryable failure such as a deadline overrun records
// its Failed result only on the job's final delivery. Earlier deliveries return
// ActionRetry with an empty Status and a nil Result; the failure is reported
// through ErrorCode (Timeout for an overrun) and Err.
type Outcome struct {
	Action Action
	// Status is the terminal result status when one was recorded for this delivery.
	Status    model.ResultStatus
	ErrorCode apperrors.ErrorCode
	Err       error
	Result    *model.EnhancementResult
}

// Gatherer collects the context bundle for a ticket. Source failures belong in the
// bundle; the error return is reserved for faults that must abort the job, such as
// a tenant isolation violation.
type Gatherer interface {
	Gather(ctx context.Context, tc tenant.Context, ticket model.Ticket) (model.ContextBundle, error)
}

// GathererFunc adapts a function to Gatherer.
type GathererFunc func(ctx context.Context, tc tenant.Context, ticket model.Ticket) (model.ContextBundle, error)

// Gather implements Gatherer.
func (f GathererFunc) Gather(ctx context.Context, tc tenant.Context, ticket model.Ticket) (model.ContextBundle, error) {
	return f(ctx, tc, ticket)
}

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Jobs        core.JobRepository    // Required: lease actions
	Results     core.ResultRepository // Required: terminal result records
	Tenants     TenantLoader          // Required: fresh TenantContext per job
	Gatherer    Gatherer              // Required: context aggregator
	Synthesizer ports.Synthesizer     // Required: LLM client
	Tickets     ports.TicketClient    // Required: ticketing system client
	Usage       ports.UsagePublisher  // Optional: usage events
	Archive     ports.ResultArchiver  // Optional: result archive
	Alerter     ports.Alerter         // Optional: security alerts
	MaxTokens   int                   // Optional: completion budget passed to the provider
	Metrics     *metrics.Recorder     // Optional
	Logger      *slog.Logger          // Optional
	Now         func() time.Time      // Optional
}

// Orchestrator drives one leased job through gathering, synthesis, and write-back,
// then performs the matching queue action.
type Orchestrator struct {
	jobs      core.JobRepository
	results   core.ResultRepository
	tenants   TenantLoader
	gatherer  Gatherer
	synth     ports.Synthesizer
	tickets   ports.TicketClient
	usage     ports.UsagePublisher
	archive   ports.ResultArchiver
	alerter   ports.Alerter
	maxTokens int
	metrics   *metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Results == nil:
		return nil, errors.New("ResultRepository is required")
	case opts.Tenants == nil:
		return nil, errors.New("TenantLoader is required")
	case opts.Gatherer == nil:
		return nil, errors.New("Gatherer is required")
	case opts.Synthesizer == nil:
		return nil, errors.New("Synthesizer is required")
	case opts.Tickets == nil:
		return nil, errors.New("TicketClient is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		jobs:      opts.Jobs,
		results:   opts.Results,
		tenants:   opts.Tenants,
		gatherer:  opts.Gatherer,
		synth:     opts.Synthesizer,
		tickets:   opts.Tickets,
		usage:     opts.Usage,
		archive:   opts.Archive,
		alerter:   opts.Alerter,
		maxTokens: opts.MaxTokens,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "orchestrator"),
		now:       now,
	}, nil
}

// Process runs the job and settles its lease. It never returns without either
// acknowledging, releasing, dead-lettering, or (on shutdown) abandoning the lease.
func (o *Orchestrator) Process(ctx context.Context, j *model.EnhancementJob) Outcome {
	start := o.now()
	logger := o.logger.With(
		"job_id", j.ID,
		"tenant_id", j.TenantID,
		"ticket_id", j.TicketID,
		"attempt", j.RetryCount+1,
	)
	tracker := job.NewTracker(o.now)
	res := o.newResult(j)

	tc, err := o.tenants.Load(ctx, j.TenantID)
	if err == nil {
		err = tc.Authorize(j.TenantID)
	}
	if err != nil {
		if ctx.Err() != nil {
			err = apperrors.Wrap(err, apperrors.ErrCodeCanceled, "worker stopped")
		}
		return o.settle(ctx, logger, j, tenant.Context{}, tracker, res, err, start)
	}

	runCtx, cancel := context.WithTimeout(ctx, tc.JobDeadline())
	defer cancel()

	err = o.run(runCtx, tc, j, tracker, res)
	if err != nil {
		err = classifyRunError(ctx, runCtx, tracker.Phase(), err)
	}
	return o.settle(ctx, logger, j, tc, tracker, res, err, start)
}

// run executes the phases. res is filled in as the job progresses so a failure
// still reports what was gathered and spent.
func (o *Orchestrator) run(
	ctx context.Context,
	tc tenant.Context,
	j *model.EnhancementJob,
	tracker *job.Tracker,
	res *model.EnhancementResult,
) error {
	if err := tracker.Advance(job.PhaseGathering); err != nil {
		return err
	}
	ticket, bundle, err := o.gather(ctx, tc, j)
	if err != nil {
		return err
	}
	res.MissingSources = bundle.Missing()
	if len(res.MissingSources) > 0 {
		if err := tracker.MarkDegraded(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := tracker.Advance(job.PhaseSynthesizing); err != nil {
		return err
	}
	prompt := BuildPrompt(ticket, bundle, tc.MaxPromptBytes())
	synthStart := o.now()
	synth, err := o.synth.Synthesize(ctx, ports.SynthesisRequest{
		TenantID:  tc.ID(),
		JobID:     j.ID,
		Model:     tc.Model(),
		System:    prompt.System,
		User:      prompt.User,
		MaxTokens: o.maxTokens,
	})
	res.Usage = res.Usage.Add(synth.Usage)
	o.metrics.SynthesisUsage(synth.Usage, o.now().Sub(synthStart), err)
	if err != nil {
		return err
	}

	if err := tracker.Advance(job.PhaseWriting); err != nil {
		return err
	}
	status := model.ResultSucceeded
	if tracker.Degraded() {
		status = model.ResultDegraded
	}
	written, err := o.tickets.WriteEnhancement(ctx, tc, ports.WriteRequest{
		TicketID:       j.TicketID,
		JobID:          j.ID,
		DedupKey:       j.DedupKey,
		Text:           synth.Text,
		Status:         status,
		MissingSources: res.MissingSources,
	})
	if err != nil {
		return err
	}

	phase, err := tracker.Finish()
	if err != nil {
		return err
	}
	res.Status = model.ResultStatus(phase)
	res.Text = synth.Text
	res.WriteOutcome = written
	return nil
}

// gather reads the ticket and its context. An unreadable ticket is not fatal: the
// enhancement proceeds on the id alone and is marked degraded.
func (o *Orchestrator) gather(ctx context.Context, tc tenant.Context, j *model.EnhancementJob) (model.Ticket, model.ContextBundle, error) {
	ticket, err := o.tickets.GetTicket(ctx, tc, j.TicketID)
	if apperrors.IsIsolationViolation(err) {
		return model.Ticket{}, nil, err
	}
	var ticketMissing *model.SourceResult
	if err != nil {
		reason := model.ReasonError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = model.ReasonTimeout
		}
		miss := model.Unavailable(reason, err.Error())
		ticketMissing = &miss
		ticket = model.Ticket{ID: j.TicketID}
	}

	bundle, err := o.gatherer.Gather(ctx, tc, ticket)
	if err != nil {
		return model.Ticket{}, nil, err
	}
	if bundle == nil {
		bundle = model.ContextBundle{}
	}
	if ticketMissing != nil {
		bundle[ticketBundleEntry] = *ticketMissing
	}
	return ticket, bundle, nil
}

// classifyRunError maps a phase failure onto the error taxonomy.
func classifyRunError(parent, run context.Context, phase job.Phase, err error) error {
	switch {
	case apperrors.IsIsolationViolation(err):
		return err
	case parent.Err() != nil:
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "worker stopped")
	case errors.Is(run.Err(), context.DeadlineExceeded):
		return apperrors.Wrapf(err, apperrors.ErrCodeTimeout, "job deadline exceeded while %s", phase)
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeSynthesisFailed, apperrors.ErrCodeWriteBackFailed, apperrors.ErrCodeTimeout:
		return err
	}
	switch phase {
	case job.PhaseSynthesizing:
		return apperrors.Wrap(err, apperrors.ErrCodeSynthesisFailed, "synthesis failed")
	case job.PhaseWriting:
		return apperrors.Wrap(err, apperrors.ErrCodeWriteBackFailed, "ticket write failed")
	default:
		return err
	}
}

// settle records the terminal result when there is one and performs the queue action.
func (o *Orchestrator) settle(
	ctx context.Context,
	logger *slog.Logger,
	j *model.EnhancementJob,
	tc tenant.Context,
	tracker *job.Tracker,
	res *model.EnhancementResult,
	runErr error,
	start time.Time,
) Outcome {
	if runErr != nil && !tracker.Phase().Terminal() {
		_ = tracker.Fail()
	}
	res.PhaseTimings = tracker.Timings()
	code := apperrors.GetCode(runErr)
	if apperrors.IsIsolationViolation(runErr) {
		code = apperrors.ErrCodeTenantIsolationViolation
	}

	var out Outcome
	switch {
	case runErr == nil:
		out = o.finish(ctx, logger, tc, j, res)

	case code == apperrors.ErrCodeTenantIsolationViolation:
		out = o.quarantine(ctx, logger, tc, j, runErr)

	case code == apperrors.ErrCodeCanceled:
		logger.WarnContext(ctx, "job abandoned, lease left to expire", "error", runErr)
		out = Outcome{Action: ActionAbandon, ErrorCode: code, Err: runErr}

	case code == apperrors.ErrCodeUnknownTenant:
		// The tenant row is gone, so the result is recorded under a bare scope for the id.
		o.fail(res, code, runErr)
		out = o.finish(ctx, logger, jobScope(tc, j), j, res)

	case code == apperrors.ErrCodeSynthesisFailed, code == apperrors.ErrCodeWriteBackFailed:
		o.fail(res, code, runErr)
		out = o.finish(ctx, logger, tc, j, res)

	default:
		// Timeouts and infrastructure errors get another delivery.
		out = o.release(ctx, logger, tc, j, res, code, runErr)
	}

	out.ErrorCode = code
	if out.Err == nil {
		out.Err = runErr
	}
	o.metrics.JobLifecycle(metrics.JobMetric{
		Transition: transitionFor(out.Action),
		Outcome:    string(out.Status),
		Result:     lifecycleResult(out),
		Duration:   o.now().Sub(start),
		Err:        out.Err,
	})
	return out
}

func (o *Orchestrator) fail(res *model.EnhancementResult, code apperrors.ErrorCode, err error) {
	if code == "" {
		code = apperrors.ErrCodeInternal
	}
	res.Status = model.ResultFailed
	res.Text = ""
	res.WriteOutcome = ""
	res.ErrorCode = string(code)
	res.ErrorMessage = err.Error()
}

// finish records a terminal result and acknowledges the job.
func (o *Orchestrator) finish(
	ctx context.Context,
	logger *slog.Logger,
	tc tenant.Context,
	j *model.EnhancementJob,
	res *model.EnhancementResult,
) Outcome {
	out := Outcome{Action: ActionComplete, Status: res.Status, Result: res}
	created := o.persist(ctx, logger, tc, res)

	acked, err := o.jobs.Complete(ctx, jobScope(tc, j), j.ID)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "failed to complete job", "error", err)
		out.Err = err
	case !acked:
		logger.WarnContext(ctx, "job lease lost before completion")
	}

	level := slog.LevelInfo
	if res.Status == model.ResultFailed {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "job finished",
		"status", res.Status,
		"error_code", res.ErrorCode,
		"missing_sources", res.MissingSources,
		"write_outcome", res.WriteOutcome,
		"total_tokens", res.Usage.TotalTokens,
	)
	if created {
		o.publish(ctx, logger, *res)
	}
	return out
}

// release hands the job back to the queue. On the final allowed delivery the terminal
// result is recorded first so a dead job still has one.
func (o *Orchestrator) release(
	ctx context.Context,
	logger *slog.Logger,
	tc tenant.Context,
	j *model.EnhancementJob,
	res *model.EnhancementResult,
	code apperrors.ErrorCode,
	runErr error,
) Outcome {
	out := Outcome{Action: ActionRetry}
	created := false
	if j.FinalAttempt() {
		o.fail(res, code, runErr)
		created = o.persist(ctx, logger, jobScope(tc, j), res)
		out.Status = res.Status
		out.Result = res
	}

	status, err := o.jobs.Fail(ctx, jobScope(tc, j), j.ID, runErr.Error())
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "failed to release job", "error", err)
		out.Err = errors.Join(runErr, err)
	case status == model.JobStatusDead:
		out.Action = ActionDead
		logger.WarnContext(ctx, "job exhausted redeliveries", "error", runErr, "error_code", code)
	case status == "":
		logger.WarnContext(ctx, "job lease lost before release", "error", runErr)
	default:
		logger.WarnContext(ctx, "job released for redelivery", "error", runErr, "error_code", code)
	}
	if created {
		o.publish(ctx, logger, *res)
	}
	return out
}

// quarantine dead-letters a job that crossed a tenant boundary. Nothing is written
// under the offending scope and the job is never retried.
func (o *Orchestrator) quarantine(
	ctx context.Context,
	logger *slog.Logger,
	tc tenant.Context,
	j *model.EnhancementJob,
	runErr error,
) Outcome {
	logger.ErrorContext(ctx, "tenant isolation violation",
		"security_event", "tenant_isolation",
		"error", runErr,
	)
	o.metrics.IsolationViolation("orchestrator")
	if o.alerter != nil {
		o.alerter.Notify(ctx, notify.Alert{
			Kind:       notify.KindIsolationViolation,
			Summary:    fmt.Sprintf("job %s crossed a tenant boundary", j.ID),
			TenantID:   j.TenantID,
			JobID:      j.ID,
			TicketID:   j.TicketID,
			Error:      runErr.Error(),
			ErrorClass: obserrors.Classify(runErr),
			Severity:   notify.SeverityCritical,
		})
	}

	out := Outcome{Action: ActionDead}
	ok, err := o.jobs.MarkDead(ctx, jobScope(tc, j), j.ID, runErr.Error())
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "failed to dead-letter job", "error", err)
		out.Err = errors.Join(runErr, err)
	case !ok:
		logger.WarnContext(ctx, "job lease lost before dead-lettering")
	}
	return out
}

// persist saves res and reports whether this call created it.
func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, tc tenant.Context, res *model.EnhancementResult) bool {
	created, err := o.results.Save(ctx, tc, res)
	if err != nil {
		if apperrors.IsIsolationViolation(err) {
			o.metrics.IsolationViolation("result_store")
		}
		logger.ErrorContext(ctx, "failed to record result", "status", res.Status, "error", err)
		return false
	}
	if !created {
		logger.InfoContext(ctx, "result already recorded by an earlier delivery")
	}
	return created
}

// publish emits the usage event and archives the result. Both are best effort.
func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, res model.EnhancementResult) {
	if o.usage == nil && o.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if o.usage != nil {
		if err := o.usage.PublishUsage(ctx, res); err != nil {
			logger.WarnContext(ctx, "failed to publish usage event", "error", err)
		}
	}
	if o.archive != nil {
		if err := o.archive.Archive(ctx, res); err != nil {
			logger.WarnContext(ctx, "failed to archive result", "error", err)
		}
	}
}

func (o *Orchestrator) newResult(j *model.EnhancementJob) *model.EnhancementResult {
	return &model.EnhancementResult{
		JobID:     j.ID,
		TenantID:  j.TenantID,
		TicketID:  j.TicketID,
		EventID:   j.EventID,
		Attempt:   j.RetryCount + 1,
		CreatedAt: o.now().UTC(),
	}
}

// jobScope returns tc when it is bound to the job's tenant, and otherwise a
// credential-less scope for the tenant recorded on the leased row. That covers a
// tenant that could not be loaded and a loaded tenant that failed authorization.
// A job without a tenant id yields the zero scope, which storage refuses.
func jobScope(tc tenant.Context, j *model.EnhancementJob) tenant.Context {
	if tc.Valid() && tc.ID() == j.TenantID {
		return tc
	}
	scope, err := tenant.Scope(j.TenantID)
	if err != nil {
		return tenant.Context{}
	}
	return scope
}

func transitionFor(a Action) string {
	switch a {
	case ActionComplete:
		return metrics.TransitionComplete
	case ActionDead:
		return metrics.TransitionDead
	case ActionAbandon:
		return metrics.TransitionAbandon
	default:
		return metrics.TransitionRetry
	}
}

func lifecycleResult(out Outcome) string {
	if out.Action == ActionComplete && out.Status != model.ResultFailed && out.Err == nil {
		return metrics.ResultSuccess
	}
	return metrics.ResultError
}
