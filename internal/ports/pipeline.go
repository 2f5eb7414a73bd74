// Package ports defines interfaces (hexagonal ports) for the external systems the
// enhancement pipeline talks to. Implementations live in internal/adapters;
// orchestration in internal/service.
package ports

import (
	"context"
	"encoding/json"

	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/observability/notify"
)

// SourceData is one context source's answer.
type SourceData struct {
	Data json.RawMessage
	// Cached is true when the answer was served from the source cache.
	Cached bool
}

// ContextSource fetches one kind of supporting context for a ticket.
//
// Fetch is called with a context that already carries the per-source timeout.
// A nil or empty document is recorded as an empty source, not an error.
type ContextSource interface {
	Name() string
	Fetch(ctx context.Context, tc tenant.Context, spec tenant.SourceSpec, ticket model.Ticket) (SourceData, error)
}

// SynthesisRequest is one LLM call. The prompt is already bounded.
type SynthesisRequest struct {
	TenantID  string
	JobID     string
	Model     string
	System    string
	User      string
	MaxTokens int
}

// Synthesis is the provider's answer.
type Synthesis struct {
	Text     string
	Usage    model.TokenUsage
	Attempts int
}

// Synthesizer turns a prompt into enhancement text. Errors are AppErrors with code
// SynthesisFailed, or Timeout when the caller's deadline ran out.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (Synthesis, error)
}

// WriteRequest carries the enhancement written back to a ticket.
type WriteRequest struct {
	TicketID string
	JobID    string
	// DedupKey marks the enhancement so a redelivered job recognises its own write.
	DedupKey       string
	Text           string
	Status         model.ResultStatus
	MissingSources []string
}

// TicketClient reads and updates tickets in the tenant's ticketing system.
type TicketClient interface {
	GetTicket(ctx context.Context, tc tenant.Context, ticketID string) (model.Ticket, error)
	// WriteEnhancement performs at most one logical mutation per dedup key.
	WriteEnhancement(ctx context.Context, tc tenant.Context, req WriteRequest) (model.WriteOutcome, error)
}

// UsagePublisher emits one cost/usage event per terminal result.
type UsagePublisher interface {
	PublishUsage(ctx context.Context, res model.EnhancementResult) error
}

// ResultArchiver copies terminal results to long-term storage.
type ResultArchiver interface {
	Archive(ctx context.Context, res model.EnhancementResult) error
}

// Alerter delivers operator alerts. Delivery failures are logged by the implementation.
type Alerter interface {
	Notify(ctx context.Context, alert notify.Alert)
}
