package model

import (
	"time"
)

// ResultStatus is the terminal outcome surfaced outward for a job.
type ResultStatus string

const (
	// ResultSucceeded means every source contributed and the ticket was updated (or already was).
	ResultSucceeded ResultStatus = "succeeded"
	// ResultDegraded means the ticket was updated but some context sources were missing.
	ResultDegraded ResultStatus = "degraded"
	// ResultFailed means the job terminated with an error code.
	ResultFailed ResultStatus = "failed"
)

// WriteOutcome records what the ticket writer did.
type WriteOutcome string

const (
	// WriteOutcomeWritten means one ticket mutation was made.
	WriteOutcomeWritten WriteOutcome = "written"
	// WriteOutcomeDuplicate means the ticket already carried this job's enhancement.
	WriteOutcomeDuplicate WriteOutcome = "duplicate"
)

// TokenUsage is the provider's token accounting for one synthesis call.
type TokenUsage struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Add accumulates usage from another call (retries that reached the provider still cost tokens).
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	if u.Model == "" {
		u.Model = o.Model
	}
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
	return u
}

// EnhancementResult is the durable, immutable audit record of a job's terminal outcome.
type EnhancementResult struct {
	JobID          string                   `json:"job_id"`
	TenantID       string                   `json:"tenant_id"`
	TicketID       string                   `json:"ticket_id"`
	EventID        string                   `json:"event_id"`
	Status         ResultStatus             `json:"status"`
	Text           string                   `json:"text,omitempty"`
	ErrorCode      string                   `json:"error_code,omitempty"`
	ErrorMessage   string                   `json:"error_message,omitempty"`
	MissingSources []string                 `json:"missing_sources,omitempty"`
	PhaseTimings   map[string]time.Duration `json:"phase_timings,omitempty"`
	Usage          TokenUsage               `json:"usage"`
	WriteOutcome   WriteOutcome             `json:"write_outcome,omitempty"`
	Attempt        int                      `json:"attempt"`
	CreatedAt      time.Time                `json:"created_at"`
}

// Terminal reports whether the status is one of the terminal outcomes.
func (s ResultStatus) Terminal() bool {
	return s == ResultSucceeded || s == ResultDegraded || s == ResultFailed
}
