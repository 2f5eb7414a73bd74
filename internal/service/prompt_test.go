package service

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/testutil"
)

func promptBundle() model.ContextBundle {
	return model.ContextBundle{
		model.SourceTicketHistory: model.Available(json.RawMessage(`[ {"id": "T-0", "subject": "VPN down"} ]`)),
		model.SourceKnowledgeBase: model.Unavailable(model.ReasonTimeout, "context deadline exceeded"),
		model.SourceNetworkLookup: model.Available(json.RawMessage(`{"10.0.0.1":{"owner":"corp"}}`)),
	}
}

func TestBuildPrompt_SectionOrderAndMissingSources(t *testing.T) {
	ticket := model.Ticket{ID: "T-1", Subject: "Cannot reach 10.0.0.1", Requester: "ana@example.com", Description: "Since 9am."}

	p := BuildPrompt(ticket, promptBundle(), 0)

	assert.False(t, p.Truncated)
	assert.NotEmpty(t, p.System)

	ticketAt := strings.Index(p.User, "## Ticket")
	kbAt := strings.Index(p.User, "## Context: knowledge_base")
	netAt := strings.Index(p.User, "## Context: network_lookup")
	histAt := strings.Index(p.User, "## Context: ticket_history")
	assert.True(t, ticketAt < kbAt && kbAt < netAt && netAt < histAt, p.User)

	assert.Contains(t, p.User, "## Context: knowledge_base\nunavailable (timeout)")
	assert.Contains(t, p.User, `[{"id":"T-0","subject":"VPN down"}]`)
	assert.Contains(t, p.User, "Requester: ana@example.com")
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	ticket := model.Ticket{ID: "T-1", Description: strings.Repeat("x", 5000)}
	a := BuildPrompt(ticket, promptBundle(), 1000)
	b := BuildPrompt(ticket, promptBundle(), 1000)
	assert.Equal(t, a, b)
}

func TestBuildPrompt_TruncatesWithinBudget(t *testing.T) {
	long := strings.Repeat("é", 4000) // two bytes per rune
	ticket := model.Ticket{ID: "T-1", Description: long}
	bundle := model.ContextBundle{
		model.SourceKnowledgeBase: model.Available(json.RawMessage(`"` + strings.Repeat("kb ", 2000) + `"`)),
		model.SourceNetworkLookup: model.Unavailable(model.ReasonEmpty, ""),
	}

	const budget = 2000
	p := BuildPrompt(ticket, bundle, budget)

	assert.True(t, p.Truncated)
	assert.LessOrEqual(t, len(p.User), budget)
	assert.True(t, utf8.ValidString(p.User))
	assert.Contains(t, p.User, "[truncated ")
	// Short sections are kept whole.
	assert.Contains(t, p.User, "## Context: network_lookup\nunavailable (empty)")
	// Both long sections survive in part.
	assert.Contains(t, p.User, "## Ticket")
	assert.Contains(t, p.User, "## Context: knowledge_base")
}

func TestBuildPrompt_UnusedShareFlowsToLongSections(t *testing.T) {
	ticket := model.Ticket{ID: "T-1"}
	bundle := model.ContextBundle{
		model.SourceKnowledgeBase: model.Available(json.RawMessage(`"` + strings.Repeat("a", 3000) + `"`)),
	}

	p := BuildPrompt(ticket, bundle, 1000)

	// The ticket section is tiny, so the knowledge base gets nearly the whole budget.
	kb := p.User[strings.Index(p.User, "## Context: knowledge_base"):]
	assert.Greater(t, len(kb), 900)
	assert.LessOrEqual(t, len(p.User), 1000)
}

func TestTruncateSection(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "ascii", in: strings.Repeat("a", 100), limit: 50, want: strings.Repeat("a", 18) + "\n[truncated 82 bytes]"},
		{name: "limit below marker", in: strings.Repeat("a", 100), limit: 10, want: ""},
		{name: "backs off to rune start", in: "a" + strings.Repeat("€", 20), limit: 35, want: "a\n[truncated 60 bytes]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateSection(tt.in, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), tt.limit)
		})
	}
}

func TestBuildPrompt_TinyTenantBudgetKeepsUnavailableLines(t *testing.T) {
	tc := testutil.NewTenant("acme").
		WithSettings(model.TenantSettings{MaxPromptBytes: 90}).
		Context()
	ticket := model.Ticket{ID: "T-1", Subject: "Cannot reach 10.0.0.1", Requester: "ana@example.com"}

	p := BuildPrompt(ticket, promptBundle(), tc.MaxPromptBytes())

	assert.LessOrEqual(t, len(p.User), tenant.MinPromptBytes)
	assert.Contains(t, p.User, "## Context: knowledge_base\nunavailable (timeout)")
	assert.Contains(t, p.User, "Subject: Cannot reach 10.0.0.1")
}
