// Package sources implements the context sources consulted for every ticket. Each
// is an HTTP JSON endpoint configured per tenant: a URL template, an optional bearer
// key, and a JMESPath expression selecting the useful part of the answer.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/target/ticket-enhancer/internal/adapters/jsonapi"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/ports"
	"github.com/target/ticket-enhancer/internal/retry"
)

// maxQueryLen bounds the search text taken from a ticket.
const maxQueryLen = 256

// Options configures the built-in sources.
type Options struct {
	HTTPClient *http.Client
	// MaxIndicators caps network_lookup calls per ticket.
	MaxIndicators int
}

// New returns ticket_history, knowledge_base, and network_lookup.
func New(opts Options) []ports.ContextSource {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return []ports.ContextSource{
		NewTicketHistory(hc),
		NewKnowledgeBase(hc),
		NewNetworkLookup(hc, opts.MaxIndicators),
	}
}

// templateSource fetches a single URL built from ticket fields.
type templateSource struct {
	name string
	hc   *http.Client
	// vars returns the template variables, or nil when the ticket has nothing to look up.
	vars func(model.Ticket) map[string]string
}

func (s *templateSource) Name() string { return s.name }

func (s *templateSource) Fetch(
	ctx context.Context,
	tc tenant.Context,
	spec tenant.SourceSpec,
	ticket model.Ticket,
) (ports.SourceData, error) {
	if err := tenant.Require(tc); err != nil {
		return ports.SourceData{}, retry.Permanent(err)
	}
	vars := s.vars(ticket)
	if vars == nil {
		return ports.SourceData{}, nil
	}
	data, err := fetch(ctx, s.hc, spec, jsonapi.Expand(spec.URL, vars))
	if err != nil {
		return ports.SourceData{}, err
	}
	return ports.SourceData{Data: data}, nil
}

// NewTicketHistory looks up the requester's earlier tickets.
// Template variables: {requester}, {ticket_id}.
func NewTicketHistory(hc *http.Client) ports.ContextSource {
	return &templateSource{
		name: model.SourceTicketHistory,
		hc:   hc,
		vars: func(t model.Ticket) map[string]string {
			if t.Requester == "" {
				return nil
			}
			return map[string]string{"requester": t.Requester, "ticket_id": t.ID}
		},
	}
}

// NewKnowledgeBase searches articles by the ticket subject, or the start of the
// description when there is no subject. Template variables: {query}, {ticket_id}.
func NewKnowledgeBase(hc *http.Client) ports.ContextSource {
	return &templateSource{
		name: model.SourceKnowledgeBase,
		hc:   hc,
		vars: func(t model.Ticket) map[string]string {
			q := t.Subject
			if q == "" {
				q = t.Description
			}
			q = truncateRunes(q, maxQueryLen)
			if q == "" {
				return nil
			}
			return map[string]string{"query": q, "ticket_id": t.ID}
		},
	}
}

// fetch performs one GET and applies the tenant's result path.
func fetch(ctx context.Context, hc *http.Client, spec tenant.SourceSpec, url string) (json.RawMessage, error) {
	body, err := jsonapi.Do(ctx, hc, jsonapi.Request{URL: url, Bearer: spec.APIKey})
	if err != nil {
		return nil, err
	}
	doc, err := jsonapi.Decode(body)
	if err != nil {
		return nil, err
	}
	selected, err := jsonapi.Search(spec.ResultPath, doc)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if selected == nil {
		return nil, nil
	}
	out, err := json.Marshal(selected)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encode %s result: %w", spec.Name, err))
	}
	return out, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
