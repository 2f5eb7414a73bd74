package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Context source names.
const (
	SourceTicketHistory = "ticket_history"
	SourceKnowledgeBase = "knowledge_base"
	SourceNetworkLookup = "network_lookup"
)

// Reasons recorded for unavailable sources.
const (
	ReasonTimeout       = "timeout"
	ReasonEmpty         = "empty"
	ReasonError         = "error"
	ReasonCanceled      = "canceled"
	ReasonNotConfigured = "not_configured"
)

// SourceResult is one source's contribution to a ContextBundle: data, or a reason it is missing.
type SourceResult struct {
	Available bool            `json:"available"`
	Data      json.RawMessage `json:"data,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Latency   time.Duration   `json:"latency"`
	Attempts  int             `json:"attempts"`
	Cached    bool            `json:"cached,omitempty"`
}

// Available builds a successful source result.
func Available(data json.RawMessage) SourceResult {
	return SourceResult{Available: true, Data: data}
}

// Unavailable builds a source result recording why the source is missing.
func Unavailable(reason, detail string) SourceResult {
	return SourceResult{Reason: reason, Detail: detail}
}

// ContextBundle maps source name to its result for one job.
type ContextBundle map[string]SourceResult

// Complete reports whether every configured source has an entry.
func (b ContextBundle) Complete(configured []string) bool {
	for _, name := range configured {
		if _, ok := b[name]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the sorted names of sources that are unavailable.
func (b ContextBundle) Missing() []string {
	var missing []string
	for name, r := range b {
		if !r.Available {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Names returns the sorted source names present in the bundle.
func (b ContextBundle) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ticket is the ticket's own content as read from the ticketing system.
type Ticket struct {
	ID              string   `json:"id"`
	Subject         string   `json:"subject,omitempty"`
	Description     string   `json:"description,omitempty"`
	Requester       string   `json:"requester,omitempty"`
	EnhancementKeys []string `json:"enhancement_keys,omitempty"`
}

// HasEnhancement reports whether the ticket already carries an enhancement for the dedup key.
func (t Ticket) HasEnhancement(key string) bool {
	for _, k := range t.EnhancementKeys {
		if k == key {
			return true
		}
	}
	return false
}
