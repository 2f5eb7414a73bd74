// Package tenant defines the TenantContext every pipeline step receives explicitly.
//
// A Context is an immutable value built once per request or job from the persisted
// tenant row. Storage functions take it as a mandatory parameter so a query cannot
// be issued without a tenant scope; the zero value is rejected as an isolation fault.
package tenant

import (
	"log/slog"
	"time"

	"github.com/target/ticket-enhancer/internal/domain/model"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

// Credentials are the decrypted secrets needed to reach a tenant's external systems.
type Credentials struct {
	WebhookSecret   string
	TicketingAPIKey string
	// SourceAPIKeys holds decrypted per-source bearer tokens keyed by source name.
	SourceAPIKeys map[string]string
}

// Defaults are the process-level fallbacks for tunables a tenant leaves unset.
type Defaults struct {
	JobDeadline        time.Duration
	JobDeadlineCeiling time.Duration
	MaxConcurrentJobs  int
	Model              string
	MaxPromptBytes     int
	SourceTimeout      time.Duration
	SourceRetries      int
	EnabledSources     []string
}

// Context is the TenantContext: identity, credentials, and resolved tunables.
type Context struct {
	id               string
	name             string
	ticketingBaseURL string
	creds            Credentials
	settings         model.TenantSettings
	defaults         Defaults
}

// NewContext builds a Context from a tenant row and its decrypted credentials.
// The settings are deep-copied so later mutation of the row cannot leak into the job.
func NewContext(t model.Tenant, creds Credentials, defaults Defaults) (Context, error) {
	if t.ID == "" {
		return Context{}, apperrors.IsolationViolationf("tenant context requires a tenant id")
	}
	keys := make(map[string]string, len(creds.SourceAPIKeys))
	for k, v := range creds.SourceAPIKeys {
		keys[k] = v
	}
	creds.SourceAPIKeys = keys
	enabled := append([]string(nil), defaults.EnabledSources...)
	defaults.EnabledSources = enabled

	return Context{
		id:               t.ID,
		name:             t.Name,
		ticketingBaseURL: t.TicketingBaseURL,
		creds:            creds,
		settings:         t.Settings.Clone(),
		defaults:         defaults,
	}, nil
}

// Scope returns a credential-less Context for queue bookkeeping on a job whose tenant
// row is not loaded, such as lease heartbeats and acknowledgements.
func Scope(tenantID string) (Context, error) {
	return NewContext(model.Tenant{ID: tenantID}, Credentials{}, Defaults{})
}

// ID returns the tenant identifier.
func (c Context) ID() string { return c.id }

// Name returns the tenant display name.
func (c Context) Name() string { return c.name }

// Valid reports whether the context carries a tenant scope.
func (c Context) Valid() bool { return c.id != "" }

// WebhookSecret returns the shared secret used to verify inbound signatures.
func (c Context) WebhookSecret() string { return c.creds.WebhookSecret }

// TicketingBaseURL returns the tenant's ticketing API base URL.
func (c Context) TicketingBaseURL() string { return c.ticketingBaseURL }

// TicketingAPIKey returns the tenant's ticketing API key.
func (c Context) TicketingAPIKey() string { return c.creds.TicketingAPIKey }

// Ticketing returns ticketing settings with defaults applied.
func (c Context) Ticketing() model.TicketingSettings { return c.settings.Ticketing.WithDefaults() }

// JobDeadline resolves the overall job budget, never above the process ceiling.
func (c Context) JobDeadline() time.Duration {
	d := c.settings.JobDeadline.Std()
	if d <= 0 {
		d = c.defaults.JobDeadline
	}
	if ceiling := c.defaults.JobDeadlineCeiling; ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return d
}

// MaxConcurrentJobs returns the tenant's lease cap.
func (c Context) MaxConcurrentJobs() int {
	if n := c.settings.MaxConcurrentJobs; n > 0 {
		return n
	}
	return c.defaults.MaxConcurrentJobs
}

// Model returns the LLM model selected for this tenant.
func (c Context) Model() string {
	if c.settings.Model != "" {
		return c.settings.Model
	}
	return c.defaults.Model
}

// MinPromptBytes is the smallest prompt bound a tenant may set. Below it the
// per-source truncation markers crowd out the unavailable-source lines.
const MinPromptBytes = 1024

// MaxPromptBytes returns the prompt size bound.
func (c Context) MaxPromptBytes() int {
	if n := c.settings.MaxPromptBytes; n > 0 {
		return max(n, MinPromptBytes)
	}
	return c.defaults.MaxPromptBytes
}

// SourceSpec is the resolved configuration for one context source.
type SourceSpec struct {
	Name       string
	URL        string
	APIKey     string
	ResultPath string
	Timeout    time.Duration
	Retries    int
}

// Sources returns the enabled sources in configured order. A source that is enabled
// process-wide but has no tenant endpoint is still returned (with an empty URL) so the
// aggregator can record it as not configured.
func (c Context) Sources() []SourceSpec {
	specs := make([]SourceSpec, 0, len(c.defaults.EnabledSources))
	for _, name := range c.defaults.EnabledSources {
		cfg := c.settings.Sources[name]
		if cfg.Disabled {
			continue
		}
		spec := SourceSpec{
			Name:       name,
			URL:        cfg.URL,
			APIKey:     c.creds.SourceAPIKeys[name],
			ResultPath: cfg.ResultPath,
			Timeout:    cfg.Timeout.Std(),
			Retries:    c.defaults.SourceRetries,
		}
		if spec.Timeout <= 0 || spec.Timeout > c.defaults.SourceTimeout*4 {
			spec.Timeout = c.defaults.SourceTimeout
		}
		if cfg.Retries != nil {
			spec.Retries = min(max(*cfg.Retries, 0), 1)
		}
		specs = append(specs, spec)
	}
	return specs
}

// Authorize returns a TenantIsolationViolation unless tenantID is this context's tenant.
func (c Context) Authorize(tenantID string) error {
	if !c.Valid() {
		return apperrors.IsolationViolationf("no tenant scope bound for access to tenant %q", tenantID)
	}
	if tenantID != c.id {
		return apperrors.IsolationViolationf("tenant %q accessed data of tenant %q", c.id, tenantID)
	}
	return nil
}

// Require returns a TenantIsolationViolation for a zero Context. Storage functions call it
// before issuing any query.
func Require(c Context) error {
	if !c.Valid() {
		return apperrors.IsolationViolationf("storage access without tenant scope")
	}
	return nil
}

// String keeps credentials out of formatted output.
func (c Context) String() string { return "tenant(" + c.id + ")" }

// LogValue keeps credentials out of structured logs.
func (c Context) LogValue() slog.Value { return slog.StringValue(c.id) }
