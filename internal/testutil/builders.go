// Package testutil provides database, Redis, and fixture helpers for tests.
package testutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
)

// TenantBuilder provides a fluent interface for building tenant rows and contexts.
type TenantBuilder struct {
	tenant model.Tenant
	creds  tenant.Credentials
}

// NewTenant creates a TenantBuilder with an active tenant and a plaintext webhook secret.
func NewTenant(id string) *TenantBuilder {
	return &TenantBuilder{
		tenant: model.Tenant{
			ID:               id,
			Name:             id,
			WebhookSecret:    "secret-" + id,
			TicketingBaseURL: "https://tickets.example.com",
			Active:           true,
		},
		creds: tenant.Credentials{WebhookSecret: "secret-" + id},
	}
}

// WithSecret sets the webhook secret on both the row and the decrypted credentials.
func (b *TenantBuilder) WithSecret(secret string) *TenantBuilder {
	b.tenant.WebhookSecret = secret
	b.creds.WebhookSecret = secret
	return b
}

// WithTicketing points the tenant at a ticketing API.
func (b *TenantBuilder) WithTicketing(baseURL, apiKey string) *TenantBuilder {
	b.tenant.TicketingBaseURL = baseURL
	b.tenant.TicketingAPIKey = apiKey
	b.creds.TicketingAPIKey = apiKey
	return b
}

// WithSource configures one context source.
func (b *TenantBuilder) WithSource(name string, cfg model.SourceConfig) *TenantBuilder {
	if b.tenant.Settings.Sources == nil {
		b.tenant.Settings.Sources = map[string]model.SourceConfig{}
	}
	b.tenant.Settings.Sources[name] = cfg
	return b
}

// WithSettings replaces the tenant settings.
func (b *TenantBuilder) WithSettings(s model.TenantSettings) *TenantBuilder {
	b.tenant.Settings = s
	return b
}

// Inactive marks the tenant as disabled.
func (b *TenantBuilder) Inactive() *TenantBuilder {
	b.tenant.Active = false
	return b
}

// Build returns the tenant row.
func (b *TenantBuilder) Build() model.Tenant { return b.tenant }

// Context builds a tenant.Context with test defaults. It panics on an empty id,
// which only happens in a broken fixture.
func (b *TenantBuilder) Context() tenant.Context {
	tc, err := tenant.NewContext(b.tenant, b.creds, DefaultTenantDefaults())
	if err != nil {
		panic(err)
	}
	return tc
}

// DefaultTenantDefaults mirrors the production defaults with every source enabled.
func DefaultTenantDefaults() tenant.Defaults {
	return tenant.Defaults{
		JobDeadline:        30 * time.Second,
		JobDeadlineCeiling: 2 * time.Minute,
		MaxConcurrentJobs:  4,
		Model:              "test-model",
		MaxPromptBytes:     16 * 1024,
		SourceTimeout:      8 * time.Second,
		SourceRetries:      1,
		EnabledSources: []string{
			model.SourceTicketHistory,
			model.SourceKnowledgeBase,
			model.SourceNetworkLookup,
		},
	}
}

// SignedWebhook returns a JSON body for the event and its X-Signature header value.
func SignedWebhook(secret string, evt model.WebhookEvent) (body []byte, signature string) {
	body, err := json.Marshal(evt)
	if err != nil {
		panic(err)
	}
	return body, Sign(secret, body)
}

// Sign computes the X-Signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
