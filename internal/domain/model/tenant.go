package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that marshals as a Go duration string ("8s").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of milliseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// UnmarshalYAML accepts a duration string in tenant import files.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Tenant is the persisted tenant configuration row.
// WebhookSecret and TicketingAPIKey hold ciphertext as stored; decryption happens
// when a tenant.Context is built.
type Tenant struct {
	ID               string         `json:"id"                 db:"id"`
	Name             string         `json:"name"               db:"name"`
	WebhookSecret    string         `json:"-"                  db:"webhook_secret"`
	TicketingBaseURL string         `json:"ticketing_base_url" db:"ticketing_base_url"`
	TicketingAPIKey  string         `json:"-"                  db:"ticketing_api_key"`
	Settings         TenantSettings `json:"settings"           db:"settings"`
	Active           bool           `json:"active"             db:"active"`
	CreatedAt        time.Time      `json:"created_at"         db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"         db:"updated_at"`
}

// TenantSettings holds per-tenant tunables. Zero values defer to process defaults.
type TenantSettings struct {
	MaxConcurrentJobs int                     `json:"max_concurrent_jobs,omitempty" yaml:"max_concurrent_jobs"`
	JobDeadline       Duration                `json:"job_deadline,omitempty"        yaml:"job_deadline"`
	Model             string                  `json:"model,omitempty"               yaml:"model"`
	MaxPromptBytes    int                     `json:"max_prompt_bytes,omitempty"    yaml:"max_prompt_bytes"`
	Sources           map[string]SourceConfig `json:"sources,omitempty"             yaml:"sources"`
	Ticketing         TicketingSettings       `json:"ticketing"                     yaml:"ticketing"`
}

// SourceConfig configures one context source for a tenant.
type SourceConfig struct {
	// URL is a template; {ticket_id}, {requester}, {query}, and {indicator} are substituted.
	URL string `json:"url" yaml:"url"`
	// APIKey is sent as a bearer token when set. Stored encrypted.
	APIKey string `json:"api_key,omitempty" yaml:"api_key"`
	// ResultPath is a JMESPath expression selecting the useful part of the response.
	ResultPath string   `json:"result_path,omitempty" yaml:"result_path"`
	Timeout    Duration `json:"timeout,omitempty"     yaml:"timeout"`
	// Retries is 0 or 1; nil uses the process default.
	Retries  *int `json:"retries,omitempty" yaml:"retries"`
	Disabled bool `json:"disabled,omitempty" yaml:"disabled"`
}

// TicketingSettings describes how to talk to the tenant's ticketing system.
type TicketingSettings struct {
	// TicketPath and UpdatePath are templates relative to TicketingBaseURL.
	TicketPath   string `json:"ticket_path,omitempty"   yaml:"ticket_path"`
	UpdatePath   string `json:"update_path,omitempty"   yaml:"update_path"`
	UpdateMethod string `json:"update_method,omitempty" yaml:"update_method"`
	// SupportsIdempotencyKey sends Idempotency-Key on writes instead of reading first.
	SupportsIdempotencyKey bool `json:"supports_idempotency_key,omitempty" yaml:"supports_idempotency_key"`
	// JMESPath expressions into the ticket document.
	SubjectPath        string `json:"subject_path,omitempty"         yaml:"subject_path"`
	DescriptionPath    string `json:"description_path,omitempty"     yaml:"description_path"`
	RequesterPath      string `json:"requester_path,omitempty"       yaml:"requester_path"`
	EnhancementKeyPath string `json:"enhancement_key_path,omitempty" yaml:"enhancement_key_path"`
}

// Value helpers keep tenant defaults in one place.
const (
	DefaultTicketPath         = "/tickets/{ticket_id}"
	DefaultUpdatePath         = "/tickets/{ticket_id}/enhancements"
	DefaultUpdateMethod       = "POST"
	DefaultSubjectPath        = "subject"
	DefaultDescriptionPath    = "description"
	DefaultRequesterPath      = "requester.email"
	DefaultEnhancementKeyPath = "enhancements[].key"
)

// WithDefaults returns a copy with empty ticketing fields filled in.
func (t TicketingSettings) WithDefaults() TicketingSettings {
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.TicketPath, DefaultTicketPath)
	fill(&t.UpdatePath, DefaultUpdatePath)
	fill(&t.UpdateMethod, DefaultUpdateMethod)
	fill(&t.SubjectPath, DefaultSubjectPath)
	fill(&t.DescriptionPath, DefaultDescriptionPath)
	fill(&t.RequesterPath, DefaultRequesterPath)
	fill(&t.EnhancementKeyPath, DefaultEnhancementKeyPath)
	return t
}

// Clone returns a deep copy so no two jobs share mutable settings.
func (s TenantSettings) Clone() TenantSettings {
	out := s
	if s.Sources != nil {
		out.Sources = make(map[string]SourceConfig, len(s.Sources))
		for name, cfg := range s.Sources {
			if cfg.Retries != nil {
				r := *cfg.Retries
				cfg.Retries = &r
			}
			out.Sources[name] = cfg
		}
	}
	return out
}

// TenantUpsert is the operator input for creating or updating a tenant.
// Secrets are plaintext here and encrypted by the tenant service.
type TenantUpsert struct {
	ID               string         `yaml:"id"                 validate:"required,max=128,hostname_rfc1123"`
	Name             string         `yaml:"name"               validate:"max=256"`
	WebhookSecret    string         `yaml:"webhook_secret"     validate:"required,min=16"`
	TicketingBaseURL string         `yaml:"ticketing_base_url" validate:"required,http_url"`
	TicketingAPIKey  string         `yaml:"ticketing_api_key"`
	Settings         TenantSettings `yaml:"settings"`
	Active           *bool          `yaml:"active"`
}

// Validate checks the identity, secret, and endpoint fields.
func (u *TenantUpsert) Validate() error {
	return structValidator().Struct(u)
}
