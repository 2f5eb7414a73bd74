package config

import (
	"strings"
	"time"
)

// QueueConfig contains job queue policy.
type QueueConfig struct {
	// MaxRedeliveries is how many deliveries a job gets before it is moved to the dead set.
	MaxRedeliveries int `env:"MAX_REDELIVERIES" envDefault:"5"`

	// RetryDelay is the base delay before a released job becomes visible again.
	// It doubles with each redelivery.
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"5s"`

	// MaxRetryDelay caps the redelivery delay.
	MaxRetryDelay time.Duration `env:"MAX_RETRY_DELAY" envDefault:"5m"`

	// DefaultTenantConcurrency applies when a tenant has no max_concurrent_jobs set.
	DefaultTenantConcurrency int `env:"DEFAULT_TENANT_CONCURRENCY" envDefault:"4"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if q.MaxRedeliveries < 1 {
		q.MaxRedeliveries = 1
	}
	if q.MaxRedeliveries > 50 {
		q.MaxRedeliveries = 50
	}
	if q.RetryDelay < 0 {
		q.RetryDelay = 0
	}
	if q.MaxRetryDelay < q.RetryDelay {
		q.MaxRetryDelay = q.RetryDelay
	}
	if q.DefaultTenantConcurrency < 1 {
		q.DefaultTenantConcurrency = 1
	}
}

// PipelineConfig controls the overall job budget.
type PipelineConfig struct {
	// JobDeadline is the default end-to-end budget for one job; tenants may lower or raise it.
	JobDeadline time.Duration `env:"JOB_DEADLINE" envDefault:"30s"`

	// JobDeadlineCeiling is the hard ceiling no tenant setting can exceed.
	JobDeadlineCeiling time.Duration `env:"JOB_DEADLINE_CEILING" envDefault:"120s"`

	// MaxPromptBytes is the default prompt size bound.
	MaxPromptBytes int `env:"MAX_PROMPT_BYTES" envDefault:"24000"`
}

// Sanitize applies guardrails to pipeline configuration values.
func (p *PipelineConfig) Sanitize() {
	if p.JobDeadlineCeiling < 5*time.Second {
		p.JobDeadlineCeiling = 5 * time.Second
	}
	if p.JobDeadline <= 0 || p.JobDeadline > p.JobDeadlineCeiling {
		p.JobDeadline = p.JobDeadlineCeiling
	}
	if p.MaxPromptBytes < 1024 {
		p.MaxPromptBytes = 1024
	}
}

// SourcesConfig contains context source defaults.
type SourcesConfig struct {
	// Enabled lists the context sources consulted for every job.
	Enabled []string `env:"ENABLED" envDefault:"ticket_history,knowledge_base,network_lookup"`

	// DefaultTimeout bounds each source fetch when the tenant sets none.
	DefaultTimeout time.Duration `env:"DEFAULT_TIMEOUT" envDefault:"8s"`

	// DefaultRetries is 0 or 1; sources are read-only so one retry is safe.
	DefaultRetries int `env:"DEFAULT_RETRIES" envDefault:"1"`

	// CacheTTL caches successful source results in Redis per tenant. 0 disables.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"0s"`

	// MaxIndicators caps how many IPs/domains network_lookup resolves per ticket.
	MaxIndicators int `env:"MAX_INDICATORS" envDefault:"5"`
}

// Sanitize applies guardrails to source configuration values.
// Per-source timeouts must stay materially shorter than the job deadline ceiling.
func (s *SourcesConfig) Sanitize(deadlineCeiling time.Duration) {
	enabled := s.Enabled[:0]
	for _, name := range s.Enabled {
		if name = strings.TrimSpace(name); name != "" {
			enabled = append(enabled, name)
		}
	}
	s.Enabled = enabled

	if s.DefaultTimeout < 100*time.Millisecond {
		s.DefaultTimeout = 100 * time.Millisecond
	}
	if limit := deadlineCeiling / 2; limit > 0 && s.DefaultTimeout > limit {
		s.DefaultTimeout = limit
	}
	if s.DefaultRetries < 0 {
		s.DefaultRetries = 0
	}
	if s.DefaultRetries > 1 {
		s.DefaultRetries = 1
	}
	if s.CacheTTL < 0 {
		s.CacheTTL = 0
	}
	if s.MaxIndicators < 1 {
		s.MaxIndicators = 1
	}
}

// LLMConfig configures the synthesis provider.
type LLMConfig struct {
	BaseURL      string `env:"BASE_URL"      envDefault:"https://api.openai.com/v1"`
	APIKey       string `env:"API_KEY"`
	DefaultModel string `env:"DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	MaxTokens    int    `env:"MAX_TOKENS"    envDefault:"800"`

	// TokenURL switches authentication to OAuth2 client credentials.
	TokenURL     string   `env:"TOKEN_URL"`
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES"`

	// CallTimeout bounds the whole synthesis call including retries.
	CallTimeout time.Duration `env:"CALL_TIMEOUT" envDefault:"45s"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryBase   time.Duration `env:"RETRY_BASE"   envDefault:"500ms"`
	RetryMax    time.Duration `env:"RETRY_MAX"    envDefault:"8s"`
}

// Sanitize applies guardrails to LLM configuration values.
func (l *LLMConfig) Sanitize() {
	l.BaseURL = strings.TrimRight(strings.TrimSpace(l.BaseURL), "/")
	if l.MaxTokens < 1 {
		l.MaxTokens = 1
	}
	if l.CallTimeout < time.Second {
		l.CallTimeout = time.Second
	}
	clampAttempts(&l.MaxAttempts, 5)
	clampBackoff(&l.RetryBase, &l.RetryMax)
}

// UsesClientCredentials reports whether OAuth2 client credentials are configured.
func (l *LLMConfig) UsesClientCredentials() bool {
	return l.TokenURL != "" && l.ClientID != ""
}

// TicketingConfig configures the outbound ticketing client defaults.
type TicketingConfig struct {
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS"    envDefault:"4"`
	RetryBase      time.Duration `env:"RETRY_BASE"      envDefault:"500ms"`
	RetryMax       time.Duration `env:"RETRY_MAX"       envDefault:"10s"`
}

// Sanitize applies guardrails to ticketing configuration values.
func (t *TicketingConfig) Sanitize() {
	if t.RequestTimeout < time.Second {
		t.RequestTimeout = time.Second
	}
	clampAttempts(&t.MaxAttempts, 8)
	clampBackoff(&t.RetryBase, &t.RetryMax)
}

func clampAttempts(n *int, maxAttempts int) {
	if *n < 1 {
		*n = 1
	}
	if *n > maxAttempts {
		*n = maxAttempts
	}
}

func clampBackoff(base, maxDelay *time.Duration) {
	if *base < 10*time.Millisecond {
		*base = 10 * time.Millisecond
	}
	if *maxDelay < *base {
		*maxDelay = *base
	}
}
