package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT"  envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`

	// MetricsEnabled exposes the Prometheus registry on GET /metrics.
	MetricsEnabled bool `env:"HTTP_METRICS_ENABLED" envDefault:"true"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.ReadTimeout < time.Second {
		h.ReadTimeout = time.Second
	}
	if h.WriteTimeout < time.Second {
		h.WriteTimeout = time.Second
	}
}

// WebhookConfig controls inbound webhook verification and deduplication.
type WebhookConfig struct {
	// SignatureHeader carries "sha256=<hex>" HMAC of the raw body.
	SignatureHeader string `env:"SIGNATURE_HEADER" envDefault:"X-Signature"`

	// ReplayWindow is how old an event timestamp may be before it is rejected.
	ReplayWindow time.Duration `env:"REPLAY_WINDOW" envDefault:"5m"`

	// FutureSkew tolerates sender clocks running ahead of ours.
	FutureSkew time.Duration `env:"FUTURE_SKEW" envDefault:"1m"`

	// DedupRetention is how long a delivered (tenant, ticket, event) is remembered in Redis.
	DedupRetention time.Duration `env:"DEDUP_RETENTION" envDefault:"24h"`

	// MaxPendingPerTenant triggers 429 backpressure when a tenant's backlog reaches it. 0 disables.
	MaxPendingPerTenant int `env:"MAX_PENDING_PER_TENANT" envDefault:"1000"`

	// MaxBodyBytes caps the request body read for signature verification.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	// RetryAfter is advertised to senders on 429/503.
	RetryAfter time.Duration `env:"RETRY_AFTER" envDefault:"30s"`
}

// Sanitize applies guardrails to webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	if w.SignatureHeader == "" {
		w.SignatureHeader = "X-Signature"
	}
	if w.ReplayWindow < 30*time.Second {
		w.ReplayWindow = 30 * time.Second
	}
	if w.FutureSkew < 0 {
		w.FutureSkew = 0
	}
	// Dedup memory must outlive the replay window, otherwise a replay inside
	// the window could slip past both checks.
	if w.DedupRetention < w.ReplayWindow {
		w.DedupRetention = w.ReplayWindow
	}
	if w.MaxPendingPerTenant < 0 {
		w.MaxPendingPerTenant = 0
	}
	if w.MaxBodyBytes <= 0 {
		w.MaxBodyBytes = 1 << 20
	}
	if w.RetryAfter < time.Second {
		w.RetryAfter = time.Second
	}
}
