package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - http",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:  "all services with spaces",
			input: " http , worker , reaper , monitor ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeWorker:  true,
				ServiceModeReaper:  true,
				ServiceModeMonitor: true,
			},
		},
		{
			name:     "duplicate services",
			input:    "worker,worker",
			expected: map[ServiceMode]bool{ServiceModeWorker: true},
		},
		{name: "empty string", input: "", expectError: true},
		{name: "only commas", input: ",,", expectError: true},
		{name: "invalid service", input: "http,scheduler", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("ParseServices(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServices(%q) unexpected error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseServices(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAppConfig_Defaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("env.Parse() error: %v", err)
	}
	cfg.Sanitize()

	if cfg.Queue.MaxRedeliveries != 5 {
		t.Errorf("Queue.MaxRedeliveries = %d, want 5", cfg.Queue.MaxRedeliveries)
	}
	if cfg.Pipeline.JobDeadline != 30*time.Second {
		t.Errorf("Pipeline.JobDeadline = %v, want 30s", cfg.Pipeline.JobDeadline)
	}
	if cfg.Webhook.ReplayWindow != 5*time.Minute {
		t.Errorf("Webhook.ReplayWindow = %v, want 5m", cfg.Webhook.ReplayWindow)
	}
	if got := len(cfg.Sources.Enabled); got != 3 {
		t.Errorf("len(Sources.Enabled) = %d, want 3", got)
	}
	for _, mode := range ValidServiceModes() {
		if !cfg.IsServiceEnabled(mode) {
			t.Errorf("service %q should be enabled by default", mode)
		}
	}
	if cfg.Redis.Configured() {
		t.Errorf("redis should be unconfigured by default")
	}
	if cfg.Observability.Usage.IsEnabled() || cfg.Observability.Archive.IsEnabled() {
		t.Errorf("usage events and archive should be disabled by default")
	}
}

func TestAppConfig_EnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_MAX_REDELIVERIES", "3")
	t.Setenv("PIPELINE_JOB_DEADLINE", "90s")
	t.Setenv("SOURCE_DEFAULT_TIMEOUT", "2s")
	t.Setenv("REDIS_URI", "localhost:6379")
	t.Setenv("USAGE_EVENTS_BROKERS", "kafka-1:9092,kafka-2:9092")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("env.Parse() error: %v", err)
	}
	cfg.Sanitize()

	if cfg.Queue.MaxRedeliveries != 3 {
		t.Errorf("Queue.MaxRedeliveries = %d, want 3", cfg.Queue.MaxRedeliveries)
	}
	if cfg.Pipeline.JobDeadline != 90*time.Second {
		t.Errorf("Pipeline.JobDeadline = %v, want 90s", cfg.Pipeline.JobDeadline)
	}
	if cfg.Sources.DefaultTimeout != 2*time.Second {
		t.Errorf("Sources.DefaultTimeout = %v, want 2s", cfg.Sources.DefaultTimeout)
	}
	if !cfg.Redis.Configured() {
		t.Errorf("redis should be configured")
	}
	if !cfg.Observability.Usage.IsEnabled() {
		t.Errorf("usage events should be enabled")
	}
}

func TestPipelineConfig_Sanitize(t *testing.T) {
	p := PipelineConfig{JobDeadline: 10 * time.Minute, JobDeadlineCeiling: 2 * time.Minute, MaxPromptBytes: 10}
	p.Sanitize()

	if p.JobDeadline != 2*time.Minute {
		t.Errorf("JobDeadline = %v, want clamp to ceiling", p.JobDeadline)
	}
	if p.MaxPromptBytes != 1024 {
		t.Errorf("MaxPromptBytes = %d, want 1024", p.MaxPromptBytes)
	}
}

func TestSourcesConfig_Sanitize(t *testing.T) {
	s := SourcesConfig{
		Enabled:        []string{" ticket_history ", "", "network_lookup"},
		DefaultTimeout: time.Minute,
		DefaultRetries: 4,
	}
	s.Sanitize(60 * time.Second)

	if !reflect.DeepEqual(s.Enabled, []string{"ticket_history", "network_lookup"}) {
		t.Errorf("Enabled = %v", s.Enabled)
	}
	if s.DefaultTimeout != 30*time.Second {
		t.Errorf("DefaultTimeout = %v, want half the ceiling", s.DefaultTimeout)
	}
	if s.DefaultRetries != 1 {
		t.Errorf("DefaultRetries = %d, want 1", s.DefaultRetries)
	}
}

func TestWebhookConfig_Sanitize(t *testing.T) {
	w := WebhookConfig{ReplayWindow: 10 * time.Minute, DedupRetention: time.Minute}
	w.Sanitize()

	if w.DedupRetention != 10*time.Minute {
		t.Errorf("DedupRetention = %v, want at least the replay window", w.DedupRetention)
	}
	if w.SignatureHeader != "X-Signature" {
		t.Errorf("SignatureHeader = %q", w.SignatureHeader)
	}
}
