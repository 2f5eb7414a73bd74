package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and cache configuration
//   - http.go: HTTP server and webhook configuration
//   - pipeline.go: Queue, orchestrator, and outbound client configuration
//   - services.go: Service mode and worker configuration
//   - observability.go: Metrics, notifications, usage events, and archive
//
// Per-tenant credentials and tunables are not read from the environment; they
// live in the tenants table and are loaded once per job.
type AppConfig struct {
	// IsDev controls development mode behavior (noop encryption, verbose logging).
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// SecretsEncryptionKey is the AES key used to encrypt tenant secrets at rest.
	// Required for production, optional for development.
	SecretsEncryptionKey string `env:"SECRETS_ENCRYPTION_KEY"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	HTTP    HTTPConfig
	Webhook WebhookConfig `envPrefix:"WEBHOOK_"`

	// Services is a comma-delimited list of roles this process runs.
	Services string `env:"SERVICES" envDefault:"http,worker,reaper,monitor"`

	Queue     QueueConfig     `envPrefix:"QUEUE_"`
	Worker    WorkerConfig    `envPrefix:"WORKER_"`
	Pipeline  PipelineConfig  `envPrefix:"PIPELINE_"`
	Sources   SourcesConfig   `envPrefix:"SOURCE_"`
	LLM       LLMConfig       `envPrefix:"LLM_"`
	Ticketing TicketingConfig `envPrefix:"TICKETING_"`
	Reaper    ReaperConfig    `envPrefix:"REAPER_"`
	Monitor   MonitorConfig   `envPrefix:"MONITOR_"`

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Webhook.Sanitize()
	c.Queue.Sanitize()
	c.Worker.Sanitize()
	c.Pipeline.Sanitize()
	c.Sources.Sanitize(c.Pipeline.JobDeadlineCeiling)
	c.LLM.Sanitize()
	c.Ticketing.Sanitize()
	c.Reaper.Sanitize()
	c.Monitor.Sanitize()
	c.Observability.Sanitize()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsServiceEnabled reports whether the given role is enabled.
// Invalid SERVICES values enable nothing.
func (c *AppConfig) IsServiceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
