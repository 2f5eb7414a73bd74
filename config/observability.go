package config

import (
	"strings"
	"time"
)

const defaultObservabilityName = "ticket-enhancer"

// ObservabilityConfig groups configuration that controls metrics, alert fan-out,
// usage events, and the result archive.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Notifications ObservabilityNotificationsConfig
	Usage         UsageEventsConfig   `envPrefix:"USAGE_EVENTS_"`
	Archive       ResultArchiveConfig `envPrefix:"RESULT_ARCHIVE_"`
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
	c.Usage.Sanitize()
	c.Archive.Sanitize()
}

// ObservabilityMetricsConfig controls emission of metrics to StatsD.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string `env:"OBSERVABILITY_METRICS_PREFIX"         envDefault:"enhancer"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityNotificationsConfig controls operator alerts (isolation violations, dead-set growth).
type ObservabilityNotificationsConfig struct {
	Enabled    bool                        `env:"OBSERVABILITY_NOTIFICATIONS_ENABLED"     envDefault:"false"`
	Timeout    time.Duration               `env:"OBSERVABILITY_NOTIFICATIONS_TIMEOUT"     envDefault:"5s"`
	RetryLimit int                         `env:"OBSERVABILITY_NOTIFICATIONS_RETRY_LIMIT" envDefault:"3"`
	Slack      SlackNotificationConfig     `                                                                 envPrefix:"OBSERVABILITY_NOTIFICATIONS_SLACK_"`
	PagerDuty  PagerDutyNotificationConfig `                                                                 envPrefix:"OBSERVABILITY_NOTIFICATIONS_PAGERDUTY_"`
}

// Sanitize normalises notification configuration values.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}

	c.Slack.sanitize()
	c.PagerDuty.sanitize()

	if !c.Enabled {
		c.Slack.Enabled = false
		c.PagerDuty.Enabled = false
		return
	}

	if c.Slack.Enabled && c.Slack.WebhookURL == "" {
		c.Slack.Enabled = false
	}

	if c.PagerDuty.Enabled && c.PagerDuty.RoutingKey == "" {
		c.PagerDuty.Enabled = false
	}
}

// SlackNotificationConfig controls Slack webhook fan-out.
type SlackNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	WebhookURL string `env:"WEBHOOK_URL"`
	Channel    string `env:"CHANNEL"`
	Username   string `env:"USERNAME"    envDefault:"ticket-enhancer"`
}

func (c *SlackNotificationConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.Channel = strings.TrimSpace(c.Channel)
	if c.Username == "" {
		c.Username = defaultObservabilityName
	}
}

// PagerDutyNotificationConfig controls PagerDuty Events API v2 fan-out.
type PagerDutyNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"ticket-enhancer"`
	Component  string `env:"COMPONENT"   envDefault:"pipeline"`
}

func (c *PagerDutyNotificationConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	if c.Source = strings.TrimSpace(c.Source); c.Source == "" {
		c.Source = defaultObservabilityName
	}
	if c.Component = strings.TrimSpace(c.Component); c.Component == "" {
		c.Component = defaultObservabilityName
	}
}

// UsageEventsConfig controls publication of token accounting to Kafka.
type UsageEventsConfig struct {
	Brokers      []string      `env:"BROKERS"`
	Topic        string        `env:"TOPIC"         envDefault:"enhancement.usage"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS"  envDefault:"3"`
}

// Sanitize applies guardrails to usage event configuration values.
func (c *UsageEventsConfig) Sanitize() {
	brokers := c.Brokers[:0]
	for _, b := range c.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Brokers = brokers
	c.Topic = strings.TrimSpace(c.Topic)
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	clampAttempts(&c.MaxAttempts, 10)
}

// IsEnabled reports whether usage events should be published.
func (c *UsageEventsConfig) IsEnabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// ResultArchiveConfig controls archival of terminal results to S3.
type ResultArchiveConfig struct {
	Bucket string `env:"BUCKET"`
	Prefix string `env:"PREFIX" envDefault:"enhancement-results"`
	Region string `env:"REGION"`
	// Endpoint overrides the S3 endpoint (MinIO, LocalStack).
	Endpoint     string `env:"ENDPOINT"`
	UsePathStyle bool   `env:"USE_PATH_STYLE" envDefault:"false"`
}

// Sanitize applies guardrails to archive configuration values.
func (c *ResultArchiveConfig) Sanitize() {
	c.Bucket = strings.TrimSpace(c.Bucket)
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), "/")
	c.Endpoint = strings.TrimSpace(c.Endpoint)
}

// IsEnabled reports whether results should be archived.
func (c *ResultArchiveConfig) IsEnabled() bool {
	return c.Bucket != ""
}
