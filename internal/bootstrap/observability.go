package bootstrap

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/observability/metrics"
	"github.com/target/ticket-enhancer/internal/observability/notify/pagerduty"
	"github.com/target/ticket-enhancer/internal/observability/notify/slack"
	"github.com/target/ticket-enhancer/internal/observability/statsd"
	"github.com/target/ticket-enhancer/internal/service/alerting"
)

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink    *statsd.Client
	MetricsConfig  config.ObservabilityMetricsConfig
	Registry       *prometheus.Registry
	Metrics        *metrics.Recorder
	Alerts         *alerting.Service
	NotifierConfig config.ObservabilityNotificationsConfig
}

// Close releases the statsd socket.
func (o ObservabilityContainer) Close() error {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink.Close()
}

// buildObservability configures metrics and operator alert adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := metrics.Options{Registerer: registry}
	if metricsSink != nil {
		opts.Sink = metricsSink
	}
	recorder, err := metrics.NewRecorder(opts)
	if err != nil {
		obsLogger.Error("failed to register prometheus collectors", "error", err)
		recorder, _ = metrics.NewRecorder(metrics.Options{Sink: opts.Sink})
	}

	return ObservabilityContainer{
		MetricsSink:    metricsSink,
		MetricsConfig:  cfg.Metrics,
		Registry:       registry,
		Metrics:        recorder,
		Alerts:         buildAlerting(obsLogger, cfg.Notifications),
		NotifierConfig: cfg.Notifications,
	}
}

// buildAlerting wires the Slack and PagerDuty sinks that receive isolation
// violations and dead-set growth alerts.
func buildAlerting(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *alerting.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return alerting.NewService(alerting.Options{
			Logger: baseLogger.With("component", "alerting"),
		})
	}

	sinks := make([]alerting.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, alerting.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, alerting.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return alerting.NewService(alerting.Options{
		Logger:  baseLogger.With("component", "alerting"),
		Sinks:   sinks,
		Timeout: cfg.Timeout,
	})
}
