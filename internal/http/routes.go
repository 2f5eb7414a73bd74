// Package httpx serves the webhook receiver and the operator endpoints.
package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/observability/metrics"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Ingest  Ingestor
	Queue   QueueReader // Optional: enables /api/queue/*
	Webhook config.WebhookConfig
	// Checks back GET /healthz/ready; GET /healthz is always a plain liveness check.
	Checks       map[string]HealthCheck
	CheckTimeout time.Duration
	// Gatherer is served on GET /metrics when set.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// NewRouter creates the HTTP handler with logging, panic recovery, and request metrics.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	webhooks := &WebhookHandlers{Svc: services.Ingest, Config: services.Webhook, Logger: logger}
	mux.HandleFunc("POST /webhooks/tickets", webhooks.Receive)

	checkTimeout := services.CheckTimeout
	if checkTimeout <= 0 {
		checkTimeout = 2 * time.Second
	}
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)
	ready := readinessHandler(services.Checks, checkTimeout)
	mux.HandleFunc("GET /healthz/ready", ready)
	mux.HandleFunc("HEAD /healthz/ready", ready)

	if services.Queue != nil {
		queue := &QueueHandlers{Svc: services.Queue}
		mux.HandleFunc("GET /api/queue/stats", queue.Stats)
		mux.HandleFunc("GET /api/queue/dead", queue.Dead)
	}

	if services.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(services.Gatherer, promhttp.HandlerOpts{}))
	}

	// Order: Recover -> Logging -> Metrics -> mux
	var h http.Handler = mux
	h = Metrics(services.Metrics)(h)
	h = Logging(logger)(h)
	h = Recover(logger)(h)
	return h
}
