package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the webhook receiver and operator endpoints.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the orchestrator worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs lease expiry and retention cleanup.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeMonitor publishes queue depth and oldest-job age.
	ServiceModeMonitor ServiceMode = "monitor"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeReaper,
		ServiceModeMonitor,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if strings.TrimSpace(servicesStr) == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper, ServiceModeMonitor:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, reaper, monitor)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains orchestrator worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines; each processes one job at a time.
	Concurrency int `env:"CONCURRENCY" envDefault:"4"`

	// JobLease is the lease taken on a reserved job. Heartbeats extend it while the job runs.
	JobLease time.Duration `env:"JOB_LEASE" envDefault:"60s"`

	// HeartbeatInterval is how often a running job's lease is extended.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"20s"`

	// IdlePoll bounds how long a worker waits for a NOTIFY before polling again.
	IdlePoll time.Duration `env:"IDLE_POLL" envDefault:"5s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.Concurrency > 256 {
		w.Concurrency = 256
	}
	if w.JobLease < 5*time.Second {
		w.JobLease = 5 * time.Second
	}
	if w.HeartbeatInterval <= 0 || w.HeartbeatInterval >= w.JobLease {
		w.HeartbeatInterval = w.JobLease / 3
	}
	if w.IdlePoll < 100*time.Millisecond {
		w.IdlePoll = 100 * time.Millisecond
	}
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"1m"`

	// JobRetention is how long completed jobs (and their dedup keys) are kept.
	// Redelivered webhooks inside this window are recognized as duplicates by the database.
	JobRetention time.Duration `env:"JOB_RETENTION" envDefault:"168h"` // 7 days

	// ResultRetention is how long enhancement results (the audit record) are kept.
	ResultRetention time.Duration `env:"RESULT_RETENTION" envDefault:"2160h"` // 90 days

	// DeadRetention is how long dead-set jobs are kept for operator inspection.
	DeadRetention time.Duration `env:"DEAD_RETENTION" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to delete per operation.
	BatchSize int `env:"BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.JobRetention < time.Hour {
		r.JobRetention = time.Hour
	}
	if r.ResultRetention < 24*time.Hour {
		r.ResultRetention = 24 * time.Hour
	}
	if r.DeadRetention < 24*time.Hour {
		r.DeadRetention = 24 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// MonitorConfig controls the queue monitor.
type MonitorConfig struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"15s"`

	// DeadAlertThreshold raises an operator alert when the dead set grows by at least this many jobs
	// between two ticks. 0 disables.
	DeadAlertThreshold int `env:"DEAD_ALERT_THRESHOLD" envDefault:"1"`
}

// Sanitize applies guardrails to monitor configuration values.
func (m *MonitorConfig) Sanitize() {
	if m.Interval < time.Second {
		m.Interval = time.Second
	}
	if m.DeadAlertThreshold < 0 {
		m.DeadAlertThreshold = 0
	}
}
