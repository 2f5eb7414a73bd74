package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/observability/metrics"
	"github.com/target/ticket-enhancer/internal/observability/notify"
	"github.com/target/ticket-enhancer/internal/ports"
)

// QueueStatsReader is the read side of the queue the monitor polls.
type QueueStatsReader interface {
	Stats(ctx context.Context) (*model.QueueStats, error)
}

// QueueMonitorOptions groups dependencies for QueueMonitor.
type QueueMonitorOptions struct {
	Queue   QueueStatsReader     // Required
	Config  config.MonitorConfig // Required: poll interval and dead-set alert threshold
	Metrics *metrics.Recorder    // Optional
	Alerter ports.Alerter        // Optional
	Logger  *slog.Logger         // Optional
}

// QueueMonitor publishes queue depth for autoscaling and raises an alert when the
// dead set grows.
type QueueMonitor struct {
	queue   QueueStatsReader
	cfg     config.MonitorConfig
	metrics *metrics.Recorder
	alerter ports.Alerter
	logger  *slog.Logger

	mu       sync.Mutex
	lastDead int
	primed   bool
}

// NewQueueMonitor constructs a QueueMonitor.
func NewQueueMonitor(opts QueueMonitorOptions) (*QueueMonitor, error) {
	if opts.Queue == nil {
		return nil, errors.New("QueueStatsReader is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("monitor interval must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueMonitor{
		queue:   opts.Queue,
		cfg:     opts.Config,
		metrics: opts.Metrics,
		alerter: opts.Alerter,
		logger:  logger.With("component", "queue_monitor"),
	}, nil
}

// Run polls until ctx is cancelled.
func (m *QueueMonitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "starting queue monitor", "interval", m.cfg.Interval)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.Tick(ctx); err != nil && !isContextCancellation(err) {
			m.logger.WarnContext(ctx, "queue stats poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick reads the stats once, exports them, and checks dead-set growth against the
// previous reading. The first reading only sets the baseline.
func (m *QueueMonitor) Tick(ctx context.Context) (*model.QueueStats, error) {
	stats, err := m.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("read queue stats: %w", err)
	}
	m.metrics.QueueStats(*stats)
	m.logger.DebugContext(ctx, "queue stats",
		"pending", stats.Pending,
		"running", stats.Running,
		"dead", stats.Dead,
		"oldest_pending_seconds", stats.OldestPendingAge.Seconds(),
	)

	m.mu.Lock()
	growth := 0
	if m.primed {
		growth = stats.Dead - m.lastDead
	}
	m.lastDead = stats.Dead
	m.primed = true
	m.mu.Unlock()

	if threshold := m.cfg.DeadAlertThreshold; threshold > 0 && growth >= threshold {
		m.logger.WarnContext(ctx, "dead set grew", "dead", stats.Dead, "growth", growth)
		if m.alerter != nil {
			m.alerter.Notify(ctx, notify.Alert{
				Kind:     notify.KindDeadSetGrowth,
				Summary:  fmt.Sprintf("%d job(s) moved to the dead set", growth),
				Severity: notify.SeverityWarning,
				Metadata: map[string]string{
					"dead":    strconv.Itoa(stats.Dead),
					"growth":  strconv.Itoa(growth),
					"pending": strconv.Itoa(stats.Pending),
				},
			})
		}
	}
	return stats, nil
}
