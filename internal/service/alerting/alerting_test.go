package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/internal/observability/notify"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []notify.Alert
	err    error
}

func (c *captureSink) SendAlert(_ context.Context, alert notify.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return c.err
}

func TestServiceNotifyDefaults(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &captureSink{}
	svc := NewService(Options{
		Sinks: []SinkRegistration{{Name: "capture", Sink: sink}},
		Now:   func() time.Time { return fixed },
	})

	svc.Notify(context.Background(), notify.Alert{Kind: notify.KindIsolationViolation, TenantID: "acme"})

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, notify.SeverityCritical, sink.alerts[0].Severity)
	assert.Equal(t, fixed, sink.alerts[0].OccurredAt)
}

func TestServiceFailingSinkDoesNotBlockOthers(t *testing.T) {
	failing := &captureSink{err: errors.New("boom")}
	healthy := &captureSink{}
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "fail", Sink: failing},
			{Name: "ok", Sink: healthy},
		},
	})

	svc.Notify(context.Background(), notify.Alert{Kind: notify.KindDeadSetGrowth, Severity: notify.SeverityWarning})

	require.Len(t, healthy.alerts, 1)
	assert.Equal(t, notify.SeverityWarning, healthy.alerts[0].Severity)
	assert.Len(t, failing.alerts, 1)
}

func TestServiceSurvivesCanceledCaller(t *testing.T) {
	var sawErr error
	svc := NewService(Options{
		Sinks: []SinkRegistration{{
			Sink: notify.SinkFunc(func(ctx context.Context, _ notify.Alert) error {
				sawErr = ctx.Err()
				return nil
			}),
		}},
		Timeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Notify(ctx, notify.Alert{Kind: notify.KindIsolationViolation})

	assert.NoError(t, sawErr)
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(Options{Sinks: []SinkRegistration{{Name: "nil"}}})
	assert.False(t, svc.Enabled())

	var nilSvc *Service
	assert.False(t, nilSvc.Enabled())
	nilSvc.Notify(context.Background(), notify.Alert{})
}
