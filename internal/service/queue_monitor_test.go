package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/mocks"
	"github.com/target/ticket-enhancer/internal/observability/notify"
	"go.uber.org/mock/gomock"
)

func TestQueueMonitor_DeadSetGrowthAlerts(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	alerter := mocks.NewMockAlerter(ctrl)

	mon, err := NewQueueMonitor(QueueMonitorOptions{
		Queue:   repo,
		Config:  config.MonitorConfig{Interval: time.Second, DeadAlertThreshold: 2},
		Alerter: alerter,
	})
	require.NoError(t, err)

	gomock.InOrder(
		repo.EXPECT().Stats(gomock.Any()).Return(&model.QueueStats{Dead: 10}, nil),
		repo.EXPECT().Stats(gomock.Any()).Return(&model.QueueStats{Dead: 11}, nil),
		repo.EXPECT().Stats(gomock.Any()).Return(&model.QueueStats{Dead: 14, Pending: 7}, nil),
	)
	alerter.EXPECT().Notify(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, a notify.Alert) {
			assert.Equal(t, notify.KindDeadSetGrowth, a.Kind)
			assert.Equal(t, notify.SeverityWarning, a.Severity)
			assert.Equal(t, "3", a.Metadata["growth"])
		})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := mon.Tick(ctx)
		require.NoError(t, err)
	}
}

func TestQueueMonitor_ThresholdZeroDisablesAlerts(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	mon, err := NewQueueMonitor(QueueMonitorOptions{
		Queue:   repo,
		Config:  config.MonitorConfig{Interval: time.Second},
		Alerter: mocks.NewMockAlerter(ctrl),
	})
	require.NoError(t, err)

	repo.EXPECT().Stats(gomock.Any()).Return(&model.QueueStats{Dead: 0}, nil)
	repo.EXPECT().Stats(gomock.Any()).Return(&model.QueueStats{Dead: 50}, nil)

	_, err = mon.Tick(context.Background())
	require.NoError(t, err)
	stats, err := mon.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, stats.Dead)
}

func TestQueueMonitor_StatsError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	mon, err := NewQueueMonitor(QueueMonitorOptions{Queue: repo, Config: config.MonitorConfig{Interval: time.Second}})
	require.NoError(t, err)

	repo.EXPECT().Stats(gomock.Any()).Return(nil, errors.New("db down"))
	_, err = mon.Tick(context.Background())
	require.Error(t, err)
}

func TestNewQueueMonitor_Validation(t *testing.T) {
	_, err := NewQueueMonitor(QueueMonitorOptions{Config: config.MonitorConfig{Interval: time.Second}})
	require.Error(t, err)
}
