package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/mocks"
	"go.uber.org/mock/gomock"
)

func TestNewRunner_RequiresStorage(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Config: config.ReaperConfig{Interval: time.Minute}})
	require.Error(t, err)
}

func TestRunner_RunOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobMaintenance(ctrl)

	r, err := NewRunner(RunnerOptions{
		Repo:   repo,
		Config: config.ReaperConfig{Interval: time.Minute, BatchSize: 10, JobRetention: time.Hour},
	})
	require.NoError(t, err)

	repo.EXPECT().RequeueExpired(gomock.Any(), 10).Return(model.RequeueResult{}, nil)
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).Times(2)
	repo.EXPECT().DeleteOldResults(gomock.Any(), gomock.Any(), 10).Return(int64(0), nil)

	require.NoError(t, r.RunOnce(context.Background()))
}
