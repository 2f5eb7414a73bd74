package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/data/cryptoutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "worker and reaper",
			modes: []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeReaper},
			want:  2,
		},
		{
			name:  "all services enabled",
			modes: config.ValidServiceModes(),
			want:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			assert.Equal(t, tt.want, errorChannelCapacity(enabled))
			assert.Equal(t, tt.want+1, errorChannelBufferSize(enabled))
		})
	}
}

func TestGetEnabledServices_CanonicalOrder(t *testing.T) {
	cfg := &config.AppConfig{Services: "monitor, http,worker"}
	assert.Equal(t, []string{"http", "worker", "monitor"}, GetEnabledServices(cfg))

	cfg.Services = "http,bogus"
	assert.Empty(t, GetEnabledServices(cfg))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AppConfig
		wantErr string
	}{
		{
			name: "dev without key",
			cfg:  config.AppConfig{IsDev: true, Services: "http"},
		},
		{
			name:    "production requires key",
			cfg:     config.AppConfig{Services: "http"},
			wantErr: "SECRETS_ENCRYPTION_KEY",
		},
		{
			name:    "worker requires llm url",
			cfg:     config.AppConfig{IsDev: true, Services: "worker"},
			wantErr: "LLM_BASE_URL",
		},
		{
			name:    "invalid service",
			cfg:     config.AppConfig{IsDev: true, Services: "scheduler"},
			wantErr: "invalid service configuration",
		},
		{
			name: "worker with llm url",
			cfg: config.AppConfig{
				SecretsEncryptionKey: "k",
				Services:             "worker",
				LLM:                  config.LLMConfig{BaseURL: "https://llm.example.com/v1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceConfig(&tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	require.Error(t, ValidateServiceConfig(nil))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLogLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}

func TestCreateEncryptor(t *testing.T) {
	t.Run("empty key in dev is noop", func(t *testing.T) {
		enc, err := CreateEncryptor("", true, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, &cryptoutil.NoopEncryptor{}, enc)
	})

	t.Run("empty key outside dev fails", func(t *testing.T) {
		_, err := CreateEncryptor("", false, discardLogger())
		require.Error(t, err)
	})

	t.Run("passphrase round trips bound to tenant", func(t *testing.T) {
		enc, err := CreateEncryptor("not-hex-passphrase", false, nil)
		require.NoError(t, err)

		ct, err := enc.Encrypt("acme", []byte("hmac-secret"))
		require.NoError(t, err)
		pt, err := enc.Decrypt("acme", ct)
		require.NoError(t, err)
		assert.Equal(t, "hmac-secret", string(pt))

		_, err = enc.Decrypt("globex", ct)
		require.Error(t, err)
	})
}

func TestTenantDefaults(t *testing.T) {
	cfg := &config.AppConfig{
		Pipeline: config.PipelineConfig{JobDeadline: 30 * time.Second, JobDeadlineCeiling: 2 * time.Minute, MaxPromptBytes: 24000},
		Queue:    config.QueueConfig{DefaultTenantConcurrency: 4},
		LLM:      config.LLMConfig{DefaultModel: "gpt-4o-mini"},
		Sources: config.SourcesConfig{
			Enabled:        []string{"ticket_history"},
			DefaultTimeout: 8 * time.Second,
			DefaultRetries: 1,
		},
	}

	d := tenantDefaults(cfg)
	assert.Equal(t, 30*time.Second, d.JobDeadline)
	assert.Equal(t, 2*time.Minute, d.JobDeadlineCeiling)
	assert.Equal(t, 4, d.MaxConcurrentJobs)
	assert.Equal(t, "gpt-4o-mini", d.Model)
	assert.Equal(t, []string{"ticket_history"}, d.EnabledSources)
	assert.Equal(t, 8*time.Second, d.SourceTimeout)
}

func TestReadinessChecks(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	checks := readinessChecks(db, nil)
	require.Contains(t, checks, "postgres")
	assert.NotContains(t, checks, "redis")

	mock.ExpectPing()
	require.NoError(t, checks["postgres"](context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.Error(t, checks["postgres"](context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Empty(t, readinessChecks(nil, nil))
}

func TestBuildRouterServices_LeavesMissingServicesNil(t *testing.T) {
	appCfg := &config.AppConfig{HTTP: config.HTTPConfig{MetricsEnabled: true}}
	services := buildRouterServices(&HTTPServerConfig{}, appCfg, discardLogger())

	assert.Nil(t, services.Ingest)
	assert.Nil(t, services.Queue)
	assert.Nil(t, services.Gatherer)
}

func TestBuildObservability_Defaults(t *testing.T) {
	obs := buildObservability(discardLogger(), config.ObservabilityConfig{})

	assert.Nil(t, obs.MetricsSink)
	require.NotNil(t, obs.Registry)
	require.NotNil(t, obs.Metrics)
	require.NotNil(t, obs.Alerts)
	require.NoError(t, obs.Close())

	families, err := obs.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestLaunchBackground_ReportsError(t *testing.T) {
	errCh := make(chan error, 1)
	deps := &serviceStartupDeps{
		ctx:             context.Background(),
		logger:          discardLogger(),
		enabledServices: map[config.ServiceMode]bool{config.ServiceModeReaper: true},
		errCh:           errCh,
	}

	done := launchBackground(context.Background(), deps, backgroundService{
		mode:  config.ServiceModeReaper,
		name:  "reaper",
		start: func(context.Context) error { return errors.New("boom") },
	})
	require.NotNil(t, done)
	<-done

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, "reaper failed: boom", err.Error())

	disabled := launchBackground(context.Background(), deps, backgroundService{
		mode:  config.ServiceModeWorker,
		name:  "worker",
		start: func(context.Context) error { return nil },
	})
	assert.Nil(t, disabled)
}

func TestWaitForShutdown(t *testing.T) {
	t.Run("signal cancels background services", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(done)
		}()

		sig := make(chan os.Signal, 1)
		sig <- syscall.SIGTERM

		err := waitForShutdown(shutdownConfig{
			cancel:      cancel,
			errCh:       make(chan error),
			logger:      discardLogger(),
			backgrounds: []backgroundServiceHandle{{name: "worker", done: done}},
			signals:     sig,
		})
		require.NoError(t, err)
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("service error is returned", func(t *testing.T) {
		_, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		errCh <- errors.New("worker failed: db down")

		err := waitForShutdown(shutdownConfig{
			cancel:  cancel,
			errCh:   errCh,
			logger:  discardLogger(),
			signals: make(chan os.Signal),
		})
		require.EqualError(t, err, "worker failed: db down")
	})
}

func TestNewServices_RequiresDependencies(t *testing.T) {
	_, err := NewServices(nil)
	require.Error(t, err)

	_, err = NewServices(&ServiceDeps{Config: &config.AppConfig{}})
	require.Error(t, err)
}

func TestNewServices_BuildsWorkerPipeline(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.AppConfig{
		IsDev:    true,
		Services: "http,worker,reaper,monitor",
		LLM:      config.LLMConfig{BaseURL: "https://llm.example.com/v1", DefaultModel: "m", MaxTokens: 100},
	}
	cfg.Worker.JobLease = time.Minute
	cfg.Monitor.Interval = time.Second
	cfg.Pipeline.JobDeadline = 30 * time.Second
	cfg.Pipeline.JobDeadlineCeiling = 2 * time.Minute

	svc, err := NewServices(&ServiceDeps{Config: &cfg, DB: db, Logger: discardLogger()})
	require.NoError(t, err)
	defer func() { require.NoError(t, svc.Close()) }()

	assert.NotNil(t, svc.Tenants)
	assert.NotNil(t, svc.Ingest)
	assert.NotNil(t, svc.Jobs)
	assert.NotNil(t, svc.Monitor)
	assert.NotNil(t, svc.Orchestrator)
	assert.Nil(t, svc.Usage)

	cfg.Services = "http"
	httpOnly, err := NewServices(&ServiceDeps{Config: &cfg, DB: db, Logger: discardLogger()})
	require.NoError(t, err)
	assert.Nil(t, httpOnly.Orchestrator)
}
