package data

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/internal/domain/model"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

var tenantCols = []string{
	"id", "name", "webhook_secret", "ticketing_base_url", "ticketing_api_key",
	"settings", "active", "created_at", "updated_at",
}

func TestTenantRepo_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTenantRepo(db, TenantRepoOptions{})

	settings := []byte(`{"max_concurrent_jobs":2,"job_deadline":"20s","sources":{"knowledge_base":{"url":"https://kb.example.com/search?q={query}","timeout":"3s"}}}`)
	mock.ExpectQuery("FROM tenants WHERE id = \\$1").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow("acme", "Acme", "v1:abc", "https://acme.example.com", "v1:def", settings, true, repoTestNow, repoTestNow))

	got, err := repo.GetByID(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, 2, got.Settings.MaxConcurrentJobs)
	assert.Equal(t, 20*time.Second, got.Settings.JobDeadline.Std())
	assert.Equal(t, 3*time.Second, got.Settings.Sources["knowledge_base"].Timeout.Std())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantRepo_GetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTenantRepo(db, TenantRepoOptions{})

	mock.ExpectQuery("FROM tenants").WithArgs("nope").WillReturnRows(sqlmock.NewRows(tenantCols))

	_, err = repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestTenantRepo_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTenantRepo(db, TenantRepoOptions{TimeProvider: NewFixedTimeProvider(repoTestNow)})

	in := &model.Tenant{
		ID:               "acme",
		Name:             "Acme",
		WebhookSecret:    "v1:abc",
		TicketingBaseURL: "https://acme.example.com",
		Settings:         model.TenantSettings{Model: "gpt-4o-mini"},
		Active:           true,
	}
	mock.ExpectQuery("ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("acme", "Acme", "v1:abc", "https://acme.example.com", "", sqlmock.AnyArg(), true, repoTestNow).
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow("acme", "Acme", "v1:abc", "https://acme.example.com", "", []byte(`{"model":"gpt-4o-mini"}`), true, repoTestNow, repoTestNow))

	out, err := repo.Upsert(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", out.Settings.Model)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = repo.Upsert(context.Background(), &model.Tenant{})
	assert.True(t, apperrors.IsValidation(err))
}
