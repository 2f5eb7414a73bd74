package data

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

func newMockResultRepo(t *testing.T) (*ResultRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewResultRepo(db, NewFixedTimeProvider(repoTestNow)), mock
}

func sampleResult() *model.EnhancementResult {
	return &model.EnhancementResult{
		JobID:          "5b0c6c2e-6d55-4a5e-9b53-1f3f1a2f9d10",
		TenantID:       "acme",
		TicketID:       "T-1",
		EventID:        "e1",
		Status:         model.ResultDegraded,
		Text:           "Summary",
		MissingSources: []string{model.SourceKnowledgeBase},
		PhaseTimings:   map[string]time.Duration{"gathering": 1500 * time.Millisecond},
		Usage:          model.TokenUsage{Model: "gpt", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		WriteOutcome:   model.WriteOutcomeWritten,
		Attempt:        1,
	}
}

func TestResultRepo_SaveFirstWriteWins(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "first insert stored", affected: 1, want: true},
		{name: "later insert ignored", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockResultRepo(t)
			res := sampleResult()
			mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (job_id) DO NOTHING")).
				WithArgs(res.JobID, "acme", "T-1", "e1", res.Status, "Summary", "", "",
					[]byte(`["knowledge_base"]`), []byte(`{"gathering":1500}`), sqlmock.AnyArg(),
					res.WriteOutcome, 1, repoTestNow).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			stored, err := repo.Save(context.Background(), mustTenant(t, "acme"), res)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestResultRepo_SaveRejectsForeignTenant(t *testing.T) {
	repo, mock := newMockResultRepo(t)

	_, err := repo.Save(context.Background(), mustTenant(t, "globex"), sampleResult())
	require.Error(t, err)
	assert.True(t, apperrors.IsIsolationViolation(err))

	_, err = repo.Save(context.Background(), tenant.Context{}, sampleResult())
	assert.True(t, apperrors.IsIsolationViolation(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultRepo_SaveRejectsNonTerminalStatus(t *testing.T) {
	repo, _ := newMockResultRepo(t)
	res := sampleResult()
	res.Status = "running"

	_, err := repo.Save(context.Background(), mustTenant(t, "acme"), res)
	assert.True(t, apperrors.IsValidation(err))
}

func TestResultRepo_GetByJobID(t *testing.T) {
	repo, mock := newMockResultRepo(t)
	cols := []string{
		"job_id", "tenant_id", "ticket_id", "event_id", "status", "text", "error_code", "error_message",
		"missing_sources", "phase_timings", "usage", "write_outcome", "attempt", "created_at",
	}
	mock.ExpectQuery("FROM enhancement_results").
		WithArgs("job-1", "acme").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"job-1", "acme", "T-1", "e1", "failed", "", "WriteBackFailed", "status 502: bad gateway",
			[]byte(`[]`), []byte(`{"writing":250}`), []byte(`{"total_tokens":40}`), "", 3, repoTestNow,
		))

	res, err := repo.GetByJobID(context.Background(), mustTenant(t, "acme"), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.ResultFailed, res.Status)
	assert.Equal(t, "WriteBackFailed", res.ErrorCode)
	assert.Equal(t, 250*time.Millisecond, res.PhaseTimings["writing"])
	assert.Equal(t, 40, res.Usage.TotalTokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultRepo_GetByJobIDNotFound(t *testing.T) {
	repo, mock := newMockResultRepo(t)
	mock.ExpectQuery("FROM enhancement_results").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))

	_, err := repo.GetByJobID(context.Background(), mustTenant(t, "acme"), "job-1")
	assert.ErrorIs(t, err, ErrResultNotFound)
}
