package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

const resultColumns = `job_id, tenant_id, ticket_id, event_id, status, text, error_code, error_message,
  missing_sources, phase_timings, usage, write_outcome, attempt, created_at`

// ResultRepo stores terminal enhancement results. A result is never updated: the
// first insert for a job wins and later inserts are ignored.
type ResultRepo struct {
	db           *sql.DB
	timeProvider TimeProvider
}

// NewResultRepo creates a ResultRepo.
func NewResultRepo(db *sql.DB, tp TimeProvider) *ResultRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ResultRepo{db: db, timeProvider: tp}
}

// Save inserts the result under the tenant scope. It returns false when the job
// already had a result.
func (r *ResultRepo) Save(ctx context.Context, tc tenant.Context, res *model.EnhancementResult) (bool, error) {
	if err := tenant.Require(tc); err != nil {
		return false, err
	}
	if res == nil || res.JobID == "" {
		return false, ErrJobIDRequired
	}
	if err := tc.Authorize(res.TenantID); err != nil {
		return false, err
	}
	if !res.Status.Terminal() {
		return false, apperrors.Validationf("result status %q is not terminal", res.Status)
	}

	missing, err := json.Marshal(nonNilStrings(res.MissingSources))
	if err != nil {
		return false, fmt.Errorf("marshal missing sources: %w", err)
	}
	timings, err := json.Marshal(timingsToMillis(res.PhaseTimings))
	if err != nil {
		return false, fmt.Errorf("marshal phase timings: %w", err)
	}
	usage, err := json.Marshal(res.Usage)
	if err != nil {
		return false, fmt.Errorf("marshal usage: %w", err)
	}

	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.timeProvider.Now()
	}

	out, err := r.db.ExecContext(ctx, `
		INSERT INTO enhancement_results (`+resultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (job_id) DO NOTHING
	`,
		res.JobID, tc.ID(), res.TicketID, res.EventID, res.Status, res.Text,
		res.ErrorCode, res.ErrorMessage, missing, timings, usage, res.WriteOutcome,
		res.Attempt, createdAt.UTC(),
	)
	if err != nil {
		return false, apperrors.MapDBError(fmt.Errorf("save result: %w", err))
	}
	return rowsChanged(out)
}

// GetByJobID returns the tenant's result for a job.
func (r *ResultRepo) GetByJobID(ctx context.Context, tc tenant.Context, jobID string) (*model.EnhancementResult, error) {
	if err := tenant.Require(tc); err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+resultColumns+`
		FROM enhancement_results
		WHERE job_id = $1 AND tenant_id = $2
	`, jobID, tc.ID())

	var (
		res                     model.EnhancementResult
		missing, timings, usage []byte
	)
	err := row.Scan(
		&res.JobID, &res.TenantID, &res.TicketID, &res.EventID, &res.Status, &res.Text,
		&res.ErrorCode, &res.ErrorMessage, &missing, &timings, &usage, &res.WriteOutcome,
		&res.Attempt, &res.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get result: %w", err))
	}
	if err := tc.Authorize(res.TenantID); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(missing, &res.MissingSources); err != nil {
		return nil, fmt.Errorf("decode missing sources: %w", err)
	}
	var ms map[string]int64
	if err := json.Unmarshal(timings, &ms); err != nil {
		return nil, fmt.Errorf("decode phase timings: %w", err)
	}
	res.PhaseTimings = millisToTimings(ms)
	if err := json.Unmarshal(usage, &res.Usage); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return &res, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func timingsToMillis(t map[string]time.Duration) map[string]int64 {
	out := make(map[string]int64, len(t))
	for k, v := range t {
		out[k] = v.Milliseconds()
	}
	return out
}

func millisToTimings(ms map[string]int64) map[string]time.Duration {
	if len(ms) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(ms))
	for k, v := range ms {
		out[k] = time.Duration(v) * time.Millisecond
	}
	return out
}
