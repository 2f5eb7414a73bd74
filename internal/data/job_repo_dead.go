package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/target/ticket-enhancer/internal/data/pgxutil"
	"github.com/target/ticket-enhancer/internal/domain/model"
)

const maxDeadListLimit = 500

// ListDead returns the most recently dead jobs first.
func (r *JobRepo) ListDead(ctx context.Context, limit int) ([]model.DeadJob, error) {
	if limit <= 0 || limit > maxDeadListLimit {
		limit = maxDeadListLimit
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, tenant_id, ticket_id, event_id, retry_count, COALESCE(last_error, ''), updated_at
		FROM enhancement_jobs
		WHERE status = 'dead'
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.DebugContext(ctx, "close dead rows", "error", cerr)
		}
	}()

	var out []model.DeadJob
	for rows.Next() {
		var d model.DeadJob
		if scanErr := rows.Scan(&d.ID, &d.TenantID, &d.TicketID, &d.EventID, &d.RetryCount, &d.LastError, &d.UpdatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan dead job: %w", scanErr)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead jobs: %w", err)
	}
	return out, nil
}

// RequeueDead replaces a dead job with a new pending job for the same tenant, ticket,
// and event. The replacement gets a fresh id so any result already stored for the dead
// job stays untouched; the dedup key carries over so the ticket writer still
// recognises an enhancement made by an earlier delivery.
func (r *JobRepo) RequeueDead(ctx context.Context, id string) (*model.EnhancementJob, error) {
	var job *model.EnhancementJob
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var (
				dead   model.EnhancementJob
				status model.JobStatus
			)
			err := tx.QueryRowContext(ctx, `
				SELECT tenant_id, ticket_id, event_id, dedup_key, max_retries, status
				FROM enhancement_jobs
				WHERE id = $1
				FOR UPDATE
			`, id).Scan(&dead.TenantID, &dead.TicketID, &dead.EventID, &dead.DedupKey, &dead.MaxRetries, &status)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			if err != nil {
				return fmt.Errorf("lock dead job: %w", err)
			}
			if status != model.JobStatusDead {
				return ErrJobNotDead
			}

			if _, err = tx.ExecContext(ctx, `DELETE FROM enhancement_jobs WHERE id = $1`, id); err != nil {
				return fmt.Errorf("remove dead job: %w", err)
			}

			now := r.timeProvider.Now().UTC()
			row := tx.QueryRowContext(ctx, `
				INSERT INTO enhancement_jobs (id, tenant_id, ticket_id, event_id, dedup_key, status, max_retries, scheduled_at, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $7, $7)
				RETURNING `+jobColumns,
				uuid.NewString(), dead.TenantID, dead.TicketID, dead.EventID, dead.DedupKey, dead.MaxRetries, now)
			job, err = scanJobFromRow(row)
			if err != nil {
				return fmt.Errorf("insert replacement job: %w", err)
			}

			if _, err = tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, jobAddedChannel, job.ID); err != nil {
				return fmt.Errorf("send job notification: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "dead job requeued",
		"dead_job_id", id,
		"job_id", job.ID,
		"tenant_id", job.TenantID,
	)
	return job, nil
}
