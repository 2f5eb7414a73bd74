package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/target/ticket-enhancer/internal/core"
	"github.com/target/ticket-enhancer/internal/data/pgxutil"
	"github.com/target/ticket-enhancer/internal/domain/model"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

// Advisory lock namespace for reaper operations.
// Two-arg pg_try_advisory_xact_lock(major, minor); major 1000 is reserved for the reaper.
const (
	advisoryLockReaperMajor         = 1000
	advisoryLockReaperRequeue       = 1 // minor key for RequeueExpired
	advisoryLockReaperDelete        = 2 // minor key for DeleteOldJobs
	advisoryLockReaperDeleteResults = 3 // minor key for DeleteOldResults
)

// leaseExpiredMessage is recorded on jobs whose worker stopped heartbeating.
const leaseExpiredMessage = "lease expired before the job finished"

// requeueExpiredSQL treats an expired lease as a spent delivery. Jobs that reach
// max_retries go to the dead set and get a terminal Timeout result in the same
// statement; the first terminal result for a job is kept.
//
// $1 now, $2 batch size, $3 message.
const requeueExpiredSQL = `
  WITH expired AS (
    SELECT id FROM enhancement_jobs
    WHERE status = 'running'
      AND lease_expires_at IS NOT NULL
      AND lease_expires_at < $1
    ORDER BY lease_expires_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
  ),
  moved AS (
    UPDATE enhancement_jobs j
    SET
      retry_count = j.retry_count + 1,
      status = CASE WHEN j.retry_count + 1 >= j.max_retries THEN 'dead' ELSE 'pending' END,
      completed_at = CASE WHEN j.retry_count + 1 >= j.max_retries THEN $1::timestamptz ELSE NULL END,
      last_error = $3,
      lease_expires_at = NULL,
      scheduled_at = $1,
      updated_at = $1
    FROM expired
    WHERE j.id = expired.id
    RETURNING j.id, j.tenant_id, j.ticket_id, j.event_id, j.status, j.retry_count
  ),
  timed_out AS (
    INSERT INTO enhancement_results (job_id, tenant_id, ticket_id, event_id, status, error_code, error_message, attempt, created_at)
    SELECT id, tenant_id, ticket_id, event_id, 'failed', '` + string(apperrors.ErrCodeTimeout) + `', $3, retry_count, $1
    FROM moved
    WHERE status = 'dead'
    ON CONFLICT (job_id) DO NOTHING
  )
  SELECT
    count(*) FILTER (WHERE status = 'pending'),
    count(*) FILTER (WHERE status = 'dead')
  FROM moved`

// RequeueExpired returns jobs with expired leases to the queue or, at the redelivery
// cap, to the dead set. Concurrent reapers skip the sweep when another holds the lock.
func (r *JobRepo) RequeueExpired(ctx context.Context, batchSize int) (model.RequeueResult, error) {
	var result model.RequeueResult
	if batchSize <= 0 {
		batchSize = 1000
	}
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := tryReaperLock(ctx, tx, advisoryLockReaperRequeue)
			if err != nil || !locked {
				return err
			}

			now := r.timeProvider.Now().UTC()
			if err := tx.QueryRowContext(ctx, requeueExpiredSQL, now, batchSize, leaseExpiredMessage).
				Scan(&result.Requeued, &result.Dead); err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			if result.Requeued > 0 {
				if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, '')`, jobAddedChannel); err != nil {
					return fmt.Errorf("send requeue notification: %w", err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return model.RequeueResult{}, err
	}
	return result, nil
}

// DeleteOldJobs deletes jobs with the given terminal status older than MaxAge.
// Processes up to BatchSize jobs per call to prevent long locks and I/O spikes.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Valid() {
		return 0, fmt.Errorf("invalid job status: %s", params.Status)
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := tryReaperLock(ctx, tx, advisoryLockReaperDelete)
			if err != nil || !locked {
				return err
			}

			cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()
			res, err := tx.ExecContext(ctx, `
				DELETE FROM enhancement_jobs
				WHERE id IN (
					SELECT id FROM enhancement_jobs
					WHERE status = $1
					  AND COALESCE(completed_at, updated_at) < $2
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $3
				)
			`, params.Status, cutoff, params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete old jobs: %w", err)
			}
			rowsAffected, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldResults deletes enhancement results older than maxAge, in batches.
func (r *JobRepo) DeleteOldResults(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := tryReaperLock(ctx, tx, advisoryLockReaperDeleteResults)
			if err != nil || !locked {
				return err
			}

			cutoff := r.timeProvider.Now().Add(-maxAge).UTC()
			res, err := tx.ExecContext(ctx, `
				DELETE FROM enhancement_results
				WHERE job_id IN (
					SELECT job_id FROM enhancement_results
					WHERE created_at < $1
					ORDER BY created_at
					LIMIT $2
				)
			`, cutoff, batchSize)
			if err != nil {
				return fmt.Errorf("delete old results: %w", err)
			}
			rowsAffected, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

func tryReaperLock(ctx context.Context, tx *sql.Tx, minor int) (bool, error) {
	var locked bool
	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).
		Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}
