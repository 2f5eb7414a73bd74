package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/target/ticket-enhancer/internal/data/pgxutil"
	domainjob "github.com/target/ticket-enhancer/internal/domain/job"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

const insertJobSQL = `
  INSERT INTO enhancement_jobs (id, tenant_id, ticket_id, event_id, dedup_key, status, max_retries, scheduled_at, created_at, updated_at)
  VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $7, $7)
  ON CONFLICT (tenant_id, dedup_key) DO NOTHING
  RETURNING ` + jobColumns

const selectJobByDedupSQL = `
  SELECT ` + jobColumns + `
  FROM enhancement_jobs
  WHERE tenant_id = $1 AND dedup_key = $2`

// reserveCandidatesSQL lists tenants with an eligible job, least-recently-served first.
// The concurrency check here is advisory only; reserveNextSQL repeats it under the
// tenant's reservation lock.
//
// $1 now, $2 default tenant concurrency, $3 limit.
const reserveCandidatesSQL = `
  WITH running AS (
    SELECT tenant_id, count(*) AS n
    FROM enhancement_jobs
    WHERE status = 'running'
    GROUP BY tenant_id
  )
  SELECT j.tenant_id
  FROM enhancement_jobs j
  JOIN tenants t ON t.id = j.tenant_id
  LEFT JOIN queue_tenant_cursors c ON c.tenant_id = j.tenant_id
  LEFT JOIN running r ON r.tenant_id = j.tenant_id
  WHERE j.status = 'pending'
    AND j.scheduled_at <= $1
    AND COALESCE(r.n, 0) < COALESCE(NULLIF((t.settings->>'max_concurrent_jobs')::int, 0), $2)
  GROUP BY j.tenant_id, c.last_reserved_at
  ORDER BY COALESCE(c.last_reserved_at, 'epoch'::timestamptz) ASC, min(j.created_at) ASC
  LIMIT $3`

// reserveNextSQL leases the tenant's oldest eligible job when the tenant is below its
// concurrency limit, and bumps the tenant's fairness cursor in the same statement.
// Callers hold the tenant's reservation lock, so the running count cannot be raced by
// another reserver.
//
// $1 now, $2 default tenant concurrency, $3 lease expiry, $4 tenant id.
const reserveNextSQL = `
  WITH running AS (
    SELECT count(*) AS n
    FROM enhancement_jobs
    WHERE status = 'running' AND tenant_id = $4
  ),
  candidate AS (
    SELECT j.id
    FROM enhancement_jobs j
    JOIN tenants t ON t.id = j.tenant_id
    CROSS JOIN running r
    WHERE j.tenant_id = $4
      AND j.status = 'pending'
      AND j.scheduled_at <= $1
      AND r.n < COALESCE(NULLIF((t.settings->>'max_concurrent_jobs')::int, 0), $2)
    ORDER BY j.created_at ASC
    LIMIT 1
    FOR UPDATE OF j SKIP LOCKED
  ),
  leased AS (
    UPDATE enhancement_jobs j
    SET
      status = 'running',
      started_at = COALESCE(j.started_at, $1),
      lease_expires_at = $3,
      updated_at = $1
    FROM candidate
    WHERE j.id = candidate.id
    RETURNING ` + qualifiedJobColumns + `
  ),
  bumped AS (
    INSERT INTO queue_tenant_cursors (tenant_id, last_reserved_at)
    SELECT tenant_id, $1 FROM leased
    ON CONFLICT (tenant_id) DO UPDATE SET last_reserved_at = EXCLUDED.last_reserved_at
  )
  SELECT ` + jobColumns + ` FROM leased`

// reserveCandidateLimit bounds how many tenants one ReserveNext call tries.
const reserveCandidateLimit = 8

// advisoryLockReserveMajor namespaces the per-tenant reservation lock; the minor key
// is hashtext(tenant_id).
const advisoryLockReserveMajor = 1001

// Enqueue inserts a pending job for the tenant. A second enqueue of the same
// (ticket, event) pair returns the existing job with created=false.
func (r *JobRepo) Enqueue(
	ctx context.Context,
	tc tenant.Context,
	req model.EnqueueRequest,
) (*model.EnhancementJob, bool, error) {
	if err := tenant.Require(tc); err != nil {
		return nil, false, err
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = r.cfg.MaxRetries
	}
	if err := req.Validate(); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid enqueue request")
	}

	dedupKey := model.DedupKey(req.TicketID, req.EventID)
	now := r.timeProvider.Now().UTC()

	var (
		job     *model.EnhancementJob
		created bool
	)
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, insertJobSQL,
				uuid.NewString(), tc.ID(), req.TicketID, req.EventID, dedupKey, req.MaxRetries, now)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			inserted, collectErr := collectJobFromRows(rows)
			rows.Close()
			switch {
			case collectErr == nil:
				job, created = inserted, true
				if _, notifyErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobAddedChannel, inserted.ID); notifyErr != nil {
					return fmt.Errorf("send job notification: %w", notifyErr)
				}
				return nil
			case !errors.Is(collectErr, pgx.ErrNoRows):
				return fmt.Errorf("collect job: %w", collectErr)
			}

			existing, err := tx.Query(ctx, selectJobByDedupSQL, tc.ID(), dedupKey)
			if err != nil {
				return fmt.Errorf("load duplicate job: %w", err)
			}
			defer existing.Close()
			job, err = collectJobFromRows(existing)
			if err != nil {
				return fmt.Errorf("collect duplicate job: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, false, apperrors.MapDBError(err)
	}
	if authErr := tc.Authorize(job.TenantID); authErr != nil {
		return nil, false, authErr
	}
	return job, created, nil
}

// TenantPending counts the tenant's pending jobs.
func (r *JobRepo) TenantPending(ctx context.Context, tc tenant.Context) (int, error) {
	if err := tenant.Require(tc); err != nil {
		return 0, err
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM enhancement_jobs
		WHERE tenant_id = $1 AND status = 'pending'
	`, tc.ID()).Scan(&n)
	if err != nil {
		return 0, apperrors.MapDBError(fmt.Errorf("count tenant pending: %w", err))
	}
	return n, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.EnhancementJob, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	lastError                              sql.NullString
	startedAt, completedAt, leaseExpiresAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.EnhancementJob) error {
	return scanner.Scan(
		&job.ID,
		&job.TenantID,
		&job.TicketID,
		&job.EventID,
		&job.DedupKey,
		&job.Status,
		&job.RetryCount,
		&job.MaxRetries,
		&job.ScheduledAt,
		&d.startedAt,
		&d.completedAt,
		&d.leaseExpiresAt,
		&d.lastError,
		&job.EnqueuedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.EnhancementJob) {
	job.LastError = cloneNullableString(d.lastError)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.EnhancementJob, error) {
	job := &model.EnhancementJob{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// ReserveNext leases the next eligible job for lease. It returns model.ErrNoJobsAvailable when idle.
//
// Tenants are visited least-recently-served first and FIFO within a tenant; tenants at
// their concurrency limit are skipped. Each tenant is reserved under a transaction-scoped
// advisory lock so concurrent workers cannot both pass the limit check for the same
// tenant. A tenant whose lock is held by another worker is skipped, like a locked row.
func (r *JobRepo) ReserveNext(ctx context.Context, lease time.Duration) (*model.EnhancementJob, error) {
	if lease <= 0 {
		return nil, errors.New("lease must be positive")
	}

	var job *model.EnhancementJob
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			tenants, err := reserveCandidates(ctx, tx, now, r.cfg.DefaultTenantConcurrency)
			if err != nil {
				return err
			}
			for _, tenantID := range tenants {
				var locked bool
				if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1, hashtext($2))`,
					int32(advisoryLockReserveMajor), tenantID).Scan(&locked); err != nil {
					return fmt.Errorf("acquire reservation lock: %w", err)
				}
				if !locked {
					continue
				}
				// Read committed: this statement sees every lease committed before the lock was granted.
				rows, qerr := tx.Query(ctx, reserveNextSQL, now, r.cfg.DefaultTenantConcurrency, now.Add(lease), tenantID)
				if qerr != nil {
					return fmt.Errorf("reserve job: %w", qerr)
				}
				j, cerr := collectJobFromRows(rows)
				rows.Close()
				if errors.Is(cerr, pgx.ErrNoRows) {
					continue
				}
				if cerr != nil {
					return fmt.Errorf("reserve job: %w", cerr)
				}
				job = j
				return nil
			}
			return model.ErrNoJobsAvailable
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

func reserveCandidates(ctx context.Context, tx pgx.Tx, now time.Time, defaultConcurrency int) ([]string, error) {
	rows, err := tx.Query(ctx, reserveCandidatesSQL, now, defaultConcurrency, reserveCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("list reservable tenants: %w", err)
	}
	tenants, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list reservable tenants: %w", err)
	}
	return tenants, nil
}

// Heartbeat extends the lease on a running job. It returns false when the lease was lost
// or the job belongs to another tenant.
func (r *JobRepo) Heartbeat(ctx context.Context, tc tenant.Context, id string, lease time.Duration) (bool, error) {
	if err := tenant.Require(tc); err != nil {
		return false, err
	}
	if lease <= 0 {
		return false, errors.New("lease must be positive")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE enhancement_jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND tenant_id = $4 AND status = 'running'
	`, id, now.Add(lease), now, tc.ID())
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}
	return rowsChanged(res)
}

// Complete acknowledges a running job.
func (r *JobRepo) Complete(ctx context.Context, tc tenant.Context, id string) (bool, error) {
	if err := tenant.Require(tc); err != nil {
		return false, err
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE enhancement_jobs
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $2,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND tenant_id = $3 AND status = 'running'
	`, id, now, tc.ID())
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return rowsChanged(res)
}

// Fail releases a running job for redelivery after a backoff. The delivery that
// reaches max_retries moves the job to the dead set instead.
func (r *JobRepo) Fail(ctx context.Context, tc tenant.Context, id, reason string) (model.JobStatus, error) {
	if err := tenant.Require(tc); err != nil {
		return "", err
	}
	var status model.JobStatus
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var retryCount, maxRetries int
			err := tx.QueryRowContext(ctx, `
				SELECT retry_count, max_retries
				FROM enhancement_jobs
				WHERE id = $1 AND tenant_id = $2 AND status = 'running'
				FOR UPDATE
			`, id, tc.ID()).Scan(&retryCount, &maxRetries)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("lock job: %w", err)
			}

			now := r.timeProvider.Now().UTC()
			next := retryCount + 1
			if next >= maxRetries {
				status = model.JobStatusDead
				_, err = tx.ExecContext(ctx, `
					UPDATE enhancement_jobs
					SET status = 'dead',
					    retry_count = $2,
					    last_error = $3,
					    completed_at = $4,
					    lease_expires_at = NULL,
					    updated_at = $4
					WHERE id = $1
				`, id, next, reason, now)
			} else {
				status = model.JobStatusPending
				delay := domainjob.RedeliveryDelay(retryCount, r.cfg.RetryDelay, r.cfg.MaxRetryDelay)
				_, err = tx.ExecContext(ctx, `
					UPDATE enhancement_jobs
					SET status = 'pending',
					    retry_count = $2,
					    last_error = $3,
					    scheduled_at = $4,
					    lease_expires_at = NULL,
					    updated_at = $5
					WHERE id = $1
				`, id, next, reason, now.Add(delay), now)
			}
			if err != nil {
				return fmt.Errorf("release job: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	if status == model.JobStatusDead {
		r.logger.WarnContext(ctx, "job moved to dead set", "tenant_id", tc.ID(), "job_id", id, "reason", reason)
	}
	return status, nil
}

// MarkDead moves a job straight to the dead set without further deliveries.
func (r *JobRepo) MarkDead(ctx context.Context, tc tenant.Context, id, reason string) (bool, error) {
	if err := tenant.Require(tc); err != nil {
		return false, err
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE enhancement_jobs
		SET status = 'dead',
		    last_error = $2,
		    completed_at = $3,
		    lease_expires_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND tenant_id = $4 AND status IN ('pending', 'running')
	`, id, reason, now, tc.ID())
	if err != nil {
		return false, fmt.Errorf("mark job dead: %w", err)
	}
	return rowsChanged(res)
}

// Stats returns queue depth and the age of the oldest pending job.
func (r *JobRepo) Stats(ctx context.Context) (*model.QueueStats, error) {
	var (
		s      model.QueueStats
		oldest sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending') AS pending,
    count(*) FILTER (WHERE status = 'running') AS running,
    count(*) FILTER (WHERE status = 'dead')    AS dead,
    min(created_at) FILTER (WHERE status = 'pending') AS oldest_pending
  FROM enhancement_jobs
  `).Scan(&s.Pending, &s.Running, &s.Dead, &oldest)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("queue stats: %w", err))
	}
	if oldest.Valid {
		age := r.timeProvider.Now().Sub(oldest.Time)
		if age < 0 {
			age = 0
		}
		s.OldestPendingAge = age
		s.OldestPendingSeconds = age.Seconds()
	}
	return &s, nil
}

// WaitForNotification blocks until a job is enqueued or ctx ends.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.DebugContext(ctx, "close listen conn", "error", cerr)
		}
	}()

	quoted := pgx.Identifier{jobAddedChannel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", jobAddedChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			r.logger.DebugContext(ctx, "unlisten", "error", execErr)
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves one of the tenant's jobs by its ID. Another tenant's job reads as not found.
func (r *JobRepo) GetByID(ctx context.Context, tc tenant.Context, id string) (*model.EnhancementJob, error) {
	if err := tenant.Require(tc); err != nil {
		return nil, err
	}
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM enhancement_jobs WHERE id = $1 AND tenant_id = $2`, id, tc.ID())
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
