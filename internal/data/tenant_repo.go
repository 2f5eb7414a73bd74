package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/ticket-enhancer/internal/domain/model"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

const tenantColumns = `id, name, webhook_secret, ticketing_base_url, ticketing_api_key, settings, active, created_at, updated_at`

// TenantRepo stores tenant configuration rows. Secrets are stored exactly as given;
// callers encrypt before Upsert and decrypt after GetByID.
type TenantRepo struct {
	db           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// TenantRepoOptions configures NewTenantRepo.
type TenantRepoOptions struct {
	TimeProvider TimeProvider
	Logger       *slog.Logger
}

// NewTenantRepo creates a TenantRepo.
func NewTenantRepo(db *sql.DB, opts TenantRepoOptions) *TenantRepo {
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantRepo{db: db, timeProvider: tp, logger: logger.With("component", "tenant_repo")}
}

// GetByID returns the tenant row, or ErrTenantNotFound.
func (r *TenantRepo) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get tenant: %w", err))
	}
	return t, nil
}

// Upsert inserts or replaces a tenant row and returns the stored version.
func (r *TenantRepo) Upsert(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	if t == nil || t.ID == "" {
		return nil, apperrors.ValidationField("id", "tenant id is required")
	}
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal tenant settings: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO tenants (id, name, webhook_secret, ticketing_base_url, ticketing_api_key, settings, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			webhook_secret = EXCLUDED.webhook_secret,
			ticketing_base_url = EXCLUDED.ticketing_base_url,
			ticketing_api_key = EXCLUDED.ticketing_api_key,
			settings = EXCLUDED.settings,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		RETURNING `+tenantColumns,
		t.ID, t.Name, t.WebhookSecret, t.TicketingBaseURL, t.TicketingAPIKey, settings, t.Active, now)

	stored, err := scanTenant(row)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("upsert tenant: %w", err))
	}
	r.logger.InfoContext(ctx, "tenant stored", "tenant_id", stored.ID, "active", stored.Active)
	return stored, nil
}

// List returns all tenants ordered by id.
func (r *TenantRepo) List(ctx context.Context) ([]*model.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list tenants: %w", err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.DebugContext(ctx, "close tenant rows", "error", cerr)
		}
	}()

	var out []*model.Tenant
	for rows.Next() {
		t, scanErr := scanTenant(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan tenant: %w", scanErr)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return out, nil
}

func scanTenant(scanner jobRowScanner) (*model.Tenant, error) {
	var (
		t        model.Tenant
		settings []byte
	)
	if err := scanner.Scan(
		&t.ID,
		&t.Name,
		&t.WebhookSecret,
		&t.TicketingBaseURL,
		&t.TicketingAPIKey,
		&settings,
		&t.Active,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("decode settings for tenant %s: %w", t.ID, err)
		}
	}
	return &t, nil
}
