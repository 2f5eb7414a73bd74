package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/target/ticket-enhancer/internal/core"
	"github.com/target/ticket-enhancer/internal/data"
	"github.com/target/ticket-enhancer/internal/data/cryptoutil"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

// TenantLoader resolves a tenant id into a fresh TenantContext.
type TenantLoader interface {
	Load(ctx context.Context, tenantID string) (tenant.Context, error)
}

// TenantLoaderFunc adapts a function to TenantLoader.
type TenantLoaderFunc func(ctx context.Context, tenantID string) (tenant.Context, error)

// Load implements TenantLoader.
func (f TenantLoaderFunc) Load(ctx context.Context, tenantID string) (tenant.Context, error) {
	return f(ctx, tenantID)
}

// TenantServiceOptions groups dependencies for TenantService.
type TenantServiceOptions struct {
	Repo      core.TenantRepository // Required: tenant repository
	Encryptor cryptoutil.Encryptor  // Required: secrets are stored encrypted and bound to the tenant
	Defaults  tenant.Defaults       // Required: process-level fallbacks for tenant tunables
	Logger    *slog.Logger          // Optional: structured logger
}

// TenantService loads tenant configuration into TenantContexts and manages tenant rows.
type TenantService struct {
	repo      core.TenantRepository
	encryptor cryptoutil.Encryptor
	defaults  tenant.Defaults
	logger    *slog.Logger
}

// NewTenantService constructs a new TenantService.
func NewTenantService(opts TenantServiceOptions) (*TenantService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TenantRepository is required")
	}
	if opts.Encryptor == nil {
		return nil, errors.New("Encryptor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantService{
		repo:      opts.Repo,
		encryptor: opts.Encryptor,
		defaults:  opts.Defaults,
		logger:    logger.With("component", "tenant_service"),
	}, nil
}

// Load reads the tenant row and decrypts its credentials. Unknown and inactive
// tenants both return UnknownTenant so callers cannot discover which ids exist.
func (s *TenantService) Load(ctx context.Context, tenantID string) (tenant.Context, error) {
	if strings.TrimSpace(tenantID) == "" {
		return tenant.Context{}, apperrors.New(apperrors.ErrCodeUnknownTenant, "tenant id is required")
	}

	row, err := s.repo.GetByID(ctx, tenantID)
	if errors.Is(err, data.ErrTenantNotFound) {
		return tenant.Context{}, apperrors.Newf(apperrors.ErrCodeUnknownTenant, "unknown tenant %q", tenantID)
	}
	if err != nil {
		return tenant.Context{}, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	if row.ID != tenantID {
		return tenant.Context{}, apperrors.IsolationViolationf("lookup for tenant %q returned tenant %q", tenantID, row.ID)
	}
	if !row.Active {
		return tenant.Context{}, apperrors.Newf(apperrors.ErrCodeUnknownTenant, "unknown tenant %q", tenantID)
	}

	creds, err := s.decryptCredentials(row)
	if err != nil {
		return tenant.Context{}, err
	}
	return tenant.NewContext(*row, creds, s.defaults)
}

func (s *TenantService) decryptCredentials(row *model.Tenant) (tenant.Credentials, error) {
	creds := tenant.Credentials{SourceAPIKeys: make(map[string]string, len(row.Settings.Sources))}

	var err error
	if creds.WebhookSecret, err = s.decrypt(row.ID, "webhook_secret", row.WebhookSecret); err != nil {
		return tenant.Credentials{}, err
	}
	if creds.TicketingAPIKey, err = s.decrypt(row.ID, "ticketing_api_key", row.TicketingAPIKey); err != nil {
		return tenant.Credentials{}, err
	}
	for name, src := range row.Settings.Sources {
		key, derr := s.decrypt(row.ID, "sources."+name+".api_key", src.APIKey)
		if derr != nil {
			return tenant.Credentials{}, derr
		}
		if key != "" {
			creds.SourceAPIKeys[name] = key
		}
	}
	return creds, nil
}

// decrypt opens one stored secret. A secret sealed for another tenant is an
// isolation fault, not a configuration error.
func (s *TenantService) decrypt(tenantID, field, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	plain, err := s.encryptor.Decrypt(tenantID, ciphertext)
	if errors.Is(err, cryptoutil.ErrTenantMismatch) {
		return "", apperrors.IsolationViolationf("tenant %q %s was sealed for another tenant", tenantID, field)
	}
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrCodeInternal, "decrypt %s for tenant %q", field, tenantID)
	}
	return string(plain), nil
}

// Upsert validates operator input, encrypts its secrets for the tenant, and stores it.
func (s *TenantService) Upsert(ctx context.Context, in model.TenantUpsert) (*model.Tenant, error) {
	if err := in.Validate(); err != nil {
		return nil, validationError(err, "invalid tenant")
	}
	if err := validateTenantSettings(in.Settings); err != nil {
		return nil, err
	}

	row := &model.Tenant{
		ID:               in.ID,
		Name:             in.Name,
		TicketingBaseURL: strings.TrimRight(in.TicketingBaseURL, "/"),
		Settings:         in.Settings.Clone(),
		Active:           in.Active == nil || *in.Active,
	}
	if row.Name == "" {
		row.Name = row.ID
	}

	var err error
	if row.WebhookSecret, err = s.encrypt(row.ID, in.WebhookSecret); err != nil {
		return nil, err
	}
	if row.TicketingAPIKey, err = s.encrypt(row.ID, in.TicketingAPIKey); err != nil {
		return nil, err
	}
	for name, src := range row.Settings.Sources {
		if src.APIKey, err = s.encrypt(row.ID, src.APIKey); err != nil {
			return nil, err
		}
		row.Settings.Sources[name] = src
	}

	stored, err := s.repo.Upsert(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("store tenant %s: %w", row.ID, err)
	}
	s.logger.InfoContext(ctx, "tenant upserted", "tenant_id", stored.ID, "active", stored.Active)
	return stored, nil
}

func (s *TenantService) encrypt(tenantID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	sealed, err := s.encryptor.Encrypt(tenantID, []byte(plaintext))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "encrypt tenant secret")
	}
	return sealed, nil
}

// List returns every tenant row with secrets still encrypted.
func (s *TenantService) List(ctx context.Context) ([]*model.Tenant, error) {
	tenants, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

var knownSources = map[string]bool{
	model.SourceTicketHistory: true,
	model.SourceKnowledgeBase: true,
	model.SourceNetworkLookup: true,
}

func validateTenantSettings(settings model.TenantSettings) error {
	if settings.MaxConcurrentJobs < 0 {
		return apperrors.ValidationField("max_concurrent_jobs", "max_concurrent_jobs must not be negative")
	}
	if settings.JobDeadline < 0 {
		return apperrors.ValidationField("job_deadline", "job_deadline must not be negative")
	}
	for name, src := range settings.Sources {
		if !knownSources[name] {
			return apperrors.ValidationField("sources", fmt.Sprintf("unknown context source %q", name))
		}
		if src.Retries != nil && (*src.Retries < 0 || *src.Retries > 1) {
			return apperrors.ValidationField("sources."+name+".retries", "retries must be 0 or 1")
		}
		if !src.Disabled && src.URL == "" {
			return apperrors.ValidationField("sources."+name+".url", "url is required for an enabled source")
		}
	}
	switch strings.ToUpper(settings.Ticketing.UpdateMethod) {
	case "", "POST", "PUT", "PATCH":
	default:
		return apperrors.ValidationField("ticketing.update_method", "update_method must be POST, PUT, or PATCH")
	}
	return nil
}
