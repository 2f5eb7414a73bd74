package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
	"go.uber.org/mock/gomock"
)

//go:generate mockgen -source=cache.go -destination=cache_mock_test.go -package=core

func testTenant(t *testing.T, id string) tenant.Context {
	t.Helper()
	tc, err := tenant.NewContext(model.Tenant{ID: id}, tenant.Credentials{}, tenant.Defaults{})
	require.NoError(t, err)
	return tc
}

func TestDedupGuard_Claim(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(*MockCacheRepository)
		want    bool
		wantErr bool
	}{
		{
			name: "first claim wins",
			setup: func(cache *MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), "enhancer:dedup:acme:k1", []byte("1"), 24*time.Hour).
					Return(true, nil)
			},
			want: true,
		},
		{
			name: "existing key is a duplicate",
			setup: func(cache *MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), "enhancer:dedup:acme:k1", gomock.Any(), gomock.Any()).
					Return(false, nil)
			},
			want: false,
		},
		{
			name: "cache error is returned",
			setup: func(cache *MockCacheRepository) {
				cache.EXPECT().
					SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(false, errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			cache := NewMockCacheRepository(ctrl)
			tt.setup(cache)

			guard := NewDedupGuard(DedupGuardOptions{Cache: cache, KeyPrefix: "enhancer:", Retention: 24 * time.Hour})
			got, err := guard.Claim(context.Background(), testTenant(t, "acme"), "k1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDedupGuard_KeysAreTenantScoped(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := NewMockCacheRepository(ctrl)
	guard := NewDedupGuard(DedupGuardOptions{Cache: cache, Retention: time.Hour})

	gomock.InOrder(
		cache.EXPECT().SetIfNotExists(gomock.Any(), "dedup:acme:k1", gomock.Any(), time.Hour).Return(true, nil),
		cache.EXPECT().SetIfNotExists(gomock.Any(), "dedup:globex:k1", gomock.Any(), time.Hour).Return(true, nil),
	)

	ok, err := guard.Claim(context.Background(), testTenant(t, "acme"), "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(context.Background(), testTenant(t, "globex"), "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDedupGuard_Release(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := NewMockCacheRepository(ctrl)
	cache.EXPECT().Delete(gomock.Any(), "dedup:acme:k1").Return(true, nil)

	guard := NewDedupGuard(DedupGuardOptions{Cache: cache})
	require.NoError(t, guard.Release(context.Background(), testTenant(t, "acme"), "k1"))
}

func TestDedupGuard_RejectsMissingTenant(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := NewMockCacheRepository(ctrl)
	guard := NewDedupGuard(DedupGuardOptions{Cache: cache})

	_, err := guard.Claim(context.Background(), tenant.Context{}, "k1")
	assert.True(t, apperrors.IsIsolationViolation(err))

	err = guard.Release(context.Background(), tenant.Context{}, "k1")
	assert.True(t, apperrors.IsIsolationViolation(err))
}

func TestDedupGuard_NilGuardClaimsEverything(t *testing.T) {
	guard := NewDedupGuard(DedupGuardOptions{})
	assert.Nil(t, guard)

	ok, err := guard.Claim(context.Background(), tenant.Context{}, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, guard.Release(context.Background(), tenant.Context{}, "k1"))
}
