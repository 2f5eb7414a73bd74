package sources

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/mocks"
	"github.com/target/ticket-enhancer/internal/ports"
	"github.com/target/ticket-enhancer/internal/testutil"
	"go.uber.org/mock/gomock"
)

func TestWithCache_DisabledReturnsSource(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockContextSource(ctrl)
	assert.Same(t, src, WithCache(src, CacheOptions{TTL: time.Minute}))
	assert.Same(t, src, WithCache(src, CacheOptions{Cache: mocks.NewMockCacheRepository(ctrl)}))
}

func TestCachedSource_Fetch(t *testing.T) {
	spec := tenant.SourceSpec{Name: model.SourceKnowledgeBase, URL: "https://kb.example.com?q={query}"}
	ticket := model.Ticket{ID: "T-1", Subject: "vpn"}

	t.Run("hit is served from cache", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := mocks.NewMockContextSource(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		src.EXPECT().Name().Return(model.SourceKnowledgeBase).AnyTimes()

		cache.EXPECT().Get(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, key string) ([]byte, error) {
				assert.True(t, strings.HasPrefix(key, "enhancer:source:acme:knowledge_base:"))
				return []byte(`[1]`), nil
			})

		cached := WithCache(src, CacheOptions{Cache: cache, TTL: time.Minute, KeyPrefix: "enhancer:"})
		out, err := cached.Fetch(context.Background(), testutil.NewTenant("acme").Context(), spec, ticket)
		require.NoError(t, err)
		assert.True(t, out.Cached)
		assert.JSONEq(t, `[1]`, string(out.Data))
	})

	t.Run("miss fetches and stores", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := mocks.NewMockContextSource(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		src.EXPECT().Name().Return(model.SourceKnowledgeBase).AnyTimes()

		cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil)
		src.EXPECT().Fetch(gomock.Any(), gomock.Any(), spec, ticket).Return(ports.SourceData{Data: []byte(`[2]`)}, nil)
		cache.EXPECT().Set(gomock.Any(), gomock.Any(), []byte(`[2]`), time.Minute).Return(nil)

		cached := WithCache(src, CacheOptions{Cache: cache, TTL: time.Minute})
		out, err := cached.Fetch(context.Background(), testutil.NewTenant("acme").Context(), spec, ticket)
		require.NoError(t, err)
		assert.False(t, out.Cached)
	})

	t.Run("cache outage falls through and errors are not cached", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := mocks.NewMockContextSource(ctrl)
		cache := mocks.NewMockCacheRepository(ctrl)
		src.EXPECT().Name().Return(model.SourceKnowledgeBase).AnyTimes()

		cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down"))
		src.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(ports.SourceData{}, errors.New("boom"))

		cached := WithCache(src, CacheOptions{Cache: cache, TTL: time.Minute})
		_, err := cached.Fetch(context.Background(), testutil.NewTenant("acme").Context(), spec, ticket)
		require.Error(t, err)
	})

	t.Run("tenants never share keys", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := mocks.NewMockContextSource(ctrl)
		src.EXPECT().Name().Return(model.SourceKnowledgeBase).AnyTimes()
		c := WithCache(src, CacheOptions{Cache: mocks.NewMockCacheRepository(ctrl), TTL: time.Minute}).(*cachedSource)

		a := c.key(testutil.NewTenant("acme").Context(), spec, ticket)
		b := c.key(testutil.NewTenant("globex").Context(), spec, ticket)
		assert.NotEqual(t, a, b)
	})
}
