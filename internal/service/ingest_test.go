package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/core"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
	"github.com/target/ticket-enhancer/internal/mocks"
	"github.com/target/ticket-enhancer/internal/testutil"
	"go.uber.org/mock/gomock"
)

var ingestNow = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

type ingestFixture struct {
	svc   *IngestService
	jobs  *mocks.MockJobRepository
	cache *mocks.MockCacheRepository
}

func newIngestFixture(t *testing.T, withCache bool) *ingestFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &ingestFixture{
		jobs:  mocks.NewMockJobRepository(ctrl),
		cache: mocks.NewMockCacheRepository(ctrl),
	}

	loader := TenantLoaderFunc(func(_ context.Context, id string) (tenant.Context, error) {
		switch id {
		case "acme":
			return testutil.NewTenant("acme").Context(), nil
		case "globex":
			return testutil.NewTenant("globex").Context(), nil
		default:
			return tenant.Context{}, apperrors.Newf(apperrors.ErrCodeUnknownTenant, "unknown tenant %q", id)
		}
	})

	var dedup *core.DedupGuard
	if withCache {
		dedup = core.NewDedupGuard(core.DedupGuardOptions{Cache: f.cache, Retention: 24 * time.Hour})
	}

	svc, err := NewIngestService(IngestServiceOptions{
		Tenants: loader,
		Jobs:    f.jobs,
		Dedup:   dedup,
		Config: config.WebhookConfig{
			ReplayWindow:        5 * time.Minute,
			FutureSkew:          time.Minute,
			MaxPendingPerTenant: 10,
		},
		MaxRedeliveries: 5,
		Now:             func() time.Time { return ingestNow },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func acmeEvent() model.WebhookEvent {
	return model.WebhookEvent{TenantID: "acme", TicketID: "T-1", EventID: "evt-1", Timestamp: ingestNow.Add(-time.Minute)}
}

func TestIngest_EnqueuesNewEvent(t *testing.T) {
	f := newIngestFixture(t, true)
	body, sig := testutil.SignedWebhook("secret-acme", acmeEvent())
	key := model.DedupKey("T-1", "evt-1")

	gomock.InOrder(
		f.cache.EXPECT().SetIfNotExists(gomock.Any(), "dedup:acme:"+key, gomock.Any(), 24*time.Hour).Return(true, nil),
		f.jobs.EXPECT().TenantPending(gomock.Any(), gomock.Any()).Return(3, nil),
		f.jobs.EXPECT().
			Enqueue(gomock.Any(), gomock.Any(), model.EnqueueRequest{TicketID: "T-1", EventID: "evt-1", MaxRetries: 5}).
			Return(&model.EnhancementJob{ID: "job-1", TenantID: "acme"}, true, nil),
	)

	res, err := f.svc.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, model.IngestResult{Status: model.IngestEnqueued, JobID: "job-1"}, res)
}

func TestIngest_RejectsBeforeEnqueue(t *testing.T) {
	stale := acmeEvent()
	stale.Timestamp = ingestNow.Add(-10 * time.Minute)
	future := acmeEvent()
	future.Timestamp = ingestNow.Add(2 * time.Minute)
	unknown := acmeEvent()
	unknown.TenantID = "initech"

	goodBody, goodSig := testutil.SignedWebhook("secret-acme", acmeEvent())
	staleBody, staleSig := testutil.SignedWebhook("secret-acme", stale)
	futureBody, futureSig := testutil.SignedWebhook("secret-acme", future)
	unknownBody, unknownSig := testutil.SignedWebhook("secret-initech", unknown)
	// Signed with another tenant's secret while naming acme.
	_, crossSig := testutil.SignedWebhook("secret-globex", acmeEvent())

	tests := []struct {
		name     string
		body     []byte
		sig      string
		wantCode apperrors.ErrorCode
	}{
		{name: "malformed json", body: []byte(`{"tenant_id":`), sig: "sha256=00", wantCode: apperrors.ErrCodeValidation},
		{name: "missing fields", body: []byte(`{"tenant_id":"acme"}`), sig: "sha256=00", wantCode: apperrors.ErrCodeValidation},
		{name: "unknown tenant", body: unknownBody, sig: unknownSig, wantCode: apperrors.ErrCodeUnknownTenant},
		{name: "missing signature", body: goodBody, sig: "", wantCode: apperrors.ErrCodeInvalidSignature},
		{name: "non hex signature", body: goodBody, sig: "sha256=zz", wantCode: apperrors.ErrCodeInvalidSignature},
		{name: "other tenant secret", body: goodBody, sig: crossSig, wantCode: apperrors.ErrCodeInvalidSignature},
		{name: "tampered body", body: append([]byte(" "), goodBody...), sig: goodSig, wantCode: apperrors.ErrCodeInvalidSignature},
		{name: "stale timestamp", body: staleBody, sig: staleSig, wantCode: apperrors.ErrCodeReplayDetected},
		{name: "future timestamp", body: futureBody, sig: futureSig, wantCode: apperrors.ErrCodeReplayDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No expectations: any queue or cache call fails the test.
			f := newIngestFixture(t, true)
			_, err := f.svc.Ingest(context.Background(), tt.body, tt.sig)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
		})
	}
}

func TestIngest_AcceptsBareHexSignature(t *testing.T) {
	f := newIngestFixture(t, false)
	body, sig := testutil.SignedWebhook("secret-acme", acmeEvent())

	f.jobs.EXPECT().TenantPending(gomock.Any(), gomock.Any()).Return(0, nil)
	f.jobs.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&model.EnhancementJob{ID: "job-1"}, true, nil)

	res, err := f.svc.Ingest(context.Background(), body, sig[len("sha256="):])
	require.NoError(t, err)
	assert.Equal(t, model.IngestEnqueued, res.Status)
}

func TestIngest_DuplicateFromCache(t *testing.T) {
	f := newIngestFixture(t, true)
	body, sig := testutil.SignedWebhook("secret-acme", acmeEvent())
	f.cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)

	res, err := f.svc.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, model.IngestDuplicate, res.Status)
}

func TestIngest_DuplicateFromDatabase(t *testing.T) {
	f := newIngestFixture(t, false)
	body, sig := testutil.SignedWebhook("secret-acme", acmeEvent())
	f.jobs.EXPECT().TenantPending(gomock.Any(), gomock.Any()).Return(0, nil)
	f.jobs.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&model.EnhancementJob{ID: "job-1"}, false, nil)

	res, err := f.svc.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, model.IngestResult{Status: model.IngestDuplicate, JobID: "job-1"}, res)
}

func TestIngest_CacheOutageFallsBackToDatabase(t *testing.T) {
	f := newIngestFixture(t, true)
	body, sig := testutil.SignedWebhook("secret-acme", acmeEvent())
	f.cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, errors.New("dial tcp: connection refused"))
	f.jobs.EXPECT().TenantPending(gomock.Any(), gomock.Any()).Return(0, nil)
	f.jobs.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&model.EnhancementJob{ID: "job-1"}, true, nil)

	res, err := f.svc.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, model.IngestEnqueued, res.Status)
}

func TestIngest_QueueFailureReleasesClaim(t *testing.T) {
	f := newIngestFixture(t, true)
	body, sig := testutil.SignedWebhook("secret-acme", acmeEvent())
	key := "dedup:acme:" + model.DedupKey("T-1", "evt-1")

	f.cache.EXPECT().SetIfNotExists(gomock.Any(), key, gomock.Any(), gomock.Any()).Return(true, nil)
	f.jobs.EXPECT().TenantPending(gomock.Any(), gomock.Any()).Return(0, nil)
	f.jobs.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, false, errors.New("connection refused"))
	f.cache.EXPECT().Delete(gomock.Any(), key).Return(true, nil)

	_, err := f.svc.Ingest(context.Background(), body, sig)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueueUnavailable, apperrors.GetCode(err))
	assert.NotErrorIs(t, err, ErrTenantBackpressure)
}

func TestIngest_TenantBackpressure(t *testing.T) {
	f := newIngestFixture(t, true)
	body, sig := testutil.SignedWebhook("secret-acme", acmeEvent())

	f.cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	f.jobs.EXPECT().TenantPending(gomock.Any(), gomock.Any()).Return(10, nil)
	f.cache.EXPECT().Delete(gomock.Any(), gomock.Any()).Return(true, nil)

	_, err := f.svc.Ingest(context.Background(), body, sig)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueueUnavailable, apperrors.GetCode(err))
	assert.ErrorIs(t, err, ErrTenantBackpressure)
}

func TestIngest_EnqueueUsesCallerTenantScope(t *testing.T) {
	f := newIngestFixture(t, false)
	evt := acmeEvent()
	evt.TenantID = "globex"
	body, sig := testutil.SignedWebhook("secret-globex", evt)

	f.jobs.EXPECT().TenantPending(gomock.Any(), gomock.Any()).Return(0, nil)
	f.jobs.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, tc tenant.Context, _ model.EnqueueRequest) (*model.EnhancementJob, bool, error) {
			assert.Equal(t, "globex", tc.ID())
			return &model.EnhancementJob{ID: "job-g", TenantID: tc.ID()}, true, nil
		})

	res, err := f.svc.Ingest(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, "job-g", res.JobID)
}
