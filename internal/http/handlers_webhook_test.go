package httpx

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/domain/model"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
	"github.com/target/ticket-enhancer/internal/service"
)

type ingestFunc func(ctx context.Context, body []byte, signature string) (model.IngestResult, error)

func (f ingestFunc) Ingest(ctx context.Context, body []byte, signature string) (model.IngestResult, error) {
	return f(ctx, body, signature)
}

func testWebhookConfig() config.WebhookConfig {
	return config.WebhookConfig{
		SignatureHeader: "X-Signature",
		MaxBodyBytes:    64,
		RetryAfter:      30 * time.Second,
	}
}

func TestWebhookHandlers_Receive_PassesRawBodyAndSignature(t *testing.T) {
	payload := []byte(`{"tenant_id":"acme"}`)
	h := &WebhookHandlers{
		Config: testWebhookConfig(),
		Svc: ingestFunc(func(_ context.Context, body []byte, sig string) (model.IngestResult, error) {
			assert.Equal(t, payload, body)
			assert.Equal(t, "sha256=abc", sig)
			return model.IngestResult{Status: model.IngestEnqueued, JobID: "job-1"}, nil
		}),
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/tickets", bytes.NewReader(payload))
	req.Header.Set("X-Signature", "sha256=abc")
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"enqueued","job_id":"job-1"}`, rec.Body.String())
}

func TestWebhookHandlers_Receive_ErrorMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantCode       int
		wantRetryAfter string
		wantErrCode    string
	}{
		{
			name:        "malformed payload",
			err:         apperrors.Validation("malformed webhook payload"),
			wantCode:    http.StatusBadRequest,
			wantErrCode: "Validation",
		},
		{
			name:        "unknown tenant",
			err:         apperrors.New(apperrors.ErrCodeUnknownTenant, "unknown tenant"),
			wantCode:    http.StatusNotFound,
			wantErrCode: "UnknownTenant",
		},
		{
			name:        "bad signature",
			err:         apperrors.New(apperrors.ErrCodeInvalidSignature, "signature mismatch"),
			wantCode:    http.StatusUnauthorized,
			wantErrCode: "InvalidSignature",
		},
		{
			name:        "replay",
			err:         apperrors.New(apperrors.ErrCodeReplayDetected, "too old"),
			wantCode:    http.StatusUnauthorized,
			wantErrCode: "ReplayDetected",
		},
		{
			name:           "tenant backpressure",
			err:            apperrors.Wrap(service.ErrTenantBackpressure, apperrors.ErrCodeQueueUnavailable, "backlog"),
			wantCode:       http.StatusTooManyRequests,
			wantRetryAfter: "30",
			wantErrCode:    "QueueUnavailable",
		},
		{
			name:           "queue down",
			err:            apperrors.Wrap(errors.New("dial tcp"), apperrors.ErrCodeQueueUnavailable, "queue unavailable"),
			wantCode:       http.StatusServiceUnavailable,
			wantRetryAfter: "30",
			wantErrCode:    "QueueUnavailable",
		},
		{
			name:        "unexpected error hides cause",
			err:         errors.New("pq: password authentication failed"),
			wantCode:    http.StatusInternalServerError,
			wantErrCode: "Internal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &WebhookHandlers{
				Config: testWebhookConfig(),
				Svc: ingestFunc(func(context.Context, []byte, string) (model.IngestResult, error) {
					return model.IngestResult{}, tt.err
				}),
			}
			rec := httptest.NewRecorder()
			h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/tickets", strings.NewReader(`{}`)))

			require.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantRetryAfter, rec.Header().Get("Retry-After"))
			assert.Contains(t, rec.Body.String(), `"error":"`+tt.wantErrCode+`"`)
			assert.NotContains(t, rec.Body.String(), "password")
		})
	}
}

func TestWebhookHandlers_Receive_BodyTooLarge(t *testing.T) {
	h := &WebhookHandlers{
		Config: testWebhookConfig(),
		Svc: ingestFunc(func(context.Context, []byte, string) (model.IngestResult, error) {
			t.Fatal("ingest must not be called")
			return model.IngestResult{}, nil
		}),
	}
	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/tickets", strings.NewReader(strings.Repeat("x", 65))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
