package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	require.NoError(t, err)

	event := client.buildEvent(notify.Alert{
		Kind:       notify.KindIsolationViolation,
		TenantID:   "acme",
		JobID:      "job-1",
		Error:      "tenant acme accessed data of tenant globex",
		ErrorClass: "tenant_isolation_violation",
	})

	assert.Equal(t, "tenant_isolation_violation:acme:job-1", event["dedup_key"])
	payload, ok := event["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, notify.SeverityCritical, payload["severity"])
	assert.Equal(t, defaultName, payload["source"])
	assert.Equal(t, "tenant_isolation_violation for tenant acme", payload["summary"])

	custom, ok := payload["custom_details"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"tenant_id", "job_id", "error", "error_class"} {
		assert.Contains(t, custom, key)
	}
}

func TestSendAlertRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "key", body["routing_key"])
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "key", Endpoint: srv.URL, RetryLimit: 2})
	require.NoError(t, err)

	require.NoError(t, client.SendAlert(context.Background(), notify.Alert{Kind: notify.KindDeadSetGrowth}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendAlertDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid routing key", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "key", Endpoint: srv.URL, RetryLimit: 3})
	require.NoError(t, err)

	err = client.SendAlert(context.Background(), notify.Alert{Kind: notify.KindDeadSetGrowth})
	require.ErrorContains(t, err, "invalid routing key")
	assert.Equal(t, int32(1), calls.Load())
}
