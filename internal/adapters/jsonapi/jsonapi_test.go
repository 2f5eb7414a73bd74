package jsonapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/internal/retry"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "path placeholder is path escaped",
			template: "/tickets/{ticket_id}",
			vars:     map[string]string{"ticket_id": "A/1 2"},
			want:     "/tickets/A%2F1%202",
		},
		{
			name:     "query placeholder is query escaped",
			template: "/search?q={query}&by={requester}",
			vars:     map[string]string{"query": "vpn down & slow", "requester": "a+b@example.com"},
			want:     "/search?q=vpn+down+%26+slow&by=a%2Bb%40example.com",
		},
		{
			name:     "unknown placeholders are kept",
			template: "/x/{other}",
			vars:     map[string]string{"ticket_id": "1"},
			want:     "/x/{other}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.template, tt.vars))
		})
	}
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://h.example/api/tickets/1", JoinURL("https://h.example/api/", "/tickets/1"))
	assert.Equal(t, "https://h.example/tickets/1", JoinURL("https://h.example", "tickets/1"))
}

func TestSearchHelpers(t *testing.T) {
	doc, err := Decode([]byte(`{
		"subject": "VPN down",
		"priority": 2,
		"requester": {"email": "pat@example.com"},
		"enhancements": [{"key": "k1"}, {"key": "k2"}, {"other": true}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "VPN down", String("subject", doc))
	assert.Equal(t, "2", String("priority", doc))
	assert.Equal(t, "pat@example.com", String("requester.email", doc))
	assert.Empty(t, String("missing.field", doc))
	assert.Equal(t, []string{"k1", "k2"}, Strings("enhancements[].key", doc))
	assert.Equal(t, []string{"VPN down"}, Strings("subject", doc))

	whole, err := Search("", doc)
	require.NoError(t, err)
	assert.Equal(t, doc, whole)

	_, err = Search("[[[", doc)
	require.Error(t, err)
	require.Error(t, Validate("[[["))
	require.NoError(t, Validate(""))
}

func TestDecode(t *testing.T) {
	doc, err := Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, doc)

	_, err = Decode([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
			assert.Equal(t, "abc", r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"field text is too long"}`))
		}
	}))
	defer srv.Close()

	body, err := Do(context.Background(), srv.Client(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL + "/ok",
		Bearer:  "key",
		Body:    map[string]string{"a": "b"},
		Headers: map[string]string{"Idempotency-Key": "abc"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	_, err = Do(context.Background(), srv.Client(), Request{URL: srv.URL + "/bad"})
	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Equal(t, `{"error":"field text is too long"}`, se.Body)
}
