package tenant

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/ticket-enhancer/internal/domain/model"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

func testDefaults() Defaults {
	return Defaults{
		JobDeadline:        30 * time.Second,
		JobDeadlineCeiling: 120 * time.Second,
		MaxConcurrentJobs:  4,
		Model:              "default-model",
		MaxPromptBytes:     24000,
		SourceTimeout:      8 * time.Second,
		SourceRetries:      1,
		EnabledSources:     []string{model.SourceTicketHistory, model.SourceKnowledgeBase, model.SourceNetworkLookup},
	}
}

func TestNewContext_RequiresID(t *testing.T) {
	_, err := NewContext(model.Tenant{}, Credentials{}, testDefaults())
	require.Error(t, err)
	assert.True(t, apperrors.IsIsolationViolation(err))
}

func TestContext_Authorize(t *testing.T) {
	tc, err := NewContext(model.Tenant{ID: "acme"}, Credentials{}, testDefaults())
	require.NoError(t, err)

	assert.NoError(t, tc.Authorize("acme"))

	err = tc.Authorize("globex")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTenantIsolationViolation, apperrors.GetCode(err))

	var zero Context
	assert.True(t, apperrors.IsIsolationViolation(zero.Authorize("acme")))
	assert.True(t, apperrors.IsIsolationViolation(Require(zero)))
	assert.NoError(t, Require(tc))
}

func TestContext_ResolvesTunables(t *testing.T) {
	zero := 0
	row := model.Tenant{
		ID: "acme",
		Settings: model.TenantSettings{
			JobDeadline:       model.Duration(10 * time.Minute),
			MaxConcurrentJobs: 2,
			Model:             "tenant-model",
			Sources: map[string]model.SourceConfig{
				model.SourceKnowledgeBase: {URL: "https://kb/{query}", Timeout: model.Duration(2 * time.Second), Retries: &zero},
				model.SourceNetworkLookup: {Disabled: true},
			},
		},
	}
	tc, err := NewContext(row, Credentials{SourceAPIKeys: map[string]string{model.SourceKnowledgeBase: "kb-key"}}, testDefaults())
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, tc.JobDeadline(), "deadline is clamped to the ceiling")
	assert.Equal(t, 2, tc.MaxConcurrentJobs())
	assert.Equal(t, "tenant-model", tc.Model())
	assert.Equal(t, 24000, tc.MaxPromptBytes())

	specs := tc.Sources()
	require.Len(t, specs, 2)
	assert.Equal(t, model.SourceTicketHistory, specs[0].Name)
	assert.Empty(t, specs[0].URL)
	assert.Equal(t, 8*time.Second, specs[0].Timeout)
	assert.Equal(t, 1, specs[0].Retries)

	assert.Equal(t, model.SourceKnowledgeBase, specs[1].Name)
	assert.Equal(t, 2*time.Second, specs[1].Timeout)
	assert.Equal(t, 0, specs[1].Retries)
	assert.Equal(t, "kb-key", specs[1].APIKey)
}

func TestContext_MaxPromptBytesFloor(t *testing.T) {
	tests := []struct {
		name     string
		override int
		want     int
	}{
		{name: "unset uses default", override: 0, want: 24000},
		{name: "tiny override is raised to floor", override: 90, want: MinPromptBytes},
		{name: "override at floor", override: MinPromptBytes, want: MinPromptBytes},
		{name: "larger override kept", override: 4096, want: 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := model.Tenant{ID: "acme", Settings: model.TenantSettings{MaxPromptBytes: tt.override}}
			tc, err := NewContext(row, Credentials{}, testDefaults())
			require.NoError(t, err)
			assert.Equal(t, tt.want, tc.MaxPromptBytes())
		})
	}
}

func TestContext_IsolatedFromSourceRow(t *testing.T) {
	row := model.Tenant{
		ID:       "acme",
		Settings: model.TenantSettings{Sources: map[string]model.SourceConfig{model.SourceKnowledgeBase: {URL: "a"}}},
	}
	keys := map[string]string{model.SourceKnowledgeBase: "k"}
	tc, err := NewContext(row, Credentials{SourceAPIKeys: keys}, testDefaults())
	require.NoError(t, err)

	row.Settings.Sources[model.SourceKnowledgeBase] = model.SourceConfig{URL: "mutated"}
	keys[model.SourceKnowledgeBase] = "mutated"

	specs := tc.Sources()
	assert.Equal(t, "a", specs[1].URL)
	assert.Equal(t, "k", specs[1].APIKey)
}

func TestContext_StringHidesSecrets(t *testing.T) {
	tc, err := NewContext(model.Tenant{ID: "acme"}, Credentials{WebhookSecret: "s3cret"}, testDefaults())
	require.NoError(t, err)
	assert.Equal(t, "tenant(acme)", fmt.Sprint(tc))
	assert.Equal(t, "acme", tc.LogValue().String())
}
