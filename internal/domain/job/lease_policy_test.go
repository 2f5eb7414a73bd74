package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		policy, err := NewLeasePolicy(30 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, policy.Default())
	})

	t.Run("invalid default lease", func(t *testing.T) {
		policy, err := NewLeasePolicy(0)
		require.ErrorIs(t, err, ErrInvalidDefaultLease)
		assert.Nil(t, policy)
	})
}

func TestLeasePolicy_Resolve(t *testing.T) {
	policy, err := NewLeasePolicy(60 * time.Second)
	require.NoError(t, err)

	tests := []struct {
		name        string
		request     time.Duration
		wantSeconds int
		wantSource  LeaseSource
	}{
		{"zero uses default", 0, 60, LeaseSourceDefault},
		{"explicit whole seconds", 45 * time.Second, 45, LeaseSourceExplicit},
		{"sub-second truncation is not clamping", 45*time.Second + 300*time.Millisecond, 45, LeaseSourceExplicit},
		{"below minimum", 200 * time.Millisecond, 1, LeaseSourceClamped},
		{"negative", -time.Second, 1, LeaseSourceClamped},
		{"above maximum", 3 * time.Hour, 3600, LeaseSourceClamped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Resolve(tt.request)
			assert.Equal(t, tt.wantSeconds, d.Seconds)
			assert.Equal(t, tt.wantSource, d.Source)
			assert.Equal(t, time.Duration(tt.wantSeconds)*time.Second, d.Duration())
		})
	}
}

func TestRedeliveryDelay(t *testing.T) {
	base, capDelay := 5*time.Second, time.Minute
	assert.Equal(t, 5*time.Second, RedeliveryDelay(0, base, capDelay))
	assert.Equal(t, 10*time.Second, RedeliveryDelay(1, base, capDelay))
	assert.Equal(t, 40*time.Second, RedeliveryDelay(3, base, capDelay))
	assert.Equal(t, time.Minute, RedeliveryDelay(4, base, capDelay))
	assert.Equal(t, time.Minute, RedeliveryDelay(40, base, capDelay))
	assert.Zero(t, RedeliveryDelay(2, 0, capDelay))
}
