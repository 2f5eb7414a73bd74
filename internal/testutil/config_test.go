package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTestDBConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want TestDBConfig
	}{
		{
			name: "local compose profile",
			want: TestDBConfig{
				Host: "localhost", Port: "55432", User: "enhancer", Password: "enhancer",
				DBName: "enhancer", SSLMode: "disable",
			},
		},
		{
			name: "ci database",
			env: map[string]string{
				"TEST_DB_HOST": "postgres", "TEST_DB_PORT": "5432", "TEST_REQUIRE_INFRA": "yes",
			},
			want: TestDBConfig{
				Host: "postgres", Port: "5432", User: "enhancer", Password: "enhancer",
				DBName: "enhancer", SSLMode: "disable", Require: true,
			},
		},
		{
			name: "ephemeral schemas",
			env:  map[string]string{"TEST_DB_EPHEMERAL": "true", "TEST_DB_NAME": "pipeline"},
			want: TestDBConfig{
				Host: "localhost", Port: "55432", User: "enhancer", Password: "enhancer",
				DBName: "pipeline", SSLMode: "disable", Ephemeral: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{
				"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME",
				"DB_SSL_MODE", "TEST_DB_EPHEMERAL", "TEST_REQUIRE_DB", "TEST_REQUIRE_INFRA",
			} {
				t.Setenv(key, "")
				if v, ok := tt.env[key]; ok {
					t.Setenv(key, v)
				} else {
					require.NoError(t, os.Unsetenv(key))
				}
			}
			assert.Equal(t, tt.want, DefaultTestDBConfig())
		})
	}
}

func TestTestDBConfig_DSN(t *testing.T) {
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss", DBName: "enhancer", SSLMode: "disable"}

	assert.Equal(t, "postgres://u:p%40ss@db:5432/enhancer?sslmode=disable", cfg.DSN(""))
	assert.Equal(t, "postgres://u:p%40ss@db:5432/enhancer?search_path=t_abc%2Cpublic&sslmode=disable", cfg.DSN("t_abc"))
}

func TestCountJobStates(t *testing.T) {
	got := CountJobStates([]JobStateInfo{
		{TenantID: "acme", Status: "running"},
		{TenantID: "acme", Status: "running"},
		{TenantID: "acme", Status: "pending"},
		{TenantID: "globex", Status: "running"},
	})
	assert.Equal(t, map[string]int{"acme/running": 2, "acme/pending": 1, "globex/running": 1}, got)
}
