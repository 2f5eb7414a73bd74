package migrate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesAreOrdered(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1], files[i])
	}
	for _, f := range files {
		assert.True(t, strings.HasSuffix(f, ".sql"), f)
	}
}

func TestMigrationsDeclareQueueTables(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)

	var all strings.Builder
	for _, f := range files {
		b, readErr := migrationsFS.ReadFile("migrations/" + f)
		require.NoError(t, readErr)
		all.Write(b)
	}
	schema := all.String()

	for _, table := range []string{"tenants", "enhancement_jobs", "queue_tenant_cursors", "enhancement_results"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, schema, "UNIQUE (tenant_id, dedup_key)")
}
