package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/target/ticket-enhancer/internal/migrate"
)

// TestingTB is an interface that covers both *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Skipf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// TestDBConfig locates the integration test database. Defaults match the local
// docker-compose test profile; CI sets TEST_DB_PORT=5432.
type TestDBConfig struct {
	Host     string `env:"TEST_DB_HOST" envDefault:"localhost"`
	Port     string `env:"TEST_DB_PORT" envDefault:"55432"`
	User     string `env:"TEST_DB_USER" envDefault:"enhancer"`
	Password string `env:"TEST_DB_PASSWORD" envDefault:"enhancer"`
	DBName   string `env:"TEST_DB_NAME" envDefault:"enhancer"`
	SSLMode  string `env:"DB_SSL_MODE" envDefault:"disable"`
	// Ephemeral gives each test its own schema instead of truncating the shared one.
	Ephemeral bool `env:"TEST_DB_EPHEMERAL"`
	// Require turns a missing database into a failure instead of a skip.
	Require bool `env:"TEST_REQUIRE_DB"`
}

// DefaultTestDBConfig reads TestDBConfig from the environment.
func DefaultTestDBConfig() TestDBConfig {
	var cfg TestDBConfig
	// A malformed flag leaves its zero value.
	_ = env.Parse(&cfg)
	if envBool("TEST_REQUIRE_INFRA") {
		cfg.Require = true
	}
	return cfg
}

// DSN returns the connection string, optionally pinned to schema.
func (c TestDBConfig) DSN(schema string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := url.Values{"sslmode": {c.SSLMode}}
	if schema != "" {
		q.Set("search_path", schema+",public")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SkipIfNoTestDB skips the test if the test database is not reachable.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	cfg := DefaultTestDBConfig()
	err := ping(cfg.DSN(""), 2*time.Second)
	if err == nil {
		return
	}
	if cfg.Require {
		t.Fatal("Test database not available:", err)
	}
	t.Skip("Test database not available:", err)
}

func ping(dsn string, timeout time.Duration) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return db.PingContext(ctx)
}

// WithAutoDB runs fn against a migrated database. With TEST_DB_EPHEMERAL set it
// uses a throwaway schema; otherwise the shared database is emptied before and after.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	SkipIfNoTestDB(t)
	if DefaultTestDBConfig().Ephemeral {
		fn(SetupEphemeralSchemaDB(t))
		return
	}
	db := SetupTestDB(t)
	defer TeardownTestDB(t, db)
	fn(db)
}

// SetupTestDB opens the shared test database, applies migrations, and empties it.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	db := openMigrated(t, DefaultTestDBConfig().DSN(""))
	CleanupTestDB(t, db)
	return db
}

func openMigrated(t TestingTB, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal("Failed to open database:", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatal("Failed to connect to test database. Make sure PostgreSQL is running (docker-compose up -d):", err)
	}
	if err := migrate.Run(ctx, db); err != nil {
		_ = db.Close()
		t.Fatal("Failed to run migrations:", err)
	}
	return db
}

// cleanupTables lists tables in reverse dependency order.
var cleanupTables = []string{
	"enhancement_results",
	"enhancement_jobs",
	"queue_tenant_cursors",
	"tenants",
}

// CleanupTestDB removes all rows the pipeline writes.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, table := range cleanupTables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("Failed to clean up table %s: %v", table, err)
		}
	}
}

// TeardownTestDB empties and closes the shared test database.
func TeardownTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	if db == nil {
		return
	}
	CleanupTestDB(t, db)
	if err := db.Close(); err != nil {
		t.Fatal("Failed to close database:", err)
	}
}

// SetupEphemeralSchemaDB creates a unique schema, migrates it, and drops it when the
// test ends.
func SetupEphemeralSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	cfg := DefaultTestDBConfig()

	admin, err := sql.Open("pgx", cfg.DSN(""))
	if err != nil {
		t.Fatal("Failed to open admin DB:", err)
	}
	schema := schemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		_ = admin.Close()
		t.Fatalf("Failed to create schema %s: %v", schema, err)
	}

	dropSchema := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		_ = admin.Close()
	}
	db := openMigrated(t, cfg.DSN(schema))
	db.SetMaxOpenConns(10)
	t.Logf("Using ephemeral schema: %s", schema)
	onCleanup(t, func() {
		_ = db.Close()
		dropSchema()
	})
	return db
}

// schemaName returns a lowercase schema name unique to this run.
func schemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

// onCleanup registers fn with t when t supports it, and otherwise leaves it to the caller.
func onCleanup(t TestingTB, fn func()) {
	if c, ok := any(t).(interface{ Cleanup(func()) }); ok {
		c.Cleanup(fn)
	}
}

// JobStateInfo is one enhancement_jobs row as seen by a test.
type JobStateInfo struct {
	ID         string
	TenantID   string
	TicketID   string
	Status     string
	RetryCount int
	MaxRetries int
	LastError  *string
}

// InspectJobStates returns every enhancement job in creation order.
func InspectJobStates(t TestingTB, db *sql.DB) []JobStateInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT id, tenant_id, ticket_id, status, retry_count, max_retries, last_error
		FROM enhancement_jobs
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		t.Fatalf("Failed to query job states: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []JobStateInfo
	for rows.Next() {
		var j JobStateInfo
		if err := rows.Scan(&j.ID, &j.TenantID, &j.TicketID, &j.Status, &j.RetryCount, &j.MaxRetries, &j.LastError); err != nil {
			t.Fatalf("Failed to scan job state: %v", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("Error iterating over job states: %v", err)
	}
	return jobs
}

// CountJobStates tallies jobs per tenant and status, keyed "tenant/status".
func CountJobStates(jobs []JobStateInfo) map[string]int {
	out := make(map[string]int)
	for _, j := range jobs {
		out[j.TenantID+"/"+j.Status]++
	}
	return out
}

// LogJobStates logs every job, for failure diagnostics.
func LogJobStates(t TestingTB, db *sql.DB, message string) {
	t.Helper()
	t.Logf("=== %s ===", message)
	for i, j := range InspectJobStates(t, db) {
		t.Logf("job %d: tenant=%s ticket=%s status=%s retries=%d/%d",
			i+1, j.TenantID, j.TicketID, j.Status, j.RetryCount, j.MaxRetries)
	}
}

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t TestingTB, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}
