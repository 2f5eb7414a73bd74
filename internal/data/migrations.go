package data

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/target/ticket-enhancer/internal/migrate"
)

// RunMigrations applies the embedded schema migrations and returns the versions applied.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) ([]string, error) {
	return migrate.RunWithOptions(ctx, db, migrate.Options{Logger: logger})
}
