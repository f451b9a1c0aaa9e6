// Package database applies the stable store schema migrations.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/gatewatch/gatewatch/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// RunMigrations brings the schema up to date. It opens its own
// short-lived database/sql connection; the store's pgx pool never sees
// a half-migrated schema.
func RunMigrations(dsn string, logger *slog.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("unable to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("unable to set migration dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("unable to read schema version: %w", err)
	}
	logger.Info("stable store schema up to date", slog.Int64("version", version))
	return nil
}
