// Package sqlstore persists the surfaced ledger and ack outbox with sqlx,
// on either PostgreSQL (lib/pq) or an embedded SQLite file (modernc.org/sqlite).
package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type migration struct {
	version  int
	sqlite   string
	postgres string
}

var migrations = []migration{
	{
		version: 1,
		sqlite: `
			CREATE TABLE IF NOT EXISTS surfaced_notifications (
				notification_id INTEGER PRIMARY KEY,
				surfaced_at     TIMESTAMP NOT NULL
			);
			CREATE TABLE IF NOT EXISTS pending_acks (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				kind            TEXT NOT NULL,
				notification_id INTEGER NOT NULL DEFAULT 0,
				attempts        INTEGER NOT NULL DEFAULT 0,
				last_error      TEXT,
				created_at      TIMESTAMP NOT NULL,
				next_attempt_at TIMESTAMP NOT NULL,
				updated_at      TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_pending_acks_due ON pending_acks (next_attempt_at);`,
		postgres: `
			CREATE TABLE IF NOT EXISTS surfaced_notifications (
				notification_id BIGINT PRIMARY KEY,
				surfaced_at     TIMESTAMPTZ NOT NULL
			);
			CREATE TABLE IF NOT EXISTS pending_acks (
				id              BIGSERIAL PRIMARY KEY,
				kind            TEXT NOT NULL,
				notification_id BIGINT NOT NULL DEFAULT 0,
				attempts        INTEGER NOT NULL DEFAULT 0,
				last_error      TEXT,
				created_at      TIMESTAMPTZ NOT NULL,
				next_attempt_at TIMESTAMPTZ NOT NULL,
				updated_at      TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_pending_acks_due ON pending_acks (next_attempt_at);`,
	},
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// a single connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		stmt := m.sqlite
		if db.DriverName() == DriverPostgres {
			stmt = m.postgres
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := db.ExecContext(ctx,
			db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
	}
	return nil
}
