package store

import "fmt"

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS license_keys (
		license_key TEXT PRIMARY KEY,
		prefix TEXT NOT NULL,
		validity_days INTEGER NOT NULL,
		price_cents INTEGER NOT NULL DEFAULT 0,
		activation_date TEXT,
		expires TEXT,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_license_keys_prefix ON license_keys(prefix)`,
	`CREATE INDEX IF NOT EXISTS idx_license_keys_created_by ON license_keys(created_by)`,

	`CREATE TABLE IF NOT EXISTS moderators (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'moderator',
		debt_cents INTEGER NOT NULL DEFAULT 0 CHECK (debt_cents >= 0),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS prices (
		validity_days INTEGER PRIMARY KEY,
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0)
	)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS license_keys (
		license_key TEXT PRIMARY KEY,
		prefix TEXT NOT NULL,
		validity_days INTEGER NOT NULL,
		price_cents BIGINT NOT NULL DEFAULT 0,
		activation_date TEXT,
		expires TEXT,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_license_keys_prefix ON license_keys(prefix)`,
	`CREATE INDEX IF NOT EXISTS idx_license_keys_created_by ON license_keys(created_by)`,

	`CREATE TABLE IF NOT EXISTS moderators (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'moderator',
		debt_cents BIGINT NOT NULL DEFAULT 0 CHECK (debt_cents >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS prices (
		validity_days INTEGER PRIMARY KEY,
		price_cents BIGINT NOT NULL CHECK (price_cents >= 0)
	)`,
}

func (s *Store) migrate() error {
	migrations := sqliteMigrations
	if s.driver == DriverPostgres {
		migrations = postgresMigrations
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
