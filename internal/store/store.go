package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultDatabaseName is the SQLite file created inside the data directory
// when no explicit name is configured.
const DefaultDatabaseName = "keyforge.db"

// Store persists license keys, moderator accounts and the price table. It is
// safe for concurrent use; every mutation that must be atomic runs as a single
// statement or inside one transaction.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Options selects the backing database.
type Options struct {
	Driver  string // "sqlite" (default) or "postgres"
	DSN     string // postgres connection URL; ignored for sqlite
	DataDir string // sqlite data directory; empty means in-memory
	Name    string // sqlite file name inside DataDir
}

// NewStore opens a SQLite-backed store in dataDir. Pass empty string for
// in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(Options{Driver: DriverSQLite, DataDir: dataDir})
}

// NewMemory opens an empty in-memory store, used by tests and one-shot CLI
// commands.
func NewMemory() (*Store, error) {
	return NewStore("")
}

// Open connects to the database described by opts and applies migrations.
func Open(opts Options) (*Store, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return openSQLite(opts)
	case DriverPostgres, "pgx":
		return openPostgres(opts)
	default:
		return nil, fmt.Errorf("unsupported database driver %q (want sqlite or postgres)", opts.Driver)
	}
}

func openSQLite(opts Options) (*Store, error) {
	var dsn string
	if opts.DataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		name := opts.Name
		if name == "" {
			name = DefaultDatabaseName
		}
		dsn = filepath.Join(opts.DataDir, name) + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &Store{db: db, driver: DriverSQLite}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func openPostgres(opts Options) (*Store, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres driver requires a dsn")
	}

	db, err := sqlx.Connect("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db, driver: DriverPostgres}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Driver returns the name of the backing driver.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// inTx runs fn inside a transaction, committing on success and rolling back
// on any error. All statements inside fn must go through tx: with SQLite the
// pool holds a single connection.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
