package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/evtrack/internal/config"
	_ "modernc.org/sqlite"
)

// DefaultBusyTimeout applies when no timeout is configured.
const DefaultBusyTimeout = 5 * time.Second

// Options controls how a SQLite database is opened.
type Options struct {
	// BusyTimeout is passed to SQLite's busy handler and bounds RetryBusy.
	BusyTimeout time.Duration

	// MaxOpenConns and MaxIdleConns tune the sql.DB pool. 0 keeps the default.
	MaxOpenConns int
	MaxIdleConns int
}

// OptionsFromConfig derives open options from application config.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{BusyTimeout: DefaultBusyTimeout}
	}
	opts := Options{
		BusyTimeout:  cfg.BusyTimeout(),
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	return opts
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DSN builds a modernc.org/sqlite connection string for dsn, a bare path or a
// "file:" URI. It adds the parameters evtrack relies on (busy timeout, WAL,
// foreign keys, IMMEDIATE write transactions) unless dsn already sets them.
// Pragmas in the connection string apply to every pooled connection.
func DSN(dsn string, opts Options) string {
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}

	base, query, _ := strings.Cut(dsn, "?")
	values, _ := url.ParseQuery(query)
	set := make(map[string]bool)
	for _, p := range values["_pragma"] {
		name := p
		if i := strings.IndexAny(p, "(="); i >= 0 {
			name = p[:i]
		}
		set[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var params []string
	if query != "" {
		params = append(params, query)
	}
	if !set["busy_timeout"] {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", timeout.Milliseconds()))
	}
	if !set["journal_mode"] {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	if !set["foreign_keys"] {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if !values.Has("_txlock") {
		params = append(params, "_txlock=immediate")
	}
	return base + "?" + strings.Join(params, "&")
}

// Open opens (creating if needed) the SQLite file at path, verifies WAL mode
// and foreign keys and applies pool settings. A "file:" URI keeps its own
// parameters; missing ones are added.
func Open(path string, opts Options) (*sql.DB, error) {
	isURI := strings.HasPrefix(path, "file:")
	if !isURI {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", DSN(path, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active (this also creates the file)
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := verifyForeignKeys(db); err != nil {
		db.Close()
		return nil, err
	}

	ConfigurePool(db, opts)

	if !isURI {
		// Set file permissions after file exists (best-effort)
		_ = os.Chmod(path, 0600)
	}

	return db, nil
}

// ConfigurePool applies connection pool settings.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, opts Options) {
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// verifyForeignKeys checks that foreign key enforcement is on. Tag rows rely
// on ON DELETE CASCADE.
func verifyForeignKeys(db *sql.DB) error {
	var on int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&on); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if on != 1 {
		return fmt.Errorf("foreign keys must be enabled, got foreign_keys=%d", on)
	}
	return nil
}

// GetUserVersion returns the schema version (user_version pragma).
func GetUserVersion(ctx context.Context, q Querier) (int, error) {
	var version int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(ctx context.Context, q Querier, version int) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// ColumnExists reports whether table has a column named column.
func ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	return n > 0, nil
}
