package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hpungsan/evtrack/internal/errors"
)

// VersionStore reads and writes the version record of one logical database.
// Both methods run inside the caller's transaction.
type VersionStore interface {
	// Version returns the recorded version; ok is false for an unversioned
	// database.
	Version(ctx context.Context, tx *sql.Tx) (version int, ok bool, err error)
	SetVersion(ctx context.Context, tx *sql.Tx, version int) error
}

// UserVersion keeps the version in PRAGMA user_version. 0 is unversioned.
type UserVersion struct{}

func (UserVersion) Version(ctx context.Context, tx *sql.Tx) (int, bool, error) {
	v, err := GetUserVersion(ctx, tx)
	if err != nil {
		return 0, false, err
	}
	return v, v > 0, nil
}

func (UserVersion) SetVersion(ctx context.Context, tx *sql.Tx, version int) error {
	return SetUserVersion(ctx, tx, version)
}

// VersionTable is the table holding one version row per logical database
// in a shared database.
const VersionTable = "db_versions"

// TableVersion keeps the version of the logical database Key as a row of
// db_versions. The table is created on first use.
type TableVersion struct {
	Key string
}

func (t TableVersion) Version(ctx context.Context, tx *sql.Tx) (int, bool, error) {
	if err := ensureVersionTable(ctx, tx); err != nil {
		return 0, false, err
	}
	var v int
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM `+VersionTable+` WHERE logical_db = ?`, t.Key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read version of %s: %w", t.Key, err)
	}
	return v, true, nil
}

func (t TableVersion) SetVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if err := ensureVersionTable(ctx, tx); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO `+VersionTable+` (logical_db, version, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(logical_db) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
	`, t.Key, version, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record version of %s: %w", t.Key, err)
	}
	return nil
}

func ensureVersionTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+VersionTable+` (
		  logical_db TEXT PRIMARY KEY,
		  version    INTEGER NOT NULL,
		  updated_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", VersionTable, err)
	}
	return nil
}

// Step upgrades a logical database from version From to From+1.
type Step struct {
	From  int
	Apply func(ctx context.Context, tx *sql.Tx) error

	// AfterCommit runs once the step's transaction has committed. Its
	// failure is logged and does not undo the step.
	AfterCommit func(ctx context.Context) error
}

// Migrator brings one logical database to Latest.
//
// An unversioned database is created at its baseline in a single
// transaction. A database at version n < Latest runs Steps n, n+1, ... each
// in its own transaction whose final act records the new version, so a
// failed step leaves the previous version intact. A database newer than
// Latest belongs to a newer binary and is refused.
type Migrator struct {
	Name     string
	Latest   int
	Versions VersionStore

	// Baseline chooses the version an unversioned database is created at.
	// nil means Latest.
	Baseline func(ctx context.Context, tx *sql.Tx) (int, error)

	// Create lays out an unversioned database at version.
	Create func(ctx context.Context, tx *sql.Tx, version int) error

	Steps []Step

	BusyTimeout time.Duration
	Logger      *slog.Logger
}

// Result describes what Run did.
type Result struct {
	From    int  `json:"from"`
	To      int  `json:"to"`
	Created bool `json:"created"`
}

// Run migrates the logical database in db. Every failure is a MIGRATION
// error carrying the version the database was left at.
func (m *Migrator) Run(ctx context.Context, db *sql.DB) (Result, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := m.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}

	var res Result
	err := WithTx(ctx, db, timeout, func(tx *sql.Tx) error {
		v, ok, err := m.Versions.Version(ctx, tx)
		if err != nil {
			return err
		}
		if ok {
			res = Result{From: v, To: v}
			return nil
		}
		base := m.Latest
		if m.Baseline != nil {
			if base, err = m.Baseline(ctx, tx); err != nil {
				return err
			}
		}
		if err := m.Create(ctx, tx, base); err != nil {
			return err
		}
		if err := m.Versions.SetVersion(ctx, tx, base); err != nil {
			return err
		}
		res = Result{From: 0, To: base, Created: true}
		return nil
	})
	if err != nil {
		return res, m.fail(0, err)
	}
	if res.Created {
		logger.Info("database created", "db", m.Name, "version", res.To)
	}

	if res.To > m.Latest {
		return res, errors.NewMigration(m.Name, res.To,
			fmt.Errorf("version %d is newer than supported version %d", res.To, m.Latest))
	}

	for res.To < m.Latest {
		from := res.To
		step, ok := m.step(from)
		if !ok {
			return res, errors.NewMigration(m.Name, from, fmt.Errorf("no migration step from version %d", from))
		}

		err := WithTx(ctx, db, timeout, func(tx *sql.Tx) error {
			// Another process may have advanced the version meanwhile.
			cur, _, err := m.Versions.Version(ctx, tx)
			if err != nil {
				return err
			}
			if cur != from {
				res.To = cur
				return nil
			}
			if err := step.Apply(ctx, tx); err != nil {
				return err
			}
			if err := m.Versions.SetVersion(ctx, tx, from+1); err != nil {
				return err
			}
			res.To = from + 1
			return nil
		})
		if err != nil {
			logger.Error("migration step failed", "db", m.Name, "from", from, "error", err)
			return res, m.fail(from, err)
		}
		if res.To != from+1 {
			continue
		}
		logger.Info("migration step applied", "db", m.Name, "from", from, "to", res.To)

		if step.AfterCommit != nil {
			if err := step.AfterCommit(ctx); err != nil {
				logger.Warn("post-migration action failed", "db", m.Name, "version", res.To, "error", err)
			}
		}
	}

	return res, nil
}

// fail wraps err as a MIGRATION error. Contention is not a schema problem and
// stays BUSY so the caller can try again.
func (m *Migrator) fail(from int, err error) error {
	if errors.Is(err, errors.ErrBusy) {
		return err
	}
	return errors.NewMigration(m.Name, from, err)
}

func (m *Migrator) step(from int) (Step, bool) {
	for _, s := range m.Steps {
		if s.From == from {
			return s, true
		}
	}
	return Step{}, false
}
