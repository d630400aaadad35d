package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/hpungsan/evtrack/internal/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Backoff bounds for RetryBusy.
const (
	minBusyBackoff = 5 * time.Millisecond
	maxBusyBackoff = 200 * time.Millisecond
)

// sqliteCode returns the extended SQLite result code carried by err, or 0.
func sqliteCode(err error) int {
	var se *sqlite.Error
	if stderrors.As(err, &se) {
		return se.Code()
	}
	return 0
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED (any extended form).
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	switch sqliteCode(err) & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	switch sqliteCode(err) {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	// Wrapped driver errors lose their type; fall back to the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Classify translates a storage error into the evtrack taxonomy. EvErrors
// pass through unchanged; busy maps to BUSY, unique violations to CONFLICT
// and everything else to IO.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var evErr *errors.EvError
	if stderrors.As(err, &evErr) {
		return err
	}
	switch {
	case IsBusy(err):
		return errors.NewBusy(err)
	case IsUniqueViolation(err):
		return errors.NewConflict(err.Error())
	default:
		return errors.NewIO(err)
	}
}

// RetryBusy calls fn until it returns something other than a busy error or
// timeout elapses, backing off between attempts. A busy error that outlasts
// the timeout is returned as BUSY.
func RetryBusy(ctx context.Context, timeout time.Duration, fn func() error) error {
	deadline := time.Now().Add(timeout)
	backoff := minBusyBackoff
	for {
		err := fn()
		if !IsBusy(err) {
			return err
		}
		if time.Now().Add(backoff).After(deadline) {
			return errors.NewBusy(err)
		}
		select {
		case <-ctx.Done():
			return errors.NewBusy(err)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBusyBackoff)
	}
}

// WithTx runs fn inside a write transaction, committing on success. The
// transaction is detached from ctx cancellation: once a write starts it runs
// to commit or rollback. Busy conditions retry the whole transaction.
func WithTx(ctx context.Context, db *sql.DB, timeout time.Duration, fn func(tx *sql.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	return RetryBusy(ctx, timeout, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
