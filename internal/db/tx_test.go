package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpungsan/evtrack/internal/errors"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{BusyTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestClassify_Unique(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE t (k TEXT UNIQUE)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t (k) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := db.Exec(`INSERT INTO t (k) VALUES ('a')`)
	if !IsUniqueViolation(err) {
		t.Fatalf("IsUniqueViolation(%v) = false", err)
	}
	if got := Classify(err); !errors.Is(got, errors.ErrConflict) {
		t.Errorf("Classify(unique) = %v, want CONFLICT", got)
	}
}

func TestClassify_PassThroughAndIO(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) != nil")
	}

	nf := errors.NewNotFound("folder", 9)
	if got := Classify(fmt.Errorf("wrapped: %w", nf)); !errors.Is(got, errors.ErrNotFound) {
		t.Errorf("Classify(wrapped NOT_FOUND) = %v", got)
	}

	if got := Classify(stderrors.New("disk on fire")); !errors.Is(got, errors.ErrIO) {
		t.Errorf("Classify(plain) = %v, want IO", got)
	}
}

func TestRetryBusy_LockedDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locked.db")

	// Zero engine timeout so the lock surfaces immediately to RetryBusy.
	holder, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	defer holder.Close()
	if _, err := holder.Exec(`CREATE TABLE t (v INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	other, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		t.Fatalf("open other: %v", err)
	}
	defer other.Close()

	lock, err := holder.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin holder tx: %v", err)
	}

	start := time.Now()
	err = RetryBusy(ctx, 60*time.Millisecond, func() error {
		_, err := other.Exec(`INSERT INTO t (v) VALUES (1)`)
		return err
	})
	if !errors.Is(err, errors.ErrBusy) {
		t.Fatalf("RetryBusy() under lock = %v, want BUSY", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("RetryBusy() ran %v, should stop near its timeout", time.Since(start))
	}

	// Releasing the lock lets a retried write through.
	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = lock.Rollback()
		close(released)
	}()
	err = RetryBusy(ctx, 2*time.Second, func() error {
		_, err := other.Exec(`INSERT INTO t (v) VALUES (2)`)
		return err
	})
	<-released
	if err != nil {
		t.Fatalf("RetryBusy() after release = %v", err)
	}
}

func TestRetryBusy_NonBusyErrorReturnsImmediately(t *testing.T) {
	calls := 0
	boom := stderrors.New("boom")
	err := RetryBusy(context.Background(), time.Second, func() error {
		calls++
		return boom
	})
	if err != boom {
		t.Errorf("RetryBusy() = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.Exec(`CREATE TABLE t (v INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := stderrors.New("boom")
	err := WithTx(ctx, db, time.Second, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (v) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("WithTx() = %v, want boom", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("rows after rollback = %d, want 0", n)
	}
}

func TestWithTx_IgnoresCancellation(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE t (v INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithTx(ctx, db, time.Second, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO t (v) VALUES (1)`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() with cancelled ctx = %v", err)
	}
}

func TestColorCodec(t *testing.T) {
	for _, c := range []uint32{0, 0xEBEBEB, 0xFFFFFF, 0x7FFFFFFF, 0x80000000, 0xFFFFFFFF} {
		stored := ColorCodec.Encode(c)
		if stored < -1<<31 || stored > 1<<31-1 {
			t.Errorf("Encode(%#x) = %d, outside signed 32-bit", c, stored)
		}
		got, err := ColorCodec.Decode(stored)
		if err != nil {
			t.Fatalf("Decode(%d) error = %v", stored, err)
		}
		if got != c {
			t.Errorf("Decode(Encode(%#x)) = %#x", c, got)
		}
	}

	if ColorCodec.Encode(0xFFFFFFFF) != -1 {
		t.Errorf("Encode(0xFFFFFFFF) = %d, want -1", ColorCodec.Encode(0xFFFFFFFF))
	}
	if _, err := ColorCodec.Decode(1 << 40); err == nil {
		t.Error("Decode() of out-of-range value should fail")
	}
}
