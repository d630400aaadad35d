package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hpungsan/evtrack/internal/db"
	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/model"
)

// LoginLogVersion is the latest layout of the login audit tables.
const LoginLogVersion = 1

const loginSchema = `
CREATE TABLE IF NOT EXISTS logins (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  user_name  TEXT NOT NULL,
  ip_address TEXT NOT NULL DEFAULT '',
  session_id TEXT NOT NULL DEFAULT '',
  date       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_logins_user_date ON logins(user_name, date DESC);
CREATE INDEX IF NOT EXISTS idx_logins_date ON logins(date DESC);
`

// LoginQuery filters LoginLog.Query. Nil fields do not filter.
type LoginQuery struct {
	User  *string
	From  *int64 // inclusive, ms
	To    *int64 // exclusive, ms
	Limit int    // 0 = unbounded
}

// LoginLog is the global, append-only record of user logins.
type LoginLog struct {
	db      *sql.DB
	owned   bool
	timeout time.Duration
	logger  *slog.Logger
}

// openLoginLog brings the login tables in sqlDB to LoginLogVersion. When
// owned, Close closes sqlDB.
func openLoginLog(ctx context.Context, sqlDB *sql.DB, versions db.VersionStore, owned bool, opts db.Options, logger *slog.Logger) (*LoginLog, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &db.Migrator{
		Name:     "system",
		Latest:   LoginLogVersion,
		Versions: versions,
		Create: func(ctx context.Context, tx *sql.Tx, _ int) error {
			if _, err := tx.ExecContext(ctx, loginSchema); err != nil {
				return fmt.Errorf("create login schema: %w", err)
			}
			return nil
		},
		BusyTimeout: opts.BusyTimeout,
		Logger:      logger,
	}
	if _, err := m.Run(ctx, sqlDB); err != nil {
		return nil, err
	}
	return &LoginLog{db: sqlDB, owned: owned, timeout: opts.BusyTimeout, logger: logger}, nil
}

// Close releases the database if the log owns it.
func (l *LoginLog) Close() error {
	if !l.owned {
		return nil
	}
	return l.db.Close()
}

// Append records a login. The user name is stored case-folded and a zero
// Date means now. rec receives the new id.
func (l *LoginLog) Append(ctx context.Context, rec *model.LoginRecord) (int64, error) {
	user := model.FoldUserName(rec.UserName)
	if user == "" {
		return 0, errors.NewValidation("user name is required")
	}
	if rec.Date == 0 {
		rec.Date = time.Now().UnixMilli()
	}
	rec.UserName = user
	rec.IPAddress = strings.TrimSpace(rec.IPAddress)

	var id int64
	err := db.WithTx(ctx, l.db, l.timeout, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO logins (user_name, ip_address, session_id, date) VALUES (?, ?, ?, ?)`,
			rec.UserName, rec.IPAddress, rec.SessionID, rec.Date)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, db.Classify(err)
	}
	rec.ID = id
	l.logger.Debug("login recorded", "login_id", id, "user", user)
	return id, nil
}

// Query returns matching logins, newest first.
func (l *LoginLog) Query(ctx context.Context, q LoginQuery) ([]model.LoginRecord, error) {
	if q.Limit < 0 {
		return nil, errors.NewValidation("limit must not be negative")
	}
	if q.From != nil && q.To != nil && *q.From > *q.To {
		return nil, errors.NewValidation("from must not be after to")
	}

	var conds db.Conds
	if q.User != nil {
		conds.Add("user_name = ?", model.FoldUserName(*q.User))
	}
	if q.From != nil {
		conds.Add("date >= ?", *q.From)
	}
	if q.To != nil {
		conds.Add("date < ?", *q.To)
	}
	limit, limitArgs := db.LimitOffset(q.Limit, 0)

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user_name, ip_address, session_id, date FROM logins`+
			conds.Where()+` ORDER BY date DESC, id DESC`+limit,
		append(conds.Args(), limitArgs...)...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	records := []model.LoginRecord{}
	for rows.Next() {
		var r model.LoginRecord
		if err := rows.Scan(&r.ID, &r.UserName, &r.IPAddress, &r.SessionID, &r.Date); err != nil {
			return nil, db.Classify(err)
		}
		records = append(records, r)
	}
	return records, db.Classify(rows.Err())
}
