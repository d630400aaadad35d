package embedded

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hpungsan/evtrack/internal/db"
	"github.com/hpungsan/evtrack/internal/model"
)

// SchemaVersion is the latest embedded file layout.
//
//	v1: folders, events with tags_json, meta counters
//	v2: events.color
const SchemaVersion = 2

const schemaV1 = `
CREATE TABLE IF NOT EXISTS folders (
  id        INTEGER PRIMARY KEY AUTOINCREMENT,
  parent_id INTEGER NOT NULL,
  name      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);

CREATE TABLE IF NOT EXISTS events (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  folder_id  INTEGER NOT NULL,
  event_type TEXT NOT NULL,
  sub_type   TEXT NOT NULL DEFAULT '',
  message    TEXT NOT NULL DEFAULT '',
  date       INTEGER NOT NULL,
  tags_json  TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_events_folder_date ON events(folder_id, date DESC);

CREATE TABLE IF NOT EXISTS meta (
  key   TEXT PRIMARY KEY,
  value INTEGER NOT NULL
);

INSERT OR IGNORE INTO meta (key, value) VALUES ('next_tag_id', 1);
`

// addColor is the v1 -> v2 change. The default is model.DefaultColor.
var addColor = fmt.Sprintf(`ALTER TABLE events ADD COLUMN color INTEGER NOT NULL DEFAULT %d`, model.DefaultColor)

// createSchema lays out an empty project file at version with its root folder.
func createSchema(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO folders (id, parent_id, name) VALUES (1, 1, ?)`, model.RootFolderName); err != nil {
		return fmt.Errorf("create root folder: %w", err)
	}
	if version >= 2 {
		return addColorColumn(ctx, tx)
	}
	return nil
}

// addColorColumn is safe to re-run against a file where an interrupted
// older binary already added the column.
func addColorColumn(ctx context.Context, tx *sql.Tx) error {
	ok, err := db.ColumnExists(ctx, tx, "events", "color")
	if err != nil || ok {
		return err
	}
	if _, err := tx.ExecContext(ctx, addColor); err != nil {
		return fmt.Errorf("add color column: %w", err)
	}
	return nil
}

// migrator returns the version registry of one project file. latest is a
// parameter so tests can produce files at older layouts.
func migrator(name string, latest int, opts db.Options, logger *slog.Logger) *db.Migrator {
	return &db.Migrator{
		Name:        name,
		Latest:      latest,
		Versions:    db.UserVersion{},
		Create:      createSchema,
		Steps:       []db.Step{{From: 1, Apply: addColorColumn}},
		BusyTimeout: opts.BusyTimeout,
		Logger:      logger,
	}
}
