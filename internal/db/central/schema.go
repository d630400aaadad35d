package central

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest layout of the shared tables.
const SchemaVersion = 1

// ProjectVersion is the latest version of a project partition.
//
//	1: partition exists with its root folder
//	2: legacy data (if any) has been imported
const ProjectVersion = 2

const schemaV1 = `
CREATE TABLE IF NOT EXISTS projects (
  id         TEXT PRIMARY KEY,
  name_norm  TEXT NOT NULL UNIQUE,
  name       TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS folders (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
  parent_id  INTEGER NOT NULL,
  name       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_folders_project_parent ON folders(project_id, parent_id);

CREATE TABLE IF NOT EXISTS events (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
  folder_id  INTEGER NOT NULL REFERENCES folders(id),
  event_type TEXT NOT NULL,
  sub_type   TEXT NOT NULL DEFAULT '',
  message    TEXT NOT NULL DEFAULT '',
  date       INTEGER NOT NULL,
  color      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_project_folder_date
ON events(project_id, folder_id, date DESC);

CREATE TABLE IF NOT EXISTS tags (
  id       INTEGER PRIMARY KEY AUTOINCREMENT,
  event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
  key      TEXT NOT NULL,
  key_norm TEXT NOT NULL,
  value    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tags_event ON tags(event_id);
CREATE INDEX IF NOT EXISTS idx_tags_key_norm ON tags(key_norm, value);
`

func createSchema(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("create central schema: %w", err)
	}
	return nil
}
