// Package embedded implements the legacy per-project engine: one SQLite file
// per project with tags stored as a JSON document on each event row.
package embedded

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/evtrack/internal/db"
	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/model"
)

const (
	// FileExt is the extension of a project file.
	FileExt = ".db"

	// ArchiveExt replaces FileExt once a project has been imported elsewhere.
	ArchiveExt = ".migrated"

	projectsDir = "projects"
)

// Path returns the file of the project whose folded name is projectNorm.
func Path(dataDir, projectNorm string) string {
	return filepath.Join(dataDir, projectsDir, url.PathEscape(projectNorm)+FileExt)
}

// Exists reports whether a project file exists at path.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Archive renames a project file (and its WAL side files) to *.migrated.
func Archive(path string) error {
	archived := strings.TrimSuffix(path, FileExt) + ArchiveExt
	if err := os.Rename(path, archived); err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	return nil
}

// Store is one project's embedded database.
type Store struct {
	db      *sql.DB
	project string
	timeout time.Duration
	logger  *slog.Logger
}

// Open opens (creating if needed) the project file at path and migrates it
// to SchemaVersion.
func Open(ctx context.Context, path, project string, opts db.Options, logger *slog.Logger) (*Store, error) {
	return openAt(ctx, path, project, SchemaVersion, opts, logger)
}

func openAt(ctx context.Context, path, project string, version int, opts db.Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("engine", "embedded", "project", project)

	sqlDB, err := db.Open(path, opts)
	if err != nil {
		return nil, errors.NewIO(err)
	}

	if _, err := migrator("embedded:"+project, version, opts, logger).Run(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Store{db: sqlDB, project: project, timeout: opts.BusyTimeout, logger: logger}, nil
}

// Project returns the project name the store was opened for.
func (s *Store) Project() string { return s.project }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for the migration engine's read pass.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.Classify(db.WithTx(ctx, s.db, s.timeout, fn))
}

func scanFolder(row interface{ Scan(...any) error }) (*model.Folder, error) {
	f := &model.Folder{}
	if err := row.Scan(&f.ID, &f.ParentID, &f.Name); err != nil {
		return nil, err
	}
	return f, nil
}

func getFolder(ctx context.Context, q db.Querier, id int64) (*model.Folder, error) {
	f, err := scanFolder(q.QueryRowContext(ctx,
		`SELECT id, parent_id, name FROM folders WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("folder", id)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// RootFolder returns the folder that is its own parent.
func (s *Store) RootFolder(ctx context.Context) (*model.Folder, error) {
	f, err := scanFolder(s.db.QueryRowContext(ctx,
		`SELECT id, parent_id, name FROM folders WHERE id = parent_id ORDER BY id LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("folder", "root")
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return f, nil
}

// GetFolder returns folder id.
func (s *Store) GetFolder(ctx context.Context, id int64) (*model.Folder, error) {
	f, err := getFolder(ctx, s.db, id)
	return f, db.Classify(err)
}

// ListFolders returns every folder ordered by id.
func (s *Store) ListFolders(ctx context.Context) ([]*model.Folder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id, name FROM folders ORDER BY id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var folders []*model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		folders = append(folders, f)
	}
	return folders, db.Classify(rows.Err())
}

// CreateFolder adds a folder named name under parentID.
func (s *Store) CreateFolder(ctx context.Context, name string, parentID int64) (*model.Folder, error) {
	if !model.ValidateFolderName(name) {
		return nil, errors.NewValidation(fmt.Sprintf("invalid folder name %q", name))
	}

	var created *model.Folder
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getFolder(ctx, tx, parentID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO folders (parent_id, name) VALUES (?, ?)`, parentID, name)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		created = &model.Folder{ID: id, ParentID: parentID, Name: name}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("folder created", "folder_id", created.ID, "parent_id", parentID)
	return created, nil
}

// RenameFolder changes the name of folder id. The root may be renamed.
func (s *Store) RenameFolder(ctx context.Context, id int64, name string) (*model.Folder, error) {
	if !model.ValidateFolderName(name) {
		return nil, errors.NewValidation(fmt.Sprintf("invalid folder name %q", name))
	}

	var renamed *model.Folder
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		f, err := getFolder(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE folders SET name = ? WHERE id = ?`, name, id); err != nil {
			return err
		}
		f.Name = name
		renamed = f
		return nil
	})
	return renamed, err
}

// MoveFolder re-parents folder id under newParentID.
func (s *Store) MoveFolder(ctx context.Context, id, newParentID int64) (*model.Folder, error) {
	var moved *model.Folder
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		f, err := getFolder(ctx, tx, id)
		if err != nil {
			return err
		}
		if f.IsRoot() {
			return errors.NewValidation("the root folder cannot be moved")
		}
		if _, err := getFolder(ctx, tx, newParentID); err != nil {
			return err
		}
		cycle, err := model.WouldCycle(id, newParentID, func(cur int64) (int64, error) {
			p, err := getFolder(ctx, tx, cur)
			if err != nil {
				return 0, err
			}
			return p.ParentID, nil
		})
		if err != nil {
			return err
		}
		if cycle {
			return errors.NewCycle(id, newParentID)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE folders SET parent_id = ? WHERE id = ?`, newParentID, id); err != nil {
			return err
		}
		f.ParentID = newParentID
		moved = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("folder moved", "folder_id", id, "parent_id", newParentID)
	return moved, nil
}

// subtreeSQL selects a folder and all its descendants. The root's self
// reference is excluded from the recursion.
const subtreeSQL = `
WITH RECURSIVE subtree(id) AS (
  SELECT ?
  UNION
  SELECT f.id FROM folders f JOIN subtree ON f.parent_id = subtree.id
  WHERE f.id != f.parent_id
)`

// DeleteFolder removes folder id. Without cascade the folder must be empty;
// with cascade every descendant folder and their events go in one
// transaction. The root cannot be deleted.
func (s *Store) DeleteFolder(ctx context.Context, id int64, cascade bool) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		f, err := getFolder(ctx, tx, id)
		if err != nil {
			return err
		}
		if f.IsRoot() {
			return errors.NewValidation("the root folder cannot be deleted")
		}

		if !cascade {
			var children, events int
			if err := tx.QueryRowContext(ctx,
				`SELECT (SELECT COUNT(*) FROM folders WHERE parent_id = ? AND id != parent_id),
				        (SELECT COUNT(*) FROM events WHERE folder_id = ?)`, id, id).Scan(&children, &events); err != nil {
				return err
			}
			if children > 0 || events > 0 {
				return errors.NewConflict(fmt.Sprintf(
					"folder %d is not empty (%d folders, %d events); delete with cascade", id, children, events))
			}
		}

		if _, err := tx.ExecContext(ctx, subtreeSQL+`
			DELETE FROM events WHERE folder_id IN (SELECT id FROM subtree)`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, subtreeSQL+`
			DELETE FROM folders WHERE id IN (SELECT id FROM subtree)`, id)
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Debug("folder deleted", "folder_id", id, "cascade", cascade)
	return nil
}
