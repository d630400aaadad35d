package central

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hpungsan/evtrack/internal/db"
	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/model"
)

// Store is one project's view of the shared database. Every statement is
// scoped to the partition's project id.
type Store struct {
	db      *sql.DB
	p       Partition
	timeout time.Duration
	logger  *slog.Logger
}

// Project returns the project's display name.
func (s *Store) Project() string { return s.p.Name }

// Partition returns the project's identity in the shared database.
func (s *Store) Partition() Partition { return s.p }

// Close is a no-op: the shared handle belongs to DB.
func (s *Store) Close() error { return nil }

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

func getFolder(ctx context.Context, q db.Querier, projectID string, id int64) (*model.Folder, error) {
	f, err := scanFolder(q.QueryRowContext(ctx,
		`SELECT id, parent_id, name FROM folders WHERE project_id = ? AND id = ?`, projectID, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("folder", id)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// InsertFolder adds a folder to project inside tx without validation. The
// migration engine uses it to replay an already validated tree.
func InsertFolder(ctx context.Context, tx *sql.Tx, projectID string, parentID int64, name string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO folders (project_id, parent_id, name) VALUES (?, ?, ?)`, projectID, parentID, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetFolderName renames folder id of project inside tx without validation.
func SetFolderName(ctx context.Context, tx *sql.Tx, projectID string, id int64, name string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE folders SET name = ? WHERE project_id = ? AND id = ?`, name, projectID, id)
	return err
}

// ClearPartition removes every event and every non-root folder of p.
func ClearPartition(ctx context.Context, tx *sql.Tx, p Partition) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE project_id = ?`, p.ID); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM folders WHERE project_id = ? AND id != ?`, p.ID, p.RootID); err != nil {
		return fmt.Errorf("clear folders: %w", err)
	}
	return nil
}

// RootFolder returns the partition's root folder.
func (s *Store) RootFolder(ctx context.Context) (*model.Folder, error) {
	f, err := getFolder(ctx, s.db, s.p.ID, s.p.RootID)
	return f, db.Classify(err)
}

// GetFolder returns folder id.
func (s *Store) GetFolder(ctx context.Context, id int64) (*model.Folder, error) {
	f, err := getFolder(ctx, s.db, s.p.ID, id)
	return f, db.Classify(err)
}

// ListFolders returns every folder of the project ordered by id.
func (s *Store) ListFolders(ctx context.Context) ([]*model.Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, name FROM folders WHERE project_id = ? ORDER BY id`, s.p.ID)
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
		if _, err := getFolder(ctx, tx, s.p.ID, parentID); err != nil {
			return err
		}
		id, err := InsertFolder(ctx, tx, s.p.ID, parentID, name)
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
		f, err := getFolder(ctx, tx, s.p.ID, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE folders SET name = ? WHERE project_id = ? AND id = ?`, name, s.p.ID, id); err != nil {
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
		f, err := getFolder(ctx, tx, s.p.ID, id)
		if err != nil {
			return err
		}
		if f.IsRoot() {
			return errors.NewValidation("the root folder cannot be moved")
		}
		if _, err := getFolder(ctx, tx, s.p.ID, newParentID); err != nil {
			return err
		}
		cycle, err := model.WouldCycle(id, newParentID, func(cur int64) (int64, error) {
			p, err := getFolder(ctx, tx, s.p.ID, cur)
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
		if _, err := tx.ExecContext(ctx,
			`UPDATE folders SET parent_id = ? WHERE project_id = ? AND id = ?`, newParentID, s.p.ID, id); err != nil {
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

// subtreeSQL selects a folder of one project and all its descendants.
// Arguments: project id, folder id, project id.
const subtreeSQL = `
WITH RECURSIVE subtree(id) AS (
  SELECT id FROM folders WHERE project_id = ? AND id = ?
  UNION
  SELECT f.id FROM folders f JOIN subtree ON f.parent_id = subtree.id
  WHERE f.project_id = ? AND f.id != f.parent_id
)`

// DeleteFolder removes folder id. Without cascade the folder must be empty;
// with cascade every descendant folder and their events and tags go in one
// transaction. The root cannot be deleted.
func (s *Store) DeleteFolder(ctx context.Context, id int64, cascade bool) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		f, err := getFolder(ctx, tx, s.p.ID, id)
		if err != nil {
			return err
		}
		if f.IsRoot() {
			return errors.NewValidation("the root folder cannot be deleted")
		}

		if !cascade {
			var children, events int
			if err := tx.QueryRowContext(ctx, `
				SELECT (SELECT COUNT(*) FROM folders WHERE project_id = ? AND parent_id = ? AND id != parent_id),
				       (SELECT COUNT(*) FROM events WHERE project_id = ? AND folder_id = ?)
			`, s.p.ID, id, s.p.ID, id).Scan(&children, &events); err != nil {
				return err
			}
			if children > 0 || events > 0 {
				return errors.NewConflict(fmt.Sprintf(
					"folder %d is not empty (%d folders, %d events); delete with cascade", id, children, events))
			}
		}

		// Tags go with their events through ON DELETE CASCADE.
		if _, err := tx.ExecContext(ctx, subtreeSQL+`
			DELETE FROM events WHERE folder_id IN (SELECT id FROM subtree)`, s.p.ID, id, s.p.ID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, subtreeSQL+`
			DELETE FROM folders WHERE id IN (SELECT id FROM subtree)`, s.p.ID, id, s.p.ID)
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Debug("folder deleted", "folder_id", id, "cascade", cascade)
	return nil
}
