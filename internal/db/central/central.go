// Package central implements the shared engine: one database holding every
// project, partitioned by project id, with relational tags.
package central

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hpungsan/evtrack/internal/db"
	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/model"
)

// Partition identifies one project inside the shared database.
type Partition struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	NameNorm string `json:"name_norm"`
	RootID   int64  `json:"root_id"`
}

// Importer moves a project's legacy data into its partition.
type Importer interface {
	// Pending reports whether legacy data exists for the project.
	Pending(ctx context.Context, projectNorm string) (bool, error)

	// Import copies the legacy data into p inside tx. The partition may hold
	// leftovers of an earlier attempt that never committed elsewhere; Import
	// must tolerate them.
	Import(ctx context.Context, tx *sql.Tx, p Partition) error

	// Finish runs after the import transaction committed.
	Finish(ctx context.Context, projectNorm string) error
}

// DB is the shared database. It is safe for concurrent use.
type DB struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// Open opens the shared database at dsn (a path or a "file:" URI) and brings
// the shared tables to SchemaVersion.
func Open(ctx context.Context, dsn string, opts db.Options, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("engine", "central")

	sqlDB, err := db.Open(dsn, opts)
	if err != nil {
		return nil, errors.NewIO(err)
	}

	m := &db.Migrator{
		Name:        "central",
		Latest:      SchemaVersion,
		Versions:    db.TableVersion{Key: "central"},
		Create:      createSchema,
		BusyTimeout: opts.BusyTimeout,
		Logger:      logger,
	}
	if _, err := m.Run(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{db: sqlDB, timeout: opts.BusyTimeout, logger: logger}, nil
}

// Close closes the shared database.
func (d *DB) Close() error { return d.db.Close() }

// SQL exposes the handle for components sharing the database.
func (d *DB) SQL() *sql.DB { return d.db }

// VersionKey is the db_versions row of a project partition.
func VersionKey(projectNorm string) string {
	return "project:" + projectNorm
}

// OpenProject returns the store for project name, creating its partition
// and importing legacy data on first use. A nil importer means no project
// has legacy data.
func (d *DB) OpenProject(ctx context.Context, name, nameNorm string, importer Importer) (*Store, error) {
	logger := d.logger.With("project", nameNorm)

	m := &db.Migrator{
		Name:     VersionKey(nameNorm),
		Latest:   ProjectVersion,
		Versions: db.TableVersion{Key: VersionKey(nameNorm)},
		Baseline: func(ctx context.Context, tx *sql.Tx) (int, error) {
			if importer == nil {
				return ProjectVersion, nil
			}
			pending, err := importer.Pending(ctx, nameNorm)
			if err != nil {
				return 0, err
			}
			if pending {
				return 1, nil
			}
			return ProjectVersion, nil
		},
		Create: func(ctx context.Context, tx *sql.Tx, version int) error {
			_, err := createPartition(ctx, tx, name, nameNorm)
			return err
		},
		Steps: []db.Step{{
			From: 1,
			Apply: func(ctx context.Context, tx *sql.Tx) error {
				if importer == nil {
					return nil
				}
				p, err := loadPartition(ctx, tx, nameNorm)
				if err != nil {
					return err
				}
				return importer.Import(ctx, tx, *p)
			},
			AfterCommit: func(ctx context.Context) error {
				if importer == nil {
					return nil
				}
				return importer.Finish(ctx, nameNorm)
			},
		}},
		BusyTimeout: d.timeout,
		Logger:      logger,
	}
	if _, err := m.Run(ctx, d.db); err != nil {
		return nil, err
	}

	p, err := loadPartition(ctx, d.db, nameNorm)
	if err != nil {
		return nil, errors.NewMigration(VersionKey(nameNorm), ProjectVersion, err)
	}
	return &Store{db: d.db, p: *p, timeout: d.timeout, logger: logger}, nil
}

// createPartition inserts the project row and its root folder. The root is
// inserted first and then pointed at itself.
func createPartition(ctx context.Context, tx *sql.Tx, name, nameNorm string) (*Partition, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	p := &Partition{ID: id.String(), Name: name, NameNorm: nameNorm}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (id, name_norm, name, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, nameNorm, name, time.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO folders (project_id, parent_id, name) VALUES (?, 0, ?)`, p.ID, model.RootFolderName)
	if err != nil {
		return nil, fmt.Errorf("create root folder: %w", err)
	}
	if p.RootID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE folders SET parent_id = id WHERE id = ?`, p.RootID); err != nil {
		return nil, fmt.Errorf("link root folder: %w", err)
	}
	return p, nil
}

func loadPartition(ctx context.Context, q db.Querier, nameNorm string) (*Partition, error) {
	p := &Partition{NameNorm: nameNorm}
	err := q.QueryRowContext(ctx, `
		SELECT p.id, p.name, f.id
		FROM projects p JOIN folders f ON f.project_id = p.id AND f.parent_id = f.id
		WHERE p.name_norm = ?
		ORDER BY f.id LIMIT 1
	`, nameNorm).Scan(&p.ID, &p.Name, &p.RootID)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("project", nameNorm)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Projects lists every partition ordered by folded name.
func (d *DB) Projects(ctx context.Context) ([]Partition, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.name_norm, COALESCE(MIN(f.id), 0)
		FROM projects p LEFT JOIN folders f ON f.project_id = p.id AND f.parent_id = f.id
		GROUP BY p.id ORDER BY p.name_norm
	`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var out []Partition
	for rows.Next() {
		var p Partition
		if err := rows.Scan(&p.ID, &p.Name, &p.NameNorm, &p.RootID); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, p)
	}
	return out, db.Classify(rows.Err())
}
