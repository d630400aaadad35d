package store

import (
	"context"
	stderrors "errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hpungsan/evtrack/internal/config"
	"github.com/hpungsan/evtrack/internal/db"
	"github.com/hpungsan/evtrack/internal/db/central"
	"github.com/hpungsan/evtrack/internal/db/embedded"
	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/migrate"
	"github.com/hpungsan/evtrack/internal/model"
)

// SystemFile is the embedded-mode database holding the login log.
const SystemFile = "system.db"

const (
	systemIdentity  = "system"
	centralIdentity = "central"
)

// ProjectIdentity is the registry key of a project.
func ProjectIdentity(projectNorm string) string {
	return "project:" + projectNorm
}

// Manager hands out stores for the configured engine. Each project is opened
// (and created or migrated) once, on first use, and then shared.
type Manager struct {
	cfg    *config.Config
	opts   db.Options
	logger *slog.Logger

	projects *db.Registry[Store]
	logins   *db.Registry[*LoginLog]
	shared   *db.Registry[*central.DB]

	importer *migrate.LegacyImporter
}

// NewManager validates cfg and returns a manager. Nothing is opened yet.
func NewManager(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts := db.OptionsFromConfig(cfg)

	m := &Manager{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		projects: db.NewRegistry[Store](logger),
		logins:   db.NewRegistry[*LoginLog](logger),
		shared:   db.NewRegistry[*central.DB](logger),
	}
	if cfg.Engine == config.EngineCentral {
		m.importer = &migrate.LegacyImporter{
			DataDir: cfg.LegacyRoot(),
			Archive: cfg.ArchiveLegacy,
			Options: opts,
			Logger:  logger,
		}
	}
	return m, nil
}

// Engine returns the configured engine name.
func (m *Manager) Engine() string { return m.cfg.Engine }

// Project returns the store of project name, opening it on first use.
// Names are matched case-insensitively; the first caller's spelling becomes
// the display name of a new project.
func (m *Manager) Project(ctx context.Context, name string) (Store, error) {
	norm, err := model.NormalizeProject(name)
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	name = strings.TrimSpace(name)

	return m.projects.Get(ctx, ProjectIdentity(norm), func(ctx context.Context) (Store, error) {
		return m.openProject(ctx, name, norm)
	})
}

func (m *Manager) openProject(ctx context.Context, name, norm string) (Store, error) {
	if m.cfg.Engine == config.EngineCentral {
		d, err := m.central(ctx)
		if err != nil {
			return nil, err
		}
		s, err := d.OpenProject(ctx, name, norm, m.importer)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	s, err := embedded.Open(ctx, embedded.Path(m.cfg.DataDir, norm), name, m.opts, m.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) central(ctx context.Context) (*central.DB, error) {
	return m.shared.Get(ctx, centralIdentity, func(ctx context.Context) (*central.DB, error) {
		return central.Open(ctx, m.cfg.CentralDSN, m.opts, m.logger)
	})
}

// Logins returns the global login log, opening it on first use.
func (m *Manager) Logins(ctx context.Context) (*LoginLog, error) {
	return m.logins.Get(ctx, systemIdentity, func(ctx context.Context) (*LoginLog, error) {
		if m.cfg.Engine == config.EngineCentral {
			d, err := m.central(ctx)
			if err != nil {
				return nil, err
			}
			return openLoginLog(ctx, d.SQL(), db.TableVersion{Key: systemIdentity}, false, m.opts, m.logger)
		}

		sqlDB, err := db.Open(filepath.Join(m.cfg.DataDir, SystemFile), m.opts)
		if err != nil {
			return nil, errors.NewIO(err)
		}
		l, err := openLoginLog(ctx, sqlDB, db.UserVersion{}, true, m.opts, m.logger)
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		return l, nil
	})
}

// MigrateResult describes an explicit migration request.
type MigrateResult struct {
	Project  string          `json:"project"`
	Engine   string          `json:"engine"`
	Imported bool            `json:"imported"`
	Report   *migrate.Report `json:"report,omitempty"`
}

// Migrate opens project name and reports whether legacy data was imported
// by this call. A project that failed to migrate earlier is reset first, so
// Migrate is also the way to retry. Only the central engine imports.
func (m *Manager) Migrate(ctx context.Context, name string) (*MigrateResult, error) {
	norm, err := model.NormalizeProject(name)
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	result := &MigrateResult{Project: norm, Engine: m.cfg.Engine}

	if m.cfg.Engine == config.EngineCentral {
		if err := m.Reset(name); err != nil {
			return nil, err
		}
	}
	before, hadReport := m.lastReport(norm)

	if _, err := m.Project(ctx, name); err != nil {
		return nil, err
	}

	if r, ok := m.lastReport(norm); ok && (!hadReport || r.RunID != before.RunID) {
		result.Imported = true
		result.Report = &r
	}
	return result, nil
}

func (m *Manager) lastReport(norm string) (migrate.Report, bool) {
	if m.importer == nil {
		return migrate.Report{}, false
	}
	return m.importer.LastReport(norm)
}

// Reset forgets project name so that the next Project call opens it again.
// It clears a sticky migration failure.
func (m *Manager) Reset(name string) error {
	norm, err := model.NormalizeProject(name)
	if err != nil {
		return errors.NewValidation(err.Error())
	}
	return m.projects.Reset(ProjectIdentity(norm))
}

// Close closes every open handle. Stores obtained earlier must not be used
// afterwards.
func (m *Manager) Close() error {
	return stderrors.Join(
		m.projects.Close(),
		m.logins.Close(),
		m.shared.Close(),
	)
}
