// Package migrate moves projects from the embedded engine into the central
// database.
package migrate

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hpungsan/evtrack/internal/db"
	"github.com/hpungsan/evtrack/internal/db/central"
	"github.com/hpungsan/evtrack/internal/db/embedded"
	"github.com/hpungsan/evtrack/internal/model"
	"github.com/oklog/ulid/v2"
)

// Report summarizes one import run.
type Report struct {
	RunID   string `json:"run_id"`
	Project string `json:"project"`
	Source  string `json:"source"`

	Folders int `json:"folders"`
	Events  int `json:"events"`
	Tags    int `json:"tags"`

	// Reattached counts folders whose parent chain never reached the root
	// (orphans and cycles) and were placed under the root instead.
	Reattached int `json:"reattached"`

	// RelocatedEvents counts events whose folder no longer existed.
	RelocatedEvents int `json:"relocated_events"`

	// RenamedKeys counts tag keys changed by the central sanitizer.
	RenamedKeys int `json:"renamed_keys"`

	// SkippedEvents counts events whose type is not Error, Info or Debug in
	// any letter case. They are not copied.
	SkippedEvents int `json:"skipped_events"`

	StartedAt  int64 `json:"started_at"`
	FinishedAt int64 `json:"finished_at"`
}

// Hooks intercept an import between phases. A non-nil error aborts the
// import and rolls back everything it wrote.
type Hooks struct {
	AfterFolders func(ctx context.Context, r *Report) error
}

// LegacyImporter reads embedded project files under DataDir and replays them
// into central partitions. It implements central.Importer.
type LegacyImporter struct {
	DataDir string
	Archive bool
	Options db.Options
	Logger  *slog.Logger
	Hooks   Hooks

	mu      sync.Mutex
	staged  map[string]Report // written, not yet committed
	reports map[string]Report
}

var _ central.Importer = (*LegacyImporter)(nil)

func (li *LegacyImporter) logger() *slog.Logger {
	if li.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return li.Logger
}

func newRunID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Pending reports whether an unmigrated project file exists.
func (li *LegacyImporter) Pending(_ context.Context, projectNorm string) (bool, error) {
	return embedded.Exists(embedded.Path(li.DataDir, projectNorm))
}

// LastReport returns the report of the latest committed import of project.
func (li *LegacyImporter) LastReport(projectNorm string) (Report, bool) {
	li.mu.Lock()
	defer li.mu.Unlock()
	r, ok := li.reports[projectNorm]
	return r, ok
}

// Import replays the legacy project into p inside tx. Whatever an earlier
// attempt left in the partition is cleared first, so Import can be re-run
// until it commits.
func (li *LegacyImporter) Import(ctx context.Context, tx *sql.Tx, p central.Partition) error {
	path := embedded.Path(li.DataDir, p.NameNorm)
	report := &Report{
		RunID:     newRunID(),
		Project:   p.NameNorm,
		Source:    path,
		StartedAt: time.Now().UnixMilli(),
	}
	logger := li.logger().With("run_id", report.RunID, "project", p.NameNorm)
	logger.Info("legacy import started", "source", path)

	legacy, err := embedded.Open(ctx, path, p.Name, li.Options, logger)
	if err != nil {
		return fmt.Errorf("open legacy project: %w", err)
	}
	defer legacy.Close()

	if err := central.ClearPartition(ctx, tx, p); err != nil {
		return err
	}

	folderMap, err := li.copyFolders(ctx, tx, legacy, p, report, logger)
	if err != nil {
		return err
	}

	if li.Hooks.AfterFolders != nil {
		if err := li.Hooks.AfterFolders(ctx, report); err != nil {
			return err
		}
	}

	err = legacy.ForEachEvent(ctx, func(e *model.Event) error {
		typ, err := model.ParseEventType(string(e.Type))
		if err != nil {
			logger.Warn("skipping event with unknown type", "event_id", e.ID, "event_type", string(e.Type))
			report.SkippedEvents++
			return nil
		}
		target, ok := folderMap[e.FolderID]
		if !ok {
			logger.Warn("event folder missing, placing under root", "event_id", e.ID, "folder_id", e.FolderID)
			target = p.RootID
			report.RelocatedEvents++
		}
		for _, tag := range e.Tags {
			if model.ValidateTagKey(tag.Key) != tag.Key {
				report.RenamedKeys++
			}
		}

		moved := &model.Event{
			FolderID: target,
			Type:     typ,
			SubType:  e.SubType,
			Message:  e.Message,
			Date:     e.Date,
			Color:    e.Color,
		}
		moved.SetTags(e.Tags)
		if err := central.WriteEvent(ctx, tx, p.ID, moved); err != nil {
			return fmt.Errorf("copy event %d: %w", e.ID, err)
		}
		report.Events++
		report.Tags += len(moved.Tags)
		return nil
	})
	if err != nil {
		return err
	}

	report.FinishedAt = time.Now().UnixMilli()
	li.mu.Lock()
	if li.staged == nil {
		li.staged = make(map[string]Report)
	}
	li.staged[p.NameNorm] = *report
	li.mu.Unlock()

	logger.Info("legacy import staged",
		"folders", report.Folders, "events", report.Events, "tags", report.Tags,
		"reattached", report.Reattached, "renamed_keys", report.RenamedKeys,
		"skipped_events", report.SkippedEvents)
	return nil
}

// copyFolders recreates the legacy tree breadth-first from the root and
// returns the legacy -> central id map. Folders unreachable from the root
// are re-attached under it.
func (li *LegacyImporter) copyFolders(ctx context.Context, tx *sql.Tx, legacy *embedded.Store, p central.Partition, report *Report, logger *slog.Logger) (map[int64]int64, error) {
	folders, err := legacy.ListFolders(ctx)
	if err != nil {
		return nil, err
	}

	children := make(map[int64][]*model.Folder)
	var root *model.Folder
	for _, f := range folders {
		if f.IsRoot() {
			if root == nil {
				root = f
			}
			continue
		}
		children[f.ParentID] = append(children[f.ParentID], f)
	}
	if root == nil {
		return nil, fmt.Errorf("legacy project %s has no root folder", p.NameNorm)
	}
	if err := central.SetFolderName(ctx, tx, p.ID, p.RootID, root.Name); err != nil {
		return nil, err
	}

	mapped := map[int64]int64{root.ID: p.RootID}
	walk := func(start int64) error {
		queue := []int64{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, child := range children[cur] {
				if _, done := mapped[child.ID]; done {
					continue
				}
				id, err := central.InsertFolder(ctx, tx, p.ID, mapped[cur], child.Name)
				if err != nil {
					return fmt.Errorf("copy folder %d: %w", child.ID, err)
				}
				mapped[child.ID] = id
				report.Folders++
				queue = append(queue, child.ID)
			}
		}
		return nil
	}

	if err := walk(root.ID); err != nil {
		return nil, err
	}

	// Anything left never reached the root. Attach the lowest id under the
	// root and copy its reachable subtree; repeat until done.
	sort.Slice(folders, func(i, j int) bool { return folders[i].ID < folders[j].ID })
	for _, f := range folders {
		if _, done := mapped[f.ID]; done || f.ID == root.ID {
			continue
		}
		logger.Warn("folder unreachable from root, re-attaching", "folder_id", f.ID, "parent_id", f.ParentID)
		id, err := central.InsertFolder(ctx, tx, p.ID, p.RootID, f.Name)
		if err != nil {
			return nil, fmt.Errorf("copy folder %d: %w", f.ID, err)
		}
		mapped[f.ID] = id
		report.Folders++
		report.Reattached++
		if err := walk(f.ID); err != nil {
			return nil, err
		}
	}

	return mapped, nil
}

// Finish records the committed report and archives the legacy file when
// configured.
func (li *LegacyImporter) Finish(_ context.Context, projectNorm string) error {
	li.mu.Lock()
	if r, ok := li.staged[projectNorm]; ok {
		delete(li.staged, projectNorm)
		if li.reports == nil {
			li.reports = make(map[string]Report)
		}
		li.reports[projectNorm] = r
	}
	li.mu.Unlock()

	if !li.Archive {
		return nil
	}
	path := embedded.Path(li.DataDir, projectNorm)
	if err := embedded.Archive(path); err != nil {
		return err
	}
	li.logger().Info("legacy project archived", "project", projectNorm, "path", path)
	return nil
}
