// Package store exposes per-project event stores behind one interface and
// manages their lifetime.
package store

import (
	"context"

	"github.com/hpungsan/evtrack/internal/db/central"
	"github.com/hpungsan/evtrack/internal/db/embedded"
	"github.com/hpungsan/evtrack/internal/model"
)

// Store is one project's folders and events. Implementations are safe for
// concurrent use.
type Store interface {
	// Project returns the display name the store was opened with.
	Project() string

	RootFolder(ctx context.Context) (*model.Folder, error)
	GetFolder(ctx context.Context, id int64) (*model.Folder, error)
	ListFolders(ctx context.Context) ([]*model.Folder, error)
	CreateFolder(ctx context.Context, name string, parentID int64) (*model.Folder, error)
	RenameFolder(ctx context.Context, id int64, name string) (*model.Folder, error)
	MoveFolder(ctx context.Context, id, newParentID int64) (*model.Folder, error)
	DeleteFolder(ctx context.Context, id int64, cascade bool) error

	// InsertEvent stores e with its tags atomically and sets e.ID and the
	// stored tag keys and ids.
	InsertEvent(ctx context.Context, e *model.Event) (int64, error)
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	QueryEvents(ctx context.Context, q model.EventQuery) ([]*model.Event, error)
	MoveEvents(ctx context.Context, ids []int64, folderID int64) (int64, error)
	DeleteEvents(ctx context.Context, ids []int64) (int64, error)

	Close() error
}

var (
	_ Store = (*embedded.Store)(nil)
	_ Store = (*central.Store)(nil)
)
