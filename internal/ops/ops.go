package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/model"
	"github.com/hpungsan/evtrack/internal/store"
)

// Pagination limits
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
	MaxBulkIDs        = 1000
)

// Pagination contains pagination metadata for query operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// Projects resolves project stores and the global login log.
// *store.Manager implements it.
type Projects interface {
	Project(ctx context.Context, name string) (store.Store, error)
	Logins(ctx context.Context) (*store.LoginLog, error)
	Migrate(ctx context.Context, name string) (*store.MigrateResult, error)
}

var _ Projects = (*store.Manager)(nil)

// openProject validates the project name and returns its store.
func openProject(ctx context.Context, projects Projects, name string) (store.Store, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.NewValidation("project is required")
	}
	return projects.Project(ctx, name)
}

// folderOrRoot returns *id, or the root folder id when id is nil.
func folderOrRoot(ctx context.Context, s store.Store, id *int64) (int64, error) {
	if id != nil {
		return *id, nil
	}
	root, err := s.RootFolder(ctx)
	if err != nil {
		return 0, err
	}
	return root.ID, nil
}

// clampLimit applies the default and maximum page size.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// checkIDs rejects empty and oversized id lists.
func checkIDs(ids []int64) error {
	if len(ids) == 0 {
		return errors.NewValidation("ids must not be empty")
	}
	if len(ids) > MaxBulkIDs {
		return errors.NewValidation("too many ids")
	}
	return nil
}

func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// TagInput is a tag as submitted by a client. A nil key is stored as "null".
type TagInput struct {
	Key   *string `json:"key"`
	Value string  `json:"value"`
}

func toTags(in []TagInput) []model.Tag {
	tags := make([]model.Tag, len(in))
	for i, t := range in {
		tags[i] = model.Tag{Key: model.TagKeyOrNull(t.Key), Value: t.Value}
	}
	return tags
}
