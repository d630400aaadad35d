package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/store"
)

// MigrateInput contains parameters for the Migrate operation.
type MigrateInput struct {
	Project string
}

// Migrate opens a project, importing legacy data if any is pending. A
// project whose earlier import failed is retried.
func Migrate(ctx context.Context, projects Projects, input MigrateInput) (*store.MigrateResult, error) {
	if strings.TrimSpace(input.Project) == "" {
		return nil, errors.NewValidation("project is required")
	}
	return projects.Migrate(ctx, input.Project)
}
