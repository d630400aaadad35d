package ops

import (
	"context"

	"github.com/hpungsan/evtrack/internal/model"
)

// CreateFolderInput contains parameters for the CreateFolder operation.
type CreateFolderInput struct {
	Project  string
	Name     string
	ParentID *int64 // default: root folder
}

// FolderOutput contains a single folder.
type FolderOutput struct {
	Project string       `json:"project"`
	Folder  model.Folder `json:"folder"`
}

// CreateFolder adds a folder to a project.
func CreateFolder(ctx context.Context, projects Projects, input CreateFolderInput) (*FolderOutput, error) {
	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	parent, err := folderOrRoot(ctx, s, input.ParentID)
	if err != nil {
		return nil, err
	}
	f, err := s.CreateFolder(ctx, input.Name, parent)
	if err != nil {
		return nil, err
	}
	return &FolderOutput{Project: s.Project(), Folder: *f}, nil
}

// ListFoldersInput contains parameters for the ListFolders operation.
type ListFoldersInput struct {
	Project string
}

// ListFoldersOutput contains every folder of a project.
type ListFoldersOutput struct {
	Project string         `json:"project"`
	Items   []model.Folder `json:"items"`
	Tree    string         `json:"tree"`
}

// ListFolders returns a project's folders ordered by id, plus the rendered
// tree.
func ListFolders(ctx context.Context, projects Projects, input ListFoldersInput) (*ListFoldersOutput, error) {
	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	folders, err := s.ListFolders(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]model.Folder, len(folders))
	for i, f := range folders {
		items[i] = *f
	}
	return &ListFoldersOutput{
		Project: s.Project(),
		Items:   items,
		Tree:    model.RenderTree(folders),
	}, nil
}

// RenameFolderInput contains parameters for the RenameFolder operation.
type RenameFolderInput struct {
	Project string
	ID      int64
	Name    string
}

// RenameFolder renames a folder. The root may be renamed.
func RenameFolder(ctx context.Context, projects Projects, input RenameFolderInput) (*FolderOutput, error) {
	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	f, err := s.RenameFolder(ctx, input.ID, input.Name)
	if err != nil {
		return nil, err
	}
	return &FolderOutput{Project: s.Project(), Folder: *f}, nil
}

// MoveFolderInput contains parameters for the MoveFolder operation.
type MoveFolderInput struct {
	Project  string
	ID       int64
	ParentID int64
}

// MoveFolder re-parents a folder.
func MoveFolder(ctx context.Context, projects Projects, input MoveFolderInput) (*FolderOutput, error) {
	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	f, err := s.MoveFolder(ctx, input.ID, input.ParentID)
	if err != nil {
		return nil, err
	}
	return &FolderOutput{Project: s.Project(), Folder: *f}, nil
}

// DeleteFolderInput contains parameters for the DeleteFolder operation.
type DeleteFolderInput struct {
	Project string
	ID      int64
	Cascade bool
}

// DeleteFolderOutput contains the result of the DeleteFolder operation.
type DeleteFolderOutput struct {
	Deleted bool  `json:"deleted"`
	ID      int64 `json:"id"`
	Cascade bool  `json:"cascade"`
}

// DeleteFolder removes a folder; see store.Store.DeleteFolder.
func DeleteFolder(ctx context.Context, projects Projects, input DeleteFolderInput) (*DeleteFolderOutput, error) {
	s, err := openProject(ctx, projects, input.Project)
	if err != nil {
		return nil, err
	}
	if err := s.DeleteFolder(ctx, input.ID, input.Cascade); err != nil {
		return nil, err
	}
	return &DeleteFolderOutput{Deleted: true, ID: input.ID, Cascade: input.Cascade}, nil
}
