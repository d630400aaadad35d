package model

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// RootFolderName is the name given to a project's root folder on creation.
const RootFolderName = "Root"

// maxFolderDepth bounds ancestor walks so corrupted data cannot loop forever.
const maxFolderDepth = 10000

// invalidPathChars are rejected in folder names on every platform.
const invalidPathChars = `<>:"/\|?*`

// Folder is a node in a project's folder tree. The root folder is its own
// parent; no other folder may reference itself.
type Folder struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parent_id"`
	Name     string `json:"name"`
}

// IsRoot reports whether f is the tree root.
func (f *Folder) IsRoot() bool {
	return f.ID == f.ParentID
}

// ValidateFolderName reports whether name can be used as a folder name: it
// must be non-blank, usable as a single path segment and printable.
func ValidateFolderName(name string) bool {
	if strings.TrimSpace(name) == "" || !utf8.ValidString(name) {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(invalidPathChars, r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// WouldCycle reports whether re-parenting folderID under newParentID would
// make folderID its own ancestor. parentOf returns the parent of a folder.
func WouldCycle(folderID, newParentID int64, parentOf func(id int64) (int64, error)) (bool, error) {
	cur := newParentID
	for range maxFolderDepth {
		if cur == folderID {
			return true, nil
		}
		parent, err := parentOf(cur)
		if err != nil {
			return false, err
		}
		if parent == cur {
			return false, nil
		}
		cur = parent
	}
	return false, fmt.Errorf("folder %d: ancestor chain exceeds %d levels", newParentID, maxFolderDepth)
}
