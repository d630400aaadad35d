package model

import (
	"fmt"
	"sort"
	"strings"
)

// RenderTree renders the folders reachable from the root as an indented
// outline, children sorted by name then ID. Unreachable folders are skipped.
func RenderTree(folders []*Folder) string {
	children := make(map[int64][]*Folder)
	var root *Folder
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
		return ""
	}
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Name != list[j].Name {
				return list[i].Name < list[j].Name
			}
			return list[i].ID < list[j].ID
		})
	}

	var b strings.Builder
	var walk func(f *Folder, depth int)
	walk = func(f *Folder, depth int) {
		fmt.Fprintf(&b, "%s%s (%d)\n", strings.Repeat("  ", depth), f.Name, f.ID)
		for _, c := range children[f.ID] {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return b.String()
}
