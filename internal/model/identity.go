package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeProject validates a project name and returns its case-folded
// identity. Project lookups are case-insensitive.
func NormalizeProject(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !ValidateFolderName(name) {
		return "", fmt.Errorf("invalid project name %q", name)
	}
	return cases.Fold().String(name), nil
}

// FoldUserName case-folds a login user name.
func FoldUserName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// LoginRecord is one entry in the global login audit log.
type LoginRecord struct {
	ID        int64  `json:"id"`
	UserName  string `json:"user_name"`
	IPAddress string `json:"ip_address"`
	SessionID string `json:"session_id"`
	Date      int64  `json:"date"`
}
