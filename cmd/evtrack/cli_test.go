package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/evtrack/internal/config"
	"github.com/hpungsan/evtrack/internal/model"
	"github.com/hpungsan/evtrack/internal/ops"
	"github.com/hpungsan/evtrack/internal/store"
)

// setupTestManager creates an embedded-engine manager in a temp dir.
func setupTestManager(t *testing.T) *store.Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	m, err := store.NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// runCLI runs args against a fresh app and returns what it printed.
func runCLI(t *testing.T, projects ops.Projects, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(projects)
	var stdout, stderr bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"evtrack"}, args...))
	return stdout.String(), err
}

func TestParseID(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1", 1, false},
		{" 42 ", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseID(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1,2", "3", ",4,"})
	if err != nil {
		t.Fatalf("parseIDs failed: %v", err)
	}
	want := []int64{1, 2, 3, 4}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}

	if _, err := parseIDs(nil); err == nil {
		t.Error("expected error for no ids")
	}
	if _, err := parseIDs([]string{"1,x"}); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestParseTime(t *testing.T) {
	ms, err := parseTime("1577836800000")
	if err != nil || ms != 1577836800000 {
		t.Errorf("parseTime(ms) = %d, %v", ms, err)
	}

	ms, err = parseTime("2020-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("parseTime(RFC 3339) failed: %v", err)
	}
	if want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(); ms != want {
		t.Errorf("parseTime(RFC 3339) = %d, want %d", ms, want)
	}

	if _, err := parseTime("yesterday"); err == nil {
		t.Error("expected error for unparseable time")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		input   string
		want    uint32
		wantErr bool
	}{
		{"#FF0000", 0xFF0000, false},
		{"0x00ff00", 0x00FF00, false},
		{"255", 255, false},
		{"#GG0000", 0, true},
		{"red", 0, true},
	}
	for _, tt := range tests {
		got, err := parseColor(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseColor(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseColor(%q) = %#x, want %#x", tt.input, got, tt.want)
		}
	}
}

func TestParseTag(t *testing.T) {
	tag := parseTag("browser=firefox=nightly")
	if tag.Key == nil || *tag.Key != "browser" || tag.Value != "firefox=nightly" {
		t.Errorf("parseTag(key=value) = %+v", tag)
	}
	tag = parseTag("lonely")
	if tag.Key != nil || tag.Value != "lonely" {
		t.Errorf("parseTag(bare) = %+v, want nil key", tag)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug", nil); err != nil {
		t.Errorf("newLogger(debug) failed: %v", err)
	}
	if _, err := newLogger("loud", nil); err == nil {
		t.Error("expected error for unknown level")
	}
}

// TestCLIFolders tests the folder command group.
func TestCLIFolders(t *testing.T) {
	m := setupTestManager(t)

	out, err := runCLI(t, m, "folder", "create", "-p", "acme", "Bugs")
	if err != nil {
		t.Fatalf("folder create failed: %v", err)
	}
	var created ops.FolderOutput
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if created.Folder.Name != "Bugs" || created.Folder.ParentID != 1 {
		t.Errorf("unexpected folder: %+v", created.Folder)
	}

	parent := "--parent=" + itoa(created.Folder.ID)
	if _, err := runCLI(t, m, "folder", "create", "-p", "acme", parent, "UI"); err != nil {
		t.Fatalf("folder create (child) failed: %v", err)
	}

	out, err = runCLI(t, m, "folder", "list", "--project", "acme")
	if err != nil {
		t.Fatalf("folder list failed: %v", err)
	}
	var listed ops.ListFoldersOutput
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(listed.Items) != 3 {
		t.Errorf("expected 3 folders, got %d", len(listed.Items))
	}

	out, err = runCLI(t, m, "folder", "tree", "-p", "acme")
	if err != nil {
		t.Fatalf("folder tree failed: %v", err)
	}
	if !strings.Contains(out, "UI") || !strings.Contains(out, "Root") {
		t.Errorf("tree output missing folders:\n%s", out)
	}

	if _, err := runCLI(t, m, "folder", "rename", "-p", "acme", itoa(created.Folder.ID), "Defects"); err != nil {
		t.Fatalf("folder rename failed: %v", err)
	}

	_, err = runCLI(t, m, "folder", "delete", "-p", "acme", itoa(created.Folder.ID))
	if err == nil || !strings.Contains(err.Error(), "[CONFLICT]") {
		t.Errorf("expected CONFLICT deleting a non-empty folder, got %v", err)
	}
	if _, err := runCLI(t, m, "folder", "delete", "-p", "acme", "--cascade", itoa(created.Folder.ID)); err != nil {
		t.Fatalf("folder delete --cascade failed: %v", err)
	}
}

// TestCLIEvents tests the event command group.
func TestCLIEvents(t *testing.T) {
	m := setupTestManager(t)

	out, err := runCLI(t, m, "event", "add", "-p", "acme",
		"--type", "error", "--message", "boom", "--sub-type", "crash",
		"--date", "2020-01-01T00:00:00Z", "--color", "#FF0000",
		"--tag", "Date=2020", "--tag", "browser=firefox")
	if err != nil {
		t.Fatalf("event add failed: %v", err)
	}
	var added ops.EventOutput
	if err := json.Unmarshal([]byte(out), &added); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if added.Event.Color != 0xFF0000 {
		t.Errorf("expected color 0xFF0000, got %#x", added.Event.Color)
	}
	if added.Event.Tags[0].Key != "Tag_Date" {
		t.Errorf("expected reserved key to be prefixed, got %q", added.Event.Tags[0].Key)
	}
	id := itoa(added.Event.ID)

	out, err = runCLI(t, m, "event", "get", "-p", "acme", id)
	if err != nil {
		t.Fatalf("event get failed: %v", err)
	}
	var got ops.EventOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if got.Event.Message != "boom" || got.Event.Type != model.EventTypeError {
		t.Errorf("unexpected event: %+v", got.Event)
	}

	if _, err := runCLI(t, m, "event", "add", "-p", "acme", "--type", "info"); err != nil {
		t.Fatalf("event add (second) failed: %v", err)
	}

	out, err = runCLI(t, m, "event", "query", "-p", "acme", "--type", "Error", "--tag-key", "BROWSER")
	if err != nil {
		t.Fatalf("event query failed: %v", err)
	}
	var page ops.QueryEventsOutput
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != added.Event.ID {
		t.Errorf("expected only event %d, got %+v", added.Event.ID, page.Items)
	}
	if page.Pagination.Limit != ops.DefaultQueryLimit {
		t.Errorf("expected default limit, got %d", page.Pagination.Limit)
	}

	folder, err := runCLI(t, m, "folder", "create", "-p", "acme", "Triage")
	if err != nil {
		t.Fatal(err)
	}
	var triage ops.FolderOutput
	if err := json.Unmarshal([]byte(folder), &triage); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, m, "event", "move", "-p", "acme", "--folder", itoa(triage.Folder.ID), id); err != nil {
		t.Fatalf("event move failed: %v", err)
	}

	out, err = runCLI(t, m, "event", "delete", "-p", "acme", id+",999")
	if err != nil {
		t.Fatalf("event delete failed: %v", err)
	}
	var deleted ops.DeleteEventsOutput
	if err := json.Unmarshal([]byte(out), &deleted); err != nil {
		t.Fatal(err)
	}
	if deleted.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted.Deleted)
	}
}

// TestCLILogins tests the login command group.
func TestCLILogins(t *testing.T) {
	m := setupTestManager(t)

	for _, user := range []string{"Alice", "bob"} {
		if _, err := runCLI(t, m, "login", "add", "--user", user, "--ip", "10.0.0.1", "--date", "1000"); err != nil {
			t.Fatalf("login add failed: %v", err)
		}
	}

	out, err := runCLI(t, m, "login", "query", "--user", "ALICE")
	if err != nil {
		t.Fatalf("login query failed: %v", err)
	}
	var logins ops.QueryLoginsOutput
	if err := json.Unmarshal([]byte(out), &logins); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(logins.Items) != 1 || logins.Items[0].UserName != "alice" {
		t.Errorf("unexpected logins: %+v", logins.Items)
	}
}

// TestCLIMigrate tests the migrate command on the embedded engine.
func TestCLIMigrate(t *testing.T) {
	m := setupTestManager(t)

	out, err := runCLI(t, m, "migrate", "acme")
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	var res store.MigrateResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if res.Imported {
		t.Error("embedded engine should not import")
	}
}

// TestCLIErrorHandling tests error handling in CLI commands.
func TestCLIErrorHandling(t *testing.T) {
	m := setupTestManager(t)

	t.Run("missing project flag", func(t *testing.T) {
		if _, err := runCLI(t, m, "folder", "list"); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("not found carries code", func(t *testing.T) {
		_, err := runCLI(t, m, "event", "get", "-p", "acme", "12345")
		if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
			t.Errorf("expected [NOT_FOUND], got %v", err)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := runCLI(t, m, "folder", "delete", "-p", "acme", "root")
		if err == nil || !strings.Contains(err.Error(), "[VALIDATION]") {
			t.Errorf("expected [VALIDATION], got %v", err)
		}
	})

	t.Run("invalid event type", func(t *testing.T) {
		_, err := runCLI(t, m, "event", "add", "-p", "acme", "--type", "Fatal")
		if err == nil || !strings.Contains(err.Error(), "[VALIDATION]") {
			t.Errorf("expected [VALIDATION], got %v", err)
		}
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := runCLI(t, m, "folder", "move", "-p", "acme", "--parent", "1", "1")
		if err == nil {
			t.Error("expected error moving the root")
		}
	})
}

// TestCLIFromFlags builds the manager from global flags instead of an
// injected one.
func TestCLIFromFlags(t *testing.T) {
	home := t.TempDir()
	dataDir := t.TempDir()

	out, err := runCLI(t, nil, "--home", home, "--data-dir", dataDir, "folder", "create", "-p", "acme", "Bugs")
	if err != nil {
		t.Fatalf("folder create failed: %v", err)
	}
	if !strings.Contains(out, `"Bugs"`) {
		t.Errorf("unexpected output: %s", out)
	}

	// A second process sees the same project.
	out, err = runCLI(t, nil, "--home", home, "--data-dir", dataDir, "folder", "list", "-p", "ACME")
	if err != nil {
		t.Fatalf("folder list failed: %v", err)
	}
	if !strings.Contains(out, `"Bugs"`) {
		t.Errorf("folder not persisted: %s", out)
	}

	_, err = runCLI(t, nil, "--home", home, "--engine", "central", "folder", "list", "-p", "acme")
	if err == nil || !strings.Contains(err.Error(), "central_dsn") {
		t.Errorf("expected config validation error, got %v", err)
	}
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
