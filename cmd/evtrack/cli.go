package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/evtrack/internal/config"
	"github.com/hpungsan/evtrack/internal/errors"
	"github.com/hpungsan/evtrack/internal/ops"
	"github.com/hpungsan/evtrack/internal/store"
)

// appState builds the store manager on first use, after global flags are
// parsed.
type appState struct {
	projects ops.Projects
	close    func() error
}

func (s *appState) get(c *cli.Context) (ops.Projects, error) {
	if s.projects != nil {
		return s.projects, nil
	}

	home := c.String("home")
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine home directory: %w", err)
		}
		home = filepath.Join(dir, ".evtrack")
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	cfg = config.Merge(cfg, &config.Config{
		Engine:        c.String("engine"),
		DataDir:       c.String("data-dir"),
		CentralDSN:    c.String("central-dsn"),
		LegacyDir:     c.String("legacy-dir"),
		ArchiveLegacy: c.Bool("archive-legacy"),
	})

	logger, err := newLogger(c.String("log-level"), c.App.ErrWriter)
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	m, err := store.NewManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.projects = m
	s.close = m.Close
	return m, nil
}

// newLogger returns a text logger writing to w at level.
func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// newCLIApp creates the CLI application. A nil projects is built from
// config and flags on first use.
func newCLIApp(projects ops.Projects) *cli.App {
	state := &appState{projects: projects}

	app := &cli.App{
		Name:    "evtrack",
		Usage:   "Per-project event store",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "home", Usage: "Directory holding config.toml (default ~/.evtrack)", EnvVars: []string{"EVTRACK_HOME"}},
			&cli.StringFlag{Name: "engine", Usage: "Storage engine: embedded|central", EnvVars: []string{"EVTRACK_ENGINE"}},
			&cli.StringFlag{Name: "data-dir", Usage: "Directory of per-project files", EnvVars: []string{"EVTRACK_DATA_DIR"}},
			&cli.StringFlag{Name: "central-dsn", Usage: "Shared database path or file: URI", EnvVars: []string{"EVTRACK_CENTRAL_DSN"}},
			&cli.StringFlag{Name: "legacy-dir", Usage: "Directory of legacy project files to import", EnvVars: []string{"EVTRACK_LEGACY_DIR"}},
			&cli.BoolFlag{Name: "archive-legacy", Usage: "Rename imported legacy files to *.migrated", EnvVars: []string{"EVTRACK_ARCHIVE_LEGACY"}},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug|info|warn|error", EnvVars: []string{"EVTRACK_LOG_LEVEL"}},
		},
		Commands: []*cli.Command{
			folderCmd(state),
			eventCmd(state),
			loginCmd(state),
			migrateCmd(state),
		},
		After: func(_ *cli.Context) error {
			if state.close != nil {
				return state.close()
			}
			return nil
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func projectFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "project",
		Aliases:  []string{"p"},
		Usage:    "Project name",
		EnvVars:  []string{"EVTRACK_PROJECT"},
		Required: true,
	}
}

// folderCmd creates the folder command group.
func folderCmd(state *appState) *cli.Command {
	return &cli.Command{
		Name:  "folder",
		Usage: "Manage a project's folder tree",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a folder",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.Int64Flag{Name: "parent", Usage: "Parent folder id (default: root)"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return outputError(errors.NewValidation("folder name is required"))
					}
					input := ops.CreateFolderInput{Project: c.String("project"), Name: c.Args().First()}
					if c.IsSet("parent") {
						parent := c.Int64("parent")
						input.ParentID = &parent
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.CreateFolder(c.Context, p, input)
					})
				},
			},
			{
				Name:  "list",
				Usage: "List every folder",
				Flags: []cli.Flag{projectFlag()},
				Action: func(c *cli.Context) error {
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.ListFolders(c.Context, p, ops.ListFoldersInput{Project: c.String("project")})
					})
				},
			},
			{
				Name:  "tree",
				Usage: "Print the folder tree",
				Flags: []cli.Flag{projectFlag()},
				Action: func(c *cli.Context) error {
					p, err := state.get(c)
					if err != nil {
						return outputError(err)
					}
					out, err := ops.ListFolders(c.Context, p, ops.ListFoldersInput{Project: c.String("project")})
					if err != nil {
						return outputError(err)
					}
					_, err = io.WriteString(c.App.Writer, out.Tree)
					return err
				},
			},
			{
				Name:      "rename",
				Usage:     "Rename a folder",
				ArgsUsage: "<id> <name>",
				Flags:     []cli.Flag{projectFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return outputError(errors.NewValidation("usage: folder rename <id> <name>"))
					}
					id, err := parseID(c.Args().Get(0))
					if err != nil {
						return outputError(err)
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.RenameFolder(c.Context, p, ops.RenameFolderInput{
							Project: c.String("project"), ID: id, Name: c.Args().Get(1),
						})
					})
				},
			},
			{
				Name:      "move",
				Usage:     "Move a folder under another",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.Int64Flag{Name: "parent", Usage: "New parent folder id", Required: true},
				},
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.MoveFolder(c.Context, p, ops.MoveFolderInput{
							Project: c.String("project"), ID: id, ParentID: c.Int64("parent"),
						})
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a folder",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.BoolFlag{Name: "cascade", Usage: "Also delete sub-folders and events"},
				},
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.DeleteFolder(c.Context, p, ops.DeleteFolderInput{
							Project: c.String("project"), ID: id, Cascade: c.Bool("cascade"),
						})
					})
				},
			},
		},
	}
}

// eventCmd creates the event command group.
func eventCmd(state *appState) *cli.Command {
	return &cli.Command{
		Name:  "event",
		Usage: "Record and query events",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Record an event",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Error|Info|Debug", Required: true},
					&cli.StringFlag{Name: "sub-type", Usage: "Free-form sub-type"},
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Message text"},
					&cli.Int64Flag{Name: "folder", Usage: "Folder id (default: root)"},
					&cli.StringFlag{Name: "date", Usage: "Occurrence time: ms since epoch or RFC 3339 (default: now)"},
					&cli.StringFlag{Name: "color", Usage: "Display colour: #RRGGBB or integer"},
					&cli.StringSliceFlag{Name: "tag", Usage: "Tag as key=value (repeatable); a bare value has no key"},
				},
				Action: func(c *cli.Context) error {
					input := ops.AddEventInput{
						Project: c.String("project"),
						Type:    c.String("type"),
						SubType: c.String("sub-type"),
						Message: c.String("message"),
					}
					if c.IsSet("folder") {
						folder := c.Int64("folder")
						input.FolderID = &folder
					}
					if s := c.String("date"); s != "" {
						date, err := parseTime(s)
						if err != nil {
							return outputError(err)
						}
						input.Date = &date
					}
					if s := c.String("color"); s != "" {
						color, err := parseColor(s)
						if err != nil {
							return outputError(err)
						}
						input.Color = &color
					}
					for _, raw := range c.StringSlice("tag") {
						input.Tags = append(input.Tags, parseTag(raw))
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.AddEvent(c.Context, p, input)
					})
				},
			},
			{
				Name:      "get",
				Usage:     "Show one event",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{projectFlag()},
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.GetEvent(c.Context, p, ops.GetEventInput{Project: c.String("project"), ID: id})
					})
				},
			},
			{
				Name:  "query",
				Usage: "Query events in a folder",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.Int64Flag{Name: "folder", Usage: "Folder id (default: root)"},
					&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "Include sub-folders"},
					&cli.StringSliceFlag{Name: "type", Usage: "Event type filter (repeatable)"},
					&cli.StringFlag{Name: "sub-type", Usage: "Sub-type filter"},
					&cli.StringFlag{Name: "tag-key", Usage: "Tag key filter (case-insensitive)"},
					&cli.StringFlag{Name: "tag-value", Usage: "Tag value filter (requires --tag-key)"},
					&cli.StringFlag{Name: "from", Usage: "Inclusive start: ms or RFC 3339"},
					&cli.StringFlag{Name: "to", Usage: "Exclusive end: ms or RFC 3339"},
					&cli.StringFlag{Name: "sort", Value: "date_desc", Usage: "date_desc|date_asc|id_asc|id_desc"},
					&cli.IntFlag{Name: "limit", Value: ops.DefaultQueryLimit, Usage: "Max results (max: 500)"},
					&cli.IntFlag{Name: "offset", Usage: "Results to skip"},
				},
				Action: func(c *cli.Context) error {
					input := ops.QueryEventsInput{
						Project:   c.String("project"),
						Recursive: c.Bool("recursive"),
						Types:     c.StringSlice("type"),
						SubType:   c.String("sub-type"),
						Sort:      c.String("sort"),
						Limit:     c.Int("limit"),
						Offset:    c.Int("offset"),
					}
					if c.IsSet("folder") {
						folder := c.Int64("folder")
						input.FolderID = &folder
					}
					if c.IsSet("tag-key") {
						key := c.String("tag-key")
						input.TagKey = &key
					}
					if c.IsSet("tag-value") {
						value := c.String("tag-value")
						input.TagValue = &value
					}
					var err error
					if input.From, err = optionalTime(c, "from"); err != nil {
						return outputError(err)
					}
					if input.To, err = optionalTime(c, "to"); err != nil {
						return outputError(err)
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.QueryEvents(c.Context, p, input)
					})
				},
			},
			{
				Name:      "move",
				Usage:     "Move events to a folder",
				ArgsUsage: "<id>...",
				Flags: []cli.Flag{
					projectFlag(),
					&cli.Int64Flag{Name: "folder", Usage: "Target folder id", Required: true},
				},
				Action: func(c *cli.Context) error {
					ids, err := parseIDs(c.Args().Slice())
					if err != nil {
						return outputError(err)
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.MoveEvents(c.Context, p, ops.MoveEventsInput{
							Project: c.String("project"), IDs: ids, FolderID: c.Int64("folder"),
						})
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete events",
				ArgsUsage: "<id>...",
				Flags:     []cli.Flag{projectFlag()},
				Action: func(c *cli.Context) error {
					ids, err := parseIDs(c.Args().Slice())
					if err != nil {
						return outputError(err)
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.DeleteEvents(c.Context, p, ops.DeleteEventsInput{Project: c.String("project"), IDs: ids})
					})
				},
			},
		},
	}
}

// loginCmd creates the login command group.
func loginCmd(state *appState) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Record and query the login audit log",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Record a login",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User name", Required: true},
					&cli.StringFlag{Name: "ip", Usage: "Client IP address"},
					&cli.StringFlag{Name: "session", Usage: "Session id"},
					&cli.StringFlag{Name: "date", Usage: "Login time: ms or RFC 3339 (default: now)"},
				},
				Action: func(c *cli.Context) error {
					input := ops.RecordLoginInput{
						UserName:  c.String("user"),
						IPAddress: c.String("ip"),
						SessionID: c.String("session"),
					}
					var err error
					if input.Date, err = optionalTime(c, "date"); err != nil {
						return outputError(err)
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.RecordLogin(c.Context, p, input)
					})
				},
			},
			{
				Name:  "query",
				Usage: "List logins, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User name filter"},
					&cli.StringFlag{Name: "from", Usage: "Inclusive start: ms or RFC 3339"},
					&cli.StringFlag{Name: "to", Usage: "Exclusive end: ms or RFC 3339"},
					&cli.IntFlag{Name: "limit", Value: ops.DefaultQueryLimit, Usage: "Max results (max: 500)"},
				},
				Action: func(c *cli.Context) error {
					input := ops.QueryLoginsInput{Limit: c.Int("limit")}
					if c.IsSet("user") {
						user := c.String("user")
						input.UserName = &user
					}
					var err error
					if input.From, err = optionalTime(c, "from"); err != nil {
						return outputError(err)
					}
					if input.To, err = optionalTime(c, "to"); err != nil {
						return outputError(err)
					}
					return run(c, state, func(p ops.Projects) (any, error) {
						return ops.QueryLogins(c.Context, p, input)
					})
				},
			},
		},
	}
}

// migrateCmd creates the migrate command.
func migrateCmd(state *appState) *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "Import a project's legacy data into the central database (retries a failed import)",
		ArgsUsage: "<project>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewValidation("project name is required"))
			}
			return run(c, state, func(p ops.Projects) (any, error) {
				return ops.Migrate(c.Context, p, ops.MigrateInput{Project: c.Args().First()})
			})
		},
	}
}

// Helper functions

// run resolves the manager, runs op and prints its result as JSON.
func run(c *cli.Context, state *appState, op func(p ops.Projects) (any, error)) error {
	p, err := state.get(c)
	if err != nil {
		return outputError(err)
	}
	out, err := op(p)
	if err != nil {
		return outputError(err)
	}
	return outputJSON(c.App.Writer, out)
}

// outputJSON marshals result to w as JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var evErr *errors.EvError
	if stderrors.As(err, &evErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", evErr.Code, evErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseID parses a positive int64 id.
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewValidation(fmt.Sprintf("invalid id %q", s))
	}
	return id, nil
}

// parseIDs parses ids given as separate or comma-separated arguments.
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := parseID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.NewValidation("at least one id is required")
	}
	return ids, nil
}

// parseTime accepts milliseconds since the epoch or an RFC 3339 timestamp.
func parseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, errors.NewValidation(fmt.Sprintf("invalid time %q (want ms since epoch or RFC 3339)", s))
	}
	return t.UnixMilli(), nil
}

func optionalTime(c *cli.Context, flag string) (*int64, error) {
	if !c.IsSet(flag) {
		return nil, nil
	}
	ms, err := parseTime(c.String(flag))
	if err != nil {
		return nil, err
	}
	return &ms, nil
}

// parseColor accepts "#RRGGBB", "0xRRGGBB" or a decimal integer.
func parseColor(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	var v uint64
	var err error
	switch {
	case strings.HasPrefix(s, "#"):
		v, err = strconv.ParseUint(s[1:], 16, 32)
	case strings.HasPrefix(strings.ToLower(s), "0x"):
		v, err = strconv.ParseUint(s[2:], 16, 32)
	default:
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, errors.NewValidation(fmt.Sprintf("invalid color %q", s))
	}
	return uint32(v), nil
}

// parseTag splits "key=value". Without "=" the tag has no key.
func parseTag(s string) ops.TagInput {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return ops.TagInput{Value: s}
	}
	return ops.TagInput{Key: &key, Value: value}
}
