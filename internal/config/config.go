package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Engine names.
const (
	EngineEmbedded = "embedded"
	EngineCentral  = "central"
)

// Config holds application configuration.
type Config struct {
	// Engine selects the physical store: "embedded" (one SQLite file per
	// project) or "central" (one shared database partitioned by project).
	Engine string `toml:"engine"`

	// DataDir holds per-project files and system.db in embedded mode.
	DataDir string `toml:"data_dir"`

	// CentralDSN locates the shared database in central mode. A bare path is
	// opened with the default pragmas; a "file:" URI is used as given.
	CentralDSN string `toml:"central_dsn,omitempty"`

	// LegacyDir is scanned for embedded project files that have not been
	// migrated yet when running in central mode. Defaults to DataDir.
	LegacyDir string `toml:"legacy_dir,omitempty"`

	// ArchiveLegacy renames a legacy project file to *.migrated once its data
	// has been imported.
	ArchiveLegacy bool `toml:"archive_legacy,omitempty"`

	// BusyTimeoutMs bounds how long a locked database is retried before the
	// operation fails with BUSY.
	BusyTimeoutMs int `toml:"busy_timeout_ms"`

	// DBMaxOpenConns limits the maximum number of open connections per
	// database. 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `toml:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits idle connections per database. 0 means default.
	DBMaxIdleConns int `toml:"db_max_idle_conns,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine:        EngineEmbedded,
		BusyTimeoutMs: 5000,
	}
}

// BusyTimeout returns BusyTimeoutMs as a duration.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMs) * time.Millisecond
}

// Validate checks engine selection and the paths it needs.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineEmbedded:
		if c.DataDir == "" {
			return fmt.Errorf("data_dir required for embedded engine")
		}
	case EngineCentral:
		if c.CentralDSN == "" {
			return fmt.Errorf("central_dsn required for central engine")
		}
	default:
		return fmt.Errorf("unknown engine: %q (want %s or %s)", c.Engine, EngineEmbedded, EngineCentral)
	}
	if c.BusyTimeoutMs < 0 {
		return fmt.Errorf("busy_timeout_ms must not be negative")
	}
	return nil
}

// LegacyRoot returns the directory holding legacy project files.
func (c *Config) LegacyRoot() string {
	if c.LegacyDir != "" {
		return c.LegacyDir
	}
	return c.DataDir
}

// Load loads configuration from baseDir/config.toml.
// Returns default config (with DataDir set to baseDir) if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.toml"))
	if err != nil {
		return nil, err
	}
	base := DefaultConfig()
	base.DataDir = baseDir
	return Merge(base, cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Merge combines base and overlay configs. Overlay values take precedence
// when set.
func Merge(base, overlay *Config) *Config {
	result := *base

	if s := strings.TrimSpace(overlay.Engine); s != "" {
		result.Engine = strings.ToLower(s)
	}
	if overlay.DataDir != "" {
		result.DataDir = overlay.DataDir
	}
	if overlay.CentralDSN != "" {
		result.CentralDSN = overlay.CentralDSN
	}
	if overlay.LegacyDir != "" {
		result.LegacyDir = overlay.LegacyDir
	}
	if overlay.BusyTimeoutMs != 0 {
		result.BusyTimeoutMs = overlay.BusyTimeoutMs
	}
	if overlay.DBMaxOpenConns != 0 {
		result.DBMaxOpenConns = overlay.DBMaxOpenConns
	}
	if overlay.DBMaxIdleConns != 0 {
		result.DBMaxIdleConns = overlay.DBMaxIdleConns
	}

	// Booleans: overlay wins if true, else base
	result.ArchiveLegacy = base.ArchiveLegacy || overlay.ArchiveLegacy

	return &result
}
