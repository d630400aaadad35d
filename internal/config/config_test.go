package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine != EngineEmbedded {
		t.Errorf("Engine = %q, want %q", cfg.Engine, EngineEmbedded)
	}
	if cfg.BusyTimeoutMs != 5000 {
		t.Errorf("BusyTimeoutMs = %d, want 5000", cfg.BusyTimeoutMs)
	}
	if cfg.BusyTimeout() != 5*time.Second {
		t.Errorf("BusyTimeout() = %v, want 5s", cfg.BusyTimeout())
	}
}

func TestLoad_NoFile(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine != EngineEmbedded {
		t.Errorf("Engine = %q, want %q", cfg.Engine, EngineEmbedded)
	}
	if cfg.DataDir != tmpDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, tmpDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_WithFile(t *testing.T) {
	tmpDir := t.TempDir()

	content := `
engine = "Central"
central_dsn = "/srv/evtrack/central.db"
legacy_dir = "/srv/evtrack/legacy"
archive_legacy = true
busy_timeout_ms = 250
db_max_open_conns = 4
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine != EngineCentral {
		t.Errorf("Engine = %q, want %q", cfg.Engine, EngineCentral)
	}
	if cfg.CentralDSN != "/srv/evtrack/central.db" {
		t.Errorf("CentralDSN = %q", cfg.CentralDSN)
	}
	if cfg.LegacyRoot() != "/srv/evtrack/legacy" {
		t.Errorf("LegacyRoot() = %q", cfg.LegacyRoot())
	}
	if !cfg.ArchiveLegacy {
		t.Error("ArchiveLegacy = false, want true")
	}
	if cfg.BusyTimeoutMs != 250 {
		t.Errorf("BusyTimeoutMs = %d, want 250", cfg.BusyTimeoutMs)
	}
	if cfg.DBMaxOpenConns != 4 {
		t.Errorf("DBMaxOpenConns = %d, want 4", cfg.DBMaxOpenConns)
	}
	if cfg.DataDir != tmpDir {
		t.Errorf("DataDir = %q, want base dir default", cfg.DataDir)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("engine = ["), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Error("Load() should fail on malformed TOML")
	}
}

func TestLegacyRoot_DefaultsToDataDir(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if cfg.LegacyRoot() != "/data" {
		t.Errorf("LegacyRoot() = %q, want /data", cfg.LegacyRoot())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"embedded ok", Config{Engine: EngineEmbedded, DataDir: "/d"}, false},
		{"embedded without data dir", Config{Engine: EngineEmbedded}, true},
		{"central ok", Config{Engine: EngineCentral, CentralDSN: "/c.db"}, false},
		{"central without dsn", Config{Engine: EngineCentral}, true},
		{"unknown engine", Config{Engine: "postgres", DataDir: "/d"}, true},
		{"negative timeout", Config{Engine: EngineEmbedded, DataDir: "/d", BusyTimeoutMs: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := &Config{Engine: EngineEmbedded, DataDir: "/base", BusyTimeoutMs: 5000, DBMaxOpenConns: 2}
	overlay := &Config{Engine: "CENTRAL", CentralDSN: "/c.db", DBMaxIdleConns: 3}

	result := Merge(base, overlay)

	if result.Engine != EngineCentral {
		t.Errorf("Engine = %q, want %q", result.Engine, EngineCentral)
	}
	if result.DataDir != "/base" {
		t.Errorf("DataDir = %q, want /base", result.DataDir)
	}
	if result.CentralDSN != "/c.db" {
		t.Errorf("CentralDSN = %q", result.CentralDSN)
	}
	if result.BusyTimeoutMs != 5000 {
		t.Errorf("BusyTimeoutMs = %d, want 5000", result.BusyTimeoutMs)
	}
	if result.DBMaxOpenConns != 2 || result.DBMaxIdleConns != 3 {
		t.Errorf("pool = %d/%d, want 2/3", result.DBMaxOpenConns, result.DBMaxIdleConns)
	}
	if base.Engine != EngineEmbedded {
		t.Error("Merge must not modify base")
	}
}
