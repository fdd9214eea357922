package confloader

import (
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Wire struct {
		Addr      string `koanf:"addr"`
		RateLimit int    `koanf:"ratelimit"`
	} `koanf:"wire"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

func TestLoadFileAndEnvPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clipmesh.yaml")
	yaml := "wire:\n  addr: \"127.0.0.1:9401\"\n  ratelimit: 50\nlog:\n  level: info\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// Environment overrides the file.
	t.Setenv("CLIPMESH_LOG_LEVEL", "debug")

	var cfg testConfig
	l := NewLoader(WithConfigFile(path))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wire.Addr != "127.0.0.1:9401" || cfg.Wire.RateLimit != 50 {
		t.Fatalf("file values lost: %+v", cfg.Wire)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q, env must win over file", cfg.Log.Level)
	}
}

func TestLoadMapOverride(t *testing.T) {
	var cfg testConfig
	l := NewLoader()
	if err := l.LoadMap(map[string]any{"wire.addr": "0.0.0.0:9500"}); err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if err := l.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if cfg.Wire.Addr != "0.0.0.0:9500" {
		t.Fatalf("addr = %q", cfg.Wire.Addr)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	l := NewLoader(WithConfigFile(filepath.Join(t.TempDir(), "absent.yaml")))
	var cfg testConfig
	if err := l.Load(&cfg); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
