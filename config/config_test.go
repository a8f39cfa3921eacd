package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "psp.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8089" {
		t.Errorf("addr: %s", cfg.Server.Addr)
	}
	if cfg.Store.Path != "db/sessions.db" {
		t.Errorf("store path: %s", cfg.Store.Path)
	}
	if cfg.Browser.Headless == nil || !*cfg.Browser.Headless {
		t.Error("headless must default to true")
	}
	if cfg.Trace.Enabled == nil || !*cfg.Trace.Enabled {
		t.Error("trace must default to enabled")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level: %s", cfg.Log.Level)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read timeout: %v", cfg.Server.ReadTimeout)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  mcp_transport: stdio
browser:
  remote: ws://chrome:9222
  headless: false
  stealth: true
store:
  path: /var/psp/sessions.db
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr: %s", cfg.Server.Addr)
	}
	if cfg.Server.MCPTransport != "stdio" {
		t.Errorf("mcp transport: %s", cfg.Server.MCPTransport)
	}
	if cfg.Browser.Remote != "ws://chrome:9222" {
		t.Errorf("remote: %s", cfg.Browser.Remote)
	}
	if cfg.Browser.Headless == nil || *cfg.Browser.Headless {
		t.Error("explicit headless: false must survive defaulting")
	}
	if !cfg.Browser.Stealth {
		t.Error("stealth not read")
	}
	if cfg.Store.Path != "/var/psp/sessions.db" {
		t.Errorf("store path: %s", cfg.Store.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level: %s", cfg.Log.Level)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
store:
  path: from-file.db
`)
	t.Setenv("PSP_ADDR", ":7777")
	t.Setenv("PSP_STORE_DB", "from-env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("env must override file: %s", cfg.Server.Addr)
	}
	if cfg.Store.Path != "from-env.db" {
		t.Errorf("env must override file: %s", cfg.Store.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml must error")
	}
}
