// Package config loads service configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Store   StoreConfig   `yaml:"store"`
	Trace   TraceConfig   `yaml:"trace"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig controls the HTTP listener and the MCP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// AuthTokenHash is a bcrypt hash of the bearer token. Empty disables auth.
	AuthTokenHash string `yaml:"auth_token_hash"`
	// MCPTransport selects the MCP transport: "" (disabled) or "stdio".
	MCPTransport string        `yaml:"mcp_transport"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome.
	Remote   string `yaml:"remote"`
	Headless *bool  `yaml:"headless"`
	// Stealth enables the stealth page-creation path.
	Stealth bool `yaml:"stealth"`
}

// StoreConfig controls snapshot persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TraceConfig controls SQL trace persistence.
type TraceConfig struct {
	Path    string `yaml:"path"`
	Enabled *bool  `yaml:"enabled"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Load reads a YAML configuration file, applies environment overrides, and
// fills defaults. An empty path skips the file and uses env + defaults only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PSP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PSP_AUTH_TOKEN_HASH"); v != "" {
		c.Server.AuthTokenHash = v
	}
	if v := os.Getenv("PSP_MCP_TRANSPORT"); v != "" {
		c.Server.MCPTransport = v
	}
	if v := os.Getenv("PSP_BROWSER_REMOTE"); v != "" {
		c.Browser.Remote = v
	}
	if v := os.Getenv("PSP_STORE_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("PSP_TRACE_DB"); v != "" {
		c.Trace.Path = v
	}
	if v := os.Getenv("PSP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8089"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Browser.Headless == nil {
		v := true
		c.Browser.Headless = &v
	}
	if c.Store.Path == "" {
		c.Store.Path = "db/sessions.db"
	}
	if c.Trace.Path == "" {
		c.Trace.Path = "db/traces.db"
	}
	if c.Trace.Enabled == nil {
		v := true
		c.Trace.Enabled = &v
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
