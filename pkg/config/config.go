// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon and CLI look for a config file when none
// is given.
const DefaultPath = "/etc/rehook/rehook.yaml"

// Config is the top-level configuration for rehook.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"REHOOK_LOG_LEVEL"`
	LogFile   LogFileConfig   `yaml:"log_file"`
	StateDir  string          `yaml:"state_dir" env:"REHOOK_STATE_DIR"`
	Control   ControlConfig   `yaml:"control"`
	Hooks     HooksConfig     `yaml:"hooks"`
	Filter    FilterConfig    `yaml:"filter"`
	Journal   JournalConfig   `yaml:"journal"`
	Exporters ExportersConfig `yaml:"exporters"`
	Health    HealthConfig    `yaml:"health"`
}

// LogFileConfig enables rotated file logging in addition to stderr.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type ControlConfig struct {
	SocketPath     string        `yaml:"socket_path"`
	Token          string        `yaml:"token"`
	TokenFile      string        `yaml:"token_file"`
	MaxConnections int           `yaml:"max_connections"`
	IOTimeout      time.Duration `yaml:"io_timeout"`
}

// ResolveToken returns the inline token, or the trimmed contents of
// token_file when no inline token is set.
func (c *ControlConfig) ResolveToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	if c.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// HooksConfig defines the two hook sets. Set definitions are read once at
// daemon start.
type HooksConfig struct {
	Minimal HookSetConfig `yaml:"minimal"`
	Target  HookSetConfig `yaml:"target"`
}

// HookSetConfig lists syscalls by name (or number) and the argument arity
// the filter sees.
type HookSetConfig struct {
	Syscalls []string `yaml:"syscalls"`
	Arity    int      `yaml:"arity"`
}

// FilterConfig is the pre-call filter policy. With enforce off the filter
// only observes callers.
type FilterConfig struct {
	PrivilegedUID uint32 `yaml:"privileged_uid"`
	Enforce       bool   `yaml:"enforce"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ExportersConfig struct {
	OTLP   OTLPConfig   `yaml:"otlp"`
	Stdout StdoutConfig `yaml:"stdout"`
}

type OTLPConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
}

type StdoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "text" or "json"
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path. When optional is set and the file does not exist
// the defaults (with env overrides) are returned instead.
func LoadOrDefault(path string, optional bool) (*Config, error) {
	if optional {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.ApplyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("validate config: %w", err)
			}
			return cfg, nil
		}
	}
	return Load(path)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogFile: LogFileConfig{
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		StateDir: "/var/run/rehook",
		Control: ControlConfig{
			SocketPath:     "/var/run/rehook/control.sock",
			MaxConnections: 16,
			IOTimeout:      5 * time.Second,
		},
		Hooks: HooksConfig{
			Minimal: HookSetConfig{
				Syscalls: []string{"getpriority"},
				Arity:    2,
			},
			Target: HookSetConfig{
				Syscalls: []string{"getpriority", "setpriority", "prctl", "ptrace", "perf_event_open", "bpf"},
				Arity:    5,
			},
		},
		Filter: FilterConfig{
			PrivilegedUID: 0,
			Enforce:       false,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "/var/lib/rehook/journal.db",
		},
		Exporters: ExportersConfig{
			OTLP: OTLPConfig{
				Enabled:  false,
				Endpoint: "localhost:4317",
				Insecure: true,
			},
			Stdout: StdoutConfig{
				Enabled: false,
				Format:  "text",
			},
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8687",
		},
	}
}

// ApplyEnvOverrides reads REHOOK_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"REHOOK_LOG_LEVEL":               func(v string) { c.LogLevel = v },
		"REHOOK_LOG_FILE":                func(v string) { c.LogFile.Path = v },
		"REHOOK_STATE_DIR":               func(v string) { c.StateDir = v },
		"REHOOK_CONTROL_SOCKET":          func(v string) { c.Control.SocketPath = v },
		"REHOOK_CONTROL_TOKEN":           func(v string) { c.Control.Token = v },
		"REHOOK_CONTROL_TOKEN_FILE":      func(v string) { c.Control.TokenFile = v },
		"REHOOK_JOURNAL_PATH":            func(v string) { c.Journal.Path = v },
		"REHOOK_HEALTH_PORT":             func(v string) { c.Health.Port = v },
		"REHOOK_EXPORTERS_OTLP_ENDPOINT": func(v string) { c.Exporters.OTLP.Endpoint = v },
	}

	boolOverrides := map[string]*bool{
		"REHOOK_FILTER_ENFORCE":           &c.Filter.Enforce,
		"REHOOK_JOURNAL_ENABLED":          &c.Journal.Enabled,
		"REHOOK_HEALTH_ENABLED":           &c.Health.Enabled,
		"REHOOK_EXPORTERS_OTLP_ENABLED":   &c.Exporters.OTLP.Enabled,
		"REHOOK_EXPORTERS_STDOUT_ENABLED": &c.Exporters.Stdout.Enabled,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	if val := os.Getenv("REHOOK_FILTER_PRIVILEGED_UID"); val != "" {
		if uid, err := strconv.ParseUint(strings.TrimSpace(val), 10, 32); err == nil {
			c.Filter.PrivilegedUID = uint32(uid)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

var logLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !logLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	if c.Control.SocketPath == "" {
		return fmt.Errorf("control.socket_path is required")
	}
	if c.Control.MaxConnections <= 0 {
		return fmt.Errorf("control.max_connections must be positive")
	}
	if c.Control.IOTimeout < 100*time.Millisecond {
		return fmt.Errorf("control.io_timeout must be at least 100ms")
	}

	for name, set := range map[string]HookSetConfig{"minimal": c.Hooks.Minimal, "target": c.Hooks.Target} {
		if len(set.Syscalls) == 0 {
			return fmt.Errorf("hooks.%s.syscalls must not be empty", name)
		}
		if set.Arity < 0 || set.Arity > 6 {
			return fmt.Errorf("hooks.%s.arity must be between 0 and 6", name)
		}
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}

	if c.Exporters.OTLP.Enabled && c.Exporters.OTLP.Endpoint == "" {
		return fmt.Errorf("exporters.otlp.endpoint is required when OTLP is enabled")
	}
	if c.Exporters.Stdout.Enabled && c.Exporters.Stdout.Format != "text" && c.Exporters.Stdout.Format != "json" {
		return fmt.Errorf("exporters.stdout.format must be 'text' or 'json'")
	}

	if c.Health.Enabled && c.Health.Port == "" {
		return fmt.Errorf("health.port is required when health is enabled")
	}

	return nil
}

// Reloadable reports whether every difference between c and next can be
// applied to a running daemon. Hook set definitions, the socket path and
// storage locations are fixed at start.
func (c *Config) Reloadable(next *Config) []string {
	var fixed []string
	if !equalSet(c.Hooks.Minimal, next.Hooks.Minimal) {
		fixed = append(fixed, "hooks.minimal")
	}
	if !equalSet(c.Hooks.Target, next.Hooks.Target) {
		fixed = append(fixed, "hooks.target")
	}
	if c.Control.SocketPath != next.Control.SocketPath {
		fixed = append(fixed, "control.socket_path")
	}
	if c.Journal != next.Journal {
		fixed = append(fixed, "journal")
	}
	if c.StateDir != next.StateDir {
		fixed = append(fixed, "state_dir")
	}
	return fixed
}

func equalSet(a, b HookSetConfig) bool {
	if a.Arity != b.Arity || len(a.Syscalls) != len(b.Syscalls) {
		return false
	}
	for i := range a.Syscalls {
		if a.Syscalls[i] != b.Syscalls[i] {
			return false
		}
	}
	return true
}
