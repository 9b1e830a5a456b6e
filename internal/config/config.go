// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gateflow/pkg/types"
)

// DefaultPath is the config file location relative to the project root.
const DefaultPath = ".gateflow/config.yaml"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
)

// Config represents the complete gateflow configuration
type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	Engine    EngineConfig    `yaml:"engine"`
	Agents    AgentsConfig    `yaml:"agents"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Temporal  TemporalConfig  `yaml:"temporal"`
	HTTP      HTTPConfig      `yaml:"http"`
	Commands  CommandsConfig  `yaml:"commands"`
}

// ProjectConfig holds project-level configuration
type ProjectConfig struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	WorkingDirectory string `yaml:"working_directory"`
}

// EngineConfig tunes the coordination engine.
type EngineConfig struct {
	// MinFailingTests is the implementation gate threshold. Values below 1
	// are rejected by Validate.
	MinFailingTests int `yaml:"min_failing_tests"`
	// WorkTimeout bounds each phase's work. Zero means no timeout.
	WorkTimeout time.Duration `yaml:"work_timeout"`
}

// AgentsConfig lists roles that may never be activated.
type AgentsConfig struct {
	Disabled []string `yaml:"disabled"`
}

// StoreConfig selects and configures the snapshot backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	NATSURL    string `yaml:"nats_url"`
	Bucket     string `yaml:"bucket"`
	DSN        string `yaml:"dsn"`
	CacheBytes int64  `yaml:"cache_bytes"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	CollectorURL string  `yaml:"collector_url"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// TemporalConfig points at the Temporal frontend.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// HTTPConfig configures the status API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// CommandsConfig are the shell commands dev-mode runs per phase.
type CommandsConfig struct {
	Test    string `yaml:"test"`
	Lint    string `yaml:"lint"`
	Docs    string `yaml:"docs"`
	Release string `yaml:"release"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			Name: "gateflow",
		},
		Engine: EngineConfig{
			MinFailingTests: 1,
		},
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    ".gateflow/state",
			Bucket:  "GATEFLOW_INSTANCES",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			CollectorURL: "localhost:4318",
			SamplingRate: 1.0,
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "gateflow",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Commands: CommandsConfig{
			Test: "go test ./...",
			Lint: "go vet ./...",
		},
	}
}

// Load loads the configuration from .gateflow/config.yaml under the
// current working directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	configPath := filepath.Join(cwd, DefaultPath)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	return LoadFile(configPath)
}

// LoadFile reads the file at path over the defaults and applies
// environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.finish(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or DefaultPath when path is empty. A missing
// default file yields Default(); a missing explicit file is an error.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}

	cfg, err := LoadFile(DefaultPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = Default()
	if err := cfg.finish(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish(getenv func(string) string) error {
	if err := c.ApplyEnv(getenv); err != nil {
		return err
	}
	if c.Project.WorkingDirectory == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		c.Project.WorkingDirectory = cwd
	}
	return nil
}

// ApplyEnv overrides fields from GATEFLOW_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	str("GATEFLOW_STORE_BACKEND", &c.Store.Backend)
	str("GATEFLOW_STORE_PATH", &c.Store.Path)
	str("GATEFLOW_NATS_URL", &c.Store.NATSURL)
	str("GATEFLOW_DATABASE_URL", &c.Store.DSN)
	str("GATEFLOW_LOG_LEVEL", &c.Logging.Level)
	str("GATEFLOW_LOG_FORMAT", &c.Logging.Format)
	str("GATEFLOW_HTTP_ADDR", &c.HTTP.Addr)
	str("GATEFLOW_TEMPORAL_HOST", &c.Temporal.HostPort)
	str("GATEFLOW_OTEL_ENDPOINT", &c.Telemetry.CollectorURL)

	if v := getenv("GATEFLOW_MIN_FAILING_TESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GATEFLOW_MIN_FAILING_TESTS: %w", err)
		}
		c.Engine.MinFailingTests = n
	}
	if v := getenv("GATEFLOW_WORK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GATEFLOW_WORK_TIMEOUT: %w", err)
		}
		c.Engine.WorkTimeout = d
	}
	if v := getenv("GATEFLOW_DISABLED_AGENTS"); v != "" {
		c.Agents.Disabled = nil
		for _, role := range strings.Split(v, ",") {
			if role = strings.TrimSpace(role); role != "" {
				c.Agents.Disabled = append(c.Agents.Disabled, role)
			}
		}
	}
	return nil
}

// DisabledRoles parses the disabled role list.
func (c *Config) DisabledRoles() ([]types.AgentRole, error) {
	roles := make([]types.AgentRole, 0, len(c.Agents.Disabled))
	for _, name := range c.Agents.Disabled {
		role, err := types.ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("project name is required")
	}

	if c.Engine.MinFailingTests < 1 {
		return fmt.Errorf("engine.min_failing_tests must be at least 1, got %d", c.Engine.MinFailingTests)
	}

	if c.Engine.WorkTimeout < 0 {
		return fmt.Errorf("engine.work_timeout must not be negative")
	}

	if _, err := c.DisabledRoles(); err != nil {
		return fmt.Errorf("agents.disabled: %w", err)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file backend")
		}
	case BackendNATS:
		if c.Store.NATSURL == "" {
			return fmt.Errorf("store.nats_url is required for the nats backend")
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry.sampling_rate must be between 0 and 1")
	}

	return nil
}

// Write stores c as YAML at path, creating parent directories.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
