// Package config loads the user-level seam configuration from
// ~/.seam/config.yaml and applies defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend    BackendConfig     `yaml:"backend"`
	Server     ServerConfig      `yaml:"server"`
	Storage    StorageConfig     `yaml:"storage"`
	Workspaces []WorkspaceConfig `yaml:"workspaces"`
}

// BackendConfig describes how to reach the agent runtime's event bus and API.
type BackendConfig struct {
	URL                string `yaml:"url"`
	Token              string `yaml:"token"`
	ReconnectBackoffMs []int  `yaml:"reconnect_backoff_ms"`
}

// ServerConfig configures the local read-only surface served by `seam run`.
type ServerConfig struct {
	Listen        string `yaml:"listen"`
	MetricsListen string `yaml:"metrics_listen"`
}

type StorageConfig struct {
	StateDir string `yaml:"state_dir"`
}

// WorkspaceConfig registers one worktree the hub should coordinate.
type WorkspaceConfig struct {
	ID        string `yaml:"id"`
	Path      string `yaml:"path"`
	ProjectID string `yaml:"project_id"`
}

// Dir returns the seam config directory (~/.seam), creating it if needed.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dir := filepath.Join(home, ".seam")
	os.MkdirAll(dir, 0755)
	return dir
}

// DefaultPath returns the full path to ~/.seam/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config file at path (DefaultPath when empty), applies
// defaults, and overlays secret overrides from the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		// Missing config falls through to pure defaults.
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if envToken := os.Getenv("SEAM_BACKEND_TOKEN"); envToken != "" {
		cfg.Backend.Token = envToken
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = "http://127.0.0.1:4096"
	}
	if len(cfg.Backend.ReconnectBackoffMs) == 0 {
		cfg.Backend.ReconnectBackoffMs = []int{250, 500, 1000, 2000, 5000}
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:7433"
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = filepath.Join(Dir(), "state")
	}
}
