package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/ci-collect/internal/domain"
)

// LocalConfigName is the per-project config file searched for upward from
// the working directory.
const LocalConfigName = ".ci-collect.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Selection     SelectionConfig     `toml:"selection"`
	RepoList      RepoListConfig      `toml:"repolist"`
	Archive       ArchiveConfig       `toml:"archive"`
	History       HistoryConfig       `toml:"history"`
	Notifications NotificationsConfig `toml:"notifications"`
	Schedule      ScheduleConfig      `toml:"schedule"`
}

// GeneralConfig holds general collection settings
type GeneralConfig struct {
	OutputDir             string `toml:"output_dir"`
	RunsLimit             int    `toml:"runs_limit"`
	KeepOutput            bool   `toml:"keep_output"`
	CommandTimeoutSeconds int    `toml:"command_timeout_seconds"`
}

// SelectionConfig holds run selection settings
type SelectionConfig struct {
	Mode string `toml:"mode"`
}

// RepoListConfig holds repository list loader settings
type RepoListConfig struct {
	Strict bool `toml:"strict"`
}

// ArchiveConfig holds bundle archive settings
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
}

// HistoryConfig holds batch history database settings
type HistoryConfig struct {
	Enabled      bool   `toml:"enabled"`
	DatabasePath string `toml:"database_path"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// ScheduleConfig holds scheduled collection settings
type ScheduleConfig struct {
	Cron string `toml:"cron"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			OutputDir: "_collected_reports",
			RunsLimit: 30,
		},
		Selection: SelectionConfig{
			Mode: string(domain.ModePriority),
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(home, ".local", "share", "ci-collect", "history.db"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.OutputDir = ExpandPath(cfg.General.OutputDir)
	cfg.History.DatabasePath = ExpandPath(cfg.History.DatabasePath)

	return cfg, nil
}

// LoadWithLocalFallback loads the explicit path when given, otherwise a
// local .ci-collect.toml found upward from the working directory, otherwise
// the default config location.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig searches the working directory and its parents for a
// local config file. Returns "" when none exists.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ci-collect", "config.toml")
}
