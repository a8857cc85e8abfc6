package config

import (
	"os"
	"path/filepath"
)

const (
	// AppName is the application name used in paths
	AppName = "btrsnap"
)

// Config holds all application configuration.
type Config struct {
	// Paths
	DataDir string // Base data directory (XDG_DATA_HOME/btrsnap)

	// Derived paths
	DBPath string // SQLite history database path

	// History recording can be turned off for read-only or throwaway systems
	History bool

	// Logging
	LogLevel  string
	LogFormat string // json or pretty
}

// New creates a new Config with values from environment or defaults.
// Directories are created lazily by the components that write to them.
func New() *Config {
	cfg := &Config{}

	cfg.DataDir = getDataDir()
	cfg.DBPath = envOrDefault("BTRSNAP_DB_PATH", filepath.Join(cfg.DataDir, "btrsnap.db"))
	cfg.History = envOrDefault("BTRSNAP_HISTORY", "true") != "false"

	cfg.LogLevel = envOrDefault("BTRSNAP_LOG_LEVEL", "info")
	cfg.LogFormat = envOrDefault("BTRSNAP_LOG_FORMAT", "json")

	return cfg
}

// getDataDir returns the data directory following the XDG base directory layout.
// $XDG_DATA_HOME/btrsnap or ~/.local/share/btrsnap
func getDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", AppName, "data")
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// envOrDefault returns the environment variable value or the default.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
