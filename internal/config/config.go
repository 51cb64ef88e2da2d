// Package config contains everything related to configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath          string
	PollInterval          time.Duration
	ClaudeCredentialsPath string
	CodexAuthPath         string
	ZaiCredentialsPath    string
	NotificationsEnabled  bool
}

// Default values
const (
	defaultPollInterval = 5 * time.Minute
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	envPaths := getEnvPaths()
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	cfg := &Config{
		DatabasePath:          getEnvString("DATABASE_PATH", getDefaultDatabasePath()),
		PollInterval:          getEnvDuration("POLL_INTERVAL", defaultPollInterval),
		ClaudeCredentialsPath: getEnvString("CLAUDE_CREDENTIALS_PATH", homePath(".claude", ".credentials.json")),
		CodexAuthPath:         getEnvString("CODEX_AUTH_PATH", homePath(".codex", "auth.json")),
		ZaiCredentialsPath:    getEnvString("ZAI_CREDENTIALS_PATH", homePath(".z-ai", "credentials.json")),
		NotificationsEnabled:  getEnvBool("NOTIFICATIONS_ENABLED", true),
	}

	// The poll cadence also drives the dedup guard of the history
	// store, so clamp pathological values.
	if cfg.PollInterval < 30*time.Second {
		cfg.PollInterval = 30 * time.Second
	}

	// Ensure database directory exists
	if err := ensureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// Home directory locations
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "quotameter", ".env"),
			filepath.Join(home, ".quotameter", ".env"),
		)
	}

	return paths
}

// getDefaultDatabasePath returns the default path for the SQLite database.
func getDefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "quotameter.db"
	}
	return filepath.Join(home, ".config", "quotameter", "quotameter.db")
}

// homePath joins path elements under the user's home directory.
func homePath(elem ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(elem...)
	}
	return filepath.Join(append([]string{home}, elem...)...)
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
