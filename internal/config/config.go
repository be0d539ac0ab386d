// Package config holds configuration shared by the server binaries.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// DBEnvVar names the environment variable that overrides the default
// database path.
const DBEnvVar = "SCHEDSIM_DB"

// ServerConfig holds configuration for the simulation server.
type ServerConfig struct {
	Addr         string        // Listen address (default ":8080")
	LogLevel     string        // Log level: debug, info, warn, error
	LogFormat    string        // Log format: text, json
	DBPath       string        // SQLite database path (":memory:" for testing)
	PollInterval time.Duration // How often the runner looks for PENDING runs
	RunTimeout   time.Duration // Wall-clock limit per run (0 = none)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		LogLevel:     "info",
		LogFormat:    "text",
		DBPath:       DefaultDBPath(),
		PollInterval: 2 * time.Second,
		RunTimeout:   30 * time.Second,
	}
}

// DefaultDBPath returns $SCHEDSIM_DB if set, else ~/.schedsim/schedsim.db.
func DefaultDBPath() string {
	if p := os.Getenv(DBEnvVar); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "schedsim.db"
	}
	return filepath.Join(home, ".schedsim", "schedsim.db")
}
