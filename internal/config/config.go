// Package config loads runtime configuration from the environment and
// an optional .env file, environment winning over file over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DBPath is the local SQLite database file.
	DBPath string

	// APIURL is the backend base URL.
	APIURL string

	// APIToken is the bearer token for backend requests.
	APIToken string

	// ReaderID identifies this device's meter reader.
	ReaderID string

	LogLevel string
	LogPath  string

	// DashboardPort is the WebSocket dashboard listen port.
	DashboardPort int

	// NetStateFile, when set, overrides connectivity probing with a
	// JSON state file watched for changes. Used by the mobile shell,
	// which knows the radio state better than a probe does.
	NetStateFile string
}

const (
	DefaultLogLevel      = "warn"
	DefaultDashboardPort = 8420
)

// defaultDataDir is where the database and logs live unless overridden.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".metersync"
	}
	return filepath.Join(home, ".metersync")
}

// Load resolves configuration: a .env file at path (if it exists) fills
// whatever the environment does not set, then defaults fill the rest.
// An empty path checks ./.env.
func Load(path string) (Config, error) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err == nil {
		// godotenv never overrides variables already set, which gives
		// the env-over-file precedence.
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	dataDir := defaultDataDir()
	cfg := Config{
		DBPath:        coalesce(os.Getenv("METERSYNC_DB_PATH"), filepath.Join(dataDir, "metersync.db")),
		APIURL:        os.Getenv("METERSYNC_API_URL"),
		APIToken:      os.Getenv("METERSYNC_API_TOKEN"),
		ReaderID:      os.Getenv("METERSYNC_READER_ID"),
		LogLevel:      coalesce(os.Getenv("METERSYNC_LOG_LEVEL"), DefaultLogLevel),
		LogPath:       coalesce(os.Getenv("METERSYNC_LOG_PATH"), filepath.Join(dataDir, "metersync.log")),
		DashboardPort: DefaultDashboardPort,
		NetStateFile:  os.Getenv("METERSYNC_NETSTATE_FILE"),
	}

	if port := os.Getenv("METERSYNC_DASHBOARD_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("invalid METERSYNC_DASHBOARD_PORT %q: %w", port, err)
		}
		cfg.DashboardPort = p
	}

	return cfg, nil
}

// Validate checks the fields every sync operation needs.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("METERSYNC_API_URL is required")
	}
	if c.ReaderID == "" {
		return fmt.Errorf("METERSYNC_READER_ID is required")
	}
	return nil
}

func coalesce(args ...string) string {
	for _, s := range args {
		if s != "" {
			return s
		}
	}
	return ""
}
