package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/gsm-fullweb/WaterMeterSync/internal/config"
	"github.com/gsm-fullweb/WaterMeterSync/internal/remote"
	"github.com/gsm-fullweb/WaterMeterSync/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "metersync",
	Short: "Offline-first sync for field meter readings",
	Long: `metersync keeps a field device's local reading database in sync
with the backend.

Down-sync pulls the reader's route assignments (routes, streets,
residences, clients) into the local SQLite database. Up-sync pushes
locally captured readings to the backend; a reading leaves the local
queue only after the backend acknowledges it, so nothing captured in
the field is ever lost to a dead zone.

Configuration comes from the environment or a .env file:
  METERSYNC_API_URL      backend base URL (required)
  METERSYNC_READER_ID    this device's reader ID (required)
  METERSYNC_API_TOKEN    bearer token for backend requests
  METERSYNC_DB_PATH      local database path
  METERSYNC_LOG_LEVEL    debug, info, warn, or error`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to .env config file")
}

// loadConfig resolves and validates runtime configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loadConfigLoose resolves configuration without requiring the backend
// fields; local-only commands need just the database path.
func loadConfigLoose() (config.Config, error) {
	return config.Load(configPath)
}

// newLogger builds the CLI logger at the configured level.
func newLogger(cfg config.Config) *log.Logger {
	logger := log.New(os.Stderr)
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "info":
		logger.SetLevel(log.InfoLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.WarnLevel)
	}
	return logger
}

// openStores opens the local database and the backend client. The
// caller owns the returned database handle.
func openStores(cfg config.Config) (*store.DB, *remote.Client, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL: cfg.APIURL,
		Token:   cfg.APIToken,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, client, nil
}
