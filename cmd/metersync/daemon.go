package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gsm-fullweb/WaterMeterSync/internal/config"
	"github.com/gsm-fullweb/WaterMeterSync/internal/dashboard"
	"github.com/gsm-fullweb/WaterMeterSync/internal/netmon"
	"github.com/gsm-fullweb/WaterMeterSync/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync service",
	Long: `Run metersync as a long-lived background service.

The daemon watches device connectivity and automatically pushes pending
readings whenever the device comes back online. It also serves a
WebSocket dashboard broadcasting sync and connectivity events in real
time.

Connectivity is probed against the backend health endpoint, or read
from a JSON state file when METERSYNC_NETSTATE_FILE is set (the mobile
shell writes the radio state there).

Example usage:
  metersync daemon                  # Probe-based connectivity
  metersync daemon --sync-on-start  # Run an up-sync immediately

Connect a WebSocket client to ws://localhost:8420/ws for live events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		syncOnStart, _ := cmd.Flags().GetBool("sync-on-start")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := daemonLogger(cfg)

		db, client, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		// Connectivity: state file when the shell provides one,
		// otherwise probe the backend.
		var source netmon.Source
		if cfg.NetStateFile != "" {
			source = netmon.NewFileSource(cfg.NetStateFile, logger)
		} else {
			source = netmon.NewProbeSource(client, 15*time.Second, 5*time.Second, logger)
		}
		monCfg := netmon.DefaultConfig()
		monCfg.Logger = logger
		monitor := netmon.New(source, monCfg)
		monitor.Start()
		defer monitor.Stop()

		dash := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.DashboardPort,
			Logger: logger,
		})
		if err := dash.Start(); err != nil {
			return err
		}
		defer func() {
			if err := dash.Stop(); err != nil {
				logger.Error("dashboard shutdown error", "error", err)
			}
		}()

		engineCfg := sync.DefaultConfig()
		engineCfg.Logger = logger
		engineCfg.Events = dashboard.NewSink(dash)

		coordinator := sync.NewCoordinator(db, client, monitor, engineCfg)
		if err := coordinator.Start(cfg.ReaderID); err != nil {
			return err
		}
		defer coordinator.Stop()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("metersync daemon started (reader %s)\n", cfg.ReaderID)
		fmt.Printf("Dashboard: ws://localhost:%d/ws\n", cfg.DashboardPort)
		fmt.Println("Press Ctrl+C to stop...")

		if syncOnStart {
			result := coordinator.SyncUp(ctx)
			logger.Info("startup up-sync finished", "result", result)
		}

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		return nil
	},
}

// daemonLogger logs to a size-rotated file so a device that stays in
// the field for months cannot fill its storage with sync logs.
func daemonLogger(cfg config.Config) *log.Logger {
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		// Fall back to stderr rather than refusing to start.
		return newLogger(cfg)
	}
	logger := log.New(&lumberjack.Logger{
		Filename:   cfg.LogPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	})
	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

func init() {
	daemonCmd.Flags().Bool("sync-on-start", false, "Run an up-sync immediately on startup")
	rootCmd.AddCommand(daemonCmd)
}
