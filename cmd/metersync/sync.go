package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gsm-fullweb/WaterMeterSync/internal/netmon"
	"github.com/gsm-fullweb/WaterMeterSync/internal/remote"
	"github.com/gsm-fullweb/WaterMeterSync/internal/store"
	"github.com/gsm-fullweb/WaterMeterSync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run sync operations against the backend",
}

var syncDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Pull route assignments into the local database",
	Long: `Fetch this reader's route graph from the backend and materialize it
locally: routes, streets, residences, and clients.

Materialization never overwrites existing local rows, so re-running a
down-sync is always safe and a partially completed run can simply be
repeated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd.Context(), sync.KindDown)
	},
}

var syncUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Push pending readings to the backend",
	Long: `Push locally captured readings to the backend, oldest first.

A reading leaves the pending queue only after the backend acknowledges
it with a remote ID. Readings the backend rejects stay pending and are
reported; nothing is deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd.Context(), sync.KindUp)
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigLoose()
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open local database: %w", err)
		}
		defer db.Close()
		if err := db.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		ctx := cmd.Context()
		counts, err := db.CountReadingsByStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to count readings: %w", err)
		}
		graph, err := db.CountGraph(ctx)
		if err != nil {
			return fmt.Errorf("failed to count route graph: %w", err)
		}

		fmt.Printf("Database: %s\n\n", cfg.DBPath)
		fmt.Printf("Readings:\n")
		fmt.Printf("  Pending: %d\n", counts[store.StatusPending])
		fmt.Printf("  Synced:  %d\n", counts[store.StatusSynced])
		fmt.Printf("  Error:   %d\n", counts[store.StatusError])
		fmt.Printf("\nRoute graph:\n")
		fmt.Printf("  Routes:     %d\n", graph.Routes)
		fmt.Printf("  Streets:    %d\n", graph.Streets)
		fmt.Printf("  Residences: %d\n", graph.Residences)
		fmt.Printf("  Clients:    %d\n", graph.Clients)

		fmt.Printf("\nLast sync:\n")
		for _, direction := range []string{sync.KindDown.String(), sync.KindUp.String()} {
			last, err := db.GetLastSyncTime(direction)
			fmt.Printf("  %-5s %s\n", direction+":", formatLastSync(last, err))
		}
		return nil
	},
}

// formatLastSync renders a last-sync timestamp for the status output.
// A zero time means the direction has never synced; the store reports
// that as a zero value, not an error.
func formatLastSync(last time.Time, err error) string {
	if err != nil || last.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", last.Format(time.RFC3339),
		time.Since(last).Round(time.Second))
}

var syncResetErrorsCmd = &cobra.Command{
	Use:   "reset-errors",
	Short: "Return error readings to the pending queue",
	Long: `Move readings parked in the error state back to pending so the next
up-sync retries them. Use after fixing whatever made them unsyncable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigLoose()
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open local database: %w", err)
		}
		defer db.Close()
		if err := db.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		n, err := db.ResetErrorsContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to reset error readings: %w", err)
		}
		fmt.Printf("Requeued %d reading(s)\n", n)
		return nil
	},
}

// runOneShot executes a single sync in the given direction and prints
// the outcome. Exit code 1 signals an operational failure.
func runOneShot(ctx context.Context, kind sync.Kind) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	db, client, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	engineCfg := sync.DefaultConfig()
	engineCfg.Logger = logger

	coordinator := sync.NewCoordinator(db, client, &oneShotMonitor{client: client}, engineCfg)
	if err := coordinator.Start(cfg.ReaderID); err != nil {
		return err
	}
	defer coordinator.Stop()

	start := time.Now()
	var result sync.Result
	switch kind {
	case sync.KindDown:
		result = coordinator.SyncDown(ctx)
	default:
		result = coordinator.SyncUp(ctx)
	}
	elapsed := time.Since(start).Round(time.Millisecond)

	switch {
	case result.IsOffline():
		fmt.Printf("Backend unreachable, nothing synced. Try again when online.\n")
	case result.IsAborted():
		fmt.Printf("Sync interrupted after %d record(s) in %v\n", result.SyncedCount, elapsed)
	case result.ErrorCount == sync.ErrorCountFailed:
		return fmt.Errorf("%s-sync failed after %v", kind, elapsed)
	case result.Success:
		fmt.Printf("Sync complete in %v: %d record(s)\n", elapsed, result.SyncedCount)
	default:
		fmt.Printf("Sync finished in %v: %d record(s) synced, %d failed\n",
			elapsed, result.SyncedCount, result.ErrorCount)
		os.Exit(2)
	}
	return nil
}

// oneShotMonitor satisfies the coordinator's monitor interface for
// single-run commands: connectivity is probed synchronously against the
// backend health endpoint, and there is no transition stream.
type oneShotMonitor struct {
	client *remote.Client
}

func (m *oneShotMonitor) Current() netmon.State {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Health(ctx); err != nil {
		return netmon.State{Connected: false, InternetReachable: netmon.ReachabilityUnreachable}
	}
	return netmon.State{Connected: true, InternetReachable: netmon.ReachabilityReachable}
}

func (m *oneShotMonitor) Subscribe(func(netmon.State)) func() {
	return func() {}
}

func init() {
	syncCmd.AddCommand(syncDownCmd)
	syncCmd.AddCommand(syncUpCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncResetErrorsCmd)
	rootCmd.AddCommand(syncCmd)
}
