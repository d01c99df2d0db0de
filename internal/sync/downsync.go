package sync

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/gsm-fullweb/WaterMeterSync/internal/remote"
	"github.com/gsm-fullweb/WaterMeterSync/internal/retry"
	"github.com/gsm-fullweb/WaterMeterSync/internal/store"
)

// DownSyncer pulls the reader's route graph from the backend and
// materializes it into the local store.
//
// Materialization is insert-if-absent: a node that already exists locally
// is left untouched, so re-running a down-sync never clobbers local
// edits and a partially completed run can simply be repeated. The unit
// of progress is one route with everything nested under it; a unit that
// fails is counted and skipped, it never stops the run.
type DownSyncer struct {
	local  LocalStore
	remote RemoteStore
	net    Connectivity
	cfg    *Config
	logger *log.Logger
}

// NewDownSyncer builds a down-sync engine over the given stores.
func NewDownSyncer(local LocalStore, rs RemoteStore, net Connectivity, cfg *Config) *DownSyncer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()
	return &DownSyncer{
		local:  local,
		remote: rs,
		net:    net,
		cfg:    cfg,
		logger: cfg.Logger.With("engine", "downsync"),
	}
}

// Run executes one down-sync for readerID inside session.
//
// The connectivity precheck short-circuits to the offline result without
// touching the network. SyncedCount counts route units fully
// materialized; ErrorCount counts units skipped due to store faults.
func (d *DownSyncer) Run(readerID string, session *Session) Result {
	ctx := session.Context()

	if !d.net.Current().Online() {
		d.logger.Debug("skipping down-sync: offline")
		return Offline()
	}

	graph, err := retry.Do(ctx, d.cfg.RetryPolicy, nil,
		func(ctx context.Context) (*remote.RouteGraph, error) {
			return d.remote.FetchRouteGraph(ctx, readerID)
		})
	if err != nil {
		if retry.IsCancelled(err) {
			d.logger.Warn("down-sync aborted fetching route graph", "error", err)
			return Aborted(0)
		}
		d.logger.Error("failed to fetch route graph", "reader", readerID, "error", err)
		return Failed()
	}

	if graph.Empty() {
		d.logger.Info("route graph is empty, nothing to materialize", "reader", readerID)
		d.stampLastSync(ctx)
		return Completed(0, 0)
	}

	var synced, errs int
	routes := graph.Routes
	for start := 0; start < len(routes); start += d.cfg.RouteBatchSize {
		if session.Cancelled() {
			d.logger.Warn("down-sync aborted mid-run", "synced", synced)
			return Aborted(synced)
		}

		end := start + d.cfg.RouteBatchSize
		if end > len(routes) {
			end = len(routes)
		}

		for i := start; i < end; i++ {
			if session.Cancelled() {
				d.logger.Warn("down-sync aborted mid-batch", "synced", synced)
				return Aborted(synced)
			}
			if err := d.syncRoute(ctx, readerID, &routes[i]); err != nil {
				if retry.IsCancelled(err) {
					return Aborted(synced)
				}
				d.logger.Error("failed to materialize route, skipping",
					"route", routes[i].ID, "error", err)
				errs++
				continue
			}
			synced++
		}

		if end < len(routes) {
			if err := retry.Sleep(ctx, d.cfg.InterBatchPause); err != nil {
				return Aborted(synced)
			}
		}
	}

	d.stampLastSync(ctx)
	d.logger.Info("down-sync complete", "routes", synced, "errors", errs)
	return Completed(synced, errs)
}

// insertRetried runs an insert-if-absent write and retries it once
// inline on failure before the caller gives up on the unit. The writes
// never overwrite, so a second attempt after a transient store fault
// (busy database, brief I/O error) is always safe.
func (d *DownSyncer) insertRetried(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || ctx.Err() != nil {
		return err
	}
	return fn()
}

// syncRoute materializes one route unit: the route row, its streets,
// their residences in chunks, and each residence's client. Parent rows
// are inserted before children so the foreign keys always resolve; a
// parent insert gets one inline retry before the children are skipped.
func (d *DownSyncer) syncRoute(ctx context.Context, readerID string, route *remote.RemoteRoute) error {
	if err := d.insertRetried(ctx, func() error {
		return d.local.InsertRouteContext(ctx, &store.Route{
			ID:       route.ID,
			Name:     route.Name,
			ReaderID: readerID,
		})
	}); err != nil {
		return fmt.Errorf("failed to insert route %s: %w", route.ID, err)
	}

	for si := range route.Streets {
		street := &route.Streets[si]
		if err := d.insertRetried(ctx, func() error {
			return d.local.InsertStreetContext(ctx, &store.Street{
				ID:      street.ID,
				RouteID: route.ID,
				Name:    street.Name,
			})
		}); err != nil {
			return fmt.Errorf("failed to insert street %s: %w", street.ID, err)
		}

		residences := street.Residences
		for start := 0; start < len(residences); start += d.cfg.ResidenceBatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := start + d.cfg.ResidenceBatchSize
			if end > len(residences) {
				end = len(residences)
			}
			for ri := start; ri < end; ri++ {
				if err := d.syncResidence(ctx, street.ID, &residences[ri]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *DownSyncer) syncResidence(ctx context.Context, streetID string, res *remote.RemoteResidence) error {
	if err := d.insertRetried(ctx, func() error {
		return d.local.InsertResidenceContext(ctx, &store.Residence{
			ID:          res.ID,
			StreetID:    streetID,
			Address:     res.Address,
			MeterSerial: res.MeterSerial,
		})
	}); err != nil {
		return fmt.Errorf("failed to insert residence %s: %w", res.ID, err)
	}

	if res.Client == nil {
		return nil
	}
	if err := d.insertRetried(ctx, func() error {
		return d.local.InsertClientContext(ctx, &store.Client{
			ID:            res.Client.ID,
			ResidenceID:   res.ID,
			Name:          res.Client.Name,
			AccountNumber: res.Client.AccountNumber,
		})
	}); err != nil {
		return fmt.Errorf("failed to insert client %s: %w", res.Client.ID, err)
	}
	return nil
}

// stampLastSync records the completion time. Best effort: a failure to
// stamp does not fail the run, the next sync just re-covers the window.
func (d *DownSyncer) stampLastSync(ctx context.Context) {
	if err := d.local.SetLastSyncTimeContext(ctx, KindDown.String(), nowUTC()); err != nil {
		d.logger.Warn("failed to record last down-sync time", "error", err)
	}
}
