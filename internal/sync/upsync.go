package sync

import (
	"context"
	"errors"
	"math"

	"github.com/charmbracelet/log"

	"github.com/gsm-fullweb/WaterMeterSync/internal/remote"
	"github.com/gsm-fullweb/WaterMeterSync/internal/retry"
	"github.com/gsm-fullweb/WaterMeterSync/internal/store"
)

// errNonFiniteValue rejects readings whose value JSON cannot encode.
var errNonFiniteValue = errors.New("reading value is not a finite number")

// UpSyncer pushes pending local readings to the backend.
//
// The queue is drained oldest-first in fixed-size batches, each reading
// pushed individually so one rejection never takes neighbors down with
// it. A reading leaves the pending queue only after the backend has
// acknowledged it with a remote ID; a remote failure leaves it pending
// for the next run, so no captured reading is ever lost to a flaky
// link. Only a payload that cannot be built at all is parked in the
// error state.
type UpSyncer struct {
	local  LocalStore
	remote RemoteStore
	net    Connectivity
	cfg    *Config
	logger *log.Logger
}

// NewUpSyncer builds an up-sync engine over the given stores.
func NewUpSyncer(local LocalStore, rs RemoteStore, net Connectivity, cfg *Config) *UpSyncer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()
	return &UpSyncer{
		local:  local,
		remote: rs,
		net:    net,
		cfg:    cfg,
		logger: cfg.Logger.With("engine", "upsync"),
	}
}

// Run executes one up-sync inside session.
//
// The connectivity precheck short-circuits to the offline result without
// touching the network or the queue. SyncedCount counts readings the
// backend acknowledged in this run; ErrorCount counts readings that
// failed and stayed behind.
func (u *UpSyncer) Run(session *Session) Result {
	ctx := session.Context()

	if !u.net.Current().Online() {
		u.logger.Debug("skipping up-sync: offline")
		return Offline()
	}

	pending, err := u.local.GetPendingReadingsContext(ctx)
	if err != nil {
		if retry.IsCancelled(err) {
			return Aborted(0)
		}
		u.logger.Error("failed to load pending readings", "error", err)
		return Failed()
	}

	if len(pending) == 0 {
		u.logger.Debug("no pending readings")
		u.stampLastSync(ctx)
		return Completed(0, 0)
	}
	u.logger.Info("up-sync starting", "pending", len(pending))

	var synced, errs int
	for start := 0; start < len(pending); start += u.cfg.ReadingBatchSize {
		if session.Cancelled() {
			u.logger.Warn("up-sync aborted mid-run", "synced", synced)
			return Aborted(synced)
		}

		end := start + u.cfg.ReadingBatchSize
		if end > len(pending) {
			end = len(pending)
		}

		for _, reading := range pending[start:end] {
			if session.Cancelled() {
				u.logger.Warn("up-sync aborted mid-batch", "synced", synced)
				return Aborted(synced)
			}

			ok, aborted := u.pushReading(ctx, reading)
			if aborted {
				return Aborted(synced)
			}
			if ok {
				synced++
			} else {
				errs++
			}
		}

		if end < len(pending) {
			if err := retry.Sleep(ctx, u.cfg.InterBatchPause); err != nil {
				return Aborted(synced)
			}
		}
	}

	u.stampLastSync(ctx)
	u.logger.Info("up-sync complete", "synced", synced, "errors", errs)
	return Completed(synced, errs)
}

// pushReading sends one reading and records the outcome. ok reports
// whether the reading was acknowledged and marked synced; aborted
// reports cancellation, which ends the run.
func (u *UpSyncer) pushReading(ctx context.Context, reading *store.Reading) (ok, aborted bool) {
	payload, perr := buildPayload(reading)
	if perr != nil {
		// Unsyncable as captured. Park it so it stops blocking the
		// queue; ResetErrors returns it after the data is fixed.
		u.logger.Error("reading payload is unsyncable, parking",
			"reading", reading.ID, "error", perr)
		if err := u.local.MarkErrorContext(ctx, reading.ID); err != nil {
			u.logger.Error("failed to park unsyncable reading",
				"reading", reading.ID, "error", err)
		}
		return false, false
	}

	remoteID, err := retry.Do(ctx, u.cfg.RetryPolicy, nil,
		func(ctx context.Context) (string, error) {
			return u.remote.InsertReading(ctx, payload)
		})
	if err != nil {
		if retry.IsCancelled(err) {
			return false, true
		}
		// Stays pending; the next run picks it up again.
		u.logger.Error("failed to push reading, leaving pending",
			"reading", reading.ID, "value", reading.Value, "error", err)
		return false, false
	}

	if err := u.local.MarkSyncedContext(ctx, reading.ID, remoteID); err != nil {
		if retry.IsCancelled(err) {
			return false, true
		}
		// The backend has the reading but the local row still says
		// pending. The next run re-pushes it and the backend's
		// reading_id idempotence resolves the duplicate.
		u.logger.Error("failed to mark reading synced",
			"reading", reading.ID, "remote_id", remoteID, "error", err)
		return false, false
	}
	return true, false
}

// buildPayload converts a local reading into the wire format.
// Missing foreign keys get the placeholder the backend understands;
// only a value that cannot be represented at all is rejected.
func buildPayload(r *store.Reading) (remote.ReadingPayload, error) {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return remote.ReadingPayload{}, errNonFiniteValue
	}
	p := remote.ReadingPayload{
		ReadingID:   r.ID,
		ClientID:    r.ClientID,
		ResidenceID: r.ResidenceID,
		RouteID:     r.RouteID,
		Value:       r.Value,
		Notes:       r.Notes,
		TakenAt:     r.CreatedAt,
	}
	if p.ClientID == "" {
		p.ClientID = PlaceholderID
	}
	if p.ResidenceID == "" {
		p.ResidenceID = PlaceholderID
	}
	if p.RouteID == "" {
		p.RouteID = PlaceholderID
	}
	return p, nil
}

func (u *UpSyncer) stampLastSync(ctx context.Context) {
	if err := u.local.SetLastSyncTimeContext(ctx, KindUp.String(), nowUTC()); err != nil {
		u.logger.Warn("failed to record last up-sync time", "error", err)
	}
}
