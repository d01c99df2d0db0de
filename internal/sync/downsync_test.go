package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gsm-fullweb/WaterMeterSync/internal/store"
)

func newTestSession(t *testing.T, kind Kind, deadline time.Duration) *Session {
	t.Helper()
	s := NewSession(context.Background(), kind, deadline)
	t.Cleanup(s.Close)
	return s
}

func TestDownSyncMaterializesFullGraph(t *testing.T) {
	local := newFakeLocal()
	rs := newFakeRemote()
	rs.graph = testGraph(3, 4)

	d := NewDownSyncer(local, rs, onlineNet(), testConfig())
	result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute))

	if !result.Success {
		t.Fatalf("expected success, got %v", result)
	}
	if result.SyncedCount != 3 || result.ErrorCount != 0 {
		t.Errorf("expected 3 routes synced and 0 errors, got %v", result)
	}
	if len(local.routes) != 3 || len(local.streets) != 3 {
		t.Errorf("expected 3 routes and 3 streets, got %d and %d",
			len(local.routes), len(local.streets))
	}
	if len(local.residences) != 12 || len(local.clients) != 12 {
		t.Errorf("expected 12 residences and 12 clients, got %d and %d",
			len(local.residences), len(local.clients))
	}
	if local.routes["route-0"].ReaderID != "reader-1" {
		t.Errorf("route not tagged with reader ID: %+v", local.routes["route-0"])
	}
	if _, ok := local.lastSync[KindDown.String()]; !ok {
		t.Error("last down-sync time not recorded")
	}
}

func TestDownSyncOfflineIsNoOp(t *testing.T) {
	local := newFakeLocal()
	rs := newFakeRemote()
	rs.graph = testGraph(2, 1)

	d := NewDownSyncer(local, rs, offlineNet(), testConfig())
	result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute))

	if !result.IsOffline() {
		t.Fatalf("expected offline result, got %v", result)
	}
	if fetch, _ := rs.calls(); fetch != 0 {
		t.Errorf("offline run must not touch the network, got %d fetches", fetch)
	}
	if len(local.routes) != 0 {
		t.Error("offline run must not write to the store")
	}
}

func TestDownSyncRetriesTransientFetch(t *testing.T) {
	local := newFakeLocal()
	rs := newFakeRemote()
	rs.graph = testGraph(1, 1)
	rs.graphFailures = 2

	d := NewDownSyncer(local, rs, onlineNet(), testConfig())
	result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute))

	if !result.Success {
		t.Fatalf("expected success after retries, got %v", result)
	}
	if fetch, _ := rs.calls(); fetch != 3 {
		t.Errorf("expected 3 fetch attempts, got %d", fetch)
	}
}

func TestDownSyncFetchExhaustionFails(t *testing.T) {
	local := newFakeLocal()
	rs := newFakeRemote()
	rs.graphFailures = 100

	d := NewDownSyncer(local, rs, onlineNet(), testConfig())
	result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute))

	if result.Success || result.ErrorCount != ErrorCountFailed {
		t.Fatalf("expected failed result, got %v", result)
	}
	// MaxRetries 3 means 4 attempts.
	if fetch, _ := rs.calls(); fetch != 4 {
		t.Errorf("expected 4 fetch attempts, got %d", fetch)
	}
	if _, ok := local.lastSync[KindDown.String()]; ok {
		t.Error("failed run must not advance the last-sync time")
	}
}

func TestDownSyncEmptyGraphSucceeds(t *testing.T) {
	local := newFakeLocal()
	rs := newFakeRemote()

	d := NewDownSyncer(local, rs, onlineNet(), testConfig())
	result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute))

	if !result.Success || result.SyncedCount != 0 || result.ErrorCount != 0 {
		t.Fatalf("expected empty success, got %v", result)
	}
	if _, ok := local.lastSync[KindDown.String()]; !ok {
		t.Error("empty graph still counts as a completed sync")
	}
}

func TestDownSyncIsIdempotent(t *testing.T) {
	local := newFakeLocal()
	rs := newFakeRemote()
	rs.graph = testGraph(2, 3)

	d := NewDownSyncer(local, rs, onlineNet(), testConfig())
	for i := 0; i < 3; i++ {
		result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute))
		if !result.Success {
			t.Fatalf("run %d failed: %v", i, result)
		}
	}
	if len(local.routes) != 2 || len(local.residences) != 6 {
		t.Errorf("repeated runs duplicated rows: %d routes, %d residences",
			len(local.routes), len(local.residences))
	}
}

func TestDownSyncNeverOverwritesLocalRows(t *testing.T) {
	local := newFakeLocal()
	// Pre-existing route with a locally edited name.
	local.routes["route-0"] = &store.Route{ID: "route-0", Name: "Edited Locally", ReaderID: "reader-1"}

	rs := newFakeRemote()
	rs.graph = testGraph(1, 1)

	d := NewDownSyncer(local, rs, onlineNet(), testConfig())
	if result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute)); !result.Success {
		t.Fatalf("run failed: %v", result)
	}
	if got := local.routes["route-0"].Name; got != "Edited Locally" {
		t.Errorf("down-sync overwrote local edit: %q", got)
	}
}

func TestDownSyncSkipsBadUnitAndContinues(t *testing.T) {
	local := newFakeLocal()
	local.failRouteInsert["route-1"] = fmt.Errorf("disk full")

	rs := newFakeRemote()
	rs.graph = testGraph(3, 2)

	d := NewDownSyncer(local, rs, onlineNet(), testConfig())
	result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute))

	if result.Success {
		t.Fatal("run with a failed unit must not report success")
	}
	if result.SyncedCount != 2 || result.ErrorCount != 1 {
		t.Errorf("expected {synced:2 errors:1}, got %v", result)
	}
	// The two healthy routes landed in full.
	if len(local.routes) != 2 || len(local.residences) != 4 {
		t.Errorf("healthy units missing: %d routes, %d residences",
			len(local.routes), len(local.residences))
	}
}

func TestDownSyncRetriesParentInsertInline(t *testing.T) {
	local := newFakeLocal()
	// Every route's first insert fails, the inline retry succeeds.
	local.failRouteOnce["route-0"] = true
	local.failRouteOnce["route-1"] = true
	local.failRouteOnce["route-2"] = true

	rs := newFakeRemote()
	rs.graph = testGraph(3, 2)

	d := NewDownSyncer(local, rs, onlineNet(), testConfig())
	result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute))

	if !result.Success {
		t.Fatalf("expected success with inline parent retry, got %v", result)
	}
	if result.SyncedCount != 3 || result.ErrorCount != 0 {
		t.Errorf("expected {synced:3 errors:0}, got %v", result)
	}
	if len(local.routes) != 3 || len(local.residences) != 6 {
		t.Errorf("retried units incomplete: %d routes, %d residences",
			len(local.routes), len(local.residences))
	}
}

func TestDownSyncBadResidenceKeepsParentRows(t *testing.T) {
	local := newFakeLocal()
	local.failResidenceInsert["res-1-0"] = fmt.Errorf("disk full")

	rs := newFakeRemote()
	rs.graph = testGraph(3, 2)

	d := NewDownSyncer(local, rs, onlineNet(), testConfig())
	result := d.Run("reader-1", newTestSession(t, KindDown, time.Minute))

	if result.Success {
		t.Fatal("run with a failed unit must not report success")
	}
	if result.SyncedCount != 2 || result.ErrorCount != 1 {
		t.Errorf("expected {synced:2 errors:1}, got %v", result)
	}
	// The failed unit's route and street rows landed before the
	// residence fault; only its residence subtree is missing.
	if _, ok := local.routes["route-1"]; !ok {
		t.Error("failed unit's route row missing")
	}
	if _, ok := local.streets["street-1"]; !ok {
		t.Error("failed unit's street row missing")
	}
	if _, ok := local.residences["res-1-0"]; ok {
		t.Error("faulted residence row present")
	}
	if len(local.residences) != 4 {
		t.Errorf("healthy units incomplete: %d residences", len(local.residences))
	}
}

func TestDownSyncCancellationAborts(t *testing.T) {
	local := newFakeLocal()
	rs := newFakeRemote()
	rs.graph = testGraph(20, 1)

	cfg := testConfig()
	cfg.InterBatchPause = 50 * time.Millisecond

	session := newTestSession(t, KindDown, time.Minute)
	d := NewDownSyncer(local, rs, onlineNet(), cfg)

	// Cancel during the first inter-batch pause.
	go func() {
		time.Sleep(10 * time.Millisecond)
		session.Close()
	}()
	result := d.Run("reader-1", session)

	if !result.IsAborted() {
		t.Fatalf("expected aborted result, got %v", result)
	}
	if result.SyncedCount == 0 {
		t.Error("abort should preserve progress made before cancellation")
	}
	if result.SyncedCount >= 20 {
		t.Error("abort arrived too late to matter")
	}
	if _, ok := local.lastSync[KindDown.String()]; ok {
		t.Error("aborted run must not advance the last-sync time")
	}
}

func TestDownSyncSessionDeadlineAborts(t *testing.T) {
	local := newFakeLocal()
	rs := newFakeRemote()
	rs.graph = testGraph(20, 1)

	cfg := testConfig()
	cfg.InterBatchPause = 30 * time.Millisecond

	d := NewDownSyncer(local, rs, onlineNet(), cfg)
	result := d.Run("reader-1", newTestSession(t, KindDown, 40*time.Millisecond))

	if !result.IsAborted() {
		t.Fatalf("expected aborted result on deadline, got %v", result)
	}
}
