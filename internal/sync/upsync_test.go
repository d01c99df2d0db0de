package sync

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/gsm-fullweb/WaterMeterSync/internal/retry"
)

func TestUpSyncPushesAllPending(t *testing.T) {
	local := newFakeLocal()
	for i := 0; i < 7; i++ {
		local.addPending(float64(100 + i))
	}
	rs := newFakeRemote()

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	result := u.Run(newTestSession(t, KindUp, time.Minute))

	if !result.Success || result.SyncedCount != 7 || result.ErrorCount != 0 {
		t.Fatalf("expected {true 7 0}, got %v", result)
	}
	if local.pendingCount() != 0 {
		t.Errorf("queue not drained: %d left", local.pendingCount())
	}
	if len(local.synced) != 7 {
		t.Errorf("expected 7 synced readings, got %d", len(local.synced))
	}
	for id, remoteID := range local.synced {
		if remoteID == "" {
			t.Errorf("reading %s synced without a remote ID", id)
		}
	}
	if _, ok := local.lastSync[KindUp.String()]; !ok {
		t.Error("last up-sync time not recorded")
	}
}

func TestUpSyncOfflineIsNoOp(t *testing.T) {
	local := newFakeLocal()
	local.addPending(42)
	rs := newFakeRemote()

	u := NewUpSyncer(local, rs, offlineNet(), testConfig())
	result := u.Run(newTestSession(t, KindUp, time.Minute))

	if !result.IsOffline() {
		t.Fatalf("expected offline result, got %v", result)
	}
	if _, insert := rs.calls(); insert != 0 {
		t.Errorf("offline run must not touch the network, got %d inserts", insert)
	}
	if local.pendingCount() != 1 {
		t.Error("offline run must leave the queue untouched")
	}
}

func TestUpSyncEmptyQueueSucceeds(t *testing.T) {
	local := newFakeLocal()
	rs := newFakeRemote()

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	result := u.Run(newTestSession(t, KindUp, time.Minute))

	if !result.Success || result.SyncedCount != 0 {
		t.Fatalf("expected empty success, got %v", result)
	}
	if _, insert := rs.calls(); insert != 0 {
		t.Errorf("empty queue needs no inserts, got %d", insert)
	}
}

func TestUpSyncPushesInQueueOrder(t *testing.T) {
	local := newFakeLocal()
	// 12 readings spans a batch boundary at the default batch size.
	var order []string
	for i := 0; i < 12; i++ {
		order = append(order, local.addPending(float64(i)).ID)
	}
	rs := newFakeRemote()

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	if result := u.Run(newTestSession(t, KindUp, time.Minute)); !result.Success {
		t.Fatalf("run failed: %v", result)
	}

	if len(rs.inserted) != len(order) {
		t.Fatalf("expected %d inserts, got %d", len(order), len(rs.inserted))
	}
	// Inserts arrive in the same relative order the queue returned,
	// across batch boundaries.
	for i, payload := range rs.inserted {
		if payload.ReadingID != order[i] {
			t.Fatalf("insert %d out of order: got %s, want %s",
				i, payload.ReadingID, order[i])
		}
	}
}

func TestUpSyncRetriesTransientInsert(t *testing.T) {
	local := newFakeLocal()
	local.addPending(42)
	rs := newFakeRemote()
	rs.insertFailures = 2

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	result := u.Run(newTestSession(t, KindUp, time.Minute))

	if !result.Success || result.SyncedCount != 1 {
		t.Fatalf("expected success after retries, got %v", result)
	}
	if _, insert := rs.calls(); insert != 3 {
		t.Errorf("expected 3 insert attempts, got %d", insert)
	}
}

func TestUpSyncRejectedReadingStaysPending(t *testing.T) {
	local := newFakeLocal()
	good1 := local.addPending(10)
	bad := local.addPending(20)
	good2 := local.addPending(30)

	rs := newFakeRemote()
	rs.failReadings[bad.ID] = retry.Classified(retry.KindTerminal,
		fmt.Errorf("value outside plausible range"))

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	result := u.Run(newTestSession(t, KindUp, time.Minute))

	if result.Success {
		t.Fatal("run with a rejected reading must not report success")
	}
	if result.SyncedCount != 2 || result.ErrorCount != 1 {
		t.Errorf("expected {synced:2 errors:1}, got %v", result)
	}
	// The rejection stays pending for the next run; neighbors synced.
	if local.pendingCount() != 1 {
		t.Errorf("expected rejected reading left pending, queue has %d", local.pendingCount())
	}
	if _, ok := local.synced[good1.ID]; !ok {
		t.Error("reading before the rejection did not sync")
	}
	if _, ok := local.synced[good2.ID]; !ok {
		t.Error("reading after the rejection did not sync")
	}
	if local.markErrorCalls != 0 {
		t.Error("a remote rejection must not park the reading in the error state")
	}
}

func TestUpSyncPartialFailureScenario(t *testing.T) {
	// Five pending, two rejected by the backend: {false, 3, 2}.
	local := newFakeLocal()
	var readings []string
	for i := 0; i < 5; i++ {
		readings = append(readings, local.addPending(float64(i)).ID)
	}
	rs := newFakeRemote()
	rejection := retry.Classified(retry.KindTerminal, fmt.Errorf("rejected"))
	rs.failReadings[readings[1]] = rejection
	rs.failReadings[readings[3]] = rejection

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	result := u.Run(newTestSession(t, KindUp, time.Minute))

	want := Result{Success: false, SyncedCount: 3, ErrorCount: 2}
	if result != want {
		t.Fatalf("expected %v, got %v", want, result)
	}
	if local.pendingCount() != 2 {
		t.Errorf("expected the 2 failures left pending, queue has %d", local.pendingCount())
	}
}

func TestUpSyncUnsyncablePayloadIsParked(t *testing.T) {
	local := newFakeLocal()
	nan := local.addPending(math.NaN())
	good := local.addPending(50)
	rs := newFakeRemote()

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	result := u.Run(newTestSession(t, KindUp, time.Minute))

	if result.SyncedCount != 1 || result.ErrorCount != 1 {
		t.Fatalf("expected {synced:1 errors:1}, got %v", result)
	}
	if !local.errored[nan.ID] {
		t.Error("unsyncable reading was not parked in the error state")
	}
	if _, ok := local.synced[good.ID]; !ok {
		t.Error("healthy reading did not sync")
	}
	// The parked reading never reached the network.
	if _, insert := rs.calls(); insert != 1 {
		t.Errorf("expected 1 insert, got %d", insert)
	}
}

func TestUpSyncPayloadPlaceholders(t *testing.T) {
	local := newFakeLocal()
	r := local.addPending(12)
	r.ClientID = ""
	r.ResidenceID = ""
	rs := newFakeRemote()

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	if result := u.Run(newTestSession(t, KindUp, time.Minute)); !result.Success {
		t.Fatalf("run failed: %v", result)
	}

	sent := rs.inserted[0]
	if sent.ClientID != PlaceholderID || sent.ResidenceID != PlaceholderID {
		t.Errorf("missing foreign keys not substituted: %+v", sent)
	}
	if sent.RouteID != "route1" {
		t.Errorf("present foreign key replaced: %+v", sent)
	}
	if sent.ReadingID != r.ID {
		t.Errorf("payload lost the client-generated ID: %+v", sent)
	}
}

func TestUpSyncMarkSyncedFailureLeavesPending(t *testing.T) {
	local := newFakeLocal()
	r := local.addPending(42)
	local.failMarkSynced[r.ID] = fmt.Errorf("database locked")
	rs := newFakeRemote()

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	result := u.Run(newTestSession(t, KindUp, time.Minute))

	if result.Success || result.ErrorCount != 1 {
		t.Fatalf("expected one error, got %v", result)
	}
	// Still pending: the next run re-pushes and the backend dedupes on
	// the client-generated reading ID.
	if local.pendingCount() != 1 {
		t.Error("reading must stay pending when the synced mark fails")
	}
}

func TestUpSyncCancellationAborts(t *testing.T) {
	local := newFakeLocal()
	for i := 0; i < 30; i++ {
		local.addPending(float64(i))
	}
	rs := newFakeRemote()
	rs.insertDelay = 5 * time.Millisecond

	session := newTestSession(t, KindUp, time.Minute)
	u := NewUpSyncer(local, rs, onlineNet(), testConfig())

	go func() {
		time.Sleep(25 * time.Millisecond)
		session.Close()
	}()
	result := u.Run(session)

	if !result.IsAborted() {
		t.Fatalf("expected aborted result, got %v", result)
	}
	if result.SyncedCount == 0 || result.SyncedCount >= 30 {
		t.Errorf("abort should preserve partial progress, got %d", result.SyncedCount)
	}
	// No further inserts after the abort landed.
	_, insertsAtAbort := rs.calls()
	time.Sleep(30 * time.Millisecond)
	if _, inserts := rs.calls(); inserts != insertsAtAbort {
		t.Error("inserts continued after the run aborted")
	}
	// Unsent readings are still queued for the next run.
	if local.pendingCount() != 30-result.SyncedCount {
		t.Errorf("queue accounting off: %d pending after %d synced",
			local.pendingCount(), result.SyncedCount)
	}
}

func TestUpSyncStoreFaultFails(t *testing.T) {
	local := newFakeLocal()
	local.pendingErr = fmt.Errorf("database corrupted")
	rs := newFakeRemote()

	u := NewUpSyncer(local, rs, onlineNet(), testConfig())
	result := u.Run(newTestSession(t, KindUp, time.Minute))

	if result.ErrorCount != ErrorCountFailed {
		t.Fatalf("expected failed result, got %v", result)
	}
}
