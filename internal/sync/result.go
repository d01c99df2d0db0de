package sync

import "fmt"

// Sentinel ErrorCount values distinguishing operational failure from
// ordinary per-record failure. An ErrorCount >= 0 with Success=false
// means the run completed but some records failed.
const (
	// ErrorCountFailed marks a run that died on an unexpected fault
	// before completing (remote unreachable after retries, store fault).
	ErrorCountFailed = -1

	// ErrorCountAborted marks a run cut short by cancellation or the
	// session deadline.
	ErrorCountAborted = -2
)

// Result is the aggregate outcome of one sync session.
type Result struct {
	Success     bool
	SyncedCount int
	ErrorCount  int
}

// Offline is the benign outcome of a session whose connectivity
// precheck failed: nothing synced, nothing wrong.
func Offline() Result {
	return Result{Success: false, SyncedCount: 0, ErrorCount: 0}
}

// Aborted is the outcome of a cancelled run. synced preserves the
// progress made before the cancellation landed.
func Aborted(synced int) Result {
	return Result{Success: false, SyncedCount: synced, ErrorCount: ErrorCountAborted}
}

// Failed is the outcome of a run that hit an unexpected operational
// fault.
func Failed() Result {
	return Result{Success: false, SyncedCount: 0, ErrorCount: ErrorCountFailed}
}

// Completed builds the outcome of a run that processed its whole queue.
// Success requires zero per-record errors.
func Completed(synced, errors int) Result {
	return Result{Success: errors == 0, SyncedCount: synced, ErrorCount: errors}
}

// IsOffline reports whether this is the offline no-op outcome.
func (r Result) IsOffline() bool {
	return !r.Success && r.SyncedCount == 0 && r.ErrorCount == 0
}

// IsAborted reports whether the run was cancelled.
func (r Result) IsAborted() bool {
	return r.ErrorCount == ErrorCountAborted
}

// String returns a compact representation for logs.
func (r Result) String() string {
	switch {
	case r.IsAborted():
		return fmt.Sprintf("aborted (synced=%d)", r.SyncedCount)
	case r.ErrorCount == ErrorCountFailed:
		return "failed"
	case r.IsOffline():
		return "offline"
	default:
		return fmt.Sprintf("synced=%d errors=%d", r.SyncedCount, r.ErrorCount)
	}
}
