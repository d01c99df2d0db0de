// Package sync implements bidirectional synchronization between the
// local store and the meter-reading backend.
//
// # Overview
//
// The field client operates offline for hours at a time: readings are
// captured into the local store and pushed to the backend whenever
// connectivity allows, and the day's route assignment graph is pulled
// down and materialized locally. This package owns both directions plus
// the session and coordination machinery around them.
//
// # Architecture
//
//	Application shell
//	      ↓
//	  Coordinator        owns the connectivity subscription, serializes
//	      ↓              sessions, auto-triggers up-sync on reconnect
//	   Session           deadline + structured cancellation scope
//	      ↓
//	 DownSyncer / UpSyncer
//	      ↓
//	 retry.Do → RemoteStore (HTTP) / LocalStore (SQLite)
//
// Every request an engine issues derives its context from the session
// context, so closing the session cancels everything in flight; there is
// no per-request bookkeeping to leak.
//
// # Error handling
//
// Per-record and per-unit failures are caught at the smallest possible
// scope and converted into counters; only session-level faults (offline
// mid-run, deadline exceeded, explicit cancellation) abort a run. The
// three-way distinction between offline, partial failure, and
// cancellation is preserved in Result because the application shell
// branches on it.
package sync
