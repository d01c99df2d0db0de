package sync

import (
	"context"
	"time"

	"github.com/gsm-fullweb/WaterMeterSync/internal/netmon"
	"github.com/gsm-fullweb/WaterMeterSync/internal/remote"
	"github.com/gsm-fullweb/WaterMeterSync/internal/store"
)

// LocalStore is the slice of the local database the sync engines need.
// *store.DB satisfies it; tests substitute in-memory fakes.
type LocalStore interface {
	InsertRouteContext(ctx context.Context, r *store.Route) error
	InsertStreetContext(ctx context.Context, s *store.Street) error
	InsertResidenceContext(ctx context.Context, r *store.Residence) error
	InsertClientContext(ctx context.Context, c *store.Client) error

	GetPendingReadingsContext(ctx context.Context) ([]*store.Reading, error)
	MarkSyncedContext(ctx context.Context, id, remoteID string) error
	MarkErrorContext(ctx context.Context, id string) error

	SetLastSyncTimeContext(ctx context.Context, direction string, t time.Time) error
}

// RemoteStore is the backend surface the engines consume.
// *remote.Client satisfies it.
type RemoteStore interface {
	FetchRouteGraph(ctx context.Context, readerID string) (*remote.RouteGraph, error)
	InsertReading(ctx context.Context, payload remote.ReadingPayload) (string, error)
}

// Connectivity is the point-query side of the connectivity monitor.
type Connectivity interface {
	Current() netmon.State
}

// ConnectivityMonitor adds the subscription stream the coordinator owns.
// *netmon.Monitor satisfies it.
type ConnectivityMonitor interface {
	Connectivity
	Subscribe(handler func(netmon.State)) (unsubscribe func())
}

// EventSink receives sync lifecycle events for observers such as the
// dashboard. Implementations must not block; delivery happens on the
// sync control flow.
type EventSink interface {
	SyncStarted(kind Kind)
	SyncFinished(kind Kind, result Result)
	ConnectivityChanged(state netmon.State)
}

// noopSink is used when no event sink is configured.
type noopSink struct{}

func (noopSink) SyncStarted(Kind) {}
func (noopSink) SyncFinished(Kind, Result) {}
func (noopSink) ConnectivityChanged(netmon.State) {}
