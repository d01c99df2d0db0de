package dashboard

import (
	"encoding/json"

	"github.com/gsm-fullweb/WaterMeterSync/internal/netmon"
	"github.com/gsm-fullweb/WaterMeterSync/internal/sync"
)

// Sink adapts a dashboard Server into a sync.EventSink, translating
// engine events into broadcast messages. Broadcast never blocks, so the
// sink is safe to call from the sync control flow.
type Sink struct {
	server *Server
}

// NewSink wraps server as an event sink for the sync coordinator.
func NewSink(server *Server) *Sink {
	return &Sink{server: server}
}

// SyncStarted broadcasts the beginning of a sync session.
func (s *Sink) SyncStarted(kind sync.Kind) {
	s.send(MessageTypeSyncStarted, SyncStartedData{Direction: kind.String()})
}

// SyncFinished broadcasts a sync outcome.
func (s *Sink) SyncFinished(kind sync.Kind, result sync.Result) {
	s.send(MessageTypeSyncFinished, SyncFinishedData{
		Direction:   kind.String(),
		Success:     result.Success,
		SyncedCount: result.SyncedCount,
		ErrorCount:  result.ErrorCount,
		Outcome:     result.String(),
	})
}

// ConnectivityChanged broadcasts a debounced connectivity transition.
func (s *Sink) ConnectivityChanged(state netmon.State) {
	s.send(MessageTypeConnectivity, ConnectivityData{
		Connected: state.Connected,
		Online:    state.Online(),
		State:     state.String(),
	})
}

func (s *Sink) send(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	s.server.Broadcast(Message{Type: typ, Data: raw})
}
