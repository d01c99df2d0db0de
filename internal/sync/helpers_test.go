package sync

import (
	"context"
	"fmt"
	"io"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/gsm-fullweb/WaterMeterSync/internal/netmon"
	"github.com/gsm-fullweb/WaterMeterSync/internal/remote"
	"github.com/gsm-fullweb/WaterMeterSync/internal/retry"
	"github.com/gsm-fullweb/WaterMeterSync/internal/store"
)

// testConfig returns a config tuned for fast tests: no pauses, no
// backoff delays, no jitter.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.InterBatchPause = 0
	cfg.RetryPolicy = retry.Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		GrowthFactor: 2.0,
	}
	cfg.Logger = log.New(io.Discard)
	return cfg
}

// fakeLocal is an in-memory LocalStore tracking every mutation.
type fakeLocal struct {
	mu stdsync.Mutex

	routes     map[string]*store.Route
	streets    map[string]*store.Street
	residences map[string]*store.Residence
	clients    map[string]*store.Client

	pending  []*store.Reading
	synced   map[string]string // reading ID -> remote ID
	errored  map[string]bool
	lastSync map[string]time.Time

	// failRouteInsert fails a route insert permanently; failRouteOnce
	// fails only the first attempt, exercising the inline retry.
	failRouteInsert     map[string]error
	failRouteOnce       map[string]bool
	failResidenceInsert map[string]error
	failMarkSynced      map[string]error
	pendingErr          error
	markSyncedCalls     int
	markErrorCalls      int
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{
		routes:          map[string]*store.Route{},
		streets:         map[string]*store.Street{},
		residences:      map[string]*store.Residence{},
		clients:         map[string]*store.Client{},
		synced:          map[string]string{},
		errored:         map[string]bool{},
		lastSync:        map[string]time.Time{},
		failRouteInsert:     map[string]error{},
		failRouteOnce:       map[string]bool{},
		failResidenceInsert: map[string]error{},
		failMarkSynced:      map[string]error{},
	}
}

func (f *fakeLocal) InsertRouteContext(ctx context.Context, r *store.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failRouteInsert[r.ID]; err != nil {
		return err
	}
	if f.failRouteOnce[r.ID] {
		delete(f.failRouteOnce, r.ID)
		return fmt.Errorf("transient insert fault for %s", r.ID)
	}
	if _, ok := f.routes[r.ID]; !ok {
		f.routes[r.ID] = r
	}
	return nil
}

func (f *fakeLocal) InsertStreetContext(ctx context.Context, s *store.Street) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streets[s.ID]; !ok {
		f.streets[s.ID] = s
	}
	return nil
}

func (f *fakeLocal) InsertResidenceContext(ctx context.Context, r *store.Residence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failResidenceInsert[r.ID]; err != nil {
		return err
	}
	if _, ok := f.residences[r.ID]; !ok {
		f.residences[r.ID] = r
	}
	return nil
}

func (f *fakeLocal) InsertClientContext(ctx context.Context, c *store.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c.ID]; !ok {
		f.clients[c.ID] = c
	}
	return nil
}

func (f *fakeLocal) GetPendingReadingsContext(ctx context.Context) ([]*store.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	out := make([]*store.Reading, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeLocal) MarkSyncedContext(ctx context.Context, id, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markSyncedCalls++
	if err := f.failMarkSynced[id]; err != nil {
		return err
	}
	if remoteID == "" {
		return fmt.Errorf("remote ID cannot be empty")
	}
	f.synced[id] = remoteID
	for i, r := range f.pending {
		if r.ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeLocal) MarkErrorContext(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markErrorCalls++
	f.errored[id] = true
	for i, r := range f.pending {
		if r.ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeLocal) SetLastSyncTimeContext(ctx context.Context, direction string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSync[direction] = t
	return nil
}

func (f *fakeLocal) addPending(value float64) *store.Reading {
	r := store.NewReading("c1", "r1", "route1", value)
	f.mu.Lock()
	f.pending = append(f.pending, r)
	f.mu.Unlock()
	return r
}

func (f *fakeLocal) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// fakeRemote is a scriptable RemoteStore counting every call.
type fakeRemote struct {
	mu stdsync.Mutex

	graph    *remote.RouteGraph
	graphErr error
	// graphFailures fails the first N fetches before succeeding.
	graphFailures int

	insertErr error
	// insertFailures fails the first N inserts before succeeding.
	insertFailures int
	// failReadings fails inserts for specific reading IDs, always.
	failReadings map[string]error
	// insertDelay holds each successful insert open; used to catch a
	// cancellation landing mid-flight.
	insertDelay time.Duration

	fetchCalls  int
	insertCalls int
	inserted    []remote.ReadingPayload
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{failReadings: map[string]error{}}
}

func (f *fakeRemote) FetchRouteGraph(ctx context.Context, readerID string) (*remote.RouteGraph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.graphFailures > 0 {
		f.graphFailures--
		return nil, retry.Classified(retry.KindTransient, fmt.Errorf("simulated fetch fault"))
	}
	if f.graphErr != nil {
		return nil, f.graphErr
	}
	if f.graph == nil {
		return &remote.RouteGraph{}, nil
	}
	return f.graph, nil
}

func (f *fakeRemote) InsertReading(ctx context.Context, payload remote.ReadingPayload) (string, error) {
	f.mu.Lock()
	f.insertCalls++
	delay := f.insertDelay
	if err := f.failReadings[payload.ReadingID]; err != nil {
		f.mu.Unlock()
		return "", err
	}
	if f.insertFailures > 0 {
		f.insertFailures--
		f.mu.Unlock()
		return "", retry.Classified(retry.KindTransient, fmt.Errorf("simulated insert fault"))
	}
	if f.insertErr != nil {
		err := f.insertErr
		f.mu.Unlock()
		return "", err
	}
	f.inserted = append(f.inserted, payload)
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "srv-" + uuid.NewString(), nil
}

func (f *fakeRemote) calls() (fetch, insert int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.insertCalls
}

// fakeNet is a settable Connectivity.
type fakeNet struct {
	mu    stdsync.Mutex
	state netmon.State
}

func onlineNet() *fakeNet {
	return &fakeNet{state: netmon.State{Connected: true, InternetReachable: netmon.ReachabilityReachable}}
}

func offlineNet() *fakeNet {
	return &fakeNet{state: netmon.State{Connected: false, InternetReachable: netmon.ReachabilityUnreachable}}
}

func (f *fakeNet) Current() netmon.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeNet) set(s netmon.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// fakeMonitor adds a hand-cranked subscription stream on top of fakeNet.
type fakeMonitor struct {
	*fakeNet

	mu       stdsync.Mutex
	handlers map[uint64]func(netmon.State)
	next     uint64
}

func newFakeMonitor(online bool) *fakeMonitor {
	n := offlineNet()
	if online {
		n = onlineNet()
	}
	return &fakeMonitor{fakeNet: n, handlers: map[uint64]func(netmon.State){}}
}

func (f *fakeMonitor) Subscribe(handler func(netmon.State)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.handlers[id] = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

// emit sets the state and delivers it to every subscriber, mimicking a
// debounced transition.
func (f *fakeMonitor) emit(s netmon.State) {
	f.set(s)
	f.mu.Lock()
	handlers := make([]func(netmon.State), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

// testGraph builds an N-route graph, each route with one street holding
// residencesPerStreet residences, each with a client.
func testGraph(routes, residencesPerStreet int) *remote.RouteGraph {
	g := &remote.RouteGraph{}
	for i := 0; i < routes; i++ {
		route := remote.RemoteRoute{
			ID:   fmt.Sprintf("route-%d", i),
			Name: fmt.Sprintf("Route %d", i),
		}
		street := remote.RemoteStreet{
			ID:   fmt.Sprintf("street-%d", i),
			Name: fmt.Sprintf("Street %d", i),
		}
		for j := 0; j < residencesPerStreet; j++ {
			street.Residences = append(street.Residences, remote.RemoteResidence{
				ID:      fmt.Sprintf("res-%d-%d", i, j),
				Address: fmt.Sprintf("%d Main St", j),
				Client: &remote.RemoteClient{
					ID:   fmt.Sprintf("client-%d-%d", i, j),
					Name: fmt.Sprintf("Client %d/%d", i, j),
				},
			})
		}
		route.Streets = append(route.Streets, street)
		g.Routes = append(g.Routes, route)
	}
	return g
}
