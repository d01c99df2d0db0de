package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"github.com/charmbracelet/log"

	"github.com/gsm-fullweb/WaterMeterSync/internal/netmon"
)

// Coordinator is the single entry point for sync operations.
//
// It serializes runs (one sync at a time, triggers while busy block
// until the running one finishes), owns the sessions, and watches the
// connectivity monitor to fire an automatic up-sync when the device
// comes back online. Automatic triggers use a non-blocking acquire and
// are simply dropped while a sync is already running.
type Coordinator struct {
	local   LocalStore
	remote  RemoteStore
	monitor ConnectivityMonitor
	cfg     *Config
	logger  *log.Logger

	down *DownSyncer
	up   *UpSyncer

	// syncMu serializes sync runs.
	syncMu stdsync.Mutex

	mu           stdsync.Mutex
	readerID     string
	started      bool
	unsubscribe  func()
	lastState    netmon.State
	listeners    map[uint64]func(netmon.State)
	nextListener uint64
}

// NewCoordinator wires a coordinator over the given stores and monitor.
func NewCoordinator(local LocalStore, rs RemoteStore, monitor ConnectivityMonitor, cfg *Config) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()
	return &Coordinator{
		local:     local,
		remote:    rs,
		monitor:   monitor,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "coordinator"),
		down:      NewDownSyncer(local, rs, monitor, cfg),
		up:        NewUpSyncer(local, rs, monitor, cfg),
		listeners: make(map[uint64]func(netmon.State)),
	}
}

// Start begins watching connectivity for readerID. When the device
// transitions from offline to online, a background up-sync drains
// whatever accumulated while disconnected. Idempotent.
func (c *Coordinator) Start(readerID string) error {
	if readerID == "" {
		return fmt.Errorf("reader ID cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.readerID = readerID
	c.started = true
	c.lastState = c.monitor.Current()
	c.unsubscribe = c.monitor.Subscribe(c.onConnectivity)
	c.logger.Info("coordinator started", "reader", readerID, "state", c.lastState)
	return nil
}

// Stop detaches from the connectivity monitor. A sync already in flight
// runs to completion; only the automatic trigger stops. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false
	c.unsubscribe()
	c.unsubscribe = nil
	c.logger.Info("coordinator stopped")
}

// OnConnectivityChange registers a listener for debounced connectivity
// transitions, delivered whether or not an automatic sync fires. The
// returned function unregisters it.
func (c *Coordinator) OnConnectivityChange(fn func(netmon.State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// onConnectivity handles one debounced state change from the monitor.
func (c *Coordinator) onConnectivity(state netmon.State) {
	c.mu.Lock()
	wasOnline := c.lastState.Online()
	c.lastState = state
	readerID := c.readerID
	started := c.started
	listeners := make([]func(netmon.State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.cfg.Events.ConnectivityChanged(state)
	for _, fn := range listeners {
		fn(state)
	}

	if started && !wasOnline && state.Online() {
		c.logger.Info("connectivity restored, triggering up-sync")
		go c.autoUpSync(readerID)
	}
}

// autoUpSync runs the reconnection-triggered up-sync. If a sync is
// already running the trigger is dropped: the running sync is either
// draining the queue already or will be followed by another transition.
func (c *Coordinator) autoUpSync(readerID string) {
	if !c.syncMu.TryLock() {
		c.logger.Debug("sync already running, dropping automatic trigger")
		return
	}
	defer c.syncMu.Unlock()

	result := c.runUp(context.Background())
	c.logger.Info("automatic up-sync finished", "result", result)
}

// SyncDown pulls the route graph into the local store. Blocks until any
// running sync finishes, then runs under the down-sync deadline.
func (c *Coordinator) SyncDown(ctx context.Context) Result {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.Lock()
	readerID := c.readerID
	c.mu.Unlock()

	session := NewSession(ctx, KindDown, c.cfg.DownDeadline)
	defer session.Close()

	c.cfg.Events.SyncStarted(KindDown)
	result := c.down.Run(readerID, session)
	c.cfg.Events.SyncFinished(KindDown, result)
	return result
}

// SyncUp pushes pending readings to the backend. Blocks until any
// running sync finishes, then runs under the up-sync deadline.
func (c *Coordinator) SyncUp(ctx context.Context) Result {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return c.runUp(ctx)
}

// runUp executes one up-sync session. Caller holds syncMu.
func (c *Coordinator) runUp(ctx context.Context) Result {
	session := NewSession(ctx, KindUp, c.cfg.UpDeadline)
	defer session.Close()

	c.cfg.Events.SyncStarted(KindUp)
	result := c.up.Run(session)
	c.cfg.Events.SyncFinished(KindUp, result)
	return result
}
