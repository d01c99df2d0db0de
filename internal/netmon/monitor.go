// Package netmon provides connectivity monitoring for the sync engine.
//
// A Monitor wraps a platform network-status Source, debounces flapping
// links, and exposes both a point query (Current) and a subscription
// stream of state transitions (Subscribe). The sync coordinator uses the
// stream to trigger an automatic up-sync when the device comes back
// online.
//
// Connectivity uncertainty must never crash a caller: source faults are
// logged and reported as disconnected.
package netmon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Source is a platform network-status source.
//
// Run delivers raw, undebounced state observations to emit until ctx is
// cancelled. Implementations must return promptly when ctx fires and must
// not call emit afterwards. A source that cannot obtain the platform
// signal emits a disconnected state instead of failing.
type Source interface {
	Run(ctx context.Context, emit func(State)) error
}

// Config holds configuration for the monitor.
type Config struct {
	// DebounceInterval is the minimum interval between emitted state
	// transitions. Flaps inside the window collapse to the final state.
	DebounceInterval time.Duration

	// Logger for monitor activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		Logger:           log.Default(),
	}
}

// subscription is one registered handler. The active flag is checked
// immediately before each invocation so an unsubscribed handler is never
// called for a transition that was already in flight.
type subscription struct {
	fn     func(State)
	active atomic.Bool
}

// Monitor debounces a Source and fans state transitions out to
// subscribers. All handler invocations happen on the monitor's own
// goroutine, so handlers never race each other.
type Monitor struct {
	source Source
	config *Config

	mu    sync.Mutex
	state State
	subs  map[uint64]*subscription
	next  uint64

	raw    chan State
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a monitor over the given source. Call Start to begin
// observing; until then Current reports a disconnected state.
func New(source Source, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		source: source,
		config: config,
		subs:   make(map[uint64]*subscription),
		raw:    make(chan State, 16),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the source and the debounce loop. Idempotent.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(2)
		go m.runSource()
		go m.runLoop()
	})
}

// Stop shuts the monitor down and waits for in-flight deliveries to
// finish. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

// Current returns the last debounced state.
func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers handler for debounced state transitions and returns
// an unsubscribe function. The handler is invoked at most once per
// distinct state. Unsubscribe is idempotent and safe to call from within
// the handler itself; after it returns, the handler is not invoked again.
func (m *Monitor) Subscribe(handler func(State)) (unsubscribe func()) {
	sub := &subscription{fn: handler}
	sub.active.Store(true)

	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = sub
	m.mu.Unlock()

	return func() {
		sub.active.Store(false)
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// runSource drives the platform source, funneling observations into the
// debounce loop. A source error is a fault, not a crash: it is logged and
// the monitor reports disconnected.
func (m *Monitor) runSource() {
	defer m.wg.Done()

	err := m.source.Run(m.ctx, func(s State) {
		select {
		case m.raw <- s:
		case <-m.ctx.Done():
		}
	})
	if err != nil && m.ctx.Err() == nil {
		m.config.Logger.Error("connectivity source failed", "err", err)
		select {
		case m.raw <- State{Connected: false, InternetReachable: ReachabilityUnknown}:
		case <-m.ctx.Done():
		}
	}
}

// runLoop applies debouncing and delivers transitions to subscribers.
func (m *Monitor) runLoop() {
	defer m.wg.Done()

	var (
		lastEmit time.Time
		pending  *State
		timer    *time.Timer
		timerC   <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-m.ctx.Done():
			return

		case s := <-m.raw:
			if s == m.Current() && pending == nil {
				continue
			}
			if wait := m.config.DebounceInterval - time.Since(lastEmit); wait > 0 && !lastEmit.IsZero() {
				// Inside the debounce window: stash and (re)arm.
				snapshot := s
				pending = &snapshot
				stopTimer()
				timer = time.NewTimer(wait)
				timerC = timer.C
				continue
			}
			pending = nil
			stopTimer()
			m.commit(s)
			lastEmit = time.Now()

		case <-timerC:
			stopTimer()
			if pending == nil {
				continue
			}
			s := *pending
			pending = nil
			if s == m.Current() {
				continue
			}
			m.commit(s)
			lastEmit = time.Now()
		}
	}
}

// commit records the new state and notifies subscribers. Handlers run
// outside the monitor lock so they may subscribe or unsubscribe freely.
func (m *Monitor) commit(s State) {
	m.mu.Lock()
	m.state = s
	live := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		live = append(live, sub)
	}
	m.mu.Unlock()

	m.config.Logger.Debug("connectivity transition", "state", s.String())

	for _, sub := range live {
		if sub.active.Load() {
			sub.fn(s)
		}
	}
}
