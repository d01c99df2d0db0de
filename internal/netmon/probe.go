package netmon

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Prober checks whether the backend is reachable right now.
// *remote.Client satisfies this with its Health method.
type Prober interface {
	Health(ctx context.Context) error
}

// ProbeSource derives connectivity by periodically probing the backend's
// health endpoint. A successful probe means connected and reachable; a
// failed probe means disconnected, since from the sync engine's point of
// view a backend it cannot reach is indistinguishable from no network.
type ProbeSource struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger
}

// NewProbeSource creates a probe source. interval is how often to probe
// (default 15s), timeout bounds each probe (default 5s).
func NewProbeSource(prober Prober, interval, timeout time.Duration, logger *log.Logger) *ProbeSource {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ProbeSource{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run implements Source. It probes once immediately, then on every tick,
// until ctx is cancelled.
func (p *ProbeSource) Run(ctx context.Context, emit func(State)) error {
	emit(p.probe(ctx))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			emit(p.probe(ctx))
		}
	}
}

func (p *ProbeSource) probe(ctx context.Context) State {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.prober.Health(probeCtx); err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("health probe failed", "err", err)
		}
		return State{Connected: false, InternetReachable: ReachabilityUnknown}
	}
	return State{Connected: true, InternetReachable: ReachabilityReachable}
}
