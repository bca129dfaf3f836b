package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/events"
	"github.com/dmitrijs2005/tillsync/internal/logging"
)

// Change is delivered to subscribers on every state transition.
type Change struct {
	State      State
	Confidence int
}

// MonitorConfig holds the polling cadence of the monitor.
type MonitorConfig struct {
	// BaseInterval is the starting probe interval while unreachable; it
	// doubles each round up to MaxInterval and resets on the first
	// successful probe.
	BaseInterval time.Duration
	MaxInterval  time.Duration
	// SteadyInterval is the fixed probe interval while reachable.
	SteadyInterval time.Duration
}

// FreshnessFunc reports whether locally cached reference data is still
// within its TTL. It feeds the cache_freshness term of the confidence
// score.
type FreshnessFunc func(ctx context.Context) bool

// Monitor continuously probes server reachability and emits state
// transitions. It owns the single source of connectivity truth; consumers
// subscribe rather than polling shared globals.
type Monitor struct {
	cfg    MonitorConfig
	prober Prober
	fresh  FreshnessFunc
	log    logging.Logger
	bus    *events.Bus

	mu         sync.Mutex
	state      State
	confidence int
	subs       []chan Change
	// cancelRound aborts the in-flight probe round so a stale result can
	// never overwrite a fresher one.
	cancelRound context.CancelFunc

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor builds a Monitor. Until the first probe round completes the
// state is DefinitelyOffline.
func NewMonitor(cfg MonitorConfig, prober Prober, fresh FreshnessFunc, bus *events.Bus, log logging.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		prober: prober,
		fresh:  fresh,
		log:    log,
		bus:    bus,
		state:  DefinitelyOffline,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the polling loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Stop cancels the in-flight round, stops the polling timer and waits for
// the loop to exit. The prober is closed as well.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	_ = m.prober.Close()
}

// State returns the current classification and confidence.
func (m *Monitor) State() (State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.confidence
}

// Subscribe returns a channel receiving a Change on every state
// transition. The channel is buffered; a slow consumer loses old
// transitions, never blocks the monitor.
func (m *Monitor) Subscribe() <-chan Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Change, 16)
	m.subs = append(m.subs, ch)
	return ch
}

// ForceProbe runs one probe round immediately and returns its signal.
func (m *Monitor) ForceProbe(ctx context.Context) Signal {
	return m.round(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	backoff := m.cfg.BaseInterval
	timer := time.NewTimer(0) // first round runs immediately
	defer timer.Stop()

	for {
		select {
		case <-m.stop:
			m.mu.Lock()
			if m.cancelRound != nil {
				m.cancelRound()
			}
			m.mu.Unlock()
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		sig := m.round(ctx)

		var next time.Duration
		if sig.State.Reachable() {
			backoff = m.cfg.BaseInterval
			next = m.cfg.SteadyInterval
		} else {
			next = backoff
			backoff *= 2
			if backoff > m.cfg.MaxInterval {
				backoff = m.cfg.MaxInterval
			}
		}
		timer.Reset(next)
	}
}

// round runs all signal checks concurrently, scores the outcome and
// applies the state transition. Starting a round cancels the previous one.
func (m *Monitor) round(ctx context.Context) Signal {
	m.mu.Lock()
	if m.cancelRound != nil {
		m.cancelRound()
	}
	roundCtx, cancel := context.WithCancel(ctx)
	m.cancelRound = cancel
	m.mu.Unlock()
	defer cancel()

	var sig Signal
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); sig.DNSOK = m.prober.ProbeDNS(roundCtx) }()
	go func() { defer wg.Done(); sig.TCPOK = m.prober.ProbeTCP(roundCtx) }()
	go func() { defer wg.Done(); sig.HTTPConsistency = m.prober.ProbeHTTP(roundCtx) }()
	go func() { defer wg.Done(); sig.ChannelOK = m.prober.ProbeChannel(roundCtx) }()
	wg.Wait()

	if m.fresh != nil {
		sig.CacheFresh = m.fresh(roundCtx)
	}

	if roundCtx.Err() != nil {
		// superseded or shutting down; keep the current state
		m.mu.Lock()
		sig.State, sig.Confidence = m.state, m.confidence
		m.mu.Unlock()
		return sig
	}

	sig = Score(sig)
	m.apply(ctx, sig)
	return sig
}

func (m *Monitor) apply(ctx context.Context, sig Signal) {
	m.mu.Lock()
	changed := sig.State != m.state
	m.state = sig.State
	m.confidence = sig.Confidence
	subs := m.subs
	m.mu.Unlock()

	m.log.Debug(ctx, "probe round",
		"dns", sig.DNSOK, "tcp", sig.TCPOK, "http", sig.HTTPConsistency,
		"channel", sig.ChannelOK, "fresh", sig.CacheFresh,
		"confidence", sig.Confidence, "state", sig.State.String())

	if !changed {
		return
	}

	m.log.Info(ctx, "connectivity changed", "state", sig.State.String(), "confidence", sig.Confidence)
	if m.bus != nil {
		m.bus.Publish(events.ConnectivityChanged{State: sig.State.String(), Confidence: sig.Confidence})
	}
	change := Change{State: sig.State, Confidence: sig.Confidence}
	for _, ch := range subs {
		select {
		case ch <- change:
		default:
		}
	}
}
