package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sync"

	"github.com/dmitrijs2005/tillsync/internal/authcache"
	"github.com/dmitrijs2005/tillsync/internal/config"
	"github.com/dmitrijs2005/tillsync/internal/connectivity"
	"github.com/dmitrijs2005/tillsync/internal/events"
	"github.com/dmitrijs2005/tillsync/internal/logging"
	"github.com/dmitrijs2005/tillsync/internal/queue"
	"github.com/dmitrijs2005/tillsync/internal/store"
	"github.com/dmitrijs2005/tillsync/internal/syncer"
	"github.com/dmitrijs2005/tillsync/internal/upstream"

	_ "modernc.org/sqlite"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

// App wires the engine together behind an interactive terminal session.
type App struct {
	config  *config.Config
	store   *store.Store
	queue   *queue.Queue
	monitor *connectivity.Monitor
	orch    *syncer.Orchestrator
	auth    *authcache.Cache
	api     upstream.Client
	bus     *events.Bus
	log     logging.Logger

	// mu guards identity and mode: the REPL writes them on login/logout
	// while the connectivity watcher updates mode in the background.
	mu       sync.Mutex
	identity string
	mode     Mode

	reader *bufio.Reader
	out    io.Writer
}

func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	s, err := store.Open(ctx, c.StoreDSN, c.RetrySchedule, log)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()

	q := queue.New(s, queue.Config{
		SoftLimit:  c.QueueSoftLimit,
		HardLimit:  c.QueueHardLimit,
		ArchiveAge: c.ArchiveAge,
	}, log)
	if err := q.RecoverInFlight(ctx); err != nil {
		return nil, err
	}

	serverURL, err := url.Parse(c.ServerBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server base URL %q: %w", c.ServerBaseURL, err)
	}
	prober, err := connectivity.NewProber(connectivity.ProbeConfig{
		DNSHost:       serverURL.Hostname(),
		TCPAddr:       hostPort(serverURL),
		HTTPEndpoints: c.ProbeEndpoints,
		BodySignature: c.ProbeBodySignature,
		GRPCAddr:      c.GRPCHealthAddr,
		Timeout:       c.ProbeTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	fresh := func(ctx context.Context) bool {
		ok, err := s.HasFreshCacheEntry(ctx)
		return err == nil && ok
	}
	monitor := connectivity.NewMonitor(connectivity.MonitorConfig{
		BaseInterval:   c.PollBaseInterval,
		MaxInterval:    c.PollMaxInterval,
		SteadyInterval: c.PollSteadyInterval,
	}, prober, fresh, bus, log)

	api := upstream.NewHTTPClient(c.ServerBaseURL, c.ProbeTimeout*10)

	auth := authcache.New(s, authcache.Config{
		SessionTTL:      c.SessionTTL,
		RateLimitWindow: c.RateLimitWindow,
		RateLimitMax:    c.RateLimitMax,
		Argon2Time:      c.Argon2Time,
		Argon2MemoryKiB: c.Argon2MemoryKiB,
		Argon2Threads:   c.Argon2Threads,
		Argon2KeyLen:    c.Argon2KeyLen,
	}, bus, log)

	orch := syncer.New(s, q, api, auth, syncer.Config{
		RetrySchedule:    c.RetrySchedule,
		ReferenceKeys:    c.ReferenceKeys,
		CacheTTL:         c.CacheTTL,
		ArchiveRetention: c.ArchiveRetention,
		ErrorRetention:   c.ErrorRetention,
	}, bus, log)

	return &App{
		config:  c,
		store:   s,
		queue:   q,
		monitor: monitor,
		orch:    orch,
		auth:    auth,
		api:     api,
		bus:     bus,
		log:     log,
		mode:    ModeDisabled,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
	}, nil
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity != ""
}

func (a *App) getIdentity() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

func (a *App) setIdentity(identity string) {
	a.mu.Lock()
	a.identity = identity
	a.mu.Unlock()
}

func (a *App) getMode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) getStatus() string {
	a.mu.Lock()
	identity, mode := a.identity, a.mode
	a.mu.Unlock()

	s := ""
	if identity != "" {
		s = identity + " "
	}
	if mode != "" {
		s = s + string(mode)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

func (a *App) setMode(ctx context.Context, mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()
	if changed {
		a.log.Info(ctx, "mode changed", "mode", mode)
	}
}

// Run starts the background engine and enters the interactive loop. It
// returns when the user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// subscribe before the first probe round so no transition is missed
	changes := a.monitor.Subscribe()
	go a.orch.Run(ctx, changes)
	go a.watchConnectivity(ctx)
	a.monitor.Start(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.getStatus, scanner, a.out)

	cancel()
	a.monitor.Stop()
	a.orch.Wait()
	a.bus.Close()
	_ = a.api.Close()
	_ = a.store.Close()
}

// watchConnectivity keeps the visible mode in step with the monitor while a
// user is logged in.
func (a *App) watchConnectivity(ctx context.Context) {
	sub := a.monitor.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-sub:
			if !ok {
				return
			}
			if !a.isLoggedIn() {
				continue
			}
			if ch.State.Reachable() {
				a.setMode(ctx, ModeOnline)
			} else {
				a.setMode(ctx, ModeOffline)
			}
		}
	}
}
