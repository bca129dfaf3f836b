// Package config holds runtime settings for the tillsync engine.
//
// Settings are populated in three layers, later layers overriding earlier
// ones: LoadDefaults, then a JSON file (-c/-config), then command-line
// flags. All values are plain numbers, durations or strings so the
// surrounding application can supply them from any source.
package config

import "time"

// Config is the full configuration surface of the engine.
type Config struct {
	// StoreDSN is the SQLite database path for the durable local store.
	StoreDSN string

	// ServerBaseURL is the base URL of the upstream HTTP API.
	ServerBaseURL string

	// GRPCHealthAddr is the host:port of the upstream gRPC endpoint used
	// for the persistent-channel connectivity signal.
	GRPCHealthAddr string

	// ProbeEndpoints are the HTTP URLs queried during connectivity probing.
	// At least two independent endpoints are required for the two-of-N
	// agreement rule.
	ProbeEndpoints []string

	// ProbeBodySignature is a substring every probe endpoint must return;
	// a response without it is treated as a captive-portal page.
	ProbeBodySignature string

	// ProbeTimeout bounds each individual connectivity signal check.
	ProbeTimeout time.Duration

	// PollBaseInterval is the starting probe interval while unreachable;
	// it doubles each round up to PollMaxInterval.
	PollBaseInterval time.Duration
	PollMaxInterval  time.Duration

	// PollSteadyInterval is the fixed probe interval while reachable.
	PollSteadyInterval time.Duration

	// RetrySchedule is the fixed backoff schedule for store writes and
	// per-operation sync attempts. Jitter of ±20% is added to each delay.
	RetrySchedule []time.Duration

	// QueueSoftLimit triggers archival of old synced operations.
	QueueSoftLimit int
	// QueueHardLimit bounds the number of unsynced operations; crossing it
	// drops the oldest unsynced operations loudly.
	QueueHardLimit int
	// ArchiveAge is the minimum age of a synced operation before it is
	// eligible for archival.
	ArchiveAge time.Duration
	// ArchiveRetention is how long archived operations are kept before the
	// prune phase removes them.
	ArchiveRetention time.Duration

	// CacheTTL is the validity window for reference-data cache entries.
	CacheTTL time.Duration

	// ReferenceKeys are the reference-data sets refreshed on every sync
	// cycle in addition to whatever is stale in the cache.
	ReferenceKeys []string

	// SessionTTL bounds offline credential validity.
	SessionTTL time.Duration

	// RateLimitWindow and RateLimitMax bound offline validation attempts
	// per identity (RateLimitMax attempts per rolling window).
	RateLimitWindow time.Duration
	RateLimitMax    int

	// ErrorRetention is how long sync error records are kept before the
	// prune phase removes them.
	ErrorRetention time.Duration

	// Argon2 parameters for offline credential hashing. They must match
	// the server's own hashing cost so offline and online validation agree.
	Argon2Time      uint32
	Argon2MemoryKiB uint32
	Argon2Threads   uint8
	Argon2KeyLen    uint32
}

// LoadDefaults populates c with the documented defaults.
func (c *Config) LoadDefaults() {
	c.StoreDSN = "tillsync.db"
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.GRPCHealthAddr = "127.0.0.1:50051"
	c.ProbeEndpoints = []string{
		"http://127.0.0.1:8080/healthz",
		"http://127.0.0.1:8080/ping",
	}
	c.ProbeBodySignature = `"status":"ok"`
	c.ProbeTimeout = time.Second

	c.PollBaseInterval = 5 * time.Second
	c.PollMaxInterval = 60 * time.Second
	c.PollSteadyInterval = 60 * time.Second

	c.RetrySchedule = []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
	}

	c.QueueSoftLimit = 3000
	c.QueueHardLimit = 5000
	c.ArchiveAge = 2 * time.Hour
	c.ArchiveRetention = 30 * 24 * time.Hour

	c.CacheTTL = 15 * time.Minute
	c.ReferenceKeys = []string{"catalog", "prices", "taxes"}
	c.SessionTTL = 24 * time.Hour
	c.RateLimitWindow = 60 * time.Second
	c.RateLimitMax = 5
	c.ErrorRetention = 30 * 24 * time.Hour

	c.Argon2Time = 3
	c.Argon2MemoryKiB = 64 * 1024
	c.Argon2Threads = 4
	c.Argon2KeyLen = 32
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
