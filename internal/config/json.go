package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/tillsync/internal/flagx"
	"github.com/dmitrijs2005/tillsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// may be given as strings ("5s") or integer nanoseconds via timex.Duration.
// Zero values mean "keep the current setting".
type JsonConfig struct {
	StoreDSN           string           `json:"store_dsn"`
	ServerBaseURL      string           `json:"server_base_url"`
	GRPCHealthAddr     string           `json:"grpc_health_addr"`
	ProbeEndpoints     []string         `json:"probe_endpoints"`
	ProbeBodySignature string           `json:"probe_body_signature"`
	ProbeTimeout       *timex.Duration  `json:"probe_timeout"`
	PollBaseInterval   *timex.Duration  `json:"poll_base_interval"`
	PollMaxInterval    *timex.Duration  `json:"poll_max_interval"`
	PollSteadyInterval *timex.Duration  `json:"poll_steady_interval"`
	RetrySchedule      []timex.Duration `json:"retry_schedule"`
	QueueSoftLimit     int              `json:"queue_soft_limit"`
	QueueHardLimit     int              `json:"queue_hard_limit"`
	ArchiveAge         *timex.Duration  `json:"archive_age"`
	CacheTTL           *timex.Duration  `json:"cache_ttl"`
	SessionTTL         *timex.Duration  `json:"session_ttl"`
	RateLimitWindow    *timex.Duration  `json:"rate_limit_window"`
	RateLimitMax       int              `json:"rate_limit_max"`
	ErrorRetention     *timex.Duration  `json:"error_retention"`
}

// parseJson overlays cfg with values loaded from a JSON file resolved via
// the -c/-config flags. Absent file means no overlay. Read or unmarshal
// errors panic, matching the flags layer.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.StoreDSN != "" {
		cfg.StoreDSN = jc.StoreDSN
	}
	if jc.ServerBaseURL != "" {
		cfg.ServerBaseURL = jc.ServerBaseURL
	}
	if jc.GRPCHealthAddr != "" {
		cfg.GRPCHealthAddr = jc.GRPCHealthAddr
	}
	if len(jc.ProbeEndpoints) > 0 {
		cfg.ProbeEndpoints = jc.ProbeEndpoints
	}
	if jc.ProbeBodySignature != "" {
		cfg.ProbeBodySignature = jc.ProbeBodySignature
	}
	if jc.ProbeTimeout != nil {
		cfg.ProbeTimeout = jc.ProbeTimeout.Duration
	}
	if jc.PollBaseInterval != nil {
		cfg.PollBaseInterval = jc.PollBaseInterval.Duration
	}
	if jc.PollMaxInterval != nil {
		cfg.PollMaxInterval = jc.PollMaxInterval.Duration
	}
	if jc.PollSteadyInterval != nil {
		cfg.PollSteadyInterval = jc.PollSteadyInterval.Duration
	}
	if len(jc.RetrySchedule) > 0 {
		cfg.RetrySchedule = cfg.RetrySchedule[:0]
		for _, d := range jc.RetrySchedule {
			cfg.RetrySchedule = append(cfg.RetrySchedule, d.Duration)
		}
	}
	if jc.QueueSoftLimit > 0 {
		cfg.QueueSoftLimit = jc.QueueSoftLimit
	}
	if jc.QueueHardLimit > 0 {
		cfg.QueueHardLimit = jc.QueueHardLimit
	}
	if jc.ArchiveAge != nil {
		cfg.ArchiveAge = jc.ArchiveAge.Duration
	}
	if jc.CacheTTL != nil {
		cfg.CacheTTL = jc.CacheTTL.Duration
	}
	if jc.SessionTTL != nil {
		cfg.SessionTTL = jc.SessionTTL.Duration
	}
	if jc.RateLimitWindow != nil {
		cfg.RateLimitWindow = jc.RateLimitWindow.Duration
	}
	if jc.RateLimitMax > 0 {
		cfg.RateLimitMax = jc.RateLimitMax
	}
	if jc.ErrorRetention != nil {
		cfg.ErrorRetention = jc.ErrorRetention.Duration
	}
}
