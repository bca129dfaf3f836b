// Package connectivity produces a continuous server-reachability signal
// from several independent probes. A weighted confidence score drives a
// four-state machine; only the two highest states are treated as
// "reachable" by the sync orchestrator, so captive portals and flaky links
// keep the client in offline mode instead of triggering doomed sync cycles.
package connectivity

import "math"

// State is the reachability classification of the last probe round.
type State int

const (
	DefinitelyOnline State = iota
	ProbablyOnline
	MaybeOnline
	DefinitelyOffline
)

func (s State) String() string {
	switch s {
	case DefinitelyOnline:
		return "definitely-online"
	case ProbablyOnline:
		return "probably-online"
	case MaybeOnline:
		return "maybe-online"
	case DefinitelyOffline:
		return "definitely-offline"
	default:
		return "unknown"
	}
}

// Reachable reports whether the state allows sync cycles to start.
func (s State) Reachable() bool {
	return s == DefinitelyOnline || s == ProbablyOnline
}

// Signal is the outcome of one probe round. It is never persisted.
type Signal struct {
	DNSOK           bool
	TCPOK           bool
	HTTPConsistency float64
	ChannelOK       bool
	CacheFresh      bool

	Confidence int
	State      State
}

// Signal weights. The persistent channel is the strongest signal because a
// live end-to-end stream is the hardest thing for a captive portal to fake.
const (
	weightDNS       = 0.15
	weightTCP       = 0.20
	weightHTTP      = 0.25
	weightChannel   = 0.30
	weightFreshness = 0.10
)

// Classification thresholds on the 0-100 confidence score.
const (
	thresholdDefinitelyOnline = 80
	thresholdProbablyOnline   = 50
	thresholdMaybeOnline      = 20
)

func boolTerm(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// Score computes the weighted confidence and state for a probe round and
// returns the signal with both fields filled in.
func Score(sig Signal) Signal {
	c := weightDNS*boolTerm(sig.DNSOK) +
		weightTCP*boolTerm(sig.TCPOK) +
		weightHTTP*sig.HTTPConsistency +
		weightChannel*boolTerm(sig.ChannelOK) +
		weightFreshness*boolTerm(sig.CacheFresh)

	sig.Confidence = int(math.Round(c * 100))
	sig.State = classify(sig.Confidence)
	return sig
}

func classify(confidence int) State {
	switch {
	case confidence >= thresholdDefinitelyOnline:
		return DefinitelyOnline
	case confidence >= thresholdProbablyOnline:
		return ProbablyOnline
	case confidence >= thresholdMaybeOnline:
		return MaybeOnline
	default:
		return DefinitelyOffline
	}
}
