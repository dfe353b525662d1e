// Package nettrace records the phase timeline of a single HTTP exchange
// (DNS lookup through body transfer) and evaluates it against optional
// per-phase time budgets.
package nettrace

import "time"

// PhaseKind identifies one segment of an exchange's timeline.
type PhaseKind int

const (
	PhaseDNS PhaseKind = iota
	PhaseConnect
	PhaseTLS
	PhaseReqHdrs
	PhaseTTFB
	PhaseTransfer
	// PhaseTotal is a synthetic kind used only in budget breaches; no
	// Collector phase carries it.
	PhaseTotal
)

func (k PhaseKind) String() string {
	switch k {
	case PhaseDNS:
		return "dns"
	case PhaseConnect:
		return "connect"
	case PhaseTLS:
		return "tls"
	case PhaseReqHdrs:
		return "request_headers"
	case PhaseTTFB:
		return "time_to_first_byte"
	case PhaseTransfer:
		return "transfer"
	case PhaseTotal:
		return "total"
	default:
		return "unknown"
	}
}

// PhaseMeta carries phase-specific detail gathered while the phase runs.
type PhaseMeta struct {
	Addr   string
	Cached bool
}

// Phase is one completed (or dangling) timeline segment.
type Phase struct {
	Kind     PhaseKind
	Start    time.Time
	Duration time.Duration
	Meta     PhaseMeta
	Err      string
}
