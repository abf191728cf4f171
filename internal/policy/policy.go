package policy

import (
	"github.com/revjunkie/nexus7/internal/config"
)

// Action is a topology transition selected by the decision policy.
type Action int

const (
	NoOp Action = iota
	OnlineAll
	OnlineOne
	OfflineOne
)

func (a Action) String() string {
	switch a {
	case OnlineAll:
		return "online_all"
	case OnlineOne:
		return "online_one"
	case OfflineOne:
		return "offline_one"
	default:
		return "noop"
	}
}

// Flags are the controller conditions the policy consults. They are
// independent bits; disabled dominates everything.
type Flags struct {
	Disabled bool
	Paused   bool
}

// Input is the per-tick view the policy decides on. MaxOnline is the
// effective ceiling (the lesser of the tuned max_cores and the
// platform's possible-core count).
type Input struct {
	Average        uint
	Online         uint
	MaxOnline      uint
	Flags          Flags
	OfflinePending bool
}

// Decision is the selected action plus its side conditions.
type Decision struct {
	Action Action

	// CancelOffline requests cancellation of any pending offline
	// before the action runs, so an online action is never undone by
	// a stale scale-down.
	CancelOffline bool

	// Deferred marks an OfflineOne that must run after the cooldown
	// rather than immediately, absorbing transient dips.
	Deferred bool

	// Pause requests the paused flag be set before the action, which
	// suppresses further transitions while sampling continues.
	Pause bool
}

// Decide maps the tick state to an action. Rules are evaluated in
// strict priority order; the first match wins. The spike rule comes
// before the paused check so a saturated system always gets all cores,
// while scale-downs are both paused-gated and cooldown-deferred:
// onlining too eagerly costs power, offlining too eagerly costs
// latency, and the latter is the worse trade.
func Decide(in Input, t config.Tuning) Decision {
	if in.Flags.Disabled {
		return Decision{Action: NoOp}
	}

	if in.Average >= t.ShiftAll && in.Online < in.MaxOnline {
		return Decision{Action: OnlineAll, CancelOffline: true, Pause: true}
	}

	if in.Flags.Paused {
		return Decision{Action: NoOp}
	}

	if in.Average >= t.OnlineOneThreshold(in.Online) && in.Online < in.MaxOnline {
		return Decision{Action: OnlineOne, CancelOffline: true}
	}

	if in.Average <= t.DownShift*in.Online && !in.OfflinePending {
		return Decision{Action: OfflineOne, Deferred: true}
	}

	return Decision{Action: NoOp}
}
