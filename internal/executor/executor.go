package executor

import (
	"fmt"

	"github.com/revjunkie/nexus7/internal/config"
	"github.com/revjunkie/nexus7/internal/policy"
	"github.com/revjunkie/nexus7/internal/topology"

	"github.com/sirupsen/logrus"
)

// Executor carries a selected action out against the core topology.
// It is stateless: bounds come from the tuning snapshot and the
// topology is queried fresh on every call, so a partial failure never
// leaves a stale count behind.
type Executor struct {
	topo   topology.Topology
	logger logrus.FieldLogger
}

func New(topo topology.Topology, logger logrus.FieldLogger) (*Executor, error) {
	if topo == nil {
		return nil, fmt.Errorf("topology is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{topo: topo, logger: logger}, nil
}

// Apply executes the action under the given tuning bounds. Errors from
// the hotplug primitive are surfaced but the topology is left to the
// next query; callers treat a failed action as a no-op for the tick.
func (e *Executor) Apply(action policy.Action, t config.Tuning) error {
	switch action {
	case policy.OnlineAll:
		return e.onlineAll(t)
	case policy.OnlineOne:
		return e.onlineOne(t)
	case policy.OfflineOne:
		return e.offlineOne(t)
	case policy.NoOp:
		return nil
	}
	return fmt.Errorf("unknown action %d", action)
}

func (e *Executor) ceiling(t config.Tuning) uint {
	max := e.topo.MaxPossible()
	if t.MaxCores < max {
		max = t.MaxCores
	}
	return max
}

// onlineAll brings every offline core up to the ceiling online. Cores
// already online are skipped, so repeating the action is harmless.
// Per-core failures are logged and the remaining cores still get their
// chance; the first error is reported.
func (e *Executor) onlineAll(t config.Tuning) error {
	var firstErr error
	for core := uint(0); core < e.ceiling(t); core++ {
		if e.topo.IsOnline(core) {
			continue
		}
		if err := e.topo.BringOnline(core); err != nil {
			e.logger.WithField("core", core).WithError(err).Warn("Failed to bring core online")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.logger.WithField("core", core).Debug("Core up")
	}
	return firstErr
}

// onlineOne brings the lowest-indexed offline core online. No offline
// core below the ceiling is not an error.
func (e *Executor) onlineOne(t config.Tuning) error {
	if e.topo.OnlineCount() >= e.ceiling(t) {
		return nil
	}
	for core := uint(1); core < e.ceiling(t); core++ {
		if e.topo.IsOnline(core) {
			continue
		}
		if err := e.topo.BringOnline(core); err != nil {
			return fmt.Errorf("failed to online core %d: %w", core, err)
		}
		e.logger.WithField("core", core).Debug("Core up")
		return nil
	}
	return nil
}

// offlineOne takes the highest-indexed online core offline, never core
// 0 and never below min_cores.
func (e *Executor) offlineOne(t config.Tuning) error {
	if e.topo.OnlineCount() <= t.MinCores {
		return nil
	}
	for core := e.topo.MaxPossible() - 1; core >= 1; core-- {
		if !e.topo.IsOnline(core) {
			continue
		}
		if err := e.topo.TakeOffline(core); err != nil {
			return fmt.Errorf("failed to offline core %d: %w", core, err)
		}
		e.logger.WithField("core", core).Debug("Core down")
		return nil
	}
	return nil
}
