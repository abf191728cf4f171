package topology

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Topology exposes per-core online/offline control. Failures from the
// underlying hotplug primitive are transient: callers re-query counts
// instead of tracking them incrementally.
type Topology interface {
	// BringOnline brings the given core online. Idempotent.
	BringOnline(core uint) error

	// TakeOffline takes the given core offline. Core 0 is not
	// removable and always fails.
	TakeOffline(core uint) error

	// IsOnline reports whether the given core is currently online.
	IsOnline(core uint) bool

	// OnlineCount returns the number of cores currently online.
	OnlineCount() uint

	// MaxPossible returns the platform's possible-core count.
	MaxPossible() uint
}

// SysfsTopology drives core hotplug through the kernel's
// /sys/devices/system/cpu/cpuN/online attributes.
type SysfsTopology struct {
	root   string
	max    uint
	logger logrus.FieldLogger
}

const DefaultSysfsRoot = "/sys/devices/system/cpu"

func NewSysfsTopology(root string, maxPossible uint, logger logrus.FieldLogger) (*SysfsTopology, error) {
	if root == "" {
		root = DefaultSysfsRoot
	}
	if maxPossible == 0 {
		return nil, fmt.Errorf("possible-core count must be >= 1")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("cpu sysfs root %s not accessible: %w", root, err)
	}
	return &SysfsTopology{root: root, max: maxPossible, logger: logger}, nil
}

func (t *SysfsTopology) onlinePath(core uint) string {
	return fmt.Sprintf("%s/cpu%d/online", t.root, core)
}

func (t *SysfsTopology) BringOnline(core uint) error {
	if core >= t.max {
		return fmt.Errorf("core %d out of range (possible: %d)", core, t.max)
	}
	if core == 0 {
		// The boot core has no online attribute; it is always up.
		return nil
	}
	if t.IsOnline(core) {
		return nil
	}
	if err := os.WriteFile(t.onlinePath(core), []byte("1"), 0o644); err != nil {
		return fmt.Errorf("failed to online core %d: %w", core, err)
	}
	t.logger.WithField("core", core).Debug("Core brought online")
	return nil
}

func (t *SysfsTopology) TakeOffline(core uint) error {
	if core >= t.max {
		return fmt.Errorf("core %d out of range (possible: %d)", core, t.max)
	}
	if core == 0 {
		return fmt.Errorf("core 0 is not removable")
	}
	if !t.IsOnline(core) {
		return nil
	}
	if err := os.WriteFile(t.onlinePath(core), []byte("0"), 0o644); err != nil {
		return fmt.Errorf("failed to offline core %d: %w", core, err)
	}
	t.logger.WithField("core", core).Debug("Core taken offline")
	return nil
}

func (t *SysfsTopology) IsOnline(core uint) bool {
	if core >= t.max {
		return false
	}
	data, err := os.ReadFile(t.onlinePath(core))
	if err != nil {
		// Cores without an online attribute (core 0, or kernels built
		// without hotplug for that core) are permanently online.
		return core == 0 || os.IsNotExist(err)
	}
	return strings.TrimSpace(string(data)) == "1"
}

func (t *SysfsTopology) OnlineCount() uint {
	var count uint
	for core := uint(0); core < t.max; core++ {
		if t.IsOnline(core) {
			count++
		}
	}
	return count
}

func (t *SysfsTopology) MaxPossible() uint {
	return t.max
}
