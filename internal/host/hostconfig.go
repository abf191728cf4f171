package host

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/revjunkie/nexus7/internal/logging"

	"github.com/sirupsen/logrus"
)

const sysfsCPURoot = "/sys/devices/system/cpu"

// HostConfig contains host system configuration information.
// This is initialized once at startup and used throughout the daemon.
type HostConfig struct {
	CPUVendor     string
	CPUModel      string
	PossibleCores uint

	Hostname      string
	OSInfo        string
	KernelVersion string

	logger *logrus.Logger
}

var (
	globalHostConfig *HostConfig
	hostConfigOnce   sync.Once
)

// GetHostConfig returns the global host configuration.
// It initializes the configuration on first call.
func GetHostConfig() (*HostConfig, error) {
	var err error
	hostConfigOnce.Do(func() {
		globalHostConfig, err = initializeHostConfig()
	})
	return globalHostConfig, err
}

func initializeHostConfig() (*HostConfig, error) {
	logger := logging.GetLogger()
	logger.Info("Initializing host configuration")

	config := &HostConfig{
		logger: logger,
	}

	if err := config.initSystemInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize system info: %v", err)
	}

	if err := config.initCPUInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize CPU info: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"cpu_model":      config.CPUModel,
		"possible_cores": config.PossibleCores,
		"kernel":         config.KernelVersion,
	}).Info("Host configuration initialized")

	return config, nil
}

func (hc *HostConfig) initSystemInfo() error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %v", err)
	}
	hc.Hostname = hostname

	hc.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	if data, err := os.ReadFile("/proc/version"); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hc.KernelVersion = version[2]
		}
	}

	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}

	return nil
}

func (hc *HostConfig) initCPUInfo() error {
	// The possible mask covers cores that are offline right now, which
	// runtime.NumCPU does not.
	if data, err := os.ReadFile(sysfsCPURoot + "/possible"); err == nil {
		if n, err := ParsePossibleCPUs(string(data)); err == nil {
			hc.PossibleCores = n
		}
	}
	if hc.PossibleCores == 0 {
		hc.PossibleCores = uint(runtime.NumCPU())
	}

	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		hc.CPUVendor = "unknown"
		hc.CPUModel = "unknown"
		return nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "vendor_id") || strings.HasPrefix(line, "CPU implementer") {
			if hc.CPUVendor == "" {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					hc.CPUVendor = strings.TrimSpace(parts[1])
				}
			}
		} else if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "Processor") {
			if hc.CPUModel == "" {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					hc.CPUModel = strings.TrimSpace(parts[1])
				}
			}
		}
	}

	if hc.CPUVendor == "" {
		hc.CPUVendor = "unknown"
	}
	if hc.CPUModel == "" {
		hc.CPUModel = "unknown"
	}

	return nil
}

// ParsePossibleCPUs parses a sysfs CPU list such as "0-3" or "0,2-5"
// and returns the number of CPUs it covers.
func ParsePossibleCPUs(list string) (uint, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return 0, fmt.Errorf("empty cpu list")
	}

	var count uint
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err := strconv.ParseUint(strings.TrimSpace(bounds[0]), 10, 32)
			if err != nil {
				return 0, fmt.Errorf("invalid cpu range start: %s", bounds[0])
			}
			end, err := strconv.ParseUint(strings.TrimSpace(bounds[1]), 10, 32)
			if err != nil {
				return 0, fmt.Errorf("invalid cpu range end: %s", bounds[1])
			}
			if start > end {
				return 0, fmt.Errorf("invalid cpu range: %s", part)
			}
			count += uint(end - start + 1)
		} else {
			if _, err := strconv.ParseUint(part, 10, 32); err != nil {
				return 0, fmt.Errorf("invalid cpu number: %s", part)
			}
			count++
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("no cpus in list %q", list)
	}
	return count, nil
}
