package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/revjunkie/nexus7/internal/logging"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the original shipped tuning of the hotplug policy.
const (
	DefaultShiftAll        = 500
	DefaultShiftOne        = 225
	DefaultDownShift       = 100
	DefaultMinCores        = 1
	DefaultSampleTimeMS    = 20
	DefaultSamplingPeriods = 18

	DefaultControlSocket = "/run/hotplugd.sock"
	DefaultDevicesFile   = "/proc/bus/input/devices"
	DefaultDevDir        = "/dev/input"
)

func LoadConfig(filepath string) (*DaemonConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*DaemonConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	// Expand environment variables
	expanded := expandEnvVars(originalContent)

	var config DaemonConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &config, originalContent, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(config *DaemonConfig) {
	if config.Daemon.RateScaling == "" {
		config.Daemon.RateScaling = "linear"
	}
	if config.Tuning.ShiftAll == 0 {
		config.Tuning.ShiftAll = DefaultShiftAll
	}
	if config.Tuning.ShiftOne == 0 {
		config.Tuning.ShiftOne = DefaultShiftOne
	}
	if config.Tuning.DownShift == 0 {
		config.Tuning.DownShift = DefaultDownShift
	}
	if config.Tuning.MinCores == 0 {
		config.Tuning.MinCores = DefaultMinCores
	}
	// MaxCores 0 means "all cores the platform has"; resolved once the
	// possible-core count is known (see NewStore).
	if config.Tuning.SampleTimeMS == 0 {
		config.Tuning.SampleTimeMS = DefaultSampleTimeMS
	}
	if config.Tuning.SamplingPeriods == 0 {
		config.Tuning.SamplingPeriods = DefaultSamplingPeriods
	}
	if config.Control.Socket == "" {
		config.Control.Socket = DefaultControlSocket
	}
	if config.Input.DevicesFile == "" {
		config.Input.DevicesFile = DefaultDevicesFile
	}
	if config.Input.DevDir == "" {
		config.Input.DevDir = DefaultDevDir
	}
}

func validateConfig(config *DaemonConfig) error {
	switch config.Daemon.RateScaling {
	case "linear", "quadratic":
	default:
		return fmt.Errorf("rate_scaling must be 'linear' or 'quadratic', got %q", config.Daemon.RateScaling)
	}

	t := config.Tuning
	if t.ShiftAll > MaxShiftAll {
		return fmt.Errorf("shift_all %d exceeds maximum %d", t.ShiftAll, MaxShiftAll)
	}
	if t.ShiftOne > MaxShiftOne {
		return fmt.Errorf("shift_one %d exceeds maximum %d", t.ShiftOne, MaxShiftOne)
	}
	if t.DownShift > MaxDownShift {
		return fmt.Errorf("down_shift %d exceeds maximum %d", t.DownShift, MaxDownShift)
	}
	if t.SampleTimeMS > MaxSampleTime {
		return fmt.Errorf("sample_time_ms %d exceeds maximum %d", t.SampleTimeMS, MaxSampleTime)
	}
	if t.SamplingPeriods > MaxSamplingPeriods {
		return fmt.Errorf("sampling_periods %d exceeds maximum %d", t.SamplingPeriods, MaxSamplingPeriods)
	}
	for online, threshold := range t.ShiftOneTiers {
		if online == 0 {
			return fmt.Errorf("shift_one_tiers: online count 0 is not valid")
		}
		if threshold > MaxShiftOne {
			return fmt.Errorf("shift_one_tiers[%d]: %d exceeds maximum %d", online, threshold, MaxShiftOne)
		}
	}

	// Partial database config is a misconfiguration; fully absent means
	// telemetry is disabled.
	db := config.Data.DB
	if db.Host != "" {
		if db.Token == "" || db.Org == "" || db.Bucket == "" {
			return fmt.Errorf("incomplete database configuration")
		}
	}

	return nil
}
