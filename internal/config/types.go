package config

import (
	"time"
)

type DaemonConfig struct {
	Daemon  DaemonInfo    `yaml:"daemon"`
	Tuning  TuningConfig  `yaml:"tuning"`
	Input   InputConfig   `yaml:"input"`
	Control ControlConfig `yaml:"control"`
	Data    DataConfig    `yaml:"data"`
}

type DaemonInfo struct {
	LogLevel    string `yaml:"log_level"`
	RateScaling string `yaml:"rate_scaling"` // linear or quadratic
}

// TuningConfig carries the startup values for the runtime-tunable
// hotplug thresholds. All load values are runnable-thread counts
// scaled by 100, matching the samples recorded each tick.
type TuningConfig struct {
	ShiftAll        uint `yaml:"shift_all"`
	ShiftOne        uint `yaml:"shift_one"`
	DownShift       uint `yaml:"down_shift"`
	MinCores        uint `yaml:"min_cores"`
	MaxCores        uint `yaml:"max_cores"`
	SampleTimeMS    uint `yaml:"sample_time_ms"`
	SamplingPeriods uint `yaml:"sampling_periods"`

	// ShiftOneTiers optionally overrides the single-core-up threshold
	// for specific online counts. Keys are online counts, values are
	// absolute thresholds. Counts without an override use
	// shift_one * online.
	ShiftOneTiers map[uint]uint `yaml:"shift_one_tiers,omitempty"`
}

type InputConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DevicesFile string `yaml:"devices_file,omitempty"`
	DevDir      string `yaml:"dev_dir,omitempty"`
}

type ControlConfig struct {
	Socket string `yaml:"socket"`
}

type DataConfig struct {
	DB       DatabaseConfig `yaml:"db"`
	SpoolDir string         `yaml:"spool_dir,omitempty"`
}

type DatabaseConfig struct {
	Host   string `yaml:"host"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

func (c *DaemonConfig) GetSampleInterval() time.Duration {
	return time.Duration(c.Tuning.SampleTimeMS) * time.Millisecond
}
