package telemetry

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/revjunkie/nexus7/internal/config"
)

// TuningSnapshot is the tuning state as it stood at shutdown, with the
// values an operator may have changed over the control socket.
type TuningSnapshot struct {
	ShiftAll        uint `json:"shift_all"`
	ShiftOne        uint `json:"shift_one"`
	DownShift       uint `json:"down_shift"`
	MinCores        uint `json:"min_cores"`
	MaxCores        uint `json:"max_cores"`
	SampleTimeMS    uint `json:"sample_time_ms"`
	SamplingPeriods uint `json:"sampling_periods"`
}

// SessionArtifact is the local record of one daemon run, written on
// shutdown so sessions survive even when no database is configured.
type SessionArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	Hostname      string `json:"hostname"`
	KernelVersion string `json:"kernel_version"`
	CPUModel      string `json:"cpu_model"`
	PossibleCores uint   `json:"possible_cores"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Counters SessionCounters `json:"counters"`
	Tuning   TuningSnapshot  `json:"tuning"`
}

func SnapshotTuning(t config.Tuning) TuningSnapshot {
	return TuningSnapshot{
		ShiftAll:        t.ShiftAll,
		ShiftOne:        t.ShiftOne,
		DownShift:       t.DownShift,
		MinCores:        t.MinCores,
		MaxCores:        t.MaxCores,
		SampleTimeMS:    t.SampleTime,
		SamplingPeriods: t.SamplingPeriods,
	}
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("HOTPLUGD_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSessionArtifact writes a gzip-compressed JSON artifact to disk
// atomically. It returns the final file path.
func WriteSessionArtifact(dir string, artifact *SessionArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("session artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("session_%s.json.gz",
		artifact.CreatedAt.UTC().Format("20060102T150405Z"))
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}
