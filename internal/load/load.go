package load

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Source supplies the instantaneous runnable-thread count, sampled
// once per decision tick.
type Source interface {
	CurrentRunnable() (uint, error)
}

// ProcfsSource reads procs_running from /proc/stat, the scheduler's
// count of threads in the run queues.
type ProcfsSource struct {
	fs procfs.FS
}

func NewProcfsSource(mountPoint string) (*ProcfsSource, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", mountPoint, err)
	}
	return &ProcfsSource{fs: fs}, nil
}

func (s *ProcfsSource) CurrentRunnable() (uint, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to read /proc/stat: %w", err)
	}
	return uint(stat.ProcessesRunning), nil
}
