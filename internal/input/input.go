package input

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BoostFunc is invoked on qualifying user input.
type BoostFunc func()

// Device is one entry from the kernel's input device list.
type Device struct {
	Name    string
	Handler string // event node name, e.g. "event2"
}

// QualifiesForBoost reports whether a device name identifies a direct
// user-interaction source. Touchscreens, keypads and hardware buttons
// qualify; sensors, lid switches and the like do not.
func QualifiesForBoost(name string) bool {
	n := strings.ToLower(name)
	for _, marker := range []string{"touch", "keypad", "gpio-keys"} {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return false
}

// ParseDevices reads the /proc/bus/input/devices format: blocks of
// prefixed lines where "N:" carries the quoted device name and "H:"
// the handler list containing the event node.
func ParseDevices(r io.Reader) ([]Device, error) {
	var devices []Device
	var name string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "N: Name="):
			name = strings.Trim(strings.TrimPrefix(line, "N: Name="), "\"")
		case strings.HasPrefix(line, "H: Handlers="):
			for _, h := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(h, "event") {
					devices = append(devices, Device{Name: name, Handler: h})
				}
			}
		case line == "":
			name = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan device list: %v", err)
	}
	return devices, nil
}

// rawEvent mirrors struct input_event on 64-bit kernels: a 16-byte
// timeval followed by type, code and value.
type rawEvent struct {
	Sec   uint64
	Usec  uint64
	Type  uint16
	Code  uint16
	Value int32
}

const evSyn = 0

// Repeated events within this window collapse into one boost.
const boostDebounce = 100 * time.Millisecond

// Watcher reads evdev nodes of qualifying devices and fires the boost
// callback on user interaction.
type Watcher struct {
	devicesFile string
	devDir      string
	boost       BoostFunc
	logger      logrus.FieldLogger

	mu    sync.Mutex
	files []*os.File
	wg    sync.WaitGroup
}

func NewWatcher(devicesFile, devDir string, boost BoostFunc, logger logrus.FieldLogger) *Watcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{
		devicesFile: devicesFile,
		devDir:      devDir,
		boost:       boost,
		logger:      logger,
	}
}

// Start enumerates the input devices and launches one reader per
// qualifying node. Having no qualifying device is an error: a boost
// configuration that can never fire is a misconfiguration, not a
// quiet no-op.
func (w *Watcher) Start() error {
	f, err := os.Open(w.devicesFile)
	if err != nil {
		return fmt.Errorf("failed to open input device list: %w", err)
	}
	defer f.Close()

	devices, err := ParseDevices(f)
	if err != nil {
		return err
	}

	var opened int
	for _, dev := range devices {
		if !QualifiesForBoost(dev.Name) {
			continue
		}
		node := filepath.Join(w.devDir, dev.Handler)
		ef, err := os.Open(node)
		if err != nil {
			w.logger.WithFields(logrus.Fields{
				"device": dev.Name,
				"node":   node,
			}).WithError(err).Warn("Failed to open input node")
			continue
		}
		w.logger.WithFields(logrus.Fields{
			"device": dev.Name,
			"node":   node,
		}).Info("Watching input device for boost")

		w.mu.Lock()
		w.files = append(w.files, ef)
		w.mu.Unlock()

		opened++
		w.wg.Add(1)
		go w.readLoop(ef, dev.Name)
	}

	if opened == 0 {
		return fmt.Errorf("no qualifying input device found in %s", w.devicesFile)
	}
	return nil
}

// Stop closes the device nodes, which unblocks the readers, and waits
// for them to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	for _, f := range w.files {
		f.Close()
	}
	w.files = nil
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) readLoop(f *os.File, name string) {
	defer w.wg.Done()

	var lastBoost time.Time
	for {
		var ev rawEvent
		if err := binary.Read(f, binary.LittleEndian, &ev); err != nil {
			if err != io.EOF && !os.IsNotExist(err) {
				w.logger.WithField("device", name).WithError(err).Debug("Input reader stopped")
			}
			return
		}
		if ev.Type == evSyn {
			continue
		}
		if time.Since(lastBoost) < boostDebounce {
			continue
		}
		lastBoost = time.Now()
		w.boost()
	}
}
