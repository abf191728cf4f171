package input

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sampleDevices = `I: Bus=0018 Vendor=0000 Product=0000 Version=0000
N: Name="elan-touchscreen"
P: Phys=
H: Handlers=event2
B: PROP=2

I: Bus=0019 Vendor=0001 Product=0001 Version=0100
N: Name="gpio-keys"
P: Phys=gpio-keys/input0
H: Handlers=kbd event0
B: EV=3

I: Bus=0019 Vendor=0000 Product=0000 Version=0000
N: Name="als-sensor"
P: Phys=
H: Handlers=event1
B: EV=9
`

func TestParseDevices(t *testing.T) {
	devices, err := ParseDevices(strings.NewReader(sampleDevices))
	if err != nil {
		t.Fatalf("ParseDevices: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}
	if devices[0].Name != "elan-touchscreen" || devices[0].Handler != "event2" {
		t.Errorf("unexpected first device: %+v", devices[0])
	}
	if devices[1].Name != "gpio-keys" || devices[1].Handler != "event0" {
		t.Errorf("unexpected second device: %+v", devices[1])
	}
}

func TestQualifiesForBoost(t *testing.T) {
	cases := map[string]bool{
		"elan-touchscreen": true,
		"Atmel maXTouch":   true,
		"tegra-kbc-keypad": true,
		"gpio-keys":        true,
		"als-sensor":       false,
		"lid-switch":       false,
		"pmic-rtc":         false,
	}
	for name, want := range cases {
		if got := QualifiesForBoost(name); got != want {
			t.Errorf("QualifiesForBoost(%q) = %v, want %v", name, got, want)
		}
	}
}

func writeEvents(t *testing.T, path string, events []rawEvent) {
	t.Helper()
	var buf bytes.Buffer
	for _, ev := range events {
		if err := binary.Write(&buf, binary.LittleEndian, ev); err != nil {
			t.Fatalf("failed to encode event: %v", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write event node: %v", err)
	}
}

func TestWatcherBoostsOnKeyEvent(t *testing.T) {
	dir := t.TempDir()
	devicesFile := filepath.Join(dir, "devices")
	if err := os.WriteFile(devicesFile, []byte(sampleDevices), 0o644); err != nil {
		t.Fatal(err)
	}

	// One key press on the gpio-keys node, sync events around it. The
	// touchscreen node stays silent.
	writeEvents(t, filepath.Join(dir, "event0"), []rawEvent{
		{Type: evSyn},
		{Type: 1, Code: 114, Value: 1},
		{Type: evSyn},
	})
	writeEvents(t, filepath.Join(dir, "event2"), nil)

	var boosts atomic.Uint32
	w := NewWatcher(devicesFile, dir, func() { boosts.Add(1) }, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for boosts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := boosts.Load(); got != 1 {
		t.Errorf("expected exactly 1 boost, got %d", got)
	}
}

func TestWatcherSkipsSyncOnlyStream(t *testing.T) {
	dir := t.TempDir()
	devicesFile := filepath.Join(dir, "devices")
	if err := os.WriteFile(devicesFile, []byte(sampleDevices), 0o644); err != nil {
		t.Fatal(err)
	}
	writeEvents(t, filepath.Join(dir, "event0"), []rawEvent{{Type: evSyn}, {Type: evSyn}})
	writeEvents(t, filepath.Join(dir, "event2"), nil)

	var boosts atomic.Uint32
	w := NewWatcher(devicesFile, dir, func() { boosts.Add(1) }, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()

	if got := boosts.Load(); got != 0 {
		t.Errorf("sync events must not boost, got %d", got)
	}
}

func TestWatcherFailsWithoutQualifyingDevice(t *testing.T) {
	dir := t.TempDir()
	devicesFile := filepath.Join(dir, "devices")
	content := `N: Name="als-sensor"
H: Handlers=event1
`
	if err := os.WriteFile(devicesFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(devicesFile, dir, func() {}, nil)
	if err := w.Start(); err == nil {
		t.Error("expected an error when no qualifying device exists")
	}
}
