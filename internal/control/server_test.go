package control

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/revjunkie/nexus7/internal/config"
	"github.com/revjunkie/nexus7/internal/hotplug"
)

// fakeEngine records control calls and serves a canned status.
type fakeEngine struct {
	disabled bool
	suspends int
	resumes  int
	status   hotplug.Status
}

func (f *fakeEngine) SetDisabled(disabled bool) { f.disabled = disabled }
func (f *fakeEngine) Suspend()                  { f.suspends++ }
func (f *fakeEngine) Resume()                   { f.resumes++ }
func (f *fakeEngine) Status() hotplug.Status    { return f.status }

func testStore() *config.Store {
	return config.NewStore(config.TuningConfig{
		ShiftAll:        500,
		ShiftOne:        225,
		DownShift:       100,
		MinCores:        1,
		MaxCores:        4,
		SampleTimeMS:    20,
		SamplingPeriods: 18,
	}, 4)
}

func startServer(t *testing.T, engine Engine, store *config.Store) net.Conn {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "ctl.sock")
	srv := New(socket, engine, store, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	conn, err := net.Dial("unix", socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, cmd string) string {
	t.Helper()
	if _, err := fmt.Fprintln(conn, cmd); err != nil {
		t.Fatalf("write %q: %v", cmd, err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply for %q: %v", cmd, err)
	}
	return line[:len(line)-1]
}

func TestGetAndSetRoundTrip(t *testing.T) {
	conn := startServer(t, &fakeEngine{}, testStore())
	r := bufio.NewReader(conn)

	if got := roundTrip(t, conn, r, "get shift_all"); got != "500" {
		t.Errorf("get shift_all = %q, want 500", got)
	}
	if got := roundTrip(t, conn, r, "set shift_all 550"); got != "550" {
		t.Errorf("set shift_all 550 = %q, want 550", got)
	}
	if got := roundTrip(t, conn, r, "get shift_all"); got != "550" {
		t.Errorf("get shift_all after set = %q, want 550", got)
	}
}

func TestSetRejectionsAnswerCurrentValue(t *testing.T) {
	conn := startServer(t, &fakeEngine{}, testStore())
	r := bufio.NewReader(conn)

	// Above the field range: silently rejected.
	if got := roundTrip(t, conn, r, "set shift_all 9000"); got != "500" {
		t.Errorf("out-of-range set = %q, want 500", got)
	}
	// Not a number at all.
	if got := roundTrip(t, conn, r, "set shift_all banana"); got != "500" {
		t.Errorf("non-numeric set = %q, want 500", got)
	}
}

func TestUnknownFieldAndCommand(t *testing.T) {
	conn := startServer(t, &fakeEngine{}, testStore())
	r := bufio.NewReader(conn)

	if got := roundTrip(t, conn, r, "get bogus"); got != "err unknown field bogus" {
		t.Errorf("get bogus = %q", got)
	}
	if got := roundTrip(t, conn, r, "set bogus 1"); got != "err unknown field bogus" {
		t.Errorf("set bogus = %q", got)
	}
	if got := roundTrip(t, conn, r, "frobnicate"); got != "err unknown command frobnicate" {
		t.Errorf("unknown command = %q", got)
	}
}

func TestLifecycleCommands(t *testing.T) {
	engine := &fakeEngine{}
	conn := startServer(t, engine, testStore())
	r := bufio.NewReader(conn)

	for _, cmd := range []string{"disable", "suspend", "resume", "enable"} {
		if got := roundTrip(t, conn, r, cmd); got != "ok" {
			t.Errorf("%s = %q, want ok", cmd, got)
		}
	}
	if engine.disabled {
		t.Error("enable must clear the disabled flag")
	}
	if engine.suspends != 1 || engine.resumes != 1 {
		t.Errorf("expected one suspend and one resume, got %d/%d", engine.suspends, engine.resumes)
	}
}

func TestStatusLine(t *testing.T) {
	engine := &fakeEngine{status: hotplug.Status{
		Online:      2,
		MaxPossible: 4,
		Average:     300,
		LastSample:  400,
		Paused:      true,
	}}
	conn := startServer(t, engine, testStore())
	r := bufio.NewReader(conn)

	want := "online=2/4 avg=300 sample=400 disabled=false paused=true suspended=false offline_pending=false"
	if got := roundTrip(t, conn, r, "status"); got != want {
		t.Errorf("status = %q, want %q", got, want)
	}
}

func TestFieldsListsTunables(t *testing.T) {
	conn := startServer(t, &fakeEngine{}, testStore())
	r := bufio.NewReader(conn)

	got := roundTrip(t, conn, r, "fields")
	for _, name := range config.FieldNames {
		if !strings.Contains(got, name) {
			t.Errorf("fields output missing %q", name)
		}
	}
}
