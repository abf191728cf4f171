package telemetry

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func TestWriteSessionArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := &SessionArtifact{
		Version:       1,
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Hostname:      "grouper",
		KernelVersion: "6.8.0",
		PossibleCores: 4,
		StartTime:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		EndTime:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Counters:      SessionCounters{Ticks: 42, OnlineOne: 3, OfflineOne: 2, NoOp: 37},
		Tuning:        TuningSnapshot{ShiftAll: 500, ShiftOne: 225, DownShift: 100, MinCores: 1, MaxCores: 4},
	}

	path, err := WriteSessionArtifact(dir, artifact)
	if err != nil {
		t.Fatalf("WriteSessionArtifact: %v", err)
	}
	if !strings.HasSuffix(path, "session_20260301T120000Z.json.gz") {
		t.Errorf("unexpected artifact path %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open artifact: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("artifact is not gzip: %v", err)
	}
	var decoded SessionArtifact
	if err := json.NewDecoder(gz).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode artifact: %v", err)
	}
	if decoded.Counters.Ticks != 42 || decoded.Tuning.ShiftAll != 500 {
		t.Errorf("artifact round-trip lost data: %+v", decoded)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly the final artifact in the spool dir, got %d entries", len(entries))
	}
}

func TestWriteSessionArtifactRejectsNil(t *testing.T) {
	if _, err := WriteSessionArtifact(t.TempDir(), nil); err == nil {
		t.Error("expected an error for a nil artifact")
	}
}
