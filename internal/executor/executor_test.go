package executor

import (
	"fmt"
	"testing"

	"github.com/revjunkie/nexus7/internal/config"
	"github.com/revjunkie/nexus7/internal/policy"
)

// FakeTopology is an in-memory core map for testing.
type FakeTopology struct {
	online      map[uint]bool
	max         uint
	failOnline  map[uint]bool
	failOffline map[uint]bool
}

func NewFakeTopology(max uint, onlineCores ...uint) *FakeTopology {
	ft := &FakeTopology{
		online:      map[uint]bool{0: true},
		max:         max,
		failOnline:  make(map[uint]bool),
		failOffline: make(map[uint]bool),
	}
	for _, core := range onlineCores {
		ft.online[core] = true
	}
	return ft
}

func (f *FakeTopology) BringOnline(core uint) error {
	if f.failOnline[core] {
		return fmt.Errorf("core %d refused to come up", core)
	}
	f.online[core] = true
	return nil
}

func (f *FakeTopology) TakeOffline(core uint) error {
	if core == 0 {
		return fmt.Errorf("core 0 is not removable")
	}
	if f.failOffline[core] {
		return fmt.Errorf("core %d refused to go down", core)
	}
	delete(f.online, core)
	return nil
}

func (f *FakeTopology) IsOnline(core uint) bool { return f.online[core] }

func (f *FakeTopology) OnlineCount() uint { return uint(len(f.online)) }

func (f *FakeTopology) MaxPossible() uint { return f.max }

func testTuning(minCores, maxCores uint) config.Tuning {
	return config.NewStore(config.TuningConfig{
		ShiftAll:        500,
		ShiftOne:        225,
		DownShift:       100,
		MinCores:        minCores,
		MaxCores:        maxCores,
		SampleTimeMS:    20,
		SamplingPeriods: 18,
	}, maxCores).Snapshot()
}

func newExecutor(t *testing.T, topo *FakeTopology) *Executor {
	t.Helper()
	e, err := New(topo, nil)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return e
}

func TestOnlineAllBringsEveryCoreUp(t *testing.T) {
	topo := NewFakeTopology(4)
	e := newExecutor(t, topo)

	if err := e.Apply(policy.OnlineAll, testTuning(1, 4)); err != nil {
		t.Fatalf("OnlineAll: %v", err)
	}
	if got := topo.OnlineCount(); got != 4 {
		t.Errorf("expected 4 online, got %d", got)
	}
}

func TestOnlineAllIsIdempotent(t *testing.T) {
	topo := NewFakeTopology(4, 1, 2, 3)
	e := newExecutor(t, topo)

	if err := e.Apply(policy.OnlineAll, testTuning(1, 4)); err != nil {
		t.Errorf("OnlineAll with all cores up must succeed, got %v", err)
	}
	if got := topo.OnlineCount(); got != 4 {
		t.Errorf("expected 4 online, got %d", got)
	}
}

func TestOnlineAllRespectsMaxCores(t *testing.T) {
	topo := NewFakeTopology(4)
	e := newExecutor(t, topo)

	if err := e.Apply(policy.OnlineAll, testTuning(1, 2)); err != nil {
		t.Fatalf("OnlineAll: %v", err)
	}
	if got := topo.OnlineCount(); got != 2 {
		t.Errorf("expected 2 online under max_cores=2, got %d", got)
	}
	if topo.IsOnline(2) || topo.IsOnline(3) {
		t.Error("cores above the ceiling must stay offline")
	}
}

func TestOnlineAllContinuesPastFailures(t *testing.T) {
	topo := NewFakeTopology(4)
	topo.failOnline[1] = true
	e := newExecutor(t, topo)

	err := e.Apply(policy.OnlineAll, testTuning(1, 4))
	if err == nil {
		t.Fatal("expected the core 1 failure to surface")
	}
	if !topo.IsOnline(2) || !topo.IsOnline(3) {
		t.Error("remaining cores must still be brought online")
	}
}

func TestOnlineOnePicksLowestOfflineCore(t *testing.T) {
	topo := NewFakeTopology(4, 2)
	e := newExecutor(t, topo)

	if err := e.Apply(policy.OnlineOne, testTuning(1, 4)); err != nil {
		t.Fatalf("OnlineOne: %v", err)
	}
	if !topo.IsOnline(1) {
		t.Error("expected core 1 (lowest offline) to come up")
	}
	if topo.IsOnline(3) {
		t.Error("core 3 must stay offline")
	}
}

func TestOnlineOneNoOpAtCeiling(t *testing.T) {
	topo := NewFakeTopology(4, 1)
	e := newExecutor(t, topo)

	if err := e.Apply(policy.OnlineOne, testTuning(1, 2)); err != nil {
		t.Errorf("OnlineOne at the ceiling must be a no-op, got %v", err)
	}
	if got := topo.OnlineCount(); got != 2 {
		t.Errorf("expected 2 online, got %d", got)
	}
}

func TestOfflineOnePicksHighestOnlineCore(t *testing.T) {
	topo := NewFakeTopology(4, 1, 2, 3)
	e := newExecutor(t, topo)

	if err := e.Apply(policy.OfflineOne, testTuning(1, 4)); err != nil {
		t.Fatalf("OfflineOne: %v", err)
	}
	if topo.IsOnline(3) {
		t.Error("expected core 3 (highest online) to go down")
	}
	if !topo.IsOnline(1) || !topo.IsOnline(2) {
		t.Error("lower cores must stay online")
	}
}

func TestOfflineOneNeverGoesBelowMinCores(t *testing.T) {
	topo := NewFakeTopology(4, 1)
	e := newExecutor(t, topo)

	if err := e.Apply(policy.OfflineOne, testTuning(2, 4)); err != nil {
		t.Errorf("OfflineOne at min_cores must be a no-op, got %v", err)
	}
	if got := topo.OnlineCount(); got != 2 {
		t.Errorf("expected 2 online, got %d", got)
	}
}

func TestOfflineOneNeverTouchesCoreZero(t *testing.T) {
	topo := NewFakeTopology(4)
	e := newExecutor(t, topo)

	// Only core 0 online and min_cores=1: nothing to do.
	if err := e.Apply(policy.OfflineOne, testTuning(1, 4)); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
	if !topo.IsOnline(0) {
		t.Error("core 0 must remain online")
	}
}

func TestOfflineFailureSurfacesWithoutCorruptingState(t *testing.T) {
	topo := NewFakeTopology(4, 1, 2, 3)
	topo.failOffline[3] = true
	e := newExecutor(t, topo)

	if err := e.Apply(policy.OfflineOne, testTuning(1, 4)); err == nil {
		t.Fatal("expected the core 3 failure to surface")
	}
	if got := topo.OnlineCount(); got != 4 {
		t.Errorf("a failed offline must leave the count unchanged, got %d", got)
	}
}

func TestNoOpDoesNothing(t *testing.T) {
	topo := NewFakeTopology(4, 1)
	e := newExecutor(t, topo)

	if err := e.Apply(policy.NoOp, testTuning(1, 4)); err != nil {
		t.Errorf("NoOp: %v", err)
	}
	if got := topo.OnlineCount(); got != 2 {
		t.Errorf("expected topology untouched, got %d online", got)
	}
}
