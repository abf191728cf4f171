package config

import (
	"sync/atomic"
	"time"

	"github.com/revjunkie/nexus7/internal/logging"
)

// Hard bounds for the runtime-tunable fields. Writes outside these
// ranges are silently rejected, matching the behavior of the original
// sysfs attribute store functions.
const (
	MaxShiftAll        = 600
	MaxShiftOne        = 500
	MaxDownShift       = 200
	MaxSampleTime      = 500
	MaxSamplingPeriods = 500
)

// Tunable field names accepted by Store.Set and Store.Get.
const (
	FieldShiftAll        = "shift_all"
	FieldShiftOne        = "shift_one"
	FieldDownShift       = "down_shift"
	FieldMinCores        = "min_cores"
	FieldMaxCores        = "max_cores"
	FieldSampleTime      = "sample_time"
	FieldSamplingPeriods = "sampling_periods"
)

// FieldNames lists the tunable fields in a stable order.
var FieldNames = []string{
	FieldShiftAll,
	FieldShiftOne,
	FieldDownShift,
	FieldMinCores,
	FieldMaxCores,
	FieldSampleTime,
	FieldSamplingPeriods,
}

// Store holds the runtime-mutable hotplug tuning. Each field is an
// independent atomic so the decision engine reads a consistent value
// per field without taking a lock; writers come from the control
// socket while the tick path only reads.
type Store struct {
	shiftAll        atomic.Uint32
	shiftOne        atomic.Uint32
	downShift       atomic.Uint32
	minCores        atomic.Uint32
	maxCores        atomic.Uint32
	sampleTime      atomic.Uint32
	samplingPeriods atomic.Uint32

	maxPossible uint
	tiers       map[uint]uint // immutable after construction
}

// NewStore seeds the store from the startup config. maxPossible is the
// platform's possible-core count and bounds min_cores/max_cores; a
// zero MaxCores resolves to maxPossible.
func NewStore(t TuningConfig, maxPossible uint) *Store {
	if maxPossible == 0 {
		maxPossible = 1
	}
	s := &Store{maxPossible: maxPossible}

	maxCores := t.MaxCores
	if maxCores == 0 || maxCores > maxPossible {
		maxCores = maxPossible
	}
	minCores := t.MinCores
	if minCores == 0 {
		minCores = DefaultMinCores
	}
	if minCores > maxPossible {
		minCores = maxPossible
	}

	s.shiftAll.Store(uint32(t.ShiftAll))
	s.shiftOne.Store(uint32(t.ShiftOne))
	s.downShift.Store(uint32(t.DownShift))
	s.minCores.Store(uint32(minCores))
	s.maxCores.Store(uint32(maxCores))
	s.sampleTime.Store(uint32(t.SampleTimeMS))
	s.samplingPeriods.Store(uint32(t.SamplingPeriods))

	if len(t.ShiftOneTiers) > 0 {
		s.tiers = make(map[uint]uint, len(t.ShiftOneTiers))
		for online, threshold := range t.ShiftOneTiers {
			s.tiers[online] = threshold
		}
	}
	return s
}

func (s *Store) fieldRange(name string) (min, max uint, ok bool) {
	switch name {
	case FieldShiftAll:
		return 0, MaxShiftAll, true
	case FieldShiftOne:
		return 0, MaxShiftOne, true
	case FieldDownShift:
		return 0, MaxDownShift, true
	case FieldMinCores:
		return 1, s.maxPossible, true
	case FieldMaxCores:
		return 1, s.maxPossible, true
	case FieldSampleTime:
		return 1, MaxSampleTime, true
	case FieldSamplingPeriods:
		return 1, MaxSamplingPeriods, true
	}
	return 0, 0, false
}

func (s *Store) cell(name string) *atomic.Uint32 {
	switch name {
	case FieldShiftAll:
		return &s.shiftAll
	case FieldShiftOne:
		return &s.shiftOne
	case FieldDownShift:
		return &s.downShift
	case FieldMinCores:
		return &s.minCores
	case FieldMaxCores:
		return &s.maxCores
	case FieldSampleTime:
		return &s.sampleTime
	case FieldSamplingPeriods:
		return &s.samplingPeriods
	}
	return nil
}

// Get returns the current value of a tunable field.
func (s *Store) Get(name string) (uint, bool) {
	cell := s.cell(name)
	if cell == nil {
		return 0, false
	}
	return uint(cell.Load()), true
}

// Set stores a new value for a tunable field. Out-of-range values and
// unknown fields are rejected without error; a write of the current
// value is a no-op. It returns the value now in effect and whether the
// write was applied.
func (s *Store) Set(name string, value uint) (uint, bool) {
	cell := s.cell(name)
	if cell == nil {
		return 0, false
	}
	min, max, _ := s.fieldRange(name)
	current := uint(cell.Load())
	if value < min || value > max {
		logging.GetLogger().WithField("field", name).WithField("value", value).Debug("Rejected out-of-range tuning write")
		return current, false
	}
	if value == current {
		return current, false
	}
	cell.Store(uint32(value))
	return value, true
}

// Tuning is an immutable per-tick view of the store.
type Tuning struct {
	ShiftAll        uint
	ShiftOne        uint
	DownShift       uint
	MinCores        uint
	MaxCores        uint
	SampleTime      uint // milliseconds
	SamplingPeriods uint

	tiers map[uint]uint
}

// Snapshot reads every field once. Individual fields are each read
// atomically; the decision engine takes one snapshot per tick so a
// decision never mixes a field read before a write with one read after.
func (s *Store) Snapshot() Tuning {
	return Tuning{
		ShiftAll:        uint(s.shiftAll.Load()),
		ShiftOne:        uint(s.shiftOne.Load()),
		DownShift:       uint(s.downShift.Load()),
		MinCores:        uint(s.minCores.Load()),
		MaxCores:        uint(s.maxCores.Load()),
		SampleTime:      uint(s.sampleTime.Load()),
		SamplingPeriods: uint(s.samplingPeriods.Load()),
		tiers:           s.tiers,
	}
}

// OnlineOneThreshold returns the load level at which one more core is
// brought up, given the current online count. A tier override wins;
// otherwise the threshold scales linearly with the online count.
func (t Tuning) OnlineOneThreshold(online uint) uint {
	if threshold, ok := t.tiers[online]; ok {
		return threshold
	}
	return t.ShiftOne * online
}

// SampleInterval returns the unscaled base tick period.
func (t Tuning) SampleInterval() time.Duration {
	return time.Duration(t.SampleTime) * time.Millisecond
}
