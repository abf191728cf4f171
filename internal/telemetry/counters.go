package telemetry

import (
	"sync"
	"time"

	"github.com/revjunkie/nexus7/internal/policy"
)

// CounterSink aggregates decision counts without shipping them
// anywhere. It backs the session artifact on runs with no database
// configured, and the Recorder builds on it.
type CounterSink struct {
	mu       sync.Mutex
	counters SessionCounters
}

func (s *CounterSink) RecordTick(ts time.Time, running, average, online uint, action policy.Action, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Ticks++
	switch action {
	case policy.OnlineAll:
		s.counters.OnlineAll++
	case policy.OnlineOne:
		s.counters.OnlineOne++
	case policy.OfflineOne:
		s.counters.OfflineOne++
	default:
		s.counters.NoOp++
	}
}

func (s *CounterSink) addDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Dropped++
}

// Counters returns a copy of the session counters.
func (s *CounterSink) Counters() SessionCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}
