package hotplug

import "time"

// timer wraps time.Timer with a pending flag so the controller can ask
// "is an offline in flight" without racing the channel. It is only
// touched from the actor goroutine.
type timer struct {
	t       *time.Timer
	pending bool
}

func newTimer() *timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &timer{t: t}
}

func (tm *timer) c() <-chan time.Time {
	if !tm.pending {
		return nil
	}
	return tm.t.C
}

// schedule (re-)arms the timer. An already-pending timer is cancelled
// first so at most one expiry is ever outstanding.
func (tm *timer) schedule(d time.Duration) {
	tm.cancel()
	tm.t.Reset(d)
	tm.pending = true
}

// cancel stops the timer and drains a value that already fired into the
// channel, so a stale expiry can never be read after cancellation.
func (tm *timer) cancel() {
	if !tm.pending {
		return
	}
	if !tm.t.Stop() {
		select {
		case <-tm.t.C:
		default:
		}
	}
	tm.pending = false
}

// fired marks the pending expiry as consumed after a read from c().
func (tm *timer) fired() {
	tm.pending = false
}
