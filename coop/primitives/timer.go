package primitives

import (
	"time"

	"github.com/coopkernel/coop"
	"github.com/coopkernel/coop/reactor"
)

// Timer arms a single-shot (or, via AfterFunc, callback-driven) reactor
// timer, per spec §4.6. NewTimer's channel receives the firing time
// exactly once; Stop is idempotent; Reset re-arms with a fresh duration.
type Timer struct {
	sched  *coop.Scheduler
	id     reactor.WatchID
	active bool
	fire   func(time.Time)

	// C receives the firing time exactly once, for timers created via
	// NewTimer. nil for timers created via AfterFunc.
	C *Channel
}

func newTimer(after time.Duration, fire func(time.Time)) *Timer {
	t := requireCurrent("Timer")
	tm := &Timer{sched: t.Scheduler(), fire: fire}
	tm.arm(after)
	return tm
}

func (tm *Timer) arm(after time.Duration) {
	tm.active = true
	tm.id = tm.sched.Reactor().Timer(after, 0, func(reactor.WatchID) {
		tm.active = false
		tm.fire(time.Now())
	})
}

// NewTimer arms a timer that delivers the current time on C exactly once
// after `after` elapses.
func NewTimer(after time.Duration) *Timer {
	ch := NewChannel(1)
	tm := newTimer(after, func(now time.Time) { ch.TrySend(now) })
	tm.C = ch
	return tm
}

// AfterFunc arms a timer that invokes fn directly on the reactor callback
// thread (i.e. inside the driver's Tick) once `after` elapses, rather than
// delivering on a channel. fn must not suspend: per spec §9, a reactor
// callback must not itself tick the reactor or block.
func AfterFunc(after time.Duration, fn func()) *Timer {
	return newTimer(after, func(time.Time) { fn() })
}

// Stop cancels a pending fire. Idempotent: returns false if the timer
// already fired or was already stopped.
func (tm *Timer) Stop() bool {
	if !tm.active {
		return false
	}
	tm.active = false
	tm.sched.Unwatch(tm.id)
	return true
}

// Reset stops any pending fire and re-arms the timer for `after` from now.
func (tm *Timer) Reset(after time.Duration) {
	tm.Stop()
	tm.arm(after)
}
