package coop

import (
	"time"

	"github.com/coopkernel/coop/reactor"
)

// Default is the package-level scheduler backing the Go/Resume/Throw/
// NextTick/Run convenience functions, for programs that only ever need
// one runtime instance. Code that needs more than one independent
// scheduler should construct one with NewScheduler and call its methods
// directly instead.
var Default = NewScheduler()

// Go schedules fn as a new task on Default and returns its handle.
func Go(fn TaskFunc, args ...any) *Task { return Default.Go(fn, args...) }

// Resume delivers value to t's current suspension point via Default.
func Resume(t *Task, value any) *Outcome { return Default.Resume(t, value) }

// Throw delivers err to t's current suspension point via Default.
func Throw(t *Task, err error) *Outcome { return Default.Throw(t, err) }

// Terminate cooperatively cancels t via Default.
func Terminate(t *Task) *Outcome { return Default.Terminate(t) }

// NextTick schedules fn to run, as its own task, after the current batch
// of runnable tasks on Default has been dispatched.
func NextTick(fn func()) *Task { return Default.NextTick(fn) }

// Run drains Default until it has no queued work.
func Run() { Default.Run() }

// Drive runs Default's reactor-integrated tick loop until it has no
// runnable, next-tick, or reactor-pending work. Use this instead of Run
// whenever any task may sleep, do stream I/O, or wait on a process.
func Drive() { Default.Drive() }

// HasWork reports whether Default has queued work.
func HasWork() bool { return Default.HasWork() }

// Suspend parks the calling task (which must be running under Default,
// or any scheduler, since park is scheduler-agnostic) until it is next
// resumed or thrown into, returning the resumed value or panicking with
// the thrown error.
func Suspend() any { return park() }

// Yield suspends the calling task and schedules its own resumption for
// the next tick, giving every currently-runnable task a turn first. It is
// the facade's equivalent of a single cooperative "thread yield".
func Yield() {
	t := Current()
	if t == nil {
		return
	}
	s := t.sched
	s.NextTick(func() { s.Resume(t, nil) })
	park()
}

// Sleep suspends the calling task for at least d, via the scheduler's
// reactor timer heap, per spec §4.6/§9's "sleep → timer + suspend".
// Callers must drive the scheduler with Drive (not Run) for the timer to
// ever fire.
func Sleep(d time.Duration) {
	t := Current()
	if t == nil {
		panic("coop: Sleep called outside a task")
	}
	s := t.sched
	w := s.Reactor().Timer(d, 0, func(reactor.WatchID) { s.Resume(t, nil) })
	defer s.Unwatch(w)
	park()
}
