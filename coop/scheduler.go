package coop

import (
	"sync"

	"github.com/coopkernel/coop/reactor"
)

// scheduled is one entry in a scheduler's runnable/next-tick queue: a
// task together with the control operation that produced it and the
// message its goroutine should receive once dispatched.
type scheduled struct {
	task   *Task
	action Action
	msg    resumeMsg
}

// Scheduler drives a set of cooperatively-scheduled tasks. Exactly one
// task ever holds the cooperative token at a time: Scheduler.dispatch is
// the sole place that hands a task its resumeMsg and blocks until that
// same task's goroutine yields the token back, so primitives never need
// to reason about concurrent task execution. Every control operation
// (Resume, Throw, Terminate, and dispatch itself) reports its result as
// an Outcome.
type Scheduler struct {
	mu       sync.Mutex
	runnable []scheduled
	nextTick []scheduled
	pending  []*Outcome

	registry *taskRegistry
	yieldCh  chan yieldMsg

	reactor reactor.Reactor

	scavengeTick int
}

// NewScheduler constructs an idle scheduler with no tasks queued, wired to
// the mandatory portable reactor backend unless WithReactor overrides it.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	cfg := resolveSchedulerOptions(opts)
	reactor.PanicHandler = func(source string, r any) { reportCallbackPanic(source, r) }
	return &Scheduler{
		registry: newTaskRegistry(),
		yieldCh:  make(chan yieldMsg),
		reactor:  cfg.reactor,
	}
}

// Reactor returns the scheduler's I/O event loop, for coop/primitives,
// coop/stream, and coop/process to register timer/signal/fd watches
// against.
func (s *Scheduler) Reactor() reactor.Reactor { return s.reactor }

// Unwatch cancels a reactor registration (timer, signal, or I/O watch)
// previously obtained from Reactor(). Thin re-export so callers that only
// need to arm/cancel timers don't have to import coop/reactor themselves.
func (s *Scheduler) Unwatch(id reactor.WatchID) error { return s.reactor.Unwatch(id) }

// Go creates a task bound to fn and enqueues it to start on the next
// tick, returning its handle immediately. fn does not run until a
// RunOnce/Run call dispatches it.
func (s *Scheduler) Go(fn TaskFunc, args ...any) *Task {
	t := newTask(s, fn)
	s.enqueue(scheduled{task: t, action: ActionStart, msg: resumeMsg{value: args}})
	return t
}

// enqueue appends directly to the runnable queue, transitioning the task
// to StateRunnable so a second Enqueue before dispatch is rejected by the
// state check in control.
func (s *Scheduler) enqueue(item scheduled) {
	item.task.state.Store(StateRunnable)
	item.task.trace.record(StateRunnable, string(item.action))
	s.mu.Lock()
	s.runnable = append(s.runnable, item)
	s.mu.Unlock()
}

// control validates that t is in expected (or, for Terminate, any
// non-dead state), enqueues msg, and reports any enqueue-time rejection
// as an Outcome. The actual dispatch happens later from RunOnce/Run; see
// dispatch.
func (s *Scheduler) control(action Action, t *Task, expected TaskState, msg resumeMsg) *Outcome {
	if t == nil {
		return newOutcome(action, nil, nil, &ArgumentError{Message: "nil task"})
	}
	actual := t.State()
	if action == ActionTerminate {
		if actual == StateDead || actual == StateCreated {
			return newOutcome(action, t, nil, nil)
		}
	} else if actual != expected {
		return newOutcome(action, t, nil, &StateError{Op: string(action), Expected: expected, Actual: actual})
	}
	s.enqueue(scheduled{task: t, action: action, msg: msg})
	return newOutcome(action, t, nil, nil)
}

// Start enqueues args as t's entry-function arguments. Valid only from
// StateCreated.
func (s *Scheduler) Start(t *Task, args ...any) *Outcome {
	return s.control(ActionStart, t, StateCreated, resumeMsg{value: args})
}

// Resume delivers value to t's current suspension point. Valid only from
// StateWaiting.
func (s *Scheduler) Resume(t *Task, value any) *Outcome {
	return s.control(ActionResume, t, StateWaiting, resumeMsg{value: value})
}

// Throw delivers err to t's current suspension point as a panic, per
// park's contract. Valid only from StateWaiting.
func (s *Scheduler) Throw(t *Task, err error) *Outcome {
	return s.control(ActionThrow, t, StateWaiting, resumeMsg{err: err})
}

// Terminate throws ErrTerminate into t. Unlike Resume/Throw, it is
// accepted from any non-terminal state (a no-op Outcome if t is already
// StateDead or never started).
func (s *Scheduler) Terminate(t *Task) *Outcome {
	actual := t.State()
	if actual == StateDead || actual == StateCreated {
		return newOutcome(ActionTerminate, t, nil, nil)
	}
	return s.control(ActionTerminate, t, actual, resumeMsg{err: ErrTerminate})
}

// NextTick schedules a standalone callback to run as its own task after
// every currently-runnable task has been dispatched once, per spec §4.1's
// next-tick queue (distinct from, and drained only after, the runnable
// queue).
func (s *Scheduler) NextTick(fn func()) *Task {
	t := newTask(s, func(args ...any) (any, error) {
		fn()
		return nil, nil
	})
	t.state.Store(StateRunnable)
	s.mu.Lock()
	s.nextTick = append(s.nextTick, scheduled{task: t, action: ActionStart, msg: resumeMsg{}})
	s.mu.Unlock()
	return t
}

// HasWork reports whether any task is queued to run.
func (s *Scheduler) HasWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runnable) > 0 || len(s.nextTick) > 0
}

// RunOnce dispatches a single queued task through to its next suspension
// or completion, reports any newly-unresolved Outcome, and returns
// whether it found work to do.
func (s *Scheduler) RunOnce() bool {
	s.mu.Lock()
	if len(s.runnable) == 0 {
		s.runnable, s.nextTick = s.nextTick, s.runnable[:0]
	}
	if len(s.runnable) == 0 {
		s.mu.Unlock()
		return false
	}
	item := s.runnable[0]
	s.runnable = s.runnable[1:]
	s.mu.Unlock()

	o := s.dispatch(item)
	s.mu.Lock()
	s.pending = append(s.pending, o)
	pending := s.pending
	s.pending = nil
	s.scavengeTick++
	doScavenge := s.scavengeTick%64 == 0
	s.mu.Unlock()

	for _, o := range pending {
		reportUnresolved(o)
	}
	if doScavenge {
		s.registry.scavenge(32)
	}
	return true
}

// dispatch hands item.task the cooperative token and blocks until it
// yields, then folds that yield into an Outcome. This is the only place
// a task's goroutine is ever sent a resumeMsg.
func (s *Scheduler) dispatch(item scheduled) *Outcome {
	t := item.task
	expected := StateRunnable
	if actual := t.State(); actual != expected {
		return newOutcome(item.action, t, nil, &StateError{Op: string(item.action), Expected: expected, Actual: actual})
	}

	t.state.Store(StateRunning)
	t.trace.record(StateRunning, string(item.action))
	current.Store(t)
	t.resumeCh <- item.msg
	ym := <-s.yieldCh
	current.Store(nil)

	return s.handleYield(item.action, ym)
}

func (s *Scheduler) handleYield(action Action, ym yieldMsg) *Outcome {
	t := ym.task
	switch ym.kind {
	case ySuspend:
		t.state.Store(StateWaiting)
		t.trace.record(StateWaiting, "suspend")
		return newOutcome(action, t, nil, nil)
	default: // yDone
		t.runDefers()
		t.state.Store(StateDead)
		t.trace.record(StateDead, "done")
		t.result, t.err = ym.value, ym.err
		s.registry.remove(t.id)
		t.fireListeners(StateDead)
		return newOutcome(action, t, ym.value, ym.err)
	}
}

// Run drains the runnable and next-tick queues until both are empty. It
// does not advance the reactor: programs using only Channel/Mutex/
// WaitGroup (no sleep, stream I/O, or process wait) never need to.
func (s *Scheduler) Run() {
	for s.RunOnce() {
	}
}

// Tick runs one full scheduler tick per spec §4.1: drain everything
// currently runnable, advance the reactor by one quantum (which may make
// previously-waiting tasks runnable again by calling Resume/Throw from a
// watch callback), then drain whatever that unblocked. Returns whether
// there is more work to justify another Tick.
func (s *Scheduler) Tick() bool {
	for s.RunOnce() {
	}
	if err := s.reactor.Tick(); err != nil {
		reportTickError(err)
	}
	for s.RunOnce() {
	}
	return s.HasWork() || s.reactor.IsActive()
}

// Drive runs Tick in a loop until there is no runnable or next-tick work
// and the reactor has nothing registered. Any program that can suspend on
// reactor readiness (coop/primitives' Timer/Ticker, coop/stream,
// coop/process) must use Drive instead of Run, or its tasks will never be
// woken.
func (s *Scheduler) Drive() {
	for s.Tick() {
	}
}

// Shutdown throws ErrTerminate into every suspended (StateWaiting) task,
// stops the reactor, and drains the resulting cleanup work. Tasks that
// are runnable or not yet started do not receive ErrTerminate.
func (s *Scheduler) Shutdown() {
	s.registry.terminateAll(s, ErrTerminate)
	s.reactor.Stop()
	s.Run()
}
