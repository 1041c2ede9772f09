package coop

import "sync/atomic"

// TaskState is a value in the task state machine described by spec §4.1.
type TaskState int32

const (
	// StateCreated is the initial state: the task has an entry function
	// bound but has never run.
	StateCreated TaskState = iota
	// StateRunnable means the task is queued to run but has not started.
	StateRunnable
	// StateRunning means the task's goroutine currently holds the
	// cooperative token.
	StateRunning
	// StateWaiting means the task suspended and is parked on some
	// primitive's waiter queue or the reactor.
	StateWaiting
	// StateDead means the task's entry function has returned, panicked,
	// or been thrown into and not recovered; defers have run exactly
	// once.
	StateDead
)

func (s TaskState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRunnable:
		return "RUNNABLE"
	case StateRunning:
		return "RUNNING"
	case StateWaiting:
		return "WAITING"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// atomicState is a small atomic wrapper around TaskState, mirroring the
// teacher's FastState: plain loads/stores since only the goroutine
// currently holding the cooperative token ever mutates a given task's
// state. CompareAndSwap is provided as well, though no transition
// currently uses it.
type atomicState struct {
	v atomic.Int32
}

func newAtomicState(s TaskState) *atomicState {
	a := &atomicState{}
	a.v.Store(int32(s))
	return a
}

func (a *atomicState) Load() TaskState { return TaskState(a.v.Load()) }

func (a *atomicState) Store(s TaskState) { a.v.Store(int32(s)) }

func (a *atomicState) CompareAndSwap(from, to TaskState) bool {
	return a.v.CompareAndSwap(int32(from), int32(to))
}
