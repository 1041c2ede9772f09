package coop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_ResumeOnRunnableTaskIsRejected(t *testing.T) {
	s := NewScheduler()
	task := s.Go(func(args ...any) (any, error) { return nil, nil })

	o := s.Resume(task, nil) // task is only StateRunnable right now, not StateWaiting
	require.Error(t, o.Err)
	var stateErr *StateError
	assert.ErrorAs(t, o.Err, &stateErr)

	s.Run()
	assert.Equal(t, StateDead, task.State())
}

func TestScheduler_TerminateBeforeStartIsNoOp(t *testing.T) {
	s := NewScheduler()
	task := s.Go(func(args ...any) (any, error) { return nil, nil })
	// task is StateRunnable (already enqueued by Go), not StateCreated, so
	// this exercises the "not yet started" branch via a fresh task.
	never := &Task{state: newAtomicState(StateCreated)}

	o := s.Terminate(never)
	assert.NoError(t, o.Err)

	s.Run()
	assert.Equal(t, StateDead, task.State())
}

func TestScheduler_TerminateWaitingTaskThrowsErrTerminate(t *testing.T) {
	s := NewScheduler()
	task := s.Go(func(args ...any) (any, error) {
		Suspend()
		return nil, nil
	})
	s.Run()
	require.Equal(t, StateWaiting, task.State())

	o := s.Terminate(task)
	require.NoError(t, o.Err)
	s.Run()

	_, err := task.Result()
	assert.ErrorIs(t, err, ErrTerminate)
}

func TestScheduler_OutcomeResolveSuppressesReport(t *testing.T) {
	o := newOutcome(ActionResume, nil, nil, &MutexError{Message: "unlock by non-owner"})
	assert.False(t, o.Resolved())
	o.Resolve(KindMutex)
	assert.True(t, o.Resolved())

	// Resolving a different kind than the one actually carried is a no-op.
	o2 := newOutcome(ActionResume, nil, nil, &MutexError{Message: "x"})
	o2.Resolve(KindArgument)
	assert.False(t, o2.Resolved())
}

func TestScheduler_NextTickRunsAfterRunnableDrains(t *testing.T) {
	s := NewScheduler()
	var order []string
	s.NextTick(func() { order = append(order, "next-tick") })
	s.Go(func(args ...any) (any, error) {
		order = append(order, "runnable")
		return nil, nil
	})

	s.Run()

	assert.Equal(t, []string{"runnable", "next-tick"}, order)
}

func TestScheduler_HasWorkReflectsQueues(t *testing.T) {
	s := NewScheduler()
	assert.False(t, s.HasWork())
	s.Go(func(args ...any) (any, error) { return nil, nil })
	assert.True(t, s.HasWork())
	s.Run()
	assert.False(t, s.HasWork())
}
