package coop

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_LifecycleStates(t *testing.T) {
	s := NewScheduler()
	var seenRunning TaskState
	task := s.Go(func(args ...any) (any, error) {
		seenRunning = Current().State()
		return 42, nil
	})
	assert.Equal(t, StateRunnable, task.State())

	s.Run()

	assert.Equal(t, StateRunning, seenRunning)
	assert.Equal(t, StateDead, task.State())
	result, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestTask_DefersRunLIFO(t *testing.T) {
	s := NewScheduler()
	var order []int
	s.Go(func(args ...any) (any, error) {
		t := Current()
		t.Defer(func() { order = append(order, 1) })
		t.Defer(func() { order = append(order, 2) })
		t.Defer(func() { order = append(order, 3) })
		return nil, nil
	})
	s.Run()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestTask_PanicBecomesTerminalError(t *testing.T) {
	s := NewScheduler()
	task := s.Go(func(args ...any) (any, error) {
		panic("boom")
	})
	s.Run()

	_, err := task.Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, StateDead, task.State())
}

func TestTask_DefersRunEvenAfterPanic(t *testing.T) {
	s := NewScheduler()
	ran := false
	s.Go(func(args ...any) (any, error) {
		Current().Defer(func() { ran = true })
		panic("boom")
	})
	s.Run()

	assert.True(t, ran)
}

func TestTask_ThrowUnwindsAtSuspension(t *testing.T) {
	s := NewScheduler()
	sentinel := errors.New("injected")
	var recovered error

	task := s.Go(func(args ...any) (any, error) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					if te, ok := r.(interface{ Error() string }); ok {
						recovered = errors.New(te.Error())
					}
					panic(r) // propagate, matching ordinary panic semantics
				}
			}()
			Suspend()
		}()
		return nil, nil
	})
	s.Run()
	require.Equal(t, StateWaiting, task.State())

	o := s.Throw(task, sentinel)
	require.NoError(t, o.Err)
	s.Run()

	require.Error(t, recovered)
	assert.Contains(t, recovered.Error(), "injected")
	_, err := task.Result()
	assert.ErrorIs(t, err, sentinel)
}

func TestTask_AddListenerFiresOnTargetState(t *testing.T) {
	s := NewScheduler()
	fired := make(chan TaskState, 1)
	task := s.Go(func(args ...any) (any, error) { return nil, nil })
	task.AddListener(StateDead, true, func(t *Task) { fired <- t.State() })

	s.Run()

	select {
	case st := <-fired:
		assert.Equal(t, StateDead, st)
	default:
		t.Fatal("listener never fired")
	}
}
