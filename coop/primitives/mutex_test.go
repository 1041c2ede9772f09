package primitives

import (
	"testing"

	"github.com/coopkernel/coop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMutex_Fairness mirrors spec scenario 3: owner holds the lock, three
// tasks A, B, C call Lock in that order while contended; releasing wakes
// them in FIFO order.
func TestMutex_Fairness(t *testing.T) {
	s := coop.NewScheduler()
	m := NewMutex()
	gate := NewChannel(0)

	var order []string
	var unlockErr error
	owner := s.Go(func(...any) (any, error) {
		m.Lock()
		gate.Receive() // park until the test says all waiters are queued
		unlockErr = m.Unlock()
		return nil, nil
	})
	s.Run()
	require.True(t, m.Locked())
	require.Equal(t, owner, m.Owner())

	for _, name := range []string{"A", "B", "C"} {
		name := name
		s.Go(func(...any) (any, error) {
			m.Lock()
			order = append(order, name)
			return nil, m.Unlock()
		})
	}
	s.Run() // all three suspend in the waiter queue
	require.Empty(t, order)

	sent, err := gate.TrySend(nil)
	require.NoError(t, err)
	require.True(t, sent, "owner is parked in gate.Receive, so this must hand off directly")
	s.Run()

	assert.Equal(t, []string{"A", "B", "C"}, order)
	assert.NoError(t, unlockErr)
	assert.False(t, m.Locked())
}

func TestMutex_LockUnlockSameTask(t *testing.T) {
	s := coop.NewScheduler()
	m := NewMutex()

	var unlockErr error
	s.Go(func(...any) (any, error) {
		m.Lock()
		unlockErr = m.Unlock()
		return nil, nil
	})
	s.Run()

	require.NoError(t, unlockErr)
	assert.False(t, m.Locked())
}

func TestMutex_ReentryIsNoOp(t *testing.T) {
	s := coop.NewScheduler()
	m := NewMutex()

	var unlockErr error
	s.Go(func(...any) (any, error) {
		m.Lock()
		m.Lock() // re-entry: no-op, not counted
		unlockErr = m.Unlock()
		return nil, nil
	})
	s.Run()

	require.NoError(t, unlockErr)
	assert.False(t, m.Locked(), "a single Unlock must fully release regardless of re-entrant Lock depth")
}

func TestMutex_UnlockByNonOwnerFails(t *testing.T) {
	s := coop.NewScheduler()
	m := NewMutex()

	s.Go(func(...any) (any, error) {
		m.Lock()
		return nil, nil
	})
	s.Run()

	var err error
	s.Go(func(...any) (any, error) {
		err = m.Unlock()
		return nil, nil
	})
	s.Run()

	require.Error(t, err)
	assert.True(t, m.Locked()) // still held by the original owner
}

func TestMutex_TryLock(t *testing.T) {
	s := coop.NewScheduler()
	m := NewMutex()

	var first, second bool
	s.Go(func(...any) (any, error) {
		first = m.TryLock()
		second = m.TryLock() // same task: already owner
		return nil, nil
	})
	s.Run()

	assert.True(t, first)
	assert.True(t, second)
}
