package primitives

import (
	"testing"

	"github.com/coopkernel/coop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitGroup_WaitReturnsImmediatelyAtZero(t *testing.T) {
	s := coop.NewScheduler()
	wg := NewWaitGroup()

	var waited bool
	s.Go(func(...any) (any, error) {
		wg.Wait()
		waited = true
		return nil, nil
	})
	s.Run()

	assert.True(t, waited)
}

func TestWaitGroup_DoneWakesAllWaiters(t *testing.T) {
	s := coop.NewScheduler()
	wg := NewWaitGroup()
	require.NoError(t, wg.Add(1))

	var woken int
	for i := 0; i < 3; i++ {
		s.Go(func(...any) (any, error) {
			wg.Wait()
			woken++
			return nil, nil
		})
	}
	s.Run() // all three suspend: counter is 1
	require.Equal(t, 0, woken)

	s.Go(func(...any) (any, error) {
		return nil, wg.Done()
	})
	s.Run()

	assert.Equal(t, 3, woken)
	assert.Equal(t, 0, wg.Count())
}

func TestWaitGroup_DoneWithoutAddFails(t *testing.T) {
	wg := NewWaitGroup()
	err := wg.Done()
	require.Error(t, err)
}

func TestWaitGroup_AddNegativeFails(t *testing.T) {
	wg := NewWaitGroup()
	err := wg.Add(-1)
	require.Error(t, err)
	assert.Equal(t, 0, wg.Count())
}
