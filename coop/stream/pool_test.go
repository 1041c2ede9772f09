package stream

import (
	"errors"
	"testing"

	"github.com/coopkernel/coop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SubmitRoutesJobToWorker(t *testing.T) {
	sched := coop.NewScheduler()
	var got any
	pool := NewPool(sched, 1, func(job any) error {
		got = job
		return nil
	})

	var err error
	sched.Go(func(args ...any) (any, error) {
		err = pool.Submit("job-1")
		return nil, nil
	})
	sched.Run()

	require.NoError(t, err)
	assert.Equal(t, "job-1", got)
}

func TestPool_SubmitPropagatesWorkerError(t *testing.T) {
	sched := coop.NewScheduler()
	boom := errors.New("boom")
	pool := NewPool(sched, 1, func(job any) error { return boom })

	var err error
	sched.Go(func(args ...any) (any, error) {
		err = pool.Submit("job")
		return nil, nil
	})
	sched.Run()

	assert.ErrorIs(t, err, boom)
}

func TestPool_MultipleSubmittersShareWorkers(t *testing.T) {
	sched := coop.NewScheduler()
	const jobs = 5
	seen := make(chan any, jobs)
	pool := NewPool(sched, 2, func(job any) error {
		seen <- job
		return nil
	})

	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		i := i
		sched.Go(func(args ...any) (any, error) {
			errs[i] = pool.Submit(i)
			return nil, nil
		})
	}
	sched.Run()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	close(seen)
	count := 0
	for range seen {
		count++
	}
	assert.Equal(t, jobs, count)
}

func TestPool_NewPoolPanicsOnNonPositiveSize(t *testing.T) {
	sched := coop.NewScheduler()
	assert.Panics(t, func() {
		NewPool(sched, 0, func(job any) error { return nil })
	})
}

func TestPool_CloseStopsWorkers(t *testing.T) {
	sched := coop.NewScheduler()
	processed := 0
	pool := NewPool(sched, 1, func(job any) error {
		processed++
		return nil
	})

	sched.Go(func(args ...any) (any, error) {
		return nil, pool.Submit("one")
	})
	sched.Run()
	assert.Equal(t, 1, processed)

	pool.Close()
	sched.Run()
}
