package stream

import (
	"github.com/coopkernel/coop"
	"github.com/coopkernel/coop/primitives"
)

// JobFunc processes a single job handed to a Pool worker. Its return
// error, if any, is delivered back to the Submit caller.
type JobFunc func(job any) error

// jobRequest is what Submit hands to whichever worker picks it up off the
// pool's shared rendezvous channel.
type jobRequest struct {
	job    any
	result *primitives.Channel
}

// Pool is a fixed-size cache of idle worker tasks, each blocked receiving
// from one shared capacity-0 channel. Submit hands a job to whichever
// worker is first in that channel's waiting-receivers queue, suspending
// the caller until that worker's JobFunc returns. Spec.md §2.7: used by
// the HTTP server to amortize per-request task allocation.
//
// Grounded on microbatch.Batcher's Submit/run ping-pong job handoff,
// reworked from "batch several jobs, hand the batch to one of
// maxConcurrency concurrent goroutines" to "hand one job straight to
// whichever of size idle coop Tasks is free" - the pool has no batching or
// flush-interval behavior of its own, since spec.md's pool is a worker
// cache, not a batcher.
type Pool struct {
	jobs *primitives.Channel
}

// NewPool starts size worker tasks on sched, each looping on process.
func NewPool(sched *coop.Scheduler, size int, process JobFunc) *Pool {
	if size <= 0 {
		panic("coop/stream: pool size must be positive")
	}
	p := &Pool{jobs: primitives.NewChannel(0)}
	for i := 0; i < size; i++ {
		sched.Go(func(args ...any) (any, error) { return p.runWorker(process) })
	}
	return p
}

func (p *Pool) runWorker(process JobFunc) (any, error) {
	for {
		v := p.jobs.Receive()
		req, ok := v.(*jobRequest)
		if !ok {
			// channel closed and drained: Receive's zero-value return.
			return nil, nil
		}
		req.result.TrySend(process(req.job))
	}
}

// Submit hands job to the next idle worker, suspending the calling task
// until that worker's JobFunc returns. Returns coop.ErrChannelClosed if
// the pool has been closed.
func (p *Pool) Submit(job any) error {
	result := primitives.NewChannel(0)
	if err := p.jobs.Send(&jobRequest{job: job, result: result}); err != nil {
		return err
	}
	res := result.Receive()
	if err, ok := res.(error); ok {
		return err
	}
	return nil
}

// Close stops accepting new jobs; every idle worker's Receive returns and
// its task exits. Jobs already dispatched to a worker still run to
// completion.
func (p *Pool) Close() { p.jobs.Close() }
