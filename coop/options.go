package coop

import "github.com/coopkernel/coop/reactor"

// schedulerOptions holds configuration applied at Scheduler construction.
// Ground: _examples/joeycumines-go-utilpkg/eventloop/options.go's loopOptions/resolveLoopOptions shape.
type schedulerOptions struct {
	reactor reactor.Reactor
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions)
}

type schedulerOptionFunc func(*schedulerOptions)

func (f schedulerOptionFunc) applyScheduler(o *schedulerOptions) { f(o) }

// WithReactor overrides the scheduler's reactor backend; the default is
// reactor.NewPortable(). Pass a *reactor.Epoll or *reactor.Kqueue to opt
// into a platform-specific backend.
func WithReactor(r reactor.Reactor) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) { o.reactor = r })
}

func resolveSchedulerOptions(opts []SchedulerOption) *schedulerOptions {
	cfg := &schedulerOptions{reactor: reactor.NewPortable()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyScheduler(cfg)
	}
	return cfg
}
