// Package process implements spec.md §4.5's process supervisor: fork,
// wait(pid), forked(hook), and signal(pid, sig). It is grounded on the
// same watcher-lifecycle idiom as coop/stream (register lazily, drain,
// always unwatch once idle) applied to coop/reactor's SIGCHLD support.
package process

import (
	"sync"
	"syscall"

	"github.com/coopkernel/coop"
	"github.com/coopkernel/coop/reactor"
)

// Supervisor implements wait(pid) and signal(pid, sig) against a single
// Scheduler. Per spec.md's state table its state (pending-wait map,
// exited-pid cache, SIGCHLD watcher id) is meant to be a singleton; callers
// share one Supervisor per Scheduler rather than constructing one per
// caller.
type Supervisor struct {
	sched *coop.Scheduler

	mu          sync.Mutex
	subscribers map[int][]*coop.Task
	exited      map[int]int
	watchID     reactor.WatchID
	watching    bool
}

// NewSupervisor builds a Supervisor driven by sched's reactor.
func NewSupervisor(sched *coop.Scheduler) *Supervisor {
	return &Supervisor{
		sched:       sched,
		subscribers: make(map[int][]*coop.Task),
		exited:      make(map[int]int),
	}
}

// Wait blocks the calling task until pid exits, returning its exit code:
// positive for a normal exit, negative for death by signal, per spec.md
// §4.5. Safe to call either before or after the child has already exited -
// an exit observed with no subscriber yet is cached for the next Wait.
func (s *Supervisor) Wait(pid int) (code int, err error) {
	t := requireCurrentTask("Supervisor.Wait")

	s.mu.Lock()
	if cached, ok := s.exited[pid]; ok {
		delete(s.exited, pid)
		s.mu.Unlock()
		return cached, nil
	}
	s.subscribers[pid] = append(s.subscribers[pid], t)
	s.ensureWatchLocked()
	s.mu.Unlock()
	// A child that exited before the watcher existed raised no SIGCHLD we
	// can still see, so reap once on the next tick as well.
	s.sched.NextTick(s.reap)

	defer func() {
		if r := recover(); r != nil {
			if thrown, ok := coop.RecoverThrow(r); ok {
				err = thrown
				return
			}
			panic(r)
		}
	}()

	v := coop.Suspend()
	return v.(int), nil
}

// Signal delivers sig to pid directly, per spec.md §4.5's signal(pid, sig).
func (s *Supervisor) Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// ensureWatchLocked installs the lazy SIGCHLD watcher on first use. Callers
// must hold s.mu.
func (s *Supervisor) ensureWatchLocked() {
	if s.watching {
		return
	}
	s.watching = true
	s.watchID = s.sched.Reactor().WatchSignal(int(syscall.SIGCHLD), func(reactor.WatchID) {
		// Per spec.md §4.2, a signal watcher's callback runs in its own
		// task so a slow handler never delays draining the next signal.
		s.sched.Go(func(args ...any) (any, error) {
			s.reap()
			return nil, nil
		})
	})
}

// reap drains every currently-exited child (WNOHANG), dispatching each
// exit code to any waiting subscribers or caching it for a future Wait,
// then removes the SIGCHLD watcher once no pid has a subscriber left.
func (s *Supervisor) reap() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			break
		}
		code := exitCode(status)

		s.mu.Lock()
		waiters := s.subscribers[pid]
		delete(s.subscribers, pid)
		if len(waiters) == 0 {
			s.exited[pid] = code
		}
		s.mu.Unlock()

		for _, t := range waiters {
			t.Resume(code)
		}
	}

	s.mu.Lock()
	if len(s.subscribers) == 0 && s.watching {
		s.watching = false
		s.sched.Unwatch(s.watchID)
	}
	s.mu.Unlock()
}

// exitCode maps a wait status to spec.md §4.5's convention.
func exitCode(status syscall.WaitStatus) int {
	if status.Exited() {
		return status.ExitStatus()
	}
	if status.Signaled() {
		return -int(status.Signal())
	}
	return int(status)
}

func requireCurrentTask(op string) *coop.Task {
	t := coop.Current()
	if t == nil {
		panic("coop/process: " + op + " called outside a task")
	}
	return t
}
