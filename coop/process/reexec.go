package process

import (
	"fmt"
	"os"
	"sync"

	"github.com/coopkernel/coop"
)

// reexecEnvVar names the environment variable a forked child inspects to
// find which registered function to run. Set by Supervisor.Fork, read by
// Init.
const reexecEnvVar = "COOP_REEXEC_FUNC"

// Calling syscall.Fork-style raw fork(2) in a running Go process only
// duplicates the calling OS thread, not the goroutine scheduler or its
// other threads, and the Go runtime documents it as unsafe beyond an
// immediate exec. fork(fn) is therefore re-expressed here as a re-exec of
// os.Args[0]: the parent starts a new process with an environment marker
// naming a function registered ahead of time via RegisterFunc, and that
// process's own early call to Init dispatches to it - the same
// registry-plus-environment-marker idiom used by container runtimes that
// need fork-without-exec semantics from Go. See DESIGN.md.

var registry = struct {
	mu  sync.Mutex
	fns map[string]func(*coop.Scheduler)
}{fns: make(map[string]func(*coop.Scheduler))}

// RegisterFunc registers fn under name so a later Supervisor.Fork(name)
// runs it as a forked child's entry point, per spec.md §4.5's fork(fn).
// Call it from an init function or early in main, unconditionally - the
// same registration must run in the child's re-executed process before
// Init looks name up, so it cannot be gated behind "only if we're the
// parent" logic.
func RegisterFunc(name string, fn func(sched *coop.Scheduler)) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.fns[name]; exists {
		panic("coop/process: function already registered: " + name)
	}
	registry.fns[name] = fn
}

func lookupFunc(name string) (func(*coop.Scheduler), bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	fn, ok := registry.fns[name]
	return fn, ok
}

var forkedHooks struct {
	mu  sync.Mutex
	fns []func(*coop.Scheduler)
}

// Forked registers hook to run in every forked child, in registration
// order, before the child's named entry function - spec.md §4.5's
// forked(hook). Like RegisterFunc, register unconditionally and early:
// the child is the same binary re-executed from the top, so the hook must
// already be registered by the time Init runs there.
func Forked(hook func(sched *coop.Scheduler)) {
	forkedHooks.mu.Lock()
	defer forkedHooks.mu.Unlock()
	forkedHooks.fns = append(forkedHooks.fns, hook)
}

// Init re-expresses fork(fn)'s child-side steps per spec.md §4.5 - (i)
// clear scheduler state, (ii) reactor.on_fork, (iii) forked hooks in
// order, (iv) fn, (v) wait for any tasks fn spawned, (vi) exit 0 - as a
// fresh Scheduler, its reactor's OnFork, the registered hooks, the named
// function run as a task, and Scheduler.Drive as the "wait for spawned
// tasks" step. It reports false and does nothing if this process was not
// spawned by Supervisor.Fork, so the usual call pattern is:
//
//	func main() {
//	    if process.Init() {
//	        return
//	    }
//	    // ordinary parent-side main
//	}
func Init() bool {
	name := os.Getenv(reexecEnvVar)
	if name == "" {
		return false
	}

	fn, ok := lookupFunc(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "coop/process: no function registered for %q\n", name)
		os.Exit(1)
	}

	sched := coop.NewScheduler()
	sched.Reactor().OnFork()

	forkedHooks.mu.Lock()
	hooks := append([]func(*coop.Scheduler)(nil), forkedHooks.fns...)
	forkedHooks.mu.Unlock()
	for _, hook := range hooks {
		hook(sched)
	}

	sched.Go(func(args ...any) (any, error) {
		fn(sched)
		return nil, nil
	})
	sched.Drive()

	os.Exit(0)
	return true
}
