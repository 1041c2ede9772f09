package process

import (
	"os"
	"os/exec"

	"github.com/coopkernel/coop"
)

// Fork spawns a child process that runs the function registered under
// name via RegisterFunc, per spec.md §4.5's fork(fn) (re-expressed as an
// os/exec re-exec; see reexec.go). args are passed through as the child's
// command-line arguments, available to the registered function via
// os.Args if it needs them.
//
// When called from inside a task, the spawn is deferred to the scheduler's
// next tick - "so it happens at a safe point," per spec.md - and the
// caller suspends until the child's pid is ready. Called outside a task,
// it spawns immediately and returns.
func (s *Supervisor) Fork(name string, args ...string) (pid int, err error) {
	if t := coop.Current(); t != nil {
		s.sched.NextTick(func() {
			p, e := s.spawn(name, args)
			if e != nil {
				t.Throw(e)
				return
			}
			t.Resume(p)
		})

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
	return s.spawn(name, args)
}

// spawn is Fork's actual re-exec: start os.Args[0] (resolved via
// os.Executable when possible, for symlink/PATH robustness) with the
// re-exec environment marker naming the registered function, inheriting
// the parent's standard streams. It does not wait for the child - that is
// Supervisor.Wait's job, driven by the SIGCHLD watcher, not exec.Cmd.Wait,
// so the two reaping mechanisms never race each other.
func (s *Supervisor) spawn(name string, args []string) (int, error) {
	if _, ok := lookupFunc(name); !ok {
		return 0, &coop.ArgumentError{Message: "no function registered for " + name}
	}

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), reexecEnvVar+"="+name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}
