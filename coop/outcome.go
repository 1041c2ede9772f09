package coop

import "runtime"

// Action names the scheduler control operation that produced an Outcome.
type Action string

const (
	ActionStart     Action = "start"
	ActionResume    Action = "resume"
	ActionThrow     Action = "throw"
	ActionTerminate Action = "terminate"
)

// Outcome is returned by every scheduler control operation
// (start/resume/throw/terminate), per spec §3/§4.1. It is not a plain
// error-result type: the scheduler needs to know whether the caller
// *acknowledged* an error of a specific kind via Resolve, so that the
// end-of-tick surfacer does not re-report it.
type Outcome struct {
	Action Action
	Task   *Task
	Value  any
	Err    error
	Kind   ErrorKind

	resolved     bool
	resolvedKind ErrorKind
	trace        []uintptr
}

func newOutcome(action Action, task *Task, value any, err error) *Outcome {
	o := &Outcome{Action: action, Task: task, Value: value, Err: err, Kind: classify(err)}
	o.trace = captureTrace(3)
	return o
}

// OK reports whether the operation completed without an error.
func (o *Outcome) OK() bool { return o.Err == nil }

// Resolve marks kind as handled by the caller: the scheduler's
// end-of-tick surfacer will not report this Outcome if its Kind matches.
func (o *Outcome) Resolve(kind ErrorKind) {
	if o.Err != nil && o.Kind == kind {
		o.resolved = true
		o.resolvedKind = kind
	}
}

// Resolved reports whether Resolve has been called with this Outcome's
// Kind.
func (o *Outcome) Resolved() bool { return o.resolved }

// captureTrace records the call stack at the control-op capture site, to
// be attached to any diagnostic the end-of-tick surfacer prints.
func captureTrace(skip int) []uintptr {
	pc := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pc)
	return pc[:n]
}
