// Package coop implements a single-threaded cooperative concurrency
// runtime: a user-space task scheduler and the primitives built directly
// on top of it (Task, Outcome, the scheduler driver loop, the error sink
// and debug trace ring).
//
// A Task is not a stackful fiber: Go has no native suspendable-function
// primitive, so each Task is backed by a dedicated goroutine held at a
// rendezvous point ("an N:1 goroutine-like runtime", one of the
// acceptable substrates called out by the design this package follows).
// Exactly one task goroutine is ever unblocked at a time — the Scheduler
// hands a single cooperative "token" to a task's goroutine and blocks
// until that task suspends or terminates, so the observable behavior is
// indistinguishable from a true single-threaded coroutine runtime: no two
// task bodies ever run concurrently, and ordering between suspension
// points is exactly program order.
package coop
