// Package reactor implements the single-threaded I/O event loop that sits
// underneath coop's synchronization primitives and buffered streams: fd
// readiness, timers, and signal delivery, all surfaced through one
// watch-id namespace.
package reactor

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// WatchID is the opaque, monotonic handle returned by every Watch*/Timer
// registration, used later to Unwatch.
type WatchID uint64

// Direction distinguishes a read-readiness from a write-readiness watch.
type Direction int

const (
	Read Direction = iota
	Write
)

// Endpoint is the minimal descriptor-bearing surface a Reactor watches.
// coop/stream.BufferedStream is the primary implementer.
type Endpoint interface {
	// Fd returns the underlying file descriptor, or -1 if none (in which
	// case only timer/signal watches make sense for the caller).
	Fd() int
}

// ErrUnknownWatch is returned by Unwatch for an id that is not currently
// registered; per spec, Unwatch is otherwise idempotent and this error is
// informational only, never fatal to the caller.
var ErrUnknownWatch = errors.New("reactor: unknown watch id")

// Reactor is the single-threaded event loop interface: fd readiness,
// timers, and signals, all cancelable through one watch-id namespace. The
// portable backend (Select, this package) is mandatory; Epoll and Kqueue
// are optional platform alternates behind build tags, sharing this same
// interface and watch-id semantics.
type Reactor interface {
	// WatchRead/WatchWrite register cb to run when ep is
	// readable/writable. Multiple watchers per endpoint+direction are
	// allowed; dispatch order for a single readiness event is insertion
	// order.
	WatchRead(ep Endpoint, cb func(WatchID, Endpoint)) WatchID
	WatchWrite(ep Endpoint, cb func(WatchID, Endpoint)) WatchID

	// WatchSignal registers cb to run once per delivered instance of
	// signo. cb is called directly from Tick; a caller that wants the
	// handling to run in its own task spawns one from cb.
	WatchSignal(signo int, cb func(WatchID)) WatchID

	// Timer arms cb to fire once after `after`; if repeat > 0 it re-arms
	// with period repeat computed from the previous fire time.
	Timer(after, repeat time.Duration, cb func(WatchID)) WatchID

	// Unwatch removes a registration. Idempotent: a duplicate or unknown
	// id is a no-op that returns ErrUnknownWatch.
	Unwatch(id WatchID) error

	// Tick runs one quantum: compute a readiness wait budget from the
	// next due timer, wait for readiness (or sleep, if nothing is
	// registered), then dispatch ready readers, ready writers, pending
	// signals, and due timers, in that order.
	Tick() error

	// IsActive reports whether any watcher, signal handler, or timer is
	// currently registered.
	IsActive() bool

	// Stop drops every registration and marks the reactor stopped;
	// further Tick calls become no-ops.
	Stop()

	// OnFork performs child-side cleanup after a process fork: drop all
	// watchers, reset the id counter, clear the stopped flag.
	OnFork()
}

// minWaitFloor keeps Tick from spinning: it is the sleep taken when no
// I/O is registered, and the Epoll/Kqueue backends' minimum wait when a
// timer is pending. The portable backend's Select waits for the raw
// timer budget.
const minWaitFloor = 700 * time.Microsecond

// watchCb is one registered fd-readiness callback, shared by the Epoll
// and Kqueue backends (both key a single per-fd registration on this
// same small struct).
type watchCb struct {
	id WatchID
	ep Endpoint
	cb func(WatchID, Endpoint)
}

// removeWatchCb drops the entry for id, if present, preserving order.
func removeWatchCb(list []watchCb, id WatchID) []watchCb {
	out := list[:0]
	for _, c := range list {
		if c.id != id {
			out = append(out, c)
		}
	}
	return out
}

// timerEntry is one scheduled timer/ticker, kept in a min-heap by fire
// time. Ground: _examples/joeycumines-go-utilpkg/eventloop/loop.go's timerHeap, keyed by time.Time, here
// carrying the watch id and callback instead of a Task.
type timerEntry struct {
	id     WatchID
	at     time.Time
	repeat time.Duration
	cb     func(WatchID)
	index  int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timers is the embeddable timer-heap mixin shared by every backend.
type timers struct {
	mu   sync.Mutex
	heap timerHeap
	byID map[WatchID]*timerEntry
}

func newTimers() *timers {
	return &timers{byID: make(map[WatchID]*timerEntry)}
}

func (t *timers) add(e *timerEntry) {
	// Guard the callback here so every backend's timer dispatch reports a
	// panic and carries on, as fd and signal dispatch do.
	if cb := e.cb; cb != nil {
		e.cb = func(id WatchID) {
			defer func() {
				if r := recover(); r != nil {
					reportCallbackPanic("timer", r)
				}
			}()
			cb(id)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[e.id] = e
	heap.Push(&t.heap, e)
}

func (t *timers) remove(id WatchID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	if e.index >= 0 && e.index < len(t.heap) {
		heap.Remove(&t.heap, e.index)
	}
	return true
}

// nextDeadline returns the time budget until the earliest due timer, or
// (0, false) if none are registered.
func (t *timers) nextDeadline(now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.heap) == 0 {
		return 0, false
	}
	d := t.heap[0].at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// due pops and returns every timer due at or before now, re-arming
// periodic ones with trigger += repeat (drift-minimizing: the next fire
// is computed from the entry's own previous trigger time, not from now).
func (t *timers) due(now time.Time) []*timerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var fired []*timerEntry
	for len(t.heap) > 0 && !t.heap[0].at.After(now) {
		e := heap.Pop(&t.heap).(*timerEntry)
		delete(t.byID, e.id)
		fired = append(fired, e)
		if e.repeat > 0 {
			next := &timerEntry{id: e.id, at: e.at.Add(e.repeat), repeat: e.repeat, cb: e.cb}
			t.byID[next.id] = next
			heap.Push(&t.heap, next)
		}
	}
	return fired
}

func (t *timers) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap) > 0
}

func (t *timers) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heap = nil
	t.byID = make(map[WatchID]*timerEntry)
}
