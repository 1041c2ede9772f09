//go:build unix

package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ioWatch is one registered read/write callback.
type ioWatch struct {
	id  WatchID
	ep  Endpoint
	dir Direction
	cb  func(WatchID, Endpoint)
}

// Portable is the mandatory Select(2)-based backend: it works on every
// unix target without a platform-specific poller. Ground:
// _examples/joeycumines-go-utilpkg/eventloop/poller_linux.go's registration/dispatch shape, reworked
// around unix.Select instead of epoll since Select needs no descriptor
// of its own and this backend exists specifically to need nothing
// platform-special.
type Portable struct {
	mu       sync.Mutex
	watches  map[WatchID]*ioWatch
	byFdRead map[int][]*ioWatch
	byFdWrite map[int][]*ioWatch

	signals *signalWatchers

	timers *timers

	nextID atomic.Uint64
	stopped atomic.Bool
}

// NewPortable constructs a ready-to-use Select-based reactor.
func NewPortable() *Portable {
	return &Portable{
		watches:   make(map[WatchID]*ioWatch),
		byFdRead:  make(map[int][]*ioWatch),
		byFdWrite: make(map[int][]*ioWatch),
		signals:   newSignalWatchers(),
		timers:    newTimers(),
	}
}

func (p *Portable) allocID() WatchID {
	return WatchID(p.nextID.Add(1))
}

func (p *Portable) WatchRead(ep Endpoint, cb func(WatchID, Endpoint)) WatchID {
	return p.watch(ep, Read, cb)
}

func (p *Portable) WatchWrite(ep Endpoint, cb func(WatchID, Endpoint)) WatchID {
	return p.watch(ep, Write, cb)
}

func (p *Portable) watch(ep Endpoint, dir Direction, cb func(WatchID, Endpoint)) WatchID {
	id := p.allocID()
	w := &ioWatch{id: id, ep: ep, dir: dir, cb: cb}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watches[id] = w
	fd := ep.Fd()
	if dir == Read {
		p.byFdRead[fd] = append(p.byFdRead[fd], w)
	} else {
		p.byFdWrite[fd] = append(p.byFdWrite[fd], w)
	}
	return id
}

func (p *Portable) WatchSignal(signo int, cb func(WatchID)) WatchID {
	id := p.allocID()
	p.signals.add(id, signo, cb)
	return id
}

func (p *Portable) Timer(after, repeat time.Duration, cb func(WatchID)) WatchID {
	id := p.allocID()
	p.timers.add(&timerEntry{id: id, at: time.Now().Add(after), repeat: repeat, cb: cb})
	return id
}

func (p *Portable) Unwatch(id WatchID) error {
	if p.timers.remove(id) {
		return nil
	}
	if p.signals.remove(id) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.watches[id]
	if !ok {
		return ErrUnknownWatch
	}
	delete(p.watches, id)
	if w.dir == Read {
		p.byFdRead[w.ep.Fd()] = removeWatch(p.byFdRead[w.ep.Fd()], w)
	} else {
		p.byFdWrite[w.ep.Fd()] = removeWatch(p.byFdWrite[w.ep.Fd()], w)
	}
	return nil
}

func removeWatch(list []*ioWatch, target *ioWatch) []*ioWatch {
	out := list[:0]
	for _, w := range list {
		if w != target {
			out = append(out, w)
		}
	}
	return out
}

func (p *Portable) IsActive() bool {
	p.mu.Lock()
	n := len(p.watches)
	p.mu.Unlock()
	return n > 0 || p.timers.active() || p.signals.active()
}

func (p *Portable) Stop() {
	p.stopped.Store(true)
	p.mu.Lock()
	p.watches = make(map[WatchID]*ioWatch)
	p.byFdRead = make(map[int][]*ioWatch)
	p.byFdWrite = make(map[int][]*ioWatch)
	p.mu.Unlock()
	p.timers.reset()
	p.signals.reset()
}

func (p *Portable) OnFork() {
	p.Stop()
	p.nextID.Store(0)
	p.stopped.Store(false)
}

// Tick implements the quantum described in Reactor.Tick: compute the
// readiness budget from the timer heap, wait, then dispatch readers,
// writers, signals, and due timers in that order.
func (p *Portable) Tick() error {
	if p.stopped.Load() {
		return nil
	}

	now := time.Now()
	budget, haveTimer := p.timers.nextDeadline(now)

	p.mu.Lock()
	hasIO := len(p.byFdRead) > 0 || len(p.byFdWrite) > 0
	var readFds, writeFds []int
	if hasIO {
		readFds = make([]int, 0, len(p.byFdRead))
		for fd := range p.byFdRead {
			readFds = append(readFds, fd)
		}
		writeFds = make([]int, 0, len(p.byFdWrite))
		for fd := range p.byFdWrite {
			writeFds = append(writeFds, fd)
		}
	}
	p.mu.Unlock()

	if !hasIO {
		if haveTimer {
			if budget < minWaitFloor {
				budget = minWaitFloor
			}
			time.Sleep(budget)
		}
	} else {
		var rset, wset unix.FdSet
		maxFd := -1
		for _, fd := range readFds {
			rset.Set(fd)
			if fd > maxFd {
				maxFd = fd
			}
		}
		for _, fd := range writeFds {
			wset.Set(fd)
			if fd > maxFd {
				maxFd = fd
			}
		}

		var tv *unix.Timeval
		if haveTimer {
			t := unix.NsecToTimeval(budget.Nanoseconds())
			tv = &t
		}
		_, err := unix.Select(maxFd+1, &rset, &wset, nil, tv)
		if err != nil && err != unix.EINTR {
			return err
		}

		p.dispatchReady(&rset, readFds, Read)
		p.dispatchReady(&wset, writeFds, Write)
	}

	p.signals.drain()

	for _, e := range p.timers.due(time.Now()) {
		e.cb(e.id)
	}
	return nil
}

func (p *Portable) dispatchReady(set *unix.FdSet, fds []int, dir Direction) {
	for _, fd := range fds {
		if !set.IsSet(fd) {
			continue
		}
		p.mu.Lock()
		var ready []*ioWatch
		if dir == Read {
			ready = append(ready, p.byFdRead[fd]...)
		} else {
			ready = append(ready, p.byFdWrite[fd]...)
		}
		p.mu.Unlock()
		for _, w := range ready {
			dispatchGuarded(w.id, w.ep, w.cb)
		}
	}
}

// dispatchGuarded runs cb, reporting rather than propagating a panic, per
// spec §4.2's "any user callback that raises is caught... iteration
// continues."
func dispatchGuarded(id WatchID, ep Endpoint, cb func(WatchID, Endpoint)) {
	defer func() {
		if r := recover(); r != nil {
			reportCallbackPanic("io", r)
		}
	}()
	cb(id, ep)
}
