//go:build linux

package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Epoll is an optional Linux-only alternate backend, sharing Portable's
// watch-id semantics and the shared timer/signal mixins. Ground:
// _examples/joeycumines-go-utilpkg/eventloop/poller_linux.go's FastPoller, trimmed to the
// watch_read/watch_write/unwatch subset Reactor needs (no direct-index
// fd array or cache-line padding: this backend favors matching Reactor's
// shape over FastPoller's hot-path tuning).
type Epoll struct {
	epfd int

	mu   sync.Mutex
	byFd map[int]*epollFd

	signals *signalWatchers
	timers  *timers

	nextID  atomic.Uint64
	stopped atomic.Bool
}

type epollFd struct {
	fd       int
	readCbs  []watchCb
	writeCbs []watchCb
	mask     uint32
}

// NewEpoll constructs an epoll-backed reactor. Falls back to the
// Portable (select-based) backend's construction error semantics: an
// error here means epoll_create1 failed, e.g. fd-table exhaustion.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		epfd:    fd,
		byFd:    make(map[int]*epollFd),
		signals: newSignalWatchers(),
		timers:  newTimers(),
	}, nil
}

func (e *Epoll) allocID() WatchID { return WatchID(e.nextID.Add(1)) }

func (e *Epoll) watch(ep Endpoint, dir Direction, cb func(WatchID, Endpoint)) WatchID {
	id := e.allocID()
	fd := ep.Fd()
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.byFd[fd]
	if !ok {
		entry = &epollFd{fd: fd}
		e.byFd[fd] = entry
	}
	wasRegistered := entry.mask != 0
	c := watchCb{id: id, ep: ep, cb: cb}
	if dir == Read {
		entry.readCbs = append(entry.readCbs, c)
		entry.mask |= unix.EPOLLIN
	} else {
		entry.writeCbs = append(entry.writeCbs, c)
		entry.mask |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: entry.mask, Fd: int32(fd)}
	if wasRegistered {
		unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	} else {
		unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	return id
}

func (e *Epoll) WatchRead(ep Endpoint, cb func(WatchID, Endpoint)) WatchID {
	return e.watch(ep, Read, cb)
}

func (e *Epoll) WatchWrite(ep Endpoint, cb func(WatchID, Endpoint)) WatchID {
	return e.watch(ep, Write, cb)
}

func (e *Epoll) WatchSignal(signo int, cb func(WatchID)) WatchID {
	id := e.allocID()
	e.signals.add(id, signo, cb)
	return id
}

func (e *Epoll) Timer(after, repeat time.Duration, cb func(WatchID)) WatchID {
	id := e.allocID()
	e.timers.add(&timerEntry{id: id, at: time.Now().Add(after), repeat: repeat, cb: cb})
	return id
}

func (e *Epoll) Unwatch(id WatchID) error {
	if e.timers.remove(id) || e.signals.remove(id) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for fd, entry := range e.byFd {
		before := len(entry.readCbs) + len(entry.writeCbs)
		entry.readCbs = removeWatchCb(entry.readCbs, id)
		entry.writeCbs = removeWatchCb(entry.writeCbs, id)
		if len(entry.readCbs)+len(entry.writeCbs) == before {
			continue
		}
		if len(entry.readCbs) == 0 {
			entry.mask &^= unix.EPOLLIN
		}
		if len(entry.writeCbs) == 0 {
			entry.mask &^= unix.EPOLLOUT
		}
		if entry.mask == 0 {
			unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
			delete(e.byFd, fd)
		} else {
			ev := unix.EpollEvent{Events: entry.mask, Fd: int32(fd)}
			unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		}
		return nil
	}
	return ErrUnknownWatch
}


func (e *Epoll) IsActive() bool {
	e.mu.Lock()
	n := len(e.byFd)
	e.mu.Unlock()
	return n > 0 || e.timers.active() || e.signals.active()
}

func (e *Epoll) Stop() {
	e.stopped.Store(true)
	e.mu.Lock()
	for fd := range e.byFd {
		unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	e.byFd = make(map[int]*epollFd)
	e.mu.Unlock()
	e.timers.reset()
	e.signals.reset()
}

func (e *Epoll) OnFork() {
	e.Stop()
	e.nextID.Store(0)
	e.stopped.Store(false)
}

func (e *Epoll) Tick() error {
	if e.stopped.Load() {
		return nil
	}
	now := time.Now()
	budget, haveTimer := e.timers.nextDeadline(now)

	timeoutMs := -1
	if haveTimer {
		if budget < minWaitFloor {
			budget = minWaitFloor
		}
		timeoutMs = int(budget.Milliseconds())
	} else if !e.IsActive() {
		timeoutMs = int(minWaitFloor.Milliseconds())
	}

	var buf [256]unix.EpollEvent
	n, err := unix.EpollWait(e.epfd, buf[:], timeoutMs)
	if err != nil && err != unix.EINTR {
		return err
	}
	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		e.mu.Lock()
		entry, ok := e.byFd[fd]
		var reads, writes []watchCb
		if ok {
			reads = append(reads, entry.readCbs...)
			writes = append(writes, entry.writeCbs...)
		}
		e.mu.Unlock()
		if buf[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			for _, c := range reads {
				dispatchGuarded(c.id, c.ep, c.cb)
			}
		}
		if buf[i].Events&unix.EPOLLOUT != 0 {
			for _, c := range writes {
				dispatchGuarded(c.id, c.ep, c.cb)
			}
		}
	}

	e.signals.drain()
	for _, te := range e.timers.due(time.Now()) {
		te.cb(te.id)
	}
	return nil
}
