//go:build darwin

package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Kqueue is an optional Darwin-only alternate backend. Ground:
// _examples/joeycumines-go-utilpkg/eventloop/poller_darwin.go's FastPoller, trimmed the same way Epoll
// trims poller_linux.go: to the watch_read/watch_write/unwatch subset
// Reactor needs, via EVFILT_READ/EVFILT_WRITE kevents.
type Kqueue struct {
	kq int

	mu   sync.Mutex
	byFd map[int]*kqueueFd

	signals *signalWatchers
	timers  *timers

	nextID  atomic.Uint64
	stopped atomic.Bool
}

type kqueueFd struct {
	fd       int
	readCbs  []watchCb
	writeCbs []watchCb
}

func NewKqueue() (*Kqueue, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &Kqueue{
		kq:      fd,
		byFd:    make(map[int]*kqueueFd),
		signals: newSignalWatchers(),
		timers:  newTimers(),
	}, nil
}

func (k *Kqueue) allocID() WatchID { return WatchID(k.nextID.Add(1)) }

func (k *Kqueue) watch(ep Endpoint, dir Direction, cb func(WatchID, Endpoint)) WatchID {
	id := k.allocID()
	fd := ep.Fd()
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.byFd[fd]
	if !ok {
		entry = &kqueueFd{fd: fd}
		k.byFd[fd] = entry
	}
	c := watchCb{id: id, ep: ep, cb: cb}
	var filter int16
	if dir == Read {
		filter = unix.EVFILT_READ
		entry.readCbs = append(entry.readCbs, c)
	} else {
		filter = unix.EVFILT_WRITE
		entry.writeCbs = append(entry.writeCbs, c)
	}
	ev := unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: unix.EV_ADD | unix.EV_ENABLE}
	unix.Kevent(k.kq, []unix.Kevent_t{ev}, nil, nil)
	return id
}

func (k *Kqueue) WatchRead(ep Endpoint, cb func(WatchID, Endpoint)) WatchID {
	return k.watch(ep, Read, cb)
}

func (k *Kqueue) WatchWrite(ep Endpoint, cb func(WatchID, Endpoint)) WatchID {
	return k.watch(ep, Write, cb)
}

func (k *Kqueue) WatchSignal(signo int, cb func(WatchID)) WatchID {
	id := k.allocID()
	k.signals.add(id, signo, cb)
	return id
}

func (k *Kqueue) Timer(after, repeat time.Duration, cb func(WatchID)) WatchID {
	id := k.allocID()
	k.timers.add(&timerEntry{id: id, at: time.Now().Add(after), repeat: repeat, cb: cb})
	return id
}

func (k *Kqueue) Unwatch(id WatchID) error {
	if k.timers.remove(id) || k.signals.remove(id) {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for fd, entry := range k.byFd {
		before := len(entry.readCbs) + len(entry.writeCbs)
		entry.readCbs = removeWatchCb(entry.readCbs, id)
		entry.writeCbs = removeWatchCb(entry.writeCbs, id)
		if len(entry.readCbs)+len(entry.writeCbs) == before {
			continue
		}
		if len(entry.readCbs) == 0 {
			ev := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE}
			unix.Kevent(k.kq, []unix.Kevent_t{ev}, nil, nil)
		}
		if len(entry.writeCbs) == 0 {
			ev := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE}
			unix.Kevent(k.kq, []unix.Kevent_t{ev}, nil, nil)
		}
		if len(entry.readCbs) == 0 && len(entry.writeCbs) == 0 {
			delete(k.byFd, fd)
		}
		return nil
	}
	return ErrUnknownWatch
}

func (k *Kqueue) IsActive() bool {
	k.mu.Lock()
	n := len(k.byFd)
	k.mu.Unlock()
	return n > 0 || k.timers.active() || k.signals.active()
}

func (k *Kqueue) Stop() {
	k.stopped.Store(true)
	k.mu.Lock()
	k.byFd = make(map[int]*kqueueFd)
	k.mu.Unlock()
	k.timers.reset()
	k.signals.reset()
}

func (k *Kqueue) OnFork() {
	k.Stop()
	k.nextID.Store(0)
	k.stopped.Store(false)
}

func (k *Kqueue) Tick() error {
	if k.stopped.Load() {
		return nil
	}
	now := time.Now()
	budget, haveTimer := k.timers.nextDeadline(now)

	var ts *unix.Timespec
	if haveTimer {
		if budget < minWaitFloor {
			budget = minWaitFloor
		}
		tsv := unix.NsecToTimespec(budget.Nanoseconds())
		ts = &tsv
	} else if !k.IsActive() {
		tsv := unix.NsecToTimespec(minWaitFloor.Nanoseconds())
		ts = &tsv
	}

	var buf [256]unix.Kevent_t
	n, err := unix.Kevent(k.kq, nil, buf[:], ts)
	if err != nil && err != unix.EINTR {
		return err
	}
	for i := 0; i < n; i++ {
		fd := int(buf[i].Ident)
		k.mu.Lock()
		entry, ok := k.byFd[fd]
		var reads, writes []watchCb
		if ok {
			reads = append(reads, entry.readCbs...)
			writes = append(writes, entry.writeCbs...)
		}
		k.mu.Unlock()
		switch buf[i].Filter {
		case unix.EVFILT_READ:
			for _, c := range reads {
				dispatchGuarded(c.id, c.ep, c.cb)
			}
		case unix.EVFILT_WRITE:
			for _, c := range writes {
				dispatchGuarded(c.id, c.ep, c.cb)
			}
		}
	}

	k.signals.drain()
	for _, te := range k.timers.due(time.Now()) {
		te.cb(te.id)
	}
	return nil
}
