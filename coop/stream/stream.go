// Package stream implements a non-blocking, ring-buffered write side over
// an arbitrary reactor-pollable endpoint, per spec.md §4.4. It is grounded
// on the teacher's catrate/ring.go buffer shape and eventloop's
// watcher-lifecycle idiom (register, drain, always unwatch on exit).
package stream

import (
	"time"

	"github.com/coopkernel/coop"
	"github.com/coopkernel/coop/reactor"
)

// Endpoint is the non-blocking transport a BufferedStream wraps. Read and
// Write never block: they return (0, ErrWouldBlock) when no progress is
// currently possible, exactly like a raw non-blocking file descriptor.
type Endpoint interface {
	reactor.Endpoint

	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)

	// CloseRead/CloseWrite half-close one direction (e.g. shutdown(2) on a
	// socket); Close tears down both and releases the descriptor.
	CloseRead() error
	CloseWrite() error
	Close() error
}

// ShutdownHow selects which half (or both) of a stream to shut down.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// Config holds the buffered stream's tunables, per spec.md §4.4.
type Config struct {
	WriteBufferSize int // initial ring capacity; default 32 KiB
	WriteBufferMax  int // soft cap on pending bytes; default 1 MiB
	WriteChunkSize  int // single-write cap; default 60 KiB
}

func defaultConfig() Config {
	return Config{
		WriteBufferSize: 32 << 10,
		WriteBufferMax:  1 << 20,
		WriteChunkSize:  60 << 10,
	}
}

// StreamOption configures a BufferedStream at construction time.
type StreamOption func(*Config)

func WithWriteBufferSize(n int) StreamOption { return func(c *Config) { c.WriteBufferSize = n } }
func WithWriteBufferMax(n int) StreamOption  { return func(c *Config) { c.WriteBufferMax = n } }
func WithWriteChunkSize(n int) StreamOption  { return func(c *Config) { c.WriteChunkSize = n } }

// BufferedStream is a non-blocking Endpoint plus a ring-buffered outbound
// side, driven by the owning scheduler's reactor. A single instance is
// meant to be used by the single task that owns it; it is not safe to
// share across tasks without its own coordination.
type BufferedStream struct {
	ep    Endpoint
	sched *coop.Scheduler
	cfg   Config
	out   *byteRing

	closed        bool
	readShutdown  bool
	writeShutdown bool

	// waiter tracks whichever task is currently suspended in flush or
	// EnableSSL, if any, so Close can interrupt it directly instead of
	// waiting for a readiness event that may never come.
	waiter *streamWaiter
}

type streamWaiter struct {
	task     *coop.Task
	watchID  reactor.WatchID
	timerID  reactor.WatchID
	hasTimer bool
}

// New wraps ep in a BufferedStream driven by sched's reactor.
func New(sched *coop.Scheduler, ep Endpoint, opts ...StreamOption) *BufferedStream {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &BufferedStream{
		ep:    ep,
		sched: sched,
		cfg:   cfg,
		out:   newByteRing(cfg.WriteBufferSize),
	}
}

// Fd satisfies reactor.Endpoint, so a BufferedStream can itself be handed
// to Reactor.WatchRead/WatchWrite.
func (bs *BufferedStream) Fd() int { return bs.ep.Fd() }

// Pending reports the number of bytes currently queued in the outbound
// ring, not yet written to the endpoint.
func (bs *BufferedStream) Pending() int { return bs.out.Len() }

// Scheduler returns the scheduler driving this stream's reactor watches.
func (bs *BufferedStream) Scheduler() *coop.Scheduler { return bs.sched }

// WaitReadable suspends the calling task until the endpoint is next
// read-ready. Read itself never blocks, per spec.md §4.4; a task that
// wants to block on read registers its own watcher, which is exactly
// what this does.
func (bs *BufferedStream) WaitReadable() (err error) {
	if bs.closed {
		return errStreamClosed
	}
	t := requireCurrentStream("BufferedStream.WaitReadable")
	w := &streamWaiter{task: t}
	bs.waiter = w

	w.watchID = bs.sched.Reactor().WatchRead(bs, func(reactor.WatchID, reactor.Endpoint) {
		bs.waiter = nil
		t.Resume(nil)
	})

	defer func() {
		bs.waiter = nil
		bs.sched.Unwatch(w.watchID)
		if r := recover(); r != nil {
			if thrown, ok := coop.RecoverThrow(r); ok {
				err = thrown
				return
			}
			panic(r)
		}
	}()

	coop.Suspend()
	return nil
}

// WriteAll pushes p to the endpoint, buffering whatever a direct
// non-blocking write does not consume, then suspends the caller until the
// buffer drains (or timeout elapses, or the stream closes). A zero or
// negative timeout waits indefinitely.
func (bs *BufferedStream) WriteAll(p []byte, timeout time.Duration) (int, error) {
	n, err := bs.enqueue(p)
	if err != nil {
		return n, err
	}
	if bs.out.Len() == 0 {
		return len(p), nil
	}
	if err := bs.flush(timeout); err != nil {
		return n, err
	}
	return len(p), nil
}

// WriteAsync enqueues p without blocking the caller. The caller later
// calls FlushOnce to drain opportunistically, or relies on a subsequent
// WriteAll to install a watcher.
func (bs *BufferedStream) WriteAsync(p []byte) (int, error) { return bs.enqueue(p) }

// enqueue implements the write_all/write_async shared prefix: reject if
// closed or write-shutdown, try a direct write, buffer the remainder
// subject to write_buffer_max.
func (bs *BufferedStream) enqueue(p []byte) (int, error) {
	if bs.closed {
		return 0, errStreamClosed
	}
	if bs.writeShutdown {
		return 0, errShutdownWrite
	}
	if bs.out.Len() == 0 {
		n, err := bs.ep.Write(p)
		if err != nil && err != ErrWouldBlock {
			return n, &coop.ConnectionError{Message: "write failed", Cause: err}
		}
		if n == len(p) {
			return n, nil
		}
		p = p[n:]
	}
	if bs.out.Len()+len(p) > bs.cfg.WriteBufferMax {
		return 0, errWriteBufferOverflow
	}
	if err := bs.out.Write(p); err != nil {
		return 0, &coop.ConnectionError{Message: "write buffer overflow", Cause: err}
	}
	return len(p), nil
}

// flush suspends the calling task until the outbound buffer drains,
// installing a write-ready watcher and, if timeout > 0, a timer that
// throws a write-timeout error into the caller. The watcher and timer are
// always released before flush returns, successfully or not.
func (bs *BufferedStream) flush(timeout time.Duration) (err error) {
	if bs.closed {
		return errStreamClosed
	}
	t := requireCurrentStream("BufferedStream.flush")
	w := &streamWaiter{task: t}
	bs.waiter = w

	w.watchID = bs.sched.Reactor().WatchWrite(bs, func(reactor.WatchID, reactor.Endpoint) {
		bs.drainReady()
		if bs.out.Len() > 0 {
			return
		}
		if w.hasTimer {
			bs.sched.Unwatch(w.timerID)
			w.hasTimer = false
		}
		bs.waiter = nil
		t.Resume(nil)
	})

	if timeout > 0 {
		w.hasTimer = true
		w.timerID = bs.sched.Reactor().Timer(timeout, 0, func(reactor.WatchID) {
			w.hasTimer = false
			bs.sched.Unwatch(w.watchID)
			bs.waiter = nil
			t.Throw(errWriteTimeout)
		})
	}

	defer func() {
		bs.waiter = nil
		bs.sched.Unwatch(w.watchID)
		if w.hasTimer {
			bs.sched.Unwatch(w.timerID)
		}
		if r := recover(); r != nil {
			if thrown, ok := coop.RecoverThrow(r); ok {
				err = thrown
				return
			}
			panic(r)
		}
	}()

	coop.Suspend()
	return nil
}

// FlushOnce drains the outbound buffer opportunistically without ever
// suspending: while bytes remain and the endpoint accepts them, it writes
// up to write_chunk_size at a time, stopping on a short write, a
// would-block, or an empty buffer.
func (bs *BufferedStream) FlushOnce() error {
	if bs.closed {
		return errStreamClosed
	}
	return bs.drainReady()
}

// drainReady is FlushOnce's body, reused by the write-ready watcher
// callback installed in flush.
func (bs *BufferedStream) drainReady() error {
	for bs.out.Len() > 0 {
		chunk := bs.out.Peek(bs.cfg.WriteChunkSize)
		n, err := bs.ep.Write(chunk)
		if n > 0 {
			bs.out.Discard(n)
		}
		if err != nil {
			if err == ErrWouldBlock {
				return nil
			}
			return &coop.ConnectionError{Message: "write failed", Cause: err}
		}
		if n < len(chunk) {
			return nil
		}
	}
	return nil
}

// Read performs a single non-blocking read of up to n bytes. It returns
// (nil, nil) on a would-block with no data yet available (the caller must
// register its own read watcher to wait), and an error on underlying
// read failure.
func (bs *BufferedStream) Read(n int) ([]byte, error) {
	if bs.closed {
		return nil, errStreamClosed
	}
	if bs.readShutdown {
		return nil, errShutdownRead
	}
	buf := make([]byte, n)
	read, err := bs.ep.Read(buf)
	if err != nil {
		if err == ErrWouldBlock {
			return nil, nil
		}
		return nil, &coop.ConnectionError{Message: "read failed", Cause: err}
	}
	return buf[:read], nil
}

// Shutdown half-closes (or fully closes) the stream per how. Write
// shutdown first attempts a best-effort flush of what is buffered, then
// half-closes the endpoint's write side; read shutdown half-closes the
// read side. It cancels no reactor watcher: one installed by a suspended
// flush, WaitReadable or EnableSSL stays registered. Idempotent per
// direction.
func (bs *BufferedStream) Shutdown(how ShutdownHow) error {
	var err error
	if how == ShutdownWrite || how == ShutdownBoth {
		if !bs.writeShutdown {
			_ = bs.drainReady()
			if cerr := bs.ep.CloseWrite(); cerr != nil {
				err = &coop.ConnectionError{Message: "shutdown write", Cause: cerr}
			}
			bs.writeShutdown = true
		}
	}
	if how == ShutdownRead || how == ShutdownBoth {
		if !bs.readShutdown {
			if cerr := bs.ep.CloseRead(); cerr != nil && err == nil {
				err = &coop.ConnectionError{Message: "shutdown read", Cause: cerr}
			}
			bs.readShutdown = true
		}
	}
	return err
}

// SSLHandshaker performs one step of a non-blocking TLS-style handshake:
// ok true means the handshake is complete, ok false with a nil error
// means it would have blocked and should be retried once the endpoint is
// next readable.
type SSLHandshaker func() (ok bool, err error)

// EnableSSL drives handshake cooperatively: it attempts completion
// immediately, and if that would block, registers a read watcher that
// retries handshake until it completes or errors.
func (bs *BufferedStream) EnableSSL(handshake SSLHandshaker, timeout time.Duration) (err error) {
	if bs.closed {
		return errStreamClosed
	}
	ok, err := handshake()
	if err != nil {
		return &coop.ConnectionError{Message: "ssl handshake failed", Cause: err}
	}
	if ok {
		return nil
	}

	t := requireCurrentStream("BufferedStream.EnableSSL")
	w := &streamWaiter{task: t}
	bs.waiter = w

	w.watchID = bs.sched.Reactor().WatchRead(bs, func(reactor.WatchID, reactor.Endpoint) {
		ok, herr := handshake()
		if herr != nil {
			if w.hasTimer {
				bs.sched.Unwatch(w.timerID)
				w.hasTimer = false
			}
			bs.waiter = nil
			t.Throw(&coop.ConnectionError{Message: "ssl handshake failed", Cause: herr})
			return
		}
		if !ok {
			return
		}
		if w.hasTimer {
			bs.sched.Unwatch(w.timerID)
			w.hasTimer = false
		}
		bs.waiter = nil
		t.Resume(nil)
	})

	if timeout > 0 {
		w.hasTimer = true
		w.timerID = bs.sched.Reactor().Timer(timeout, 0, func(reactor.WatchID) {
			w.hasTimer = false
			bs.sched.Unwatch(w.watchID)
			bs.waiter = nil
			t.Throw(errWriteTimeout)
		})
	}

	defer func() {
		bs.waiter = nil
		bs.sched.Unwatch(w.watchID)
		if w.hasTimer {
			bs.sched.Unwatch(w.timerID)
		}
		if r := recover(); r != nil {
			if thrown, ok := coop.RecoverThrow(r); ok {
				err = thrown
				return
			}
			panic(r)
		}
	}()

	coop.Suspend()
	return nil
}

// Close is idempotent: it cancels every watcher, closes the underlying
// endpoint, and throws a "stream closed" error into any task currently
// suspended in flush or EnableSSL.
func (bs *BufferedStream) Close() error {
	if bs.closed {
		return nil
	}
	bs.closed = true
	if w := bs.waiter; w != nil {
		bs.waiter = nil
		bs.sched.Unwatch(w.watchID)
		if w.hasTimer {
			bs.sched.Unwatch(w.timerID)
		}
		w.task.Throw(errStreamClosed)
	}
	return bs.ep.Close()
}
