package stream

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/coopkernel/coop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketEndpoint adapts one end of a unix domain socketpair to the
// Endpoint contract via raw non-blocking syscalls, so tests can drive a
// BufferedStream against a real, reactor-pollable descriptor instead of
// an in-memory fake. Ground: eventloop's testCreateIOFD pipe-fd test
// helper, adapted from a unidirectional pipe to a full-duplex socketpair
// since a single Endpoint must support both Read and Write on one fd.
type socketEndpoint struct{ fd int }

func (s *socketEndpoint) Fd() int { return s.fd }

func (s *socketEndpoint) Read(p []byte) (int, error) {
	n, err := syscall.Read(s.fd, p)
	if errors.Is(err, syscall.EAGAIN) {
		return 0, ErrWouldBlock
	}
	return n, err
}

func (s *socketEndpoint) Write(p []byte) (int, error) {
	n, err := syscall.Write(s.fd, p)
	if errors.Is(err, syscall.EAGAIN) {
		return 0, ErrWouldBlock
	}
	return n, err
}

func (s *socketEndpoint) CloseRead() error  { return syscall.Shutdown(s.fd, syscall.SHUT_RD) }
func (s *socketEndpoint) CloseWrite() error { return syscall.Shutdown(s.fd, syscall.SHUT_WR) }
func (s *socketEndpoint) Close() error      { return syscall.Close(s.fd) }

// newSocketPair returns a socketEndpoint for one end of a unix socketpair
// and the raw fd of the other ("peer"), which the test manipulates
// directly to force readiness/backpressure.
func newSocketPair(t *testing.T, sndbuf int) (local *socketEndpoint, peer int) {
	t.Helper()
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, syscall.SetNonblock(fds[0], true))
	require.NoError(t, syscall.SetNonblock(fds[1], true))
	if sndbuf > 0 {
		require.NoError(t, syscall.SetsockoptInt(fds[0], syscall.SOL_SOCKET, syscall.SO_SNDBUF, sndbuf))
	}
	t.Cleanup(func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	})
	return &socketEndpoint{fd: fds[0]}, fds[1]
}

func drainPeer(t *testing.T, peer int, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	total := 0
	deadline := time.Now().Add(2 * time.Second)
	for total < n && time.Now().Before(deadline) {
		k, err := syscall.Read(peer, buf[total:])
		if errors.Is(err, syscall.EAGAIN) {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		total += k
	}
	require.Equal(t, n, total)
	return buf
}

func TestBufferedStream_WriteAllDirectSuccess(t *testing.T) {
	sched := coop.NewScheduler()
	ep, peer := newSocketPair(t, 0)
	bs := New(sched, ep)

	var n int
	var err error
	sched.Go(func(args ...any) (any, error) {
		n, err = bs.WriteAll([]byte("hello"), 0)
		return nil, nil
	})
	sched.Run()

	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), drainPeer(t, peer, 5))
}

func TestBufferedStream_WriteAllBuffersAndFlushesViaReactor(t *testing.T) {
	sched := coop.NewScheduler()
	ep, peer := newSocketPair(t, 4096) // small kernel send buffer, to force backpressure
	bs := New(sched, ep, WithWriteChunkSize(8192))

	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	var n int
	var err error
	done := make(chan struct{})
	sched.Go(func(args ...any) (any, error) {
		n, err = bs.WriteAll(payload, 5*time.Second)
		close(done)
		return nil, nil
	})

	go func() {
		// Drain the peer concurrently with the driver goroutine's Drive loop,
		// since the payload vastly exceeds the shrunk send buffer.
		buf := drainPeer(t, peer, len(payload))
		_ = buf
	}()

	driveUntil(t, sched, done)

	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
}

// driveUntil runs sched.Tick in a loop until signal fires or a generous
// deadline elapses, failing the test on timeout.
func driveUntil(t *testing.T, sched *coop.Scheduler, signal <-chan struct{}) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		select {
		case <-signal:
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("driveUntil: timed out")
		}
		sched.Tick()
	}
}

func TestBufferedStream_WriteAsyncThenFlushOnce(t *testing.T) {
	sched := coop.NewScheduler()
	ep, peer := newSocketPair(t, 0)
	bs := New(sched, ep)

	sched.Go(func(args ...any) (any, error) {
		n, err := bs.WriteAsync([]byte("async"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		require.NoError(t, bs.FlushOnce())
		return nil, nil
	})
	sched.Run()

	assert.Equal(t, []byte("async"), drainPeer(t, peer, 5))
}

// alwaysBlockingEndpoint never transfers a byte, so every write the
// caller attempts lands entirely in the ring buffer - the only way to
// exercise write_buffer_max deterministically without racing a real
// kernel socket buffer's actual size.
type alwaysBlockingEndpoint struct{ fd int }

func (e *alwaysBlockingEndpoint) Fd() int                    { return e.fd }
func (e *alwaysBlockingEndpoint) Read([]byte) (int, error)   { return 0, ErrWouldBlock }
func (e *alwaysBlockingEndpoint) Write([]byte) (int, error)  { return 0, ErrWouldBlock }
func (e *alwaysBlockingEndpoint) CloseRead() error           { return nil }
func (e *alwaysBlockingEndpoint) CloseWrite() error          { return nil }
func (e *alwaysBlockingEndpoint) Close() error               { return nil }

func TestBufferedStream_WriteAllOverflowsBufferMax(t *testing.T) {
	sched := coop.NewScheduler()
	bs := New(sched, &alwaysBlockingEndpoint{fd: -1}, WithWriteBufferMax(16))

	var err error
	sched.Go(func(args ...any) (any, error) {
		_, err = bs.WriteAsync(make([]byte, 17))
		return nil, nil
	})
	sched.Run()

	assert.ErrorIs(t, err, errWriteBufferOverflow)
}

func TestBufferedStream_ReadNonBlocking(t *testing.T) {
	sched := coop.NewScheduler()
	ep, peer := newSocketPair(t, 0)
	bs := New(sched, ep)

	_, err := syscall.Write(peer, []byte("hi"))
	require.NoError(t, err)

	var data []byte
	var rerr error
	sched.Go(func(args ...any) (any, error) {
		data, rerr = bs.Read(8)
		return nil, nil
	})
	sched.Run()

	require.NoError(t, rerr)
	assert.Equal(t, []byte("hi"), data)
}

func TestBufferedStream_ReadWouldBlockReturnsNilNil(t *testing.T) {
	sched := coop.NewScheduler()
	ep, _ := newSocketPair(t, 0)
	bs := New(sched, ep)

	var data []byte
	var rerr error
	sched.Go(func(args ...any) (any, error) {
		data, rerr = bs.Read(8)
		return nil, nil
	})
	sched.Run()

	assert.NoError(t, rerr)
	assert.Nil(t, data)
}

func TestBufferedStream_ShutdownWriteIsIdempotent(t *testing.T) {
	sched := coop.NewScheduler()
	ep, _ := newSocketPair(t, 0)
	bs := New(sched, ep)

	require.NoError(t, bs.Shutdown(ShutdownWrite))
	require.NoError(t, bs.Shutdown(ShutdownWrite))

	_, err := bs.WriteAsync([]byte("x"))
	assert.ErrorIs(t, err, errShutdownWrite)
}

func TestBufferedStream_CloseInterruptsSuspendedFlush(t *testing.T) {
	sched := coop.NewScheduler()
	ep, _ := newSocketPair(t, 1024) // small buffer, never drained by any peer read
	bs := New(sched, ep)

	var err error
	done := make(chan struct{})
	sched.Go(func(args ...any) (any, error) {
		_, err = bs.WriteAll(make([]byte, 1<<20), 0)
		close(done)
		return nil, nil
	})

	// Run the writer until it buffers and suspends in flush, then close
	// the stream out from under it.
	sched.Run()
	bs.Close()
	driveUntil(t, sched, done)

	assert.ErrorIs(t, err, errStreamClosed)
}

func TestBufferedStream_CloseIsIdempotent(t *testing.T) {
	sched := coop.NewScheduler()
	ep, _ := newSocketPair(t, 0)
	bs := New(sched, ep)

	require.NoError(t, bs.Close())
	require.NoError(t, bs.Close())
}
