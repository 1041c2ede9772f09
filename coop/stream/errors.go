package stream

import (
	"errors"

	"github.com/coopkernel/coop"
)

// errRingOverflow is the ring's own hard-capacity error: growth would
// need to exceed maxRingCapacity (16 MiB). BufferedStream's soft
// write_buffer_max is enforced separately, before ever reaching the ring.
var errRingOverflow = errors.New("stream: ring buffer would exceed maximum capacity")

// errWriteBufferOverflow is returned by write_all/write_async when the
// pending data would exceed the stream's configured write_buffer_max.
var errWriteBufferOverflow = &coop.ConnectionError{Message: "write buffer overflow"}

// errStreamClosed is the terminal error delivered to any suspended
// flusher, and returned by any operation, once Close has run.
var errStreamClosed = &coop.ConnectionError{Message: "stream closed"}

// errWriteTimeout is thrown into a write_all caller when its timeout
// fires before the buffer drains.
var errWriteTimeout = &coop.TimeoutError{Message: "write timeout"}

// errShutdownRead / errShutdownWrite report a read/write attempted after
// that half of the stream was shut down.
var (
	errShutdownRead  = &coop.ConnectionError{Message: "read side shut down"}
	errShutdownWrite = &coop.ConnectionError{Message: "write side shut down"}
)

// ErrWouldBlock is returned by an Endpoint's Read/Write to report that no
// bytes could be transferred right now, without treating that as failure.
var ErrWouldBlock = errors.New("stream: would block")

// requireCurrentStream panics if called outside a running task; every
// suspending BufferedStream operation is only meaningful from within one.
func requireCurrentStream(op string) *coop.Task {
	t := coop.Current()
	if t == nil {
		panic("coop/stream: " + op + " called outside a task")
	}
	return t
}
