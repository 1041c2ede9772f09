package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"syscall"

	"github.com/coopkernel/coop"
	"github.com/coopkernel/coop/reactor"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// netEndpoint adapts a net.Conn exposing a raw file descriptor (TCP or
// unix-domain) to the non-blocking Endpoint contract, via one raw
// syscall attempt per Read/Write routed through SyscallConn - the
// standard way to perform a single non-blocking attempt on a conn the Go
// runtime's own netpoller also manages, without racing it.
type netEndpoint struct {
	conn net.Conn
	raw  syscall.RawConn
	fd   int
}

func newNetEndpoint(conn net.Conn) (*netEndpoint, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("coop/stream: %T does not expose a raw fd", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	ne := &netEndpoint{conn: conn, raw: raw}
	if err := raw.Control(func(fd uintptr) { ne.fd = int(fd) }); err != nil {
		return nil, err
	}
	return ne, nil
}

func (e *netEndpoint) Fd() int { return e.fd }

func (e *netEndpoint) Read(p []byte) (n int, err error) {
	cerr := e.raw.Read(func(fd uintptr) bool {
		n, err = syscall.Read(int(fd), p)
		return true // single attempt; don't let RawConn wait on readiness itself
	})
	if cerr != nil {
		return 0, cerr
	}
	if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
		return 0, ErrWouldBlock
	}
	return n, err
}

func (e *netEndpoint) Write(p []byte) (n int, err error) {
	cerr := e.raw.Write(func(fd uintptr) bool {
		n, err = syscall.Write(int(fd), p)
		return true
	})
	if cerr != nil {
		return 0, cerr
	}
	if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
		return 0, ErrWouldBlock
	}
	return n, err
}

func (e *netEndpoint) CloseRead() error {
	if cr, ok := e.conn.(interface{ CloseRead() error }); ok {
		return cr.CloseRead()
	}
	return nil
}

func (e *netEndpoint) CloseWrite() error {
	if cw, ok := e.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (e *netEndpoint) Close() error { return e.conn.Close() }

// listenerEndpoint is the same raw-fd adapter for a *net.TCPListener, so
// the accept loop can be driven by Reactor.WatchRead the same way a
// stream's read side is.
type listenerEndpoint struct {
	ln *net.TCPListener
	fd int
}

func newListenerEndpoint(ln *net.TCPListener) (*listenerEndpoint, error) {
	sc, err := ln.SyscallConn()
	if err != nil {
		return nil, err
	}
	le := &listenerEndpoint{ln: ln}
	if err := sc.Control(func(fd uintptr) { le.fd = int(fd) }); err != nil {
		return nil, err
	}
	return le, nil
}

func (e *listenerEndpoint) Fd() int { return e.fd }

// blockingReader adapts a BufferedStream's non-blocking Read to the
// io.Reader contract http.ReadRequest needs, by suspending on
// WaitReadable between attempts - the "task that wants to block
// registers its own watcher" case spec.md §4.4 calls out explicitly.
type blockingReader struct{ bs *BufferedStream }

func (r *blockingReader) Read(p []byte) (int, error) {
	for {
		data, err := r.bs.Read(len(p))
		if err != nil {
			return 0, err
		}
		if len(data) > 0 {
			return copy(p, data), nil
		}
		if err := r.bs.WaitReadable(); err != nil {
			return 0, err
		}
	}
}

// responseWriter is a minimal http.ResponseWriter that buffers the whole
// response in memory and, via Hijack, hands gorilla/websocket the raw
// net.Conn directly for the lifetime of a WebSocket session.
type responseWriter struct {
	conn       net.Conn
	header     http.Header
	statusCode int
	body       bytes.Buffer
	wroteHead  bool
}

func newResponseWriter(conn net.Conn) *responseWriter {
	return &responseWriter{conn: conn, header: make(http.Header), statusCode: http.StatusOK}
}

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) Write(p []byte) (int, error) {
	w.wroteHead = true
	return w.body.Write(p)
}

func (w *responseWriter) WriteHeader(code int) {
	w.wroteHead = true
	w.statusCode = code
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	br := bufio.NewReader(w.conn)
	bw := bufio.NewWriter(w.conn)
	return w.conn, bufio.NewReadWriter(br, bw), nil
}

// bytes serializes the buffered status line, headers, and body as a
// wire-format HTTP/1.1 response.
func (w *responseWriter) bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", w.statusCode, http.StatusText(w.statusCode))
	if w.header.Get("Content-Length") == "" {
		w.header.Set("Content-Length", strconv.Itoa(w.body.Len()))
	}
	w.header.Set("Connection", "close")
	w.header.Write(&b)
	b.WriteString("\r\n")
	b.Write(w.body.Bytes())
	return b.Bytes()
}

// Server is a minimal HTTP surface riding on BufferedStream and a Pool of
// worker tasks - the out-of-scope plumbing spec.md §1 describes only by
// the Stream/Reactor interface it consumes. It serves one request per
// connection (no keep-alive, no chunked transfer) and upgrades
// WebSocket-eligible requests to gorilla/websocket, which then owns the
// raw connection's I/O directly rather than riding the cooperative
// non-blocking path - a deliberate simplification, since driving a
// third-party blocking WS library cooperatively is outside this surface's
// purpose of exercising the stream/reactor contract.
type Server struct {
	sched     *coop.Scheduler
	router    *mux.Router
	pool      *Pool
	wsHandler func(*websocket.Conn)
}

// NewServer builds a Server backed by a Pool of poolSize worker tasks,
// each handling one accepted connection end-to-end.
func NewServer(sched *coop.Scheduler, router *mux.Router, poolSize int) *Server {
	s := &Server{sched: sched, router: router}
	s.pool = NewPool(sched, poolSize, func(job any) error {
		return s.handleConn(job.(net.Conn))
	})
	return s
}

// OnWebSocket registers the handler invoked for any request that
// upgrades to a WebSocket connection. Without one, such requests are
// routed through the ordinary router like any other request.
func (s *Server) OnWebSocket(handler func(*websocket.Conn)) { s.wsHandler = handler }

// Serve accepts connections from ln until the calling task is terminated
// or thrown into, submitting each to the worker pool.
func (s *Server) Serve(ln *net.TCPListener) (err error) {
	le, err := newListenerEndpoint(ln)
	if err != nil {
		return err
	}
	t := requireCurrentStream("Server.Serve")

	watchID := s.sched.Reactor().WatchRead(le, func(reactor.WatchID, reactor.Endpoint) {
		// One Accept per readiness event: the listener is in blocking mode,
		// so a second Accept with no connection pending would stall the tick.
		conn, aerr := ln.Accept()
		if aerr != nil {
			return
		}
		c := conn
		s.sched.Go(func(args ...any) (any, error) { return nil, s.pool.Submit(c) })
	})
	defer s.sched.Unwatch(watchID)

	defer func() {
		if r := recover(); r != nil {
			if thrown, ok := coop.RecoverThrow(r); ok {
				err = thrown
				return
			}
			panic(r)
		}
	}()
	coop.Suspend()
	return err
}

func (s *Server) handleConn(conn net.Conn) error {
	defer conn.Close()

	ep, err := newNetEndpoint(conn)
	if err != nil {
		return err
	}
	bs := New(s.sched, ep)
	defer bs.Close()

	req, err := http.ReadRequest(bufio.NewReader(&blockingReader{bs: bs}))
	if err != nil {
		return &coop.ConnectionError{Message: "read request", Cause: err}
	}

	rw := newResponseWriter(conn)
	if s.wsHandler != nil && websocket.IsWebSocketUpgrade(req) {
		upgrader := websocket.Upgrader{}
		wsConn, err := upgrader.Upgrade(rw, req, nil)
		if err != nil {
			return &coop.ConnectionError{Message: "websocket upgrade failed", Cause: err}
		}
		defer wsConn.Close()
		s.wsHandler(wsConn)
		return nil
	}

	s.router.ServeHTTP(rw, req)
	_, err = bs.WriteAll(rw.bytes(), 0)
	return err
}
