package stream

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/coopkernel/coop"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_RoutesRequestThroughMux(t *testing.T) {
	sched := coop.NewScheduler()
	router := mux.NewRouter()
	router.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hi there"))
	})

	srv := NewServer(sched, router, 2)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tcpLn := ln.(*net.TCPListener)
	addr := tcpLn.Addr().String()

	done := make(chan struct{})
	sched.Go(func(args ...any) (any, error) {
		defer close(done)
		return nil, srv.Serve(tcpLn)
	})

	// Drive the scheduler continuously in the background: accepting the
	// connection, parsing the request, and writing the response all
	// happen inside tasks dispatched from reactor ticks, concurrently
	// with this goroutine's ordinary blocking client-side socket calls.
	stop := make(chan struct{})
	driveDone := make(chan struct{})
	go func() {
		defer close(driveDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			sched.Tick()
			time.Sleep(time.Millisecond)
		}
	}()
	defer func() {
		close(stop)
		<-driveDone
	}()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: test\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := make([]byte, len("hi there"))
	_, err = io.ReadFull(resp.Body, body)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(body))
}
