package netreactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycove/netreactor/addr"
	"github.com/relaycove/netreactor/buffer"
)

// TestEchoRoundTrip: a server echoes back whatever a client sends, byte
// for byte.
func TestEchoRoundTrip(t *testing.T) {
	serverLoop := newTestLoop(t)

	var listenAddr addr.Addr
	var srv *Server
	ready := make(chan struct{})
	serverLoop.RunInLoop(func() {
		a := addr.New(0, true, addr.FamilyV4)
		var err error
		srv, err = NewServer(serverLoop, a,
			WithIOThreads(0),
			WithMessageHandler(func(c *Connection, buf *buffer.Buffer, _ time.Time) {
				c.SendString(buf.PopAll())
			}),
		)
		require.NoError(t, err)
		require.NoError(t, srv.Start())

		boundAddr, err := addr.LocalAddr(srv.acceptor.listenFD)
		require.NoError(t, err)
		listenAddr = boundAddr.WithScopeID(0)
		close(ready)
	})
	<-ready

	clientLoop := newTestLoop(t)

	var mu sync.Mutex
	var received string
	got := make(chan struct{})

	var client *Client
	clientReady := make(chan struct{})
	clientLoop.RunInLoop(func() {
		client = NewClient(clientLoop, listenAddr,
			WithClientConnectionHandler(func(c *Connection) {
				if c.IsConnected() {
					c.SendString("hello\n")
				}
			}),
			WithClientMessageHandler(func(c *Connection, buf *buffer.Buffer, _ time.Time) {
				mu.Lock()
				received = buf.PopAll()
				mu.Unlock()
				close(got)
			}),
		)
		client.Connect()
		close(clientReady)
	})
	<-clientReady

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("echo round trip never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello\n", received)
}

// TestHighWaterMarkFiresExactlyOnce: the
// high-water-mark callback must fire exactly once, on the write that first
// carries cumulative pending output past the threshold.
func TestHighWaterMarkFiresExactlyOnce(t *testing.T) {
	serverLoop := newTestLoop(t)

	const threshold = 64 * 1024
	var hwmCount atomic.Int32

	var listenAddr addr.Addr
	ready := make(chan struct{})
	serverLoop.RunInLoop(func() {
		a := addr.New(0, true, addr.FamilyV4)
		// The server never reads, so the client's pending output backs up.
		srv, err := NewServer(serverLoop, a,
			WithIOThreads(0),
			WithConnectionHandler(func(c *Connection) {
				if c.IsConnected() {
					c.StopRead()
				}
			}),
		)
		require.NoError(t, err)
		require.NoError(t, srv.Start())
		boundAddr, err := addr.LocalAddr(srv.acceptor.listenFD)
		require.NoError(t, err)
		listenAddr = boundAddr
		close(ready)
	})
	<-ready

	clientLoop := newTestLoop(t)
	connected := make(chan *Connection, 1)
	clientLoop.RunInLoop(func() {
		client := NewClient(clientLoop, listenAddr,
			WithClientConnectionHandler(func(c *Connection) {
				if c.IsConnected() {
					connected <- c
				}
			}),
			WithClientHighWaterMark(threshold, func(*Connection, int) {
				hwmCount.Add(1)
			}),
		)
		client.Connect()
	})

	var conn *Connection
	select {
	case conn = <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
	}

	// Each chunk is larger than the loopback socket buffers can absorb, so
	// the first one already leaves more than the threshold queued.
	chunk := make([]byte, 8<<20)
	conn.Send(chunk)
	conn.Send(chunk)

	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 1, hwmCount.Load())
}
