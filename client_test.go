package netreactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycove/netreactor/addr"
)

func TestClientRetryReconnectsAfterServerDrop(t *testing.T) {
	serverLoop := newTestLoop(t)

	var srv *Server
	var listenAddr addr.Addr
	ready := make(chan struct{})
	serverLoop.RunInLoop(func() {
		a := addr.New(0, true, addr.FamilyV4)
		var err error
		srv, err = NewServer(serverLoop, a, WithIOThreads(0))
		require.NoError(t, err)
		require.NoError(t, srv.Start())
		boundAddr, err := addr.LocalAddr(srv.acceptor.listenFD)
		require.NoError(t, err)
		listenAddr = boundAddr
		close(ready)
	})
	<-ready

	clientLoop := newTestLoop(t)
	var connectCount atomic.Int32
	clientLoop.RunInLoop(func() {
		client := NewClient(clientLoop, listenAddr,
			WithClientConnectionHandler(func(c *Connection) {
				if c.IsConnected() {
					connectCount.Add(1)
				}
			}),
		)
		client.EnableRetry()
		client.Connect()
	})

	require.Eventually(t, func() bool { return connectCount.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)

	// Force-close every server-side connection so the client observes an
	// unexpected disconnect and, with retry enabled, reconnects.
	serverLoop.RunInLoop(func() {
		for _, c := range srv.Connections() {
			c.Loop().RunInLoop(c.ForceClose)
		}
	})

	require.Eventually(t, func() bool { return connectCount.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
}
