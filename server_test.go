package netreactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycove/netreactor/addr"
	"github.com/relaycove/netreactor/internal/testqueue"
)

func TestServerTracksAndRemovesConnections(t *testing.T) {
	serverLoop := newTestLoop(t)

	var srv *Server
	var listenAddr addr.Addr
	ready := make(chan struct{})
	serverLoop.RunInLoop(func() {
		a := addr.New(0, true, addr.FamilyV4)
		var err error
		srv, err = NewServer(serverLoop, a, WithIOThreads(2))
		require.NoError(t, err)
		require.NoError(t, srv.Start())
		require.True(t, srv.acceptor.isListening())
		require.NoError(t, srv.Start(), "Start must be idempotent")
		boundAddr, err := addr.LocalAddr(srv.acceptor.listenFD)
		require.NoError(t, err)
		listenAddr = boundAddr
		close(ready)
	})
	<-ready

	clientLoop := newTestLoop(t)
	connected := make(chan *Client, 1)
	clientLoop.RunInLoop(func() {
		c := NewClient(clientLoop, listenAddr)
		c.Connect()
		connected <- c
	})
	client := <-connected

	require.Eventually(t, func() bool {
		return len(srv.Connections()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	client.Close()

	require.Eventually(t, func() bool {
		return len(srv.Connections()) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLoopPoolRunsCallbacksOnDistinctGoroutines(t *testing.T) {
	baseLoop := newTestLoop(t)
	q := testqueue.New[*Loop](8)

	started := make(chan struct{})
	baseLoop.RunInLoop(func() {
		pool := newLoopPool(baseLoop)
		require.NoError(t, pool.start(2, nil))
		t.Cleanup(pool.stop)
		for i := 0; i < 4; i++ {
			l := pool.getNextLoop()
			l.RunInLoop(func() { q.Push(l) })
		}
		close(started)
	})
	<-started

	seen := make(map[*Loop]int)
	for i := 0; i < 4; i++ {
		seen[q.Pop()]++
	}
	require.Len(t, seen, 2, "round robin over 2 loops must use both")
	for _, n := range seen {
		require.Equal(t, 2, n)
	}
}

func TestLoopPoolRoundRobinsAcrossThreads(t *testing.T) {
	baseLoop := newTestLoop(t)

	done := make(chan struct{})
	baseLoop.RunInLoop(func() {
		pool := newLoopPool(baseLoop)
		require.NoError(t, pool.start(3, nil))
		t.Cleanup(pool.stop)

		first := pool.getNextLoop()
		second := pool.getNextLoop()
		third := pool.getNextLoop()
		fourth := pool.getNextLoop()

		require.NotSame(t, first, second)
		require.NotSame(t, second, third)
		require.Same(t, first, fourth, "round robin must cycle back after N gets")

		require.Same(t, pool.getLoopForHash(0), pool.getLoopForHash(3),
			"hash distribution must be deterministic modulo pool size")
		require.NotSame(t, pool.getLoopForHash(0), pool.getLoopForHash(1))
		close(done)
	})
	<-done
}
