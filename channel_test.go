package netreactor

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/require"
)

func TestChannelDispatchOrderErrorFallsThroughToRead(t *testing.T) {
	l := newTestLoop(t)
	var order []string
	ch := &Channel{owner: l, state: regUnadded}
	ch.errorFn = func() { order = append(order, "error") }
	ch.readFn = func(time.Time) { order = append(order, "read") }
	ch.setRevents(unix.EPOLLERR | unix.EPOLLIN)

	done := make(chan struct{})
	l.RunInLoop(func() {
		ch.handleEventWithGuard(time.Now())
		close(done)
	})
	<-done
	require.Equal(t, []string{"error", "read"}, order, "error callback must not suppress a simultaneous read")
}

func TestChannelHangupWithoutReadableClosesOnly(t *testing.T) {
	l := newTestLoop(t)
	var closed, read atomic.Bool
	ch := &Channel{owner: l, state: regUnadded}
	ch.closeFn = func() { closed.Store(true) }
	ch.readFn = func(time.Time) { read.Store(true) }
	ch.setRevents(unix.EPOLLHUP)

	done := make(chan struct{})
	l.RunInLoop(func() {
		ch.handleEventWithGuard(time.Now())
		close(done)
	})
	<-done
	require.True(t, closed.Load())
	require.False(t, read.Load())
}

func TestChannelTiedDropsEventAfterTetherDies(t *testing.T) {
	l := newTestLoop(t)
	conn := &Connection{}
	ch := &Channel{owner: l, state: regUnadded}
	ch.Tie(conn)
	var dispatched atomic.Bool
	ch.readFn = func(time.Time) { dispatched.Store(true) }
	ch.setRevents(unix.EPOLLIN)

	conn = nil
	runtime.GC()
	runtime.GC()

	done := make(chan struct{})
	l.RunInLoop(func() {
		ch.HandleEvent(time.Now())
		close(done)
	})
	<-done
	require.False(t, dispatched.Load(), "a dead tether must drop the dispatch silently")
}
