package netreactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New(withPollTimeoutMillis(20))
	require.NoError(t, err)
	go func() { _ = l.Run() }()
	t.Cleanup(l.Quit)
	return l
}

func TestLoopRunAfterFiresOnce(t *testing.T) {
	l := newTestLoop(t)
	var fired atomic.Int32
	done := make(chan struct{})
	l.RunAfter(10*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, fired.Load())
}

func TestLoopRunEveryRepeatsAndCancels(t *testing.T) {
	l := newTestLoop(t)
	var count atomic.Int32
	var id TimerID
	ready := make(chan struct{})
	l.RunInLoop(func() {
		id = l.RunEvery(5*time.Millisecond, func() {
			count.Add(1)
		})
		close(ready)
	})
	<-ready
	time.Sleep(60 * time.Millisecond)
	l.Cancel(id)
	n := count.Load()
	require.Greater(t, n, int32(1))
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, n, count.Load(), "cancelled repeating timer must not fire again")
}

func TestTimerCancelDuringOwnDispatchSuppressesRepeat(t *testing.T) {
	l := newTestLoop(t)
	var count atomic.Int32
	var id TimerID
	ready := make(chan struct{})
	l.RunInLoop(func() {
		id = l.RunEvery(5*time.Millisecond, func() {
			count.Add(1)
			l.timers.cancel(id)
		})
		close(ready)
	})
	<-ready
	time.Sleep(60 * time.Millisecond)
	require.EqualValues(t, 1, count.Load(), "a repeating timer cancelling itself mid-callback must not resurrect")
}

func TestTimerCancelledByEarlierTimerNeverFires(t *testing.T) {
	l := newTestLoop(t)
	var aFired atomic.Bool
	ready := make(chan struct{})
	l.RunInLoop(func() {
		idA := l.RunAfter(120*time.Millisecond, func() { aFired.Store(true) })
		l.RunAfter(40*time.Millisecond, func() { l.Cancel(idA) })
		// A second cancel after A's original deadline must be a harmless
		// no-op, not an error or a panic.
		l.RunAfter(200*time.Millisecond, func() { l.Cancel(idA) })
		close(ready)
	})
	<-ready

	time.Sleep(300 * time.Millisecond)
	require.False(t, aFired.Load(), "a timer cancelled before its deadline must never fire")
}

func TestTimerIDsAreNeverReused(t *testing.T) {
	l := newTestLoop(t)
	seen := make(map[TimerID]bool)
	for i := 0; i < 100; i++ {
		id := l.RunAfter(time.Hour, func() {})
		require.False(t, seen[id], "timer id reused")
		seen[id] = true
		l.Cancel(id)
	}
}
