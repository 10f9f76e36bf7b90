package netreactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueInLoopFromDrainedClosureRunsWithoutRepoll(t *testing.T) {
	// A long poll timeout makes the failure mode visible: if the nested
	// closure had to wait for the next poll to time out, the test would
	// miss the deadline below.
	l, err := New(withPollTimeoutMillis(5000))
	require.NoError(t, err)
	go func() { _ = l.Run() }()
	t.Cleanup(l.Quit)

	done := make(chan struct{})
	l.QueueInLoop(func() {
		l.QueueInLoop(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("closure queued from within a drained closure waited for the poll timeout")
	}
}

func TestRunInLoopFromOwnerRunsInline(t *testing.T) {
	l := newTestLoop(t)
	var inline atomic.Bool
	done := make(chan struct{})
	l.RunInLoop(func() {
		ran := false
		l.RunInLoop(func() { ran = true })
		inline.Store(ran)
		close(done)
	})
	<-done
	require.True(t, inline.Load(), "RunInLoop from the owning goroutine must invoke directly, not defer")
}

func TestRunPanicsWhenGoroutineAlreadyDrivesALoop(t *testing.T) {
	l := newTestLoop(t)
	l2, err := New(withPollTimeoutMillis(20))
	require.NoError(t, err)

	done := make(chan struct{})
	l.RunInLoop(func() {
		defer close(done)
		require.Panics(t, func() { _ = l2.Run() })
	})
	<-done
}

func TestQuitUnblocksIdleLoop(t *testing.T) {
	l, err := New(withPollTimeoutMillis(10_000))
	require.NoError(t, err)
	go func() { _ = l.Run() }()
	time.Sleep(20 * time.Millisecond)

	l.Quit()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Quit did not wake a loop blocked in poll")
	}
}
