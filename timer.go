package netreactor

import (
	"container/heap"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// TimerID identifies a scheduled timer. It holds a sequence number,
// monotonically assigned and never reused within a process's lifetime, so a
// stale id can never cancel a slot some later, unrelated timer now occupies.
type TimerID struct {
	seq uint64
}

// timerEntry is one pending timer: expiration, repeat
// interval (0 means one-shot), sequence number, and callback.
type timerEntry struct {
	when      time.Time
	interval  time.Duration
	seq       uint64
	fn        func()
	heapIndex int
}

// timerMinHeap orders entries by expiration, breaking ties by sequence so
// same-instant timers fire in scheduling order.
type timerMinHeap []*timerEntry

func (h timerMinHeap) Len() int { return len(h) }
func (h timerMinHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerMinHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *timerMinHeap) Push(x any) {
	e := x.(*timerEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *timerMinHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// minTimerDuration is the floor on timerfd arming: a timer
// scheduled for a time already past still makes forward progress, firing at
// the next loop turn rather than spinning or being starved.
const minTimerDuration = 100 * time.Microsecond

// timerQueue is one loop's ordered set of pending timers, backed by a
// single timerfd kept armed for the earliest pending deadline. All
// methods besides construction and newEntry must run on the owning
// loop's goroutine; callers marshal through Loop.RunAt/RunAfter/RunEvery/
// Cancel.
type timerQueue struct {
	loop    *Loop
	fd      int
	channel *Channel

	heap    timerMinHeap
	byID    map[uint64]*timerEntry
	nextSeq atomic.Uint64

	// runningExpired and cancelledDuringDispatch close the cancel/fire
	// race: a repeating timer's own callback (or another
	// callback in the same batch) cancelling it must not have that
	// cancellation lost, nor must it resurrect on the next repeat.
	runningExpired          bool
	cancelledDuringDispatch map[uint64]struct{}
}

func newTimerQueue(loop *Loop) (*timerQueue, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	tq := &timerQueue{
		loop:                    loop,
		fd:                      fd,
		byID:                    make(map[uint64]*timerEntry),
		cancelledDuringDispatch: make(map[uint64]struct{}),
	}
	tq.channel = NewChannel(loop, fd)
	tq.channel.SetReadFunc(func(time.Time) { tq.handleRead() })
	return tq, nil
}

// start registers the timerfd with the poller. Deferred until the loop is
// bound to its goroutine: channel registration asserts loop affinity, and
// a Loop may be constructed on a different goroutine than the one that
// ends up driving it.
func (tq *timerQueue) start() {
	tq.channel.EnableReading()
}

func (tq *timerQueue) close() {
	tq.channel.DisableAll()
	tq.channel.Remove()
	_ = unix.Close(tq.fd)
}

// newEntry allocates a timer entry with a freshly assigned, globally unique
// sequence number. It is safe to call from any goroutine — only the
// subsequent insert must run on the loop goroutine — which is what lets
// Loop.RunAt etc. return a usable TimerID synchronously even though the
// entry isn't actually linked into the heap until the marshaled insert runs.
func (tq *timerQueue) newEntry(fn func(), when time.Time, interval time.Duration) *timerEntry {
	return &timerEntry{when: when, interval: interval, seq: tq.nextSeq.Add(1), fn: fn, heapIndex: -1}
}

// insert links a timer entry into both indexes and, if it becomes the
// earliest pending deadline, rearms the timerfd. Must run on the loop
// goroutine.
func (tq *timerQueue) insert(e *timerEntry) {
	tq.loop.affinity.assert("timerQueue.insert")
	tq.byID[e.seq] = e
	heap.Push(&tq.heap, e)
	if tq.heap[0] == e {
		tq.rearm(e.when)
	}
}

// cancel removes id if still pending, or — if its callback is mid-dispatch
// in the current batch — records it so the repeat-rescheduling step doesn't
// resurrect it.
func (tq *timerQueue) cancel(id TimerID) {
	tq.loop.affinity.assert("timerQueue.cancel")
	if e, ok := tq.byID[id.seq]; ok {
		delete(tq.byID, id.seq)
		if e.heapIndex >= 0 {
			heap.Remove(&tq.heap, e.heapIndex)
		}
		return
	}
	if tq.runningExpired {
		tq.cancelledDuringDispatch[id.seq] = struct{}{}
	}
}

func (tq *timerQueue) rearm(when time.Time) {
	d := time.Until(when)
	if d < minTimerDuration {
		d = minTimerDuration
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	_ = unix.TimerfdSettime(tq.fd, 0, &spec, nil)
}

// handleRead drains the timerfd, then fires every timer whose deadline has
// passed, in expiration order, rescheduling repeats and rearming for the
// next deadline.
func (tq *timerQueue) handleRead() {
	drainTimerFD(tq.fd)

	now := time.Now()
	var expired []*timerEntry
	for len(tq.heap) > 0 && !tq.heap[0].when.After(now) {
		e := heap.Pop(&tq.heap).(*timerEntry)
		// Erase from both indexes before any callback runs: this is what
		// makes a cancel arriving mid-dispatch (the
		// timer cancelling itself, or a sibling callback in the same batch
		// cancelling it) miss byID and fall through to the
		// cancelledDuringDispatch branch instead of being silently
		// re-found-and-removed, which would leave the repeat-reschedule
		// loop below none the wiser and resurrect it for one more fire.
		delete(tq.byID, e.seq)
		expired = append(expired, e)
	}
	clear(tq.cancelledDuringDispatch)
	tq.runningExpired = true

	for _, e := range expired {
		e.fn()
	}

	tq.runningExpired = false
	for _, e := range expired {
		_, cancelled := tq.cancelledDuringDispatch[e.seq]
		if e.interval > 0 && !cancelled {
			e.when = now.Add(e.interval)
			heap.Push(&tq.heap, e)
			tq.byID[e.seq] = e
		}
	}
	clear(tq.cancelledDuringDispatch)

	if len(tq.heap) > 0 {
		tq.rearm(tq.heap[0].when)
	}
}

func drainTimerFD(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}
