package netreactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Task is a closure marshalled across goroutines onto a Loop.
type Task func()

// Loop is a thread-affine reactor: it drives an epoll poller, a timerfd
// timer queue, an eventfd-based wakeup channel, and a mutex-protected queue
// of cross-thread closures. At most one Loop may be driven
// per goroutine; Run asserts this.
type Loop struct {
	_ [0]func() // not copyable

	affinity affinity

	poller *poller
	timers *timerQueue

	wakeFD      int
	wakeChannel *Channel

	state *atomicLoopState
	quit  atomic.Bool

	mu           sync.Mutex
	pending      []Task
	pendingSpare []Task
	draining     atomic.Bool

	activeChannels       []*Channel
	currentActiveChannel *Channel
	handlingEvents       bool
	iteration            uint64

	cfg    *loopConfig
	logger Logger

	doneCh chan struct{}
}

// loopsByGoroutine tracks which goroutine is driving which Loop. A
// goroutine may drive at most one loop at a time; Run enforces this.
var loopsByGoroutine sync.Map // goroutine id -> *Loop

// New creates a Loop. Its resources (epoll fd, timerfd, eventfd) are
// allocated here but the loop does not start running until Run is called.
func New(opts ...LoopOption) (*Loop, error) {
	cfg := resolveLoopConfig(opts)

	p, err := newPoller()
	if err != nil {
		return nil, err
	}

	wakeFD, err := createWakeFD()
	if err != nil {
		_ = p.close()
		return nil, err
	}

	l := &Loop{
		poller: p,
		state:  newAtomicLoopState(),
		wakeFD: wakeFD,
		cfg:    cfg,
		logger: cfg.logger,
		doneCh: make(chan struct{}),
	}

	l.wakeChannel = NewChannel(l, wakeFD)
	l.wakeChannel.SetReadFunc(func(time.Time) { drainWakeFD(l.wakeFD) })

	timers, err := newTimerQueue(l)
	if err != nil {
		_ = closeWakeFD(wakeFD)
		_ = p.close()
		return nil, err
	}
	l.timers = timers

	return l, nil
}

// Logger returns the logger this loop logs through.
func (l *Loop) Logger() Logger { return l.logger }

// IsInLoopThread reports whether the calling goroutine is this loop's owner.
func (l *Loop) IsInLoopThread() bool { return l.affinity.onOwner() }

// AssertInLoopThread panics if the calling goroutine is not this loop's
// owner. Wrong-thread access is a bug, not a runtime condition.
func (l *Loop) AssertInLoopThread() { l.affinity.assert("operation") }

// Run binds the calling goroutine as the loop's owner and drives ticks
// until Quit is called. At most one Loop may be run per goroutine; running
// a second Loop.Run on the same goroutine, or calling Run reentrantly from
// within the loop, is a programmer error and panics.
func (l *Loop) Run() error {
	if l.affinity.onOwner() {
		panic("netreactor: Run called reentrantly from within the loop")
	}
	if _, loaded := loopsByGoroutine.LoadOrStore(getGoroutineID(), l); loaded {
		panic("netreactor: another loop is already running on this goroutine")
	}
	if !l.state.CAS(loopAwake, loopRunning) {
		loopsByGoroutine.Delete(getGoroutineID())
		if l.state.Load() == loopTerminated {
			return ErrLoopClosed
		}
		return ErrAlreadyRunning
	}
	l.affinity.bind()

	l.wakeChannel.EnableReading()
	l.timers.start()

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		now := l.poller.poll(l.cfg.pollTimeout, l.logger, &l.activeChannels)
		l.iteration++
		l.handlingEvents = true
		for _, ch := range l.activeChannels {
			l.currentActiveChannel = ch
			ch.HandleEvent(now)
		}
		l.currentActiveChannel = nil
		l.handlingEvents = false
		l.drainPending()
	}

	l.teardown()
	return nil
}

// teardown releases loop-owned resources: a channel has its interest
// disabled and is removed from the poller before its fd is closed.
func (l *Loop) teardown() {
	l.timers.close()
	l.wakeChannel.DisableAll()
	l.wakeChannel.Remove()
	_ = closeWakeFD(l.wakeFD)
	_ = l.poller.close()
	l.state.Store(loopTerminated)
	loopsByGoroutine.Delete(l.affinity.owner.Load())
	l.affinity.unbind()
	close(l.doneCh)
}

// Done returns a channel closed once Run has fully returned.
func (l *Loop) Done() <-chan struct{} { return l.doneCh }

// Iteration returns the number of poll ticks completed so far. Only
// meaningful from the owning goroutine; useful in logs and tests.
func (l *Loop) Iteration() uint64 { return l.iteration }

// Quit requests loop termination. Safe from any goroutine, including after
// the loop has already stopped.
func (l *Loop) Quit() {
	l.quit.Store(true)
	if l.state.Load() == loopTerminated {
		return
	}
	if !l.affinity.onOwner() {
		l.Wakeup()
	}
}

// Wakeup writes to the loop's eventfd, waking it if it is blocked in
// epoll_wait.
func (l *Loop) Wakeup() {
	if err := writeWakeFD(l.wakeFD); err != nil {
		l.logger.Logf(LevelWarn, "netreactor: wakeup write failed: %v", err)
	}
}

// RunInLoop runs f immediately if called from the loop goroutine, otherwise
// marshals it via QueueInLoop.
func (l *Loop) RunInLoop(f Task) {
	if l.affinity.onOwner() {
		f()
		return
	}
	l.QueueInLoop(f)
}

// QueueInLoop enqueues f for execution on the next drain phase. If the
// caller is not the loop goroutine, or the loop is currently draining its
// queue (f was enqueued from within another queued closure), the loop is
// woken so f runs within the current turn's drain phase rather than waiting
// for the next poll timeout.
func (l *Loop) QueueInLoop(f Task) {
	l.mu.Lock()
	l.pending = append(l.pending, f)
	l.mu.Unlock()

	if !l.affinity.onOwner() || l.draining.Load() {
		l.Wakeup()
	}
}

// drainPending swaps the pending queue out under the mutex, then executes
// every closure outside the lock — required because a closure may itself
// call QueueInLoop.
func (l *Loop) drainPending() {
	l.mu.Lock()
	jobs := l.pending
	if l.pendingSpare == nil {
		l.pendingSpare = make([]Task, 0, len(jobs))
	}
	l.pending = l.pendingSpare
	l.mu.Unlock()

	l.draining.Store(true)
	for _, f := range jobs {
		f()
	}
	l.draining.Store(false)

	for i := range jobs {
		jobs[i] = nil
	}
	l.pendingSpare = jobs[:0]
}

// updateChannel forwards to the poller. Must run on the loop goroutine.
func (l *Loop) updateChannel(c *Channel) {
	l.affinity.assert("Loop.updateChannel")
	if err := l.poller.update(c); err != nil {
		l.logger.Logf(LevelError, "netreactor: epoll update fd=%d: %v", c.fd, err)
	}
}

// removeChannel forwards to the poller. Must run on the loop goroutine. A
// callback may remove its own channel (the connector does, on
// writability); removing a different channel that is still pending
// dispatch in the current batch would leave a dangling entry in
// activeChannels and is a programmer error.
func (l *Loop) removeChannel(c *Channel) {
	l.affinity.assert("Loop.removeChannel")
	if l.handlingEvents && l.currentActiveChannel != c && l.pendingDispatch(c) {
		panic("netreactor: channel removed while pending dispatch in the current batch")
	}
	if err := l.poller.remove(c); err != nil {
		l.logger.Logf(LevelError, "netreactor: epoll remove fd=%d: %v", c.fd, err)
	}
}

func (l *Loop) pendingDispatch(c *Channel) bool {
	for _, ac := range l.activeChannels {
		if ac == c {
			return true
		}
	}
	return false
}

// RunAt schedules fn to run at when. Safe from any goroutine.
func (l *Loop) RunAt(when time.Time, fn func()) TimerID {
	e := l.timers.newEntry(fn, when, 0)
	l.RunInLoop(func() { l.timers.insert(e) })
	return TimerID{seq: e.seq}
}

// RunAfter schedules fn to run after delay. Safe from any goroutine.
func (l *Loop) RunAfter(delay time.Duration, fn func()) TimerID {
	return l.RunAt(time.Now().Add(delay), fn)
}

// RunEvery schedules fn to run every interval, starting after interval.
// Safe from any goroutine.
func (l *Loop) RunEvery(interval time.Duration, fn func()) TimerID {
	e := l.timers.newEntry(fn, time.Now().Add(interval), interval)
	l.RunInLoop(func() { l.timers.insert(e) })
	return TimerID{seq: e.seq}
}

// Cancel cancels a previously scheduled timer. Safe from any goroutine. A
// cancel that arrives while the timer's own callback (or another callback
// in the same dispatch batch) is running is absorbed so a repeating timer
// can't resurrect itself.
func (l *Loop) Cancel(id TimerID) {
	l.RunInLoop(func() { l.timers.cancel(id) })
}
