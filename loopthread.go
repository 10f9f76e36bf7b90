package netreactor

import (
	"sync"
)

// LoopThread spawns a goroutine that constructs its own Loop, runs a
// caller-supplied init callback against it, signals readiness, and drives
// it until Stop.
type LoopThread struct {
	_ [0]func() // not copyable

	init func(*Loop)
	opts []LoopOption

	mu      sync.Mutex
	loop    *Loop
	ready   chan struct{}
	exiting bool
}

// NewLoopThread constructs a LoopThread. init, if non-nil, runs once on the
// new loop's goroutine before it starts polling.
func NewLoopThread(init func(*Loop), opts ...LoopOption) *LoopThread {
	return &LoopThread{
		init:  init,
		opts:  opts,
		ready: make(chan struct{}),
	}
}

// Start spawns the goroutine and blocks until the loop is constructed and
// initialized, returning the running Loop.
func (lt *LoopThread) Start() (*Loop, error) {
	var startErr error
	go func() {
		l, err := New(lt.opts...)
		if err != nil {
			startErr = err
			close(lt.ready)
			return
		}

		lt.mu.Lock()
		lt.loop = l
		lt.mu.Unlock()

		if lt.init != nil {
			lt.init(l)
		}
		close(lt.ready)

		if lt.exiting {
			return
		}
		_ = l.Run()
	}()

	<-lt.ready
	if startErr != nil {
		return nil, startErr
	}
	return lt.Loop(), nil
}

// Loop returns the loop owned by this thread, or nil before Start's
// readiness signal fires.
func (lt *LoopThread) Loop() *Loop {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.loop
}

// Stop sets the exiting flag and asks the loop to quit. It does not block
// for the goroutine to finish; use the returned Loop's Done channel for
// that.
func (lt *LoopThread) Stop() {
	lt.mu.Lock()
	lt.exiting = true
	l := lt.loop
	lt.mu.Unlock()
	if l != nil {
		l.Quit()
	}
}
