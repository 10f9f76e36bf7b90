package netreactor

import (
	"runtime"
	"sync/atomic"
)

// goroutine.go implements the thread-affinity discipline that lets the
// hot path run lock-free: every operation that mutates a channel,
// connection, timer queue, or poller asserts it is running on the loop's
// own goroutine.
//
// Go has no first-class "current thread" id, and a goroutine is not pinned
// to an OS thread unless it calls runtime.LockOSThread. The invariant that
// matters is "the same goroutine that is driving this Loop's ticks", which
// getGoroutineID supplies by parsing the "goroutine N [...]" header
// runtime.Stack prints for the calling goroutine.

// getGoroutineID returns the calling goroutine's runtime-assigned id.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// affinity records the goroutine id that owns a Loop and asserts against it.
type affinity struct {
	owner atomic.Uint64
}

// bind records the calling goroutine as the owner. Called once, from the
// goroutine that will drive the loop.
func (a *affinity) bind() { a.owner.Store(getGoroutineID()) }

// unbind clears ownership, e.g. once a loop has fully stopped.
func (a *affinity) unbind() { a.owner.Store(0) }

// onOwner reports whether the calling goroutine is the bound owner.
func (a *affinity) onOwner() bool {
	owner := a.owner.Load()
	return owner != 0 && owner == getGoroutineID()
}

// assert panics if the calling goroutine is not the bound owner. Programmer
// errors — wrong-thread mutation, double-bind, illegal state transitions —
// are bugs, not runtime conditions: they abort the
// process after logging, loudly, rather than being absorbed.
func (a *affinity) assert(what string) {
	if !a.onOwner() {
		panic("netreactor: " + what + " called from outside its owning loop goroutine")
	}
}
