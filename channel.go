package netreactor

import (
	"time"
	"weak"

	"golang.org/x/sys/unix"
)

// ReadEventFunc is a channel's read callback; recvTime is the poll-return
// timestamp, not the time of byte arrival.
type ReadEventFunc func(recvTime time.Time)

// EventFunc is a channel's write/close/error callback.
type EventFunc func()

const (
	eventNone  = uint32(0)
	eventRead  = uint32(unix.EPOLLIN | unix.EPOLLPRI)
	eventWrite = uint32(unix.EPOLLOUT)
)

// Channel binds one file descriptor to a set of interest events and four
// event callbacks; it does not own the fd.
type Channel struct {
	owner *Loop
	fd    int

	events  uint32 // interest mask
	revents uint32 // active mask, published by the poller
	state   regState

	readFn  ReadEventFunc
	writeFn EventFunc
	closeFn EventFunc
	errorFn EventFunc

	// tether is a weak reference to the owning Connection, upgraded for the
	// duration of each HandleEvent dispatch so a connection destroyed
	// between readiness and dispatch silently drops the event instead of
	// being mutated after death.
	tether weak.Pointer[Connection]
	tied   bool
}

// NewChannel creates a channel for fd, owned by loop. The channel starts
// with no interest and must be registered via EnableReading/EnableWriting.
func NewChannel(loop *Loop, fd int) *Channel {
	return &Channel{owner: loop, fd: fd, state: regUnadded}
}

func (c *Channel) FD() int { return c.fd }

func (c *Channel) SetReadFunc(f ReadEventFunc) { c.readFn = f }
func (c *Channel) SetWriteFunc(f EventFunc)    { c.writeFn = f }
func (c *Channel) SetCloseFunc(f EventFunc)    { c.closeFn = f }
func (c *Channel) SetErrorFunc(f EventFunc)    { c.errorFn = f }

// Tie ties the channel's lifetime to obj: HandleEvent will only dispatch if
// the weak reference still upgrades.
func (c *Channel) Tie(obj *Connection) {
	c.tether = weak.Make(obj)
	c.tied = true
}

func (c *Channel) IsReading() bool   { return c.events&eventRead != 0 }
func (c *Channel) IsWriting() bool   { return c.events&eventWrite != 0 }
func (c *Channel) IsNoneEvent() bool { return c.events == eventNone }

func (c *Channel) EnableReading() {
	c.events |= eventRead
	c.update()
}

func (c *Channel) DisableReading() {
	c.events &^= eventRead
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= eventWrite
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= eventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = eventNone
	c.update()
}

func (c *Channel) update() {
	c.owner.updateChannel(c)
}

// Remove unregisters the channel from its owner's poller. The caller must
// have already disabled all interest.
func (c *Channel) Remove() {
	c.owner.removeChannel(c)
}

// setRevents is called by the poller to publish the readiness mask it
// observed for this channel's fd.
func (c *Channel) setRevents(revents uint32) { c.revents = revents }

// HandleEvent dispatches the active mask in a fixed, observable order: a
// tether upgrade failure drops the event silently; otherwise
// hang-up-without-read-available closes, invalid-fd/error errors, read
// events (including hang-up-with-data) read, and writable events write.
// Implementers must preserve this order: an application close callback may
// assume it sees close before read when both are set with no data pending.
func (c *Channel) HandleEvent(recvTime time.Time) {
	if c.tied {
		if c.tether.Value() == nil {
			return
		}
	}
	c.handleEventWithGuard(recvTime)
}

func (c *Channel) handleEventWithGuard(recvTime time.Time) {
	revents := c.revents
	if revents&unix.EPOLLHUP != 0 && revents&unix.EPOLLIN == 0 {
		if c.closeFn != nil {
			c.closeFn()
		}
		return
	}
	// epoll never reports POLLNVAL itself, but the bit is kept in the
	// dispatch mask so a poll(2)-sourced mask routed through this channel
	// takes the same error path.
	if revents&unix.POLLNVAL != 0 {
		defaultLogger().Logf(LevelWarn, "netreactor: channel fd=%d invalid", c.fd)
	}
	if revents&(unix.EPOLLERR|unix.POLLNVAL) != 0 {
		if c.errorFn != nil {
			c.errorFn()
		}
	}
	if revents&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLHUP) != 0 {
		if c.readFn != nil {
			c.readFn(recvTime)
		}
	}
	if revents&unix.EPOLLOUT != 0 {
		if c.writeFn != nil {
			c.writeFn()
		}
	}
}
