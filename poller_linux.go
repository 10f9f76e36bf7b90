//go:build linux

package netreactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// poller wraps one epoll instance: a map from fd to registered channel
// plus a growing event buffer. A map rather than an fd-indexed array —
// the channel set here is small and sparse.
type poller struct {
	epfd     int
	channels map[int]*Channel
	events   []unix.EpollEvent
}

const pollerInitialEventCap = 16

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{
		epfd:     epfd,
		channels: make(map[int]*Channel),
		events:   make([]unix.EpollEvent, pollerInitialEventCap),
	}, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

// update registers or re-registers c per its current interest mask, or
// removes it from epoll if interest has dropped to none.
func (p *poller) update(c *Channel) error {
	switch c.state {
	case regUnadded, regDeleted:
		p.channels[c.fd] = c
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, c.fd, &unix.EpollEvent{Events: c.events, Fd: int32(c.fd)}); err != nil {
			return err
		}
		c.state = regAdded
		return nil
	case regAdded:
		if c.IsNoneEvent() {
			if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, c.fd, nil); err != nil {
				return err
			}
			c.state = regDeleted
			return nil
		}
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, c.fd, &unix.EpollEvent{Events: c.events, Fd: int32(c.fd)})
	}
	return nil
}

// remove requires the channel's interest to already be empty.
func (p *poller) remove(c *Channel) error {
	delete(p.channels, c.fd)
	if c.state == regAdded {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, c.fd, nil); err != nil {
			return err
		}
	}
	c.state = regUnadded
	return nil
}

// poll blocks up to timeoutMs and appends every ready channel to active, in
// the order epoll_wait returned them. EINTR is retried silently; any other
// error is logged and the empty set is returned. The returned timestamp is
// the poll-return time threaded through to read callbacks.
func (p *poller) poll(timeoutMs int, logger Logger, active *[]*Channel) time.Time {
	for {
		n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
		now := time.Now()
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logger.Logf(LevelError, "netreactor: epoll_wait: %v", err)
			return now
		}
		for i := 0; i < n; i++ {
			ev := p.events[i]
			if ch, ok := p.channels[int(ev.Fd)]; ok {
				ch.setRevents(ev.Events)
				*active = append(*active, ch)
			}
		}
		if n == len(p.events) {
			// Buffer was fully filled this call: double it so a future
			// poll with more simultaneously-ready fds doesn't need a
			// second epoll_wait to drain them.
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
		return now
	}
}
