package netreactor

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/relaycove/netreactor/addr"
)

const (
	initRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 30 * time.Second
)

// connector owns the client-side reconnect state machine: it drives a
// non-blocking connect(2), classifies the outcome errno as retryable or
// fatal for the attempt, and retries with a capped exponential backoff on
// the retryable class.
type connector struct {
	loop       *Loop
	serverAddr addr.Addr

	wantConnect atomic.Bool
	state       ConnectorState
	retryDelay  time.Duration

	channel *Channel

	newConnFn func(sockFD int)
	logger    Logger
}

func newConnector(loop *Loop, serverAddr addr.Addr) *connector {
	return &connector{
		loop:       loop,
		serverAddr: serverAddr,
		state:      ConnectorDisconnected,
		retryDelay: initRetryDelay,
		logger:     loop.Logger(),
	}
}

func (c *connector) setNewConnectionFunc(f func(sockFD int)) { c.newConnFn = f }

// start requests a connection attempt. Safe from any goroutine.
func (c *connector) start() {
	c.wantConnect.Store(true)
	c.loop.RunInLoop(c.startInLoop)
}

// stop abandons a pending connection attempt. Safe from any goroutine.
func (c *connector) stop() {
	c.wantConnect.Store(false)
	c.loop.QueueInLoop(func() {
		if c.state == ConnectorConnecting {
			c.state = ConnectorDisconnected
			sockFD := c.removeAndResetChannel()
			c.retryAbandoned(sockFD)
		}
	})
}

// restart resets backoff state and immediately retries. Must run on the
// owning loop.
func (c *connector) restart() {
	c.loop.affinity.assert("connector.restart")
	c.state = ConnectorDisconnected
	c.retryDelay = initRetryDelay
	c.wantConnect.Store(true)
	c.startInLoop()
}

func (c *connector) startInLoop() {
	c.loop.affinity.assert("connector.startInLoop")
	if c.state != ConnectorDisconnected {
		panic("netreactor: connector.startInLoop called outside DISCONNECTED")
	}
	if c.wantConnect.Load() {
		c.connect()
	}
}

func (c *connector) connect() {
	fd, err := addr.NewStreamSocket(c.serverAddr.Family())
	if err != nil {
		logRateLimited(c.logger, LevelError, "connector-socket", "netreactor: connector: create socket: %v", err)
		return
	}
	connErr := addr.Connect(fd, c.serverAddr)
	switch connErr {
	case nil, unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		c.connecting(fd)
	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH:
		c.retry(fd)
	default:
		logRateLimited(c.logger, LevelError, "connector-fatal", "netreactor: connector: %v", &connectFatalError{Errno: connErr})
		_ = addr.Close(fd)
	}
}

func (c *connector) connecting(fd int) {
	c.state = ConnectorConnecting
	c.channel = NewChannel(c.loop, fd)
	c.channel.SetWriteFunc(c.handleWrite)
	c.channel.SetErrorFunc(c.handleError)
	c.channel.EnableWriting()
}

func (c *connector) handleWrite() {
	if c.state != ConnectorConnecting {
		return
	}
	sockFD := c.removeAndResetChannel()
	errno, err := addr.SocketError(sockFD)
	switch {
	case err != nil || errno != 0:
		logRateLimited(c.logger, LevelWarn, "connector-write-error", "netreactor: connector: SO_ERROR=%d", errno)
		c.retry(sockFD)
	case c.isSelfConnect(sockFD):
		logRateLimited(c.logger, LevelWarn, "connector-self-connect", "netreactor: connector: self connect, retrying")
		c.retry(sockFD)
	default:
		c.state = ConnectorConnected
		if c.wantConnect.Load() {
			if c.newConnFn != nil {
				c.newConnFn(sockFD)
			}
		} else {
			_ = addr.Close(sockFD)
		}
	}
}

func (c *connector) handleError() {
	if c.state != ConnectorConnecting {
		return
	}
	sockFD := c.removeAndResetChannel()
	errno, _ := addr.SocketError(sockFD)
	logRateLimited(c.logger, LevelWarn, "connector-error", "netreactor: connector: error callback, SO_ERROR=%d", errno)
	c.retry(sockFD)
}

// retry closes sockfd and, if still wanted, schedules another attempt after
// the current backoff, then doubles the backoff (capped).
func (c *connector) retry(sockFD int) {
	_ = addr.Close(sockFD)
	c.state = ConnectorDisconnected
	if c.wantConnect.Load() {
		delay := c.retryDelay
		c.loop.RunAfter(delay, c.startInLoop)
		c.retryDelay *= 2
		if c.retryDelay > maxRetryDelay {
			c.retryDelay = maxRetryDelay
		}
	}
}

// retryAbandoned closes sockfd without scheduling a retry; used by stop(),
// which must not resurrect an attempt the caller just cancelled.
func (c *connector) retryAbandoned(sockFD int) {
	_ = addr.Close(sockFD)
}

func (c *connector) removeAndResetChannel() int {
	c.channel.DisableAll()
	c.channel.Remove()
	fd := c.channel.FD()
	c.loop.QueueInLoop(func() { c.channel = nil })
	return fd
}

func (c *connector) isSelfConnect(fd int) bool {
	local, err := addr.LocalAddr(fd)
	if err != nil {
		return false
	}
	peer, err := addr.PeerAddr(fd)
	if err != nil {
		return false
	}
	return local.Equal(peer)
}
