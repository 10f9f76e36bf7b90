package netreactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/relaycove/netreactor/addr"
	"github.com/relaycove/netreactor/buffer"
)

// MessageHandler receives a connection's input buffer after a successful
// read; recvTime is the poll-return timestamp threaded through from the
// channel, not the instant the bytes arrived. The handler is expected to
// Pop/PopAll whatever bytes it consumed.
type MessageHandler func(c *Connection, buf *buffer.Buffer, recvTime time.Time)

// Connection is one established TCP socket bound to a single I/O loop. It
// is held by shared ownership by its owner (Server or Client); the channel
// that drives it only ever holds a weak tether, so the connection outlives
// any callback dispatched against it.
type Connection struct {
	_ [0]func() // not copyable

	loop *Loop
	name string
	fd   int

	local ConnAddr
	peer  ConnAddr

	channel *Channel

	state        atomicConnState
	readingState bool
	sockClosed   bool

	input  *buffer.Buffer
	output *buffer.Buffer

	highWaterMark   int
	highWaterMarkFn func(*Connection, int)

	connHandler MessageConnHandler
	msgHandler  MessageHandler
	writeDoneFn func(*Connection)
	closeFn     func(*Connection)

	logger Logger

	context any
}

// ConnAddr is the resolved local/peer endpoint pair exposed by Connection.
type ConnAddr = addr.Addr

// MessageConnHandler is the connection-state callback signature.
type MessageConnHandler func(*Connection)

// connParams bundles the fields owners fill in at construction, keeping
// newConnection's signature manageable.
type connParams struct {
	loop            *Loop
	name            string
	fd              int
	local           addr.Addr
	peer            addr.Addr
	highWaterMark   int
	highWaterMarkFn func(*Connection, int)
	connHandler     func(*Connection)
	msgHandler      MessageHandler
	writeDoneFn     func(*Connection)
	logger          Logger
}

// defaultHighWaterMark bounds pending output before the application is
// asked to apply backpressure.
const defaultHighWaterMark = 64 << 20

// newConnection constructs a Connection bound to p.loop with a fresh
// channel on p.fd, but does not yet establish it: the owner must call
// connectEstablished once the connection is registered in its map.
func newConnection(p connParams) *Connection {
	if p.logger == nil {
		p.logger = defaultLogger()
	}
	if p.highWaterMark <= 0 {
		p.highWaterMark = defaultHighWaterMark
	}
	c := &Connection{
		loop:            p.loop,
		name:            p.name,
		fd:              p.fd,
		local:           p.local,
		peer:            p.peer,
		input:           buffer.New(buffer.InitialSize),
		output:          buffer.New(buffer.InitialSize),
		highWaterMark:   p.highWaterMark,
		highWaterMarkFn: p.highWaterMarkFn,
		connHandler:     p.connHandler,
		msgHandler:      p.msgHandler,
		writeDoneFn:     p.writeDoneFn,
		logger:          p.logger,
	}
	c.state.Store(StateConnecting)
	c.channel = NewChannel(p.loop, p.fd)
	c.channel.Tie(c)
	c.channel.SetReadFunc(c.handleRead)
	c.channel.SetWriteFunc(c.handleWrite)
	c.channel.SetCloseFunc(c.handleClose)
	c.channel.SetErrorFunc(c.handleError)
	return c
}

// Name returns the connection's stable, owner-assigned name.
func (c *Connection) Name() string { return c.name }

// Loop returns the I/O loop this connection is bound to.
func (c *Connection) Loop() *Loop { return c.loop }

// LocalAddr returns the local endpoint.
func (c *Connection) LocalAddr() addr.Addr { return c.local }

// PeerAddr returns the remote endpoint.
func (c *Connection) PeerAddr() addr.Addr { return c.peer }

// IsConnected reports whether the connection is currently CONNECTED.
func (c *Connection) IsConnected() bool { return c.state.Load() == StateConnected }

// State returns the connection's current state.
func (c *Connection) State() ConnState { return c.state.Load() }

// SetContext attaches an arbitrary application value to the connection.
func (c *Connection) SetContext(v any) { c.context = v }

// Context returns the value last attached via SetContext.
func (c *Connection) Context() any { return c.context }

// connectEstablished transitions CONNECTING -> CONNECTED, enables reading,
// and invokes the connection callback. The channel was already tied to the
// connection by newConnection. Must run on the owning loop.
func (c *Connection) connectEstablished() {
	c.loop.affinity.assert("Connection.connectEstablished")
	if c.state.Load() != StateConnecting {
		panic("netreactor: connectEstablished called outside CONNECTING")
	}
	c.state.Store(StateConnected)
	c.readingState = true
	c.channel.EnableReading()
	if c.connHandler != nil {
		c.connHandler(c)
	}
}

// connectDestroyed tears down the channel's poller registration. It
// tolerates being called after handleClose already ran, in which case it
// only removes the channel. Must run on the owning loop.
func (c *Connection) connectDestroyed() {
	c.loop.affinity.assert("Connection.connectDestroyed")
	if c.state.Load() == StateConnected {
		c.state.Store(StateDisconnected)
		c.channel.DisableAll()
		if c.connHandler != nil {
			c.connHandler(c)
		}
	}
	c.channel.Remove()
	if !c.sockClosed {
		c.sockClosed = true
		_ = addr.Close(c.fd)
	}
}

func (c *Connection) handleRead(recvTime time.Time) {
	n, err := c.input.ReadFromFD(c.fd)
	switch {
	case err != nil:
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK && err != unix.EINTR {
			c.handleError()
		}
	case n == 0:
		c.handleClose()
	default:
		if c.msgHandler != nil {
			c.msgHandler(c, c.input, recvTime)
		}
	}
}

func (c *Connection) handleWrite() {
	if !c.channel.IsWriting() {
		return
	}
	n, err := unix.Write(c.fd, c.output.Peek())
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			logRateLimited(c.logger, LevelWarn, "conn-write", "netreactor: conn %s write: %v", c.name, err)
		}
		return
	}
	c.output.Pop(n)
	if c.output.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeDoneFn != nil {
			c.loop.QueueInLoop(func() { c.writeDoneFn(c) })
		}
		if c.state.Load() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

// handleClose handles EOF on read or a force-close request: asserts state,
// marks DISCONNECTED, disables all interest, invokes the connection
// callback (last notification) then the close callback, which the owner
// uses to remove the connection from its registry.
func (c *Connection) handleClose() {
	c.loop.affinity.assert("Connection.handleClose")
	if c.state.Load() != StateConnected && c.state.Load() != StateDisconnecting {
		panic("netreactor: handleClose called outside CONNECTED/DISCONNECTING")
	}
	c.state.Store(StateDisconnected)
	c.channel.DisableAll()
	if c.connHandler != nil {
		c.connHandler(c)
	}
	if c.closeFn != nil {
		c.closeFn(c)
	}
}

func (c *Connection) handleError() {
	errno, err := addr.SocketError(c.fd)
	if err != nil {
		logRateLimited(c.logger, LevelWarn, "conn-error", "netreactor: conn %s SO_ERROR read failed: %v", c.name, err)
		return
	}
	logRateLimited(c.logger, LevelWarn, "conn-error", "netreactor: conn %s socket error: errno %d", c.name, errno)
}

// setCloseCallback installs the owner's removal hook. Not exported: only
// Server/Client wire this, never the application.
func (c *Connection) setCloseCallback(f func(*Connection)) { c.closeFn = f }

// Send queues data for write: a direct write attempt when idle, falling
// back to buffering plus enabling writability, with the high-water-mark
// callback fired exactly once per crossing. Safe from any goroutine.
func (c *Connection) Send(data []byte) {
	if c.loop.affinity.onOwner() {
		c.sendInLoop(data)
		return
	}
	buf := append([]byte(nil), data...)
	c.loop.QueueInLoop(func() { c.sendInLoop(buf) })
}

// SendString is a convenience wrapper over Send.
func (c *Connection) SendString(s string) { c.Send([]byte(s)) }

func (c *Connection) sendInLoop(data []byte) {
	if c.state.Load() == StateDisconnected {
		logRateLimited(c.logger, LevelWarn, "conn-send-closed", "netreactor: conn %s send after disconnect, dropping %d bytes", c.name, len(data))
		return
	}
	remaining := len(data)
	wrote := 0
	connError := false

	if !c.channel.IsWriting() && c.output.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		switch {
		case err == nil:
			wrote = n
			remaining -= n
			if remaining == 0 && c.writeDoneFn != nil {
				c.loop.QueueInLoop(func() { c.writeDoneFn(c) })
			}
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			// treat as zero progress
		case err == unix.EPIPE || err == unix.ECONNRESET:
			connError = true
		default:
			logRateLimited(c.logger, LevelWarn, "conn-send", "netreactor: conn %s write: %v", c.name, err)
		}
	}

	if connError {
		c.handleClose()
		return
	}

	if remaining > 0 {
		before := c.output.ReadableBytes()
		if c.highWaterMarkFn != nil && before < c.highWaterMark && before+remaining >= c.highWaterMark {
			total := before + remaining
			c.loop.QueueInLoop(func() { c.highWaterMarkFn(c, total) })
		}
		c.output.Append(data[wrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the write side once pending output drains. Safe
// from any goroutine.
func (c *Connection) Shutdown() {
	if c.state.Load() != StateConnected {
		return
	}
	c.loop.RunInLoop(func() {
		if c.state.Load() == StateConnected {
			c.state.Store(StateDisconnecting)
			if !c.channel.IsWriting() {
				c.shutdownInLoop()
			}
		}
	})
}

func (c *Connection) shutdownInLoop() {
	if !c.channel.IsWriting() {
		if err := addr.ShutdownWrite(c.fd); err != nil {
			logRateLimited(c.logger, LevelWarn, "conn-shutdown", "netreactor: conn %s shutdown: %v", c.name, err)
		}
	}
}

// ForceClose closes the connection immediately, bypassing any pending
// output. Safe from any goroutine.
func (c *Connection) ForceClose() {
	if c.state.Load() == StateConnected || c.state.Load() == StateDisconnecting {
		c.state.Store(StateDisconnecting)
		c.loop.QueueInLoop(c.forceCloseInLoop)
	}
}

// ForceCloseWithDelay closes the connection after delay, re-checking
// liveness through the weak-tether mechanism rather than holding a strong
// reference across the timer.
func (c *Connection) ForceCloseWithDelay(delay time.Duration) {
	weakSelf := newWeakConn(c)
	c.loop.RunAfter(delay, func() {
		if conn := weakSelf.get(); conn != nil {
			conn.ForceClose()
		}
	})
}

func (c *Connection) forceCloseInLoop() {
	c.loop.affinity.assert("Connection.forceCloseInLoop")
	if c.state.Load() == StateConnected || c.state.Load() == StateDisconnecting {
		c.handleClose()
	}
}

// StartRead enables reading on the connection's channel, restoring the
// invariant that a CONNECTED connection's channel read interest equals its
// reading-enabled flag. Safe from any goroutine.
func (c *Connection) StartRead() {
	c.loop.RunInLoop(func() {
		if !c.readingState {
			c.readingState = true
			c.channel.EnableReading()
		}
	})
}

// StopRead disables reading on the connection's channel without affecting
// its connection state. Safe from any goroutine.
func (c *Connection) StopRead() {
	c.loop.RunInLoop(func() {
		if c.readingState {
			c.readingState = false
			c.channel.DisableReading()
		}
	})
}

// InputBuffer returns the connection's input buffer.
// Only safe to use from the owning loop's goroutine,
// or from within a message/connection callback, where it is always current.
func (c *Connection) InputBuffer() *buffer.Buffer { return c.input }

// OutputBuffer returns the connection's output buffer. Only safe to use from
// the owning loop's goroutine, or from within a message/connection callback.
func (c *Connection) OutputBuffer() *buffer.Buffer { return c.output }

// SetTCPNoDelay toggles TCP_NODELAY on the underlying socket.
func (c *Connection) SetTCPNoDelay(on bool) error {
	return addr.SetTCPNoDelay(c.fd, on)
}

// SetKeepAlive toggles SO_KEEPALIVE on the underlying socket.
func (c *Connection) SetKeepAlive(on bool) error {
	return addr.SetKeepAlive(c.fd, on)
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection{name=%s local=%s peer=%s state=%s}", c.name, c.local, c.peer, c.state.Load())
}
