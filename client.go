package netreactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/relaycove/netreactor/addr"
)

// Client owns one connector and tracks at most one live connection at a
// time. Connect/Disconnect/Stop are safe from any
// goroutine; construction must run on loop's own goroutine.
type Client struct {
	_ [0]func() // not copyable

	loop      *Loop
	connector *connector
	cfg       *clientConfig

	wantConnect atomic.Bool
	nextConnID  uint64

	mu   sync.Mutex
	conn *Connection
}

// NewClient constructs a Client that will connect to serverAddr over loop.
func NewClient(loop *Loop, serverAddr addr.Addr, opts ...ClientOption) *Client {
	loop.affinity.assert("NewClient")
	cfg := resolveClientConfig(opts)
	c := &Client{
		loop: loop,
		cfg:  cfg,
	}
	c.connector = newConnector(loop, serverAddr)
	c.connector.setNewConnectionFunc(c.newConnection)
	c.wantConnect.Store(true)
	return c
}

// Loop returns the loop this client drives its connector and connection
// over.
func (c *Client) Loop() *Loop { return c.loop }

// Connect starts the connector. Safe from any goroutine.
func (c *Client) Connect() {
	c.wantConnect.Store(true)
	c.connector.start()
}

// Disconnect shuts down the current connection's write side, if any,
// without stopping the connector from accepting a future reconnect. Safe from any goroutine.
func (c *Client) Disconnect() {
	c.wantConnect.Store(false)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Shutdown()
	}
}

// Stop abandons any in-flight connection attempt. Safe from any goroutine.
func (c *Client) Stop() {
	c.wantConnect.Store(false)
	c.connector.stop()
}

// Connection returns the currently tracked connection, or nil.
func (c *Client) Connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// EnableRetry turns on automatic reconnection after an unexpected
// disconnect.
func (c *Client) EnableRetry() { c.cfg.retry = true }

func (c *Client) newConnection(sockFD int) {
	c.loop.affinity.assert("Client.newConnection")

	peer, err := addr.PeerAddr(sockFD)
	if err != nil {
		logRateLimited(c.loop.Logger(), LevelWarn, "client-peer-addr", "netreactor: client: peer addr: %v", err)
	}
	local, err := addr.LocalAddr(sockFD)
	if err != nil {
		logRateLimited(c.loop.Logger(), LevelWarn, "client-local-addr", "netreactor: client: local addr: %v", err)
	}

	c.nextConnID++
	name := fmt.Sprintf("netreactor-client-%d", c.nextConnID)

	conn := newConnection(connParams{
		loop:            c.loop,
		name:            name,
		fd:              sockFD,
		local:           local,
		peer:            peer,
		highWaterMark:   c.cfg.highWaterMark,
		highWaterMarkFn: c.cfg.highWaterMarkFn,
		connHandler:     c.cfg.connHandler,
		msgHandler:      c.cfg.msgHandler,
		writeDoneFn:     c.cfg.writeDone,
		logger:          c.loop.Logger(),
	})
	conn.setCloseCallback(c.removeConnection)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.connectEstablished()
}

func (c *Client) removeConnection(conn *Connection) {
	c.loop.affinity.assert("Client.removeConnection")
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	c.loop.QueueInLoop(conn.connectDestroyed)

	if c.cfg.retry && c.wantConnect.Load() {
		c.connector.restart()
	}
}

// Close force-closes the client's tracked connection, if any, or stops the
// connector if none has been established yet. An application that wants to
// keep observing the connection past Close should capture Connection()
// beforehand; it will report IsConnected() == false once teardown runs.
func (c *Client) Close() {
	c.wantConnect.Store(false)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.ForceClose()
		return
	}
	c.connector.stop()
}
