package netreactor

import (
	"fmt"
	"sync/atomic"

	"github.com/relaycove/netreactor/addr"
)

// Server accepts inbound connections on a listening socket and distributes
// them round-robin across an I/O loop pool. It must be
// constructed on, and started from, its base loop's goroutine.
type Server struct {
	_ [0]func() // not copyable

	baseLoop *Loop
	acceptor *acceptor
	pool     *loopPool
	cfg      *serverConfig

	started atomic.Bool

	// nextConnID is only ever touched from newConnection, which runs
	// exclusively on baseLoop's goroutine — no synchronization needed.
	nextConnID uint64

	// connections holds an immutable snapshot of the registry, replaced via
	// copy-on-write rather than a mutex: every write happens on baseLoop's
	// goroutine and is therefore already serialized against every other
	// write, while Connections() — the one genuinely foreign-thread-callable
	// entry point — only ever needs a consistent point-in-time read, which
	// an atomic pointer load gives for free.
	connections atomic.Pointer[map[string]*Connection]
}

// NewServer constructs a Server listening on listenAddr. Must run on
// baseLoop's goroutine.
func NewServer(baseLoop *Loop, listenAddr addr.Addr, opts ...ServerOption) (*Server, error) {
	baseLoop.affinity.assert("NewServer")
	cfg := &serverConfig{namePrefix: "netreactor-server"}
	for _, opt := range opts {
		if opt != nil {
			opt.applyServer(cfg)
		}
	}

	a, err := newAcceptor(baseLoop, listenAddr, cfg.reusePort)
	if err != nil {
		return nil, err
	}

	s := &Server{
		baseLoop: baseLoop,
		acceptor: a,
		pool:     newLoopPool(baseLoop),
		cfg:      cfg,
	}
	empty := make(map[string]*Connection)
	s.connections.Store(&empty)
	a.setNewConnectionFunc(s.newConnection)
	return s, nil
}

// Start spawns the I/O loop pool (if cfg.ioThreads > 0) and begins
// listening. Idempotent: a second call is a no-op. Must run on the base
// loop's goroutine.
func (s *Server) Start() error {
	s.baseLoop.affinity.assert("Server.Start")
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.pool.start(s.cfg.ioThreads, s.cfg.threadInit); err != nil {
		return err
	}
	return s.acceptor.listen()
}

// Connections returns a snapshot of the currently tracked connections,
// keyed by name. Safe from any goroutine.
func (s *Server) Connections() map[string]*Connection {
	m := *s.connections.Load()
	out := make(map[string]*Connection, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Server) newConnection(sockFD int, peer addr.Addr) {
	s.baseLoop.affinity.assert("Server.newConnection")
	ioLoop := s.pool.getNextLoop()

	s.nextConnID++
	name := fmt.Sprintf("%s-%d", s.cfg.namePrefix, s.nextConnID)

	local, err := addr.LocalAddr(sockFD)
	if err != nil {
		logRateLimited(s.baseLoop.Logger(), LevelWarn, "server-local-addr", "netreactor: server: local addr for %s: %v", name, err)
		local = addr.Addr{}
	}

	conn := newConnection(connParams{
		loop:            ioLoop,
		name:            name,
		fd:              sockFD,
		local:           local,
		peer:            peer,
		highWaterMark:   s.cfg.highWaterMark,
		highWaterMarkFn: s.cfg.highWaterMarkFn,
		connHandler:     s.cfg.connHandler,
		msgHandler:      s.cfg.msgHandler,
		writeDoneFn:     s.cfg.writeDone,
		logger:          s.baseLoop.Logger(),
	})
	conn.setCloseCallback(s.removeConnection)

	old := *s.connections.Load()
	next := make(map[string]*Connection, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[name] = conn
	s.connections.Store(&next)

	ioLoop.RunInLoop(conn.connectEstablished)
}

func (s *Server) removeConnection(conn *Connection) {
	s.baseLoop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *Server) removeConnectionInLoop(conn *Connection) {
	s.baseLoop.affinity.assert("Server.removeConnectionInLoop")

	old := *s.connections.Load()
	next := make(map[string]*Connection, len(old))
	for k, v := range old {
		if k != conn.Name() {
			next[k] = v
		}
	}
	s.connections.Store(&next)

	conn.Loop().RunInLoop(conn.connectDestroyed)
}

// Close tears down every tracked connection and stops the I/O pool. Must
// run on the base loop's goroutine.
func (s *Server) Close() {
	s.baseLoop.affinity.assert("Server.Close")

	old := *s.connections.Load()
	conns := make([]*Connection, 0, len(old))
	for _, c := range old {
		conns = append(conns, c)
	}
	empty := make(map[string]*Connection)
	s.connections.Store(&empty)

	for _, c := range conns {
		c.Loop().RunInLoop(c.connectDestroyed)
	}
	s.acceptor.close()
	s.pool.stop()
}
