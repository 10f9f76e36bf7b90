package netreactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/relaycove/netreactor/addr"
)

// newConnectionFunc is invoked with a freshly accepted, non-blocking
// connection fd and its peer address.
type newConnectionFunc func(connFD int, peer addr.Addr)

// acceptor owns a non-blocking listening socket, a channel on it, and a
// pre-opened spare fd pointing at the null device, used to ride out EMFILE
// without dropping every pending connection on the floor.
type acceptor struct {
	loop      *Loop
	listenFD  int
	channel   *Channel
	spareFD   int
	listening bool

	newConnFn newConnectionFunc
	logger    Logger
}

// newAcceptor binds listenAddr (SO_REUSEADDR always, SO_REUSEPORT
// optionally) and installs a read callback that accepts. It does not start
// listening; call listen() for that.
func newAcceptor(loop *Loop, listenAddr addr.Addr, reusePort bool) (*acceptor, error) {
	fd, err := addr.NewStreamSocket(listenAddr.Family())
	if err != nil {
		return nil, err
	}
	if err := addr.Bind(fd, listenAddr, reusePort); err != nil {
		_ = addr.Close(fd)
		return nil, err
	}
	spareFD, err := addr.OpenDevNull()
	if err != nil {
		_ = addr.Close(fd)
		return nil, err
	}

	a := &acceptor{
		loop:     loop,
		listenFD: fd,
		spareFD:  spareFD,
		logger:   loop.Logger(),
	}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadFunc(a.handleRead)
	return a, nil
}

func (a *acceptor) setNewConnectionFunc(f newConnectionFunc) { a.newConnFn = f }

// listen transitions the socket to listening and enables reading on the
// channel. Must run on the owning loop.
func (a *acceptor) listen() error {
	a.loop.affinity.assert("acceptor.listen")
	a.listening = true
	if err := addr.Listen(a.listenFD, 1024); err != nil {
		return err
	}
	a.channel.EnableReading()
	return nil
}

func (a *acceptor) isListening() bool { return a.listening }

func (a *acceptor) handleRead(time.Time) {
	a.loop.affinity.assert("acceptor.handleRead")
	connFD, peer, err := addr.Accept(a.listenFD)
	if err == nil {
		// SO_KEEPALIVE is mandatory on every accepted connection;
		// unlike TCP_NODELAY it is not left to the application to opt into.
		if kaErr := addr.SetKeepAlive(connFD, true); kaErr != nil {
			logRateLimited(a.logger, LevelWarn, "accept-keepalive", "netreactor: accept: set keepalive: %v", kaErr)
		}
		if a.newConnFn != nil {
			a.newConnFn(connFD, peer)
		} else {
			_ = addr.Close(connFD)
		}
		return
	}

	logRateLimited(a.logger, LevelWarn, "accept-error", "netreactor: accept: %v", err)
	if err == unix.EMFILE {
		// Out of file descriptors: free the spare fd, accept-and-drop the
		// pending connection to clear the epoll readiness, then reopen the
		// spare so the next EMFILE can be handled the same way.
		_ = addr.Close(a.spareFD)
		a.spareFD, _, _ = addr.Accept(a.listenFD)
		_ = addr.Close(a.spareFD)
		a.spareFD, _ = addr.OpenDevNull()
	}
}

// close disables and removes the accept channel and closes the spare fd.
// Must run on the owning loop.
func (a *acceptor) close() {
	a.channel.DisableAll()
	a.channel.Remove()
	_ = addr.Close(a.spareFD)
	_ = addr.Close(a.listenFD)
}
