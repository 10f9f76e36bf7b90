package netreactor

import "weak"

// weakConn is a weak reference to a Connection, used by
// ForceCloseWithDelay so a timer scheduled against a connection doesn't
// itself keep that connection alive.
type weakConn struct {
	p weak.Pointer[Connection]
}

func newWeakConn(c *Connection) weakConn {
	return weakConn{p: weak.Make(c)}
}

func (w weakConn) get() *Connection {
	return w.p.Value()
}
