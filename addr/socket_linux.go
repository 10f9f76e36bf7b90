//go:build linux

package addr

import (
	"golang.org/x/sys/unix"
)

// NewStreamSocket creates a non-blocking TCP socket for the given family.
func NewStreamSocket(family Family) (int, error) {
	fd, err := unix.Socket(family.Domain(), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Bind binds fd to a, always setting SO_REUSEADDR first. When reusePort is
// true, SO_REUSEPORT is also set; on a kernel lacking SO_REUSEPORT this must
// fail loudly rather than silently ignore the request.
func Bind(fd int, a Addr, reusePort bool) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return err
		}
	}
	return unix.Bind(fd, a.Sockaddr())
}

// Listen transitions fd into the listening state.
func Listen(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

// Accept accepts one pending connection off a listening socket, returning
// the new non-blocking fd and the peer address.
func Accept(listenFD int) (int, Addr, error) {
	connFD, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, Addr{}, err
	}
	peer, err := FromSockaddr(sa)
	if err != nil {
		_ = unix.Close(connFD)
		return -1, Addr{}, err
	}
	return connFD, peer, nil
}

// Connect issues a non-blocking connect(2) to a on fd, returning the errno
// (possibly nil) as returned by the kernel.
func Connect(fd int, a Addr) error {
	return unix.Connect(fd, a.Sockaddr())
}

// ShutdownWrite half-closes the write side of fd.
func ShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// SetKeepAlive toggles SO_KEEPALIVE.
func SetKeepAlive(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

// SetTCPNoDelay toggles TCP_NODELAY.
func SetTCPNoDelay(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

// SocketError reads and clears SO_ERROR, the mechanism by which a
// non-blocking connect's outcome and a channel's error-readiness are
// diagnosed.
func SocketError(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
}

// LocalAddr returns the local endpoint bound to fd.
func LocalAddr(fd int) (Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Addr{}, err
	}
	return FromSockaddr(sa)
}

// PeerAddr returns the remote endpoint connected to fd.
func PeerAddr(fd int) (Addr, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return Addr{}, err
	}
	return FromSockaddr(sa)
}

// OpenDevNull opens the null device for use as the acceptor's EMFILE spare
// fd: a pre-opened fd that can be closed and reopened to temporarily free
// a descriptor slot without disturbing any live connection.
func OpenDevNull() (int, error) {
	return unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
