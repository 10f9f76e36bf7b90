//go:build linux

package netreactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// createWakeFD creates an eventfd for cross-goroutine wakeup.
func createWakeFD() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

// drainWakeFD reads and discards the eventfd counter so the fd stops
// reporting level-triggered readiness.
func drainWakeFD(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}

// writeWakeFD writes one unit to fd, waking a loop blocked in epoll_wait.
func writeWakeFD(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if err == unix.EAGAIN {
		// Counter is already saturated/pending; the loop will wake anyway.
		return nil
	}
	return err
}

func closeWakeFD(fd int) error {
	return unix.Close(fd)
}
