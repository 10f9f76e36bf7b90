package netreactor

import "errors"

// Sentinel errors for conditions an application can usefully branch on.
// Programmer errors — wrong-thread access, duplicate loop per goroutine,
// illegal state transitions — are not returned; they panic.
var (
	// ErrLoopClosed is returned by Loop.Run when the loop has already
	// terminated.
	ErrLoopClosed = errors.New("netreactor: loop is closed")
	// ErrAlreadyRunning is returned by Loop when the loop is already running.
	ErrAlreadyRunning = errors.New("netreactor: loop is already running")
)

// connectFatalError wraps a connect(2) errno that is fatal for the attempt:
// logged and abandoned, never retried.
type connectFatalError struct {
	Errno error
}

func (e *connectFatalError) Error() string {
	return "netreactor: fatal connect error: " + e.Errno.Error()
}

func (e *connectFatalError) Unwrap() error { return e.Errno }
