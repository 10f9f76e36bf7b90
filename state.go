package netreactor

import "sync/atomic"

// loopState is a lock-free state machine for the event loop: pure CAS
// transitions, no mutex.
type loopState uint32

const (
	loopAwake loopState = iota
	loopRunning
	loopTerminated
)

func (s loopState) String() string {
	switch s {
	case loopAwake:
		return "awake"
	case loopRunning:
		return "running"
	case loopTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type atomicLoopState struct {
	v atomic.Uint32
}

func newAtomicLoopState() *atomicLoopState {
	s := &atomicLoopState{}
	s.v.Store(uint32(loopAwake))
	return s
}

func (s *atomicLoopState) Load() loopState { return loopState(s.v.Load()) }
func (s *atomicLoopState) Store(v loopState) { s.v.Store(uint32(v)) }
func (s *atomicLoopState) CAS(from, to loopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// ConnState is the connection's state machine. It is a
// small closed enum with explicit, checked transitions — never virtual
// dispatch.
type ConnState uint8

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// atomicConnState wraps a ConnState for fields read from foreign
// goroutines (IsConnected, Send, Shutdown, ForceClose) while written only
// on the owning loop.
type atomicConnState struct {
	v atomic.Uint32
}

func (s *atomicConnState) Load() ConnState    { return ConnState(s.v.Load()) }
func (s *atomicConnState) Store(st ConnState) { s.v.Store(uint32(st)) }

// ConnectorState is the connector's state machine.
type ConnectorState uint8

const (
	ConnectorDisconnected ConnectorState = iota
	ConnectorConnecting
	ConnectorConnected
	ConnectorDisconnecting
)

func (s ConnectorState) String() string {
	switch s {
	case ConnectorDisconnected:
		return "disconnected"
	case ConnectorConnecting:
		return "connecting"
	case ConnectorConnected:
		return "connected"
	case ConnectorDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// regState is a Channel's poller registration state.
type regState uint8

const (
	regUnadded regState = iota
	regAdded
	regDeleted
)
