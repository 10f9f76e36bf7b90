// Package netreactor is a single-host, epoll-based non-blocking TCP
// networking runtime: an event loop bound to epoll, a timerfd-backed timer
// queue, a connection object mediating a socket with read/write buffers, an
// acceptor, a connector with exponential-backoff reconnect, and a fixed pool
// of I/O threads among which new connections are distributed round-robin.
//
// # Architecture
//
// Every loop is pinned to the goroutine that calls [Loop.Run]; every
// mutation of a channel, timer, or connection must happen on that goroutine.
// Foreign goroutines may only enqueue closures via [Loop.RunInLoop] or
// [Loop.QueueInLoop], which the owning goroutine drains once per tick. An
// eventfd wakes a sleeping loop when a closure arrives from elsewhere.
//
// A [Connection] is held by shared ownership: its owner (server or client)
// keeps it alive in a registry, while its [Channel] holds only a weak
// reference, upgraded for the duration of each dispatch, so a connection can
// never be destroyed out from under a callback that is still running
// against it.
//
// # Platform support
//
// This package targets Linux only: it is built directly on epoll, eventfd,
// and timerfd, none of which have portable equivalents worth abstracting
// over for this spec's scope.
package netreactor
