package netreactor

// options.go — functional options for Loop/Server/Client construction.

// LoopOption configures a Loop at construction time.
type LoopOption interface {
	applyLoop(*loopConfig)
}

type loopConfig struct {
	logger      Logger
	pollTimeout int // milliseconds; 10s in production, tests override it
}

type loopOptionFunc func(*loopConfig)

func (f loopOptionFunc) applyLoop(c *loopConfig) { f(c) }

// WithLoopLogger overrides the package-default logger for one Loop.
func WithLoopLogger(l Logger) LoopOption {
	return loopOptionFunc(func(c *loopConfig) { c.logger = l })
}

// withPollTimeoutMillis overrides the epoll_wait timeout. Unexported: the
// 10-second bound is fixed behavior, and this exists only so tests don't
// block for 10s on an idle loop.
func withPollTimeoutMillis(ms int) LoopOption {
	return loopOptionFunc(func(c *loopConfig) { c.pollTimeout = ms })
}

func resolveLoopConfig(opts []LoopOption) *loopConfig {
	cfg := &loopConfig{logger: defaultLogger(), pollTimeout: 10_000}
	for _, opt := range opts {
		if opt != nil {
			opt.applyLoop(cfg)
		}
	}
	return cfg
}

// ServerOption configures a Server at construction time.
type ServerOption interface {
	applyServer(*serverConfig)
}

type serverConfig struct {
	ioThreads      int
	reusePort      bool
	namePrefix     string
	threadInit     func(*Loop)
	connHandler    func(*Connection)
	msgHandler     MessageHandler
	writeDone      func(*Connection)
	highWaterMark  int
	highWaterMarkFn func(*Connection, int)
}

type serverOptionFunc func(*serverConfig)

func (f serverOptionFunc) applyServer(c *serverConfig) { f(c) }

// WithIOThreads sets the I/O pool size: N threads, 0 meaning
// "run everything on the base loop".
func WithIOThreads(n int) ServerOption {
	return serverOptionFunc(func(c *serverConfig) { c.ioThreads = n })
}

// WithReusePort enables SO_REUSEPORT on the listening socket.
func WithReusePort(on bool) ServerOption {
	return serverOptionFunc(func(c *serverConfig) { c.reusePort = on })
}

// WithNamePrefix overrides the prefix used to fabricate stable connection
// names. Defaults to "netreactor-server".
func WithNamePrefix(prefix string) ServerOption {
	return serverOptionFunc(func(c *serverConfig) { c.namePrefix = prefix })
}

// WithThreadInit installs a callback run once on each I/O loop (and on the
// base loop, if ioThreads is 0) before it starts serving.
func WithThreadInit(f func(*Loop)) ServerOption {
	return serverOptionFunc(func(c *serverConfig) { c.threadInit = f })
}

// WithConnectionHandler installs the connection-state callback: invoked once
// when a connection reaches CONNECTED, and once more (as the last
// notification) when it reaches DISCONNECTED.
func WithConnectionHandler(f func(*Connection)) ServerOption {
	return serverOptionFunc(func(c *serverConfig) { c.connHandler = f })
}

// WithMessageHandler installs the message callback, invoked with a mutable
// view of the connection's input buffer on every successful read.
func WithMessageHandler(f MessageHandler) ServerOption {
	return serverOptionFunc(func(c *serverConfig) { c.msgHandler = f })
}

// WithWriteCompleteHandler installs the write-complete callback, invoked
// once the output buffer fully drains.
func WithWriteCompleteHandler(f func(*Connection)) ServerOption {
	return serverOptionFunc(func(c *serverConfig) { c.writeDone = f })
}

// WithHighWaterMark sets the pending-output threshold (bytes) and the
// callback queued exactly once when a write first carries cumulative
// pending output past it.
func WithHighWaterMark(bytes int, f func(*Connection, int)) ServerOption {
	return serverOptionFunc(func(c *serverConfig) {
		c.highWaterMark = bytes
		c.highWaterMarkFn = f
	})
}

// ClientOption configures a Client at construction time.
type ClientOption interface {
	applyClient(*clientConfig)
}

type clientConfig struct {
	connHandler     func(*Connection)
	msgHandler      MessageHandler
	writeDone       func(*Connection)
	highWaterMark   int
	highWaterMarkFn func(*Connection, int)
	retry           bool
}

type clientOptionFunc func(*clientConfig)

func (f clientOptionFunc) applyClient(c *clientConfig) { f(c) }

// WithClientConnectionHandler installs the connection-state callback.
func WithClientConnectionHandler(f func(*Connection)) ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.connHandler = f })
}

// WithClientMessageHandler installs the message callback.
func WithClientMessageHandler(f MessageHandler) ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.msgHandler = f })
}

// WithClientWriteCompleteHandler installs the write-complete callback.
func WithClientWriteCompleteHandler(f func(*Connection)) ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.writeDone = f })
}

// WithClientHighWaterMark sets the pending-output threshold and callback.
func WithClientHighWaterMark(bytes int, f func(*Connection, int)) ClientOption {
	return clientOptionFunc(func(c *clientConfig) {
		c.highWaterMark = bytes
		c.highWaterMarkFn = f
	})
}

// WithRetry enables automatic reconnection after an unexpected disconnect.
// Failed connect attempts are retried with backoff whether or not this is
// set.
func WithRetry(on bool) ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.retry = on })
}

func resolveClientConfig(opts []ClientOption) *clientConfig {
	cfg := &clientConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyClient(cfg)
		}
	}
	return cfg
}
