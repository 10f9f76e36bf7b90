package netreactor

// ratelimit.go wires github.com/joeycumines/go-catrate into the ambient
// logging path: the acceptor's accept-error branch and a connection's
// SO_ERROR/read-error logging can both be driven by a misbehaving peer or
// an exhausted descriptor table into a tight loop of log lines. A
// per-category sliding-window limiter caps that without touching control
// flow — Allow only ever gates the log line, never the decision.

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// errorLogRates bounds noisy error logging to at most 5 lines/second and
// 60/minute per category, which is generous enough not to lose a real
// incident's signal while absorbing a burst.
var errorLogRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// errorLogLimiter is shared process-wide; categories (e.g. "accept-error",
// "conn-error", "conn-write") keep distinct budgets from each other.
var errorLogLimiter = catrate.NewLimiter(errorLogRates)

// logRateLimited logs through l at the given level, category, and format,
// unless the category's rate budget for this moment is exhausted.
func logRateLimited(l Logger, level LogLevel, category string, format string, args ...any) {
	if _, ok := errorLogLimiter.Allow(category); !ok {
		return
	}
	l.Logf(level, format, args...)
}
