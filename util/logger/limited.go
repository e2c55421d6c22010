package logger

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitedLogger forwards warnings and errors to a Logger at a bounded rate.
// Messages over the limit are counted and the count is reported with the
// next message that gets through.
type LimitedLogger struct {
	base       *Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// Limited wraps l so that at most burst messages pass immediately and one more
// passes every interval after that.
func (l *Logger) Limited(interval time.Duration, burst int) *LimitedLogger {
	if burst < 1 {
		burst = 1
	}
	return &LimitedLogger{
		base:    l,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Warnf logs a warning unless the rate limit is exhausted
func (ll *LimitedLogger) Warnf(format string, args ...interface{}) {
	ll.logf(WARN, format, args...)
}

// Errorf logs an error unless the rate limit is exhausted
func (ll *LimitedLogger) Errorf(format string, args ...interface{}) {
	ll.logf(ERROR, format, args...)
}

// Suppressed returns how many messages are waiting to be reported as dropped.
func (ll *LimitedLogger) Suppressed() int64 {
	return ll.suppressed.Load()
}

func (ll *LimitedLogger) logf(level LogLevel, format string, args ...interface{}) {
	if !ll.limiter.Allow() {
		ll.suppressed.Add(1)
		return
	}
	if n := ll.suppressed.Swap(0); n > 0 {
		format += " (%d similar messages suppressed)"
		args = append(args, n)
	}
	ll.base.log(level, format, args...)
}
