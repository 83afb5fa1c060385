package tcp

import "sync/atomic"

// ConnLimiter bounds the number of in-flight connections (queued in the pool
// plus being handled). A limit <= 0 only counts.
type ConnLimiter struct {
	limit    int64
	active   int64 // atomic
	rejected int64 // atomic
}

// NewConnLimiter creates a limiter admitting at most limit connections.
func NewConnLimiter(limit int) *ConnLimiter {
	if limit < 0 {
		limit = 0
	}
	return &ConnLimiter{limit: int64(limit)}
}

// TryAcquire reserves a slot without blocking. It returns false when the
// limit is reached.
func (l *ConnLimiter) TryAcquire() bool {
	if l.limit == 0 {
		atomic.AddInt64(&l.active, 1)
		return true
	}
	for {
		cur := atomic.LoadInt64(&l.active)
		if cur >= l.limit {
			atomic.AddInt64(&l.rejected, 1)
			return false
		}
		if atomic.CompareAndSwapInt64(&l.active, cur, cur+1) {
			return true
		}
	}
}

// Release frees a slot taken by TryAcquire.
func (l *ConnLimiter) Release() {
	atomic.AddInt64(&l.active, -1)
}

// Active returns the number of held slots.
func (l *ConnLimiter) Active() int64 {
	return atomic.LoadInt64(&l.active)
}

// Rejected returns how many TryAcquire calls failed.
func (l *ConnLimiter) Rejected() int64 {
	return atomic.LoadInt64(&l.rejected)
}

// Limit returns the configured limit, 0 meaning unlimited.
func (l *ConnLimiter) Limit() int {
	return int(l.limit)
}
