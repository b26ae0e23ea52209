package chat

import (
	"sync/atomic"
	"time"
)

const (
	sendBurst      = 5
	sendRefillRate = 500 * time.Millisecond
)

// SendLimiter is a token bucket guarding outbound sends. Exceeding it is a
// validation failure, rejected before any network action.
type SendLimiter struct {
	token    int32
	rate     time.Duration
	burst    int32
	lastTick int64
}

func NewSendLimiter(tokens int32, rate time.Duration) *SendLimiter {
	return &SendLimiter{
		token:    tokens,
		rate:     rate,
		lastTick: time.Now().UnixNano(),
		burst:    tokens,
	}
}

func DefaultSendLimiter() *SendLimiter {
	return NewSendLimiter(sendBurst, sendRefillRate)
}

func (l *SendLimiter) Allow() bool {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&l.lastTick)
	elapsed := now - last

	generated := int32(elapsed / int64(l.rate))
	if generated > 0 {
		if atomic.CompareAndSwapInt64(&l.lastTick, last, now) {
			current := atomic.LoadInt32(&l.token)
			newBalance := current + generated
			if newBalance > l.burst {
				newBalance = l.burst
			}
			atomic.StoreInt32(&l.token, newBalance)
		}
	}

	for {
		current := atomic.LoadInt32(&l.token)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.token, current, current-1) {
			return true
		}
	}
}
