package api

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting. The bucket starts full
// and regains one token every minute/requestsPerMinute.
type RateLimiter struct {
	tokens chan struct{}
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}

	rl := &RateLimiter{
		tokens: make(chan struct{}, requestsPerMinute),
		ticker: time.NewTicker(time.Minute / time.Duration(requestsPerMinute)),
		done:   make(chan struct{}),
	}

	// Fill initial tokens
	for i := 0; i < requestsPerMinute; i++ {
		rl.tokens <- struct{}{}
	}

	go rl.refill()
	return rl
}

func (rl *RateLimiter) refill() {
	for {
		select {
		case <-rl.ticker.C:
			select {
			case rl.tokens <- struct{}{}:
			default:
			}
		case <-rl.done:
			return
		}
	}
}

// Wait blocks until a token is available or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-rl.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the refill goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() {
		rl.ticker.Stop()
		close(rl.done)
	})
}
