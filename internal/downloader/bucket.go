package downloader

import (
	"context"
	"sync"
	"time"
)

// Defaults for the shared audio API budget.
const (
	DefaultTokens       = 45
	DefaultRefillPeriod = 300 * time.Second
)

// TokenBucket holds capacity tokens and refills to full once per period.
// Waiters are served in arrival order. A waiter whose context ends gives
// up its place without consuming a token.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	period     time.Duration
	lastRefill time.Time
	queue      []chan struct{}
	timer      *time.Timer
	now        func() time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity int, period time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = DefaultTokens
	}
	if period <= 0 {
		period = DefaultRefillPeriod
	}
	b := &TokenBucket{
		capacity: capacity,
		tokens:   capacity,
		period:   period,
		now:      time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// Acquire takes one token, blocking until one is available or ctx ends.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.refill()
	if len(b.queue) == 0 && b.tokens > 0 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	b.queue = append(b.queue, grant)
	b.serve()
	b.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.remove(grant) {
			return ctx.Err()
		}
		// Granted while we were giving up: hand the token on.
		b.tokens++
		b.serve()
		return ctx.Err()
	}
}

// Available reports the tokens left in the current period.
func (b *TokenBucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Waiting reports how many callers are queued.
func (b *TokenBucket) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// refill must be called with mu held.
func (b *TokenBucket) refill() {
	now := b.now()
	if elapsed := now.Sub(b.lastRefill); elapsed >= b.period {
		b.tokens = b.capacity
		// Keep refills on the period grid.
		b.lastRefill = b.lastRefill.Add(elapsed - elapsed%b.period)
	}
}

// serve hands tokens to queued waiters in order. mu must be held.
func (b *TokenBucket) serve() {
	for len(b.queue) > 0 && b.tokens > 0 {
		b.tokens--
		close(b.queue[0])
		b.queue = b.queue[1:]
	}
	if len(b.queue) > 0 {
		b.schedule()
	}
}

// schedule arms the refill timer if it is not already pending. mu must
// be held.
func (b *TokenBucket) schedule() {
	if b.timer != nil {
		return
	}
	wait := b.lastRefill.Add(b.period).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	b.timer = time.AfterFunc(wait, b.onTimer)
}

func (b *TokenBucket) onTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	b.refill()
	b.serve()
}

func (b *TokenBucket) remove(grant chan struct{}) bool {
	for i, g := range b.queue {
		if g == grant {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return true
		}
	}
	return false
}
