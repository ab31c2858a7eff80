package channel

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out sends per chat so multi-chunk replies stay under platform
// flood limits. Safe for concurrent use.
type Pacer struct {
	interval time.Duration
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPacer allows burst sends per chat immediately and one more every
// interval. A non-positive interval disables pacing.
func NewPacer(interval time.Duration, burst int) *Pacer {
	if burst < 1 {
		burst = 1
	}

	return &Pacer{
		interval: interval,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until chatID may send again or ctx is done.
func (p *Pacer) Wait(ctx context.Context, chatID string) error {
	if p == nil || p.interval <= 0 {
		return nil
	}

	return p.limiter(chatID).Wait(ctx)
}

func (p *Pacer) limiter(chatID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[chatID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.interval), p.burst)
		p.limiters[chatID] = limiter
	}

	return limiter
}
