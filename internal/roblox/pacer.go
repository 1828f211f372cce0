// Package roblox – request pacing.
//
// The public profile API rate limits aggressively. The pacer enforces a
// minimum spacing between outgoing requests (token bucket, burst 1) and
// tracks consecutive rate-limit responses: after a threshold it imposes a
// cooldown window during which calls fail fast instead of hammering the API.
// All bookkeeping lives behind one mutex so concurrent verification checks do
// not race on backoff state.
package roblox

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type pacer struct {
	limiter *rate.Limiter

	mu            sync.Mutex
	consecutive   int
	cooldownUntil time.Time

	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// newPacer builds a pacer spacing requests at least minInterval apart and
// entering cooldown after threshold consecutive rate-limit responses.
func newPacer(minInterval time.Duration, threshold int, cooldown time.Duration) *pacer {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &pacer{
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// acquire blocks until the minimum inter-request spacing allows another call.
// During a cooldown window it returns ErrRateLimited immediately rather than
// queueing more traffic behind a limiter the remote side already tripped.
func (p *pacer) acquire(ctx context.Context) error {
	p.mu.Lock()
	inCooldown := p.now().Before(p.cooldownUntil)
	p.mu.Unlock()

	if inCooldown {
		return ErrRateLimited
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return ErrTransient
	}
	return nil
}

// onRateLimited records a 429 from the remote API. Crossing the threshold
// starts the cooldown window.
func (p *pacer) onRateLimited() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutive++
	if p.consecutive >= p.threshold {
		p.cooldownUntil = p.now().Add(p.cooldown)
		p.consecutive = 0
	}
}

// onSuccess resets the consecutive-limit counter.
func (p *pacer) onSuccess() {
	p.mu.Lock()
	p.consecutive = 0
	p.mu.Unlock()
}
