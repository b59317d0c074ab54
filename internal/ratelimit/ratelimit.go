// Package ratelimit holds one token bucket per key (client IP).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupEvery = 5 * time.Minute
	idleAfter    = 10 * time.Minute
)

type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     float64
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New allows rps events per second per key with a burst of 2*rps. Idle keys
// are dropped until ctx is done.
func New(ctx context.Context, rps float64) *Limiter {
	l := &Limiter{
		limiters: make(map[string]*entry),
		rate:     rps,
	}
	go l.cleanup(ctx)
	return l
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		burst := int(l.rate) * 2
		if burst < 1 {
			burst = 1
		}
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.rate), burst)}
		l.limiters[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.dropIdle(now.Add(-idleAfter))
		}
	}
}

func (l *Limiter) dropIdle(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}
