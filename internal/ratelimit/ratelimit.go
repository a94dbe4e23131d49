// Package ratelimit throttles writes per actor. State is per process and is
// not shared between replicas.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type actor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu     sync.Mutex
	actors map[string]*actor

	perSecond rate.Limit
	burst     int
	ttl       time.Duration

	// OnDenied runs outside the lock for every rejected call.
	OnDenied func(key string)
}

type Option func(*Limiter)

// PerMinute allows n events per minute with the given burst.
func PerMinute(n float64, burst int) Option {
	return func(l *Limiter) {
		l.perSecond = rate.Limit(n / 60)
		l.burst = burst
	}
}

func WithTTL(d time.Duration) Option {
	return func(l *Limiter) {
		l.ttl = d
	}
}

func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// New starts a cleanup goroutine that exits when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		actors:    make(map[string]*actor),
		perSecond: rate.Limit(6.0 / 60),
		burst:     5,
		ttl:       10 * time.Minute,
	}
	for _, o := range opts {
		o(l)
	}
	if l.burst < 1 {
		l.burst = 1
	}
	go l.cleanup(ctx)
	return l
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	a, ok := l.actors[key]
	if !ok {
		a = &actor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.actors[key] = a
	}
	a.lastSeen = time.Now()
	allowed := a.limiter.Allow()
	l.mu.Unlock()

	if !allowed && l.OnDenied != nil {
		l.OnDenied(key)
	}
	return allowed
}

func (l *Limiter) cleanup(ctx context.Context) {
	interval := l.ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for key, a := range l.actors {
				if now.Sub(a.lastSeen) > l.ttl {
					delete(l.actors, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
