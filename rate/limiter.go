// Package rate keeps one token bucket per key, e.g. per user id.
package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	expiry  time.Duration
	burst   int
	limit   rate.Limit
	clients map[string]*clientLimiter
	mu      sync.Mutex
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewLimiter allows each key burst events at once, refilled at one event per
// interval. Keys idle for longer than expiry are forgotten by Run.
func NewLimiter(burst int, interval time.Duration, expiry time.Duration) *Limiter {
	return &Limiter{
		expiry:  expiry,
		burst:   burst,
		limit:   rate.Every(interval),
		clients: make(map[string]*clientLimiter),
	}
}

func (l *Limiter) Check(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.clients[id]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[id] = cl
	}
	cl.lastAccess = time.Now()
	return cl.limiter.Allow()
}

// Run drops idle keys once a minute until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.sweep(now)
		}
	}
}

func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, v := range l.clients {
		if now.Sub(v.lastAccess) > l.expiry {
			delete(l.clients, id)
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
