package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter applies a per-client token bucket, keyed by remote IP. Entries
// idle past the eviction window are dropped on the next sweep.
type ClientLimiter struct {
	perSec float64
	burst  int

	mu      sync.Mutex
	clients map[string]*clientBucket
	sweep   time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleEviction = 10 * time.Minute

func NewClientLimiter(perSec float64, burst int) *ClientLimiter {
	return &ClientLimiter{
		perSec:  perSec,
		burst:   burst,
		clients: make(map[string]*clientBucket),
		sweep:   time.Now(),
	}
}

func (l *ClientLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.sweep) > limiterIdleEviction {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > limiterIdleEviction {
				delete(l.clients, k)
			}
		}
		l.sweep = now
	}

	b, ok := l.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(l.perSec), l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// Wrap gates h behind the limiter, answering 429 when the bucket is empty.
func (l *ClientLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if l == nil {
			next(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !l.allow(host) {
			writeError(w, http.StatusTooManyRequests, "Too many requests, slow down", "")
			return
		}
		next(w, r)
	}
}
