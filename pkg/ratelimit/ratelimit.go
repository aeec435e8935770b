// Package ratelimit throttles mutating API calls per authenticated principal.
package ratelimit

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/bturcanu/fleetgov/pkg/auth"
	"github.com/bturcanu/fleetgov/pkg/types"
)

// DefaultMaxKeys bounds the number of per-key limiters kept in memory.
const DefaultMaxKeys = 10000

// Limiter hands out one token bucket per key and evicts the least recently
// used bucket once maxKeys is reached.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	order    []string
	perSec   int
	maxKeys  int
}

// New returns a limiter allowing perSec events per second with a burst of
// twice that. perSec <= 0 disables limiting.
func New(perSec, maxKeys int) *Limiter {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   perSec,
		maxKeys:  maxKeys,
	}
}

// Allow reports whether key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if l.perSec <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if ok {
		// Move to end of LRU order.
		for i, k := range l.order {
			if k == key {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
		l.order = append(l.order, key)
		return lim.Allow()
	}

	if len(l.limiters) >= l.maxKeys {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.limiters, oldest)
	}

	lim = rate.NewLimiter(rate.Limit(l.perSec), l.perSec*2)
	l.limiters[key] = lim
	l.order = append(l.order, key)
	return lim.Allow()
}

// Len reports how many keys currently hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware rejects requests with 429 once the caller's principal exceeds
// its budget. Requests without a principal share the "anonymous" bucket.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := auth.PrincipalFromContext(r.Context())
		if key == "" {
			key = "anonymous"
		}
		if !l.Allow(key) {
			types.ErrRateLimited().WriteJSON(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
