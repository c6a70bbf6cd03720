// Package ratelimit throttles requests per client key with one token bucket
// per key.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/dalemusser/axiom/internal/app/system/jsonutil"
	"golang.org/x/time/rate"
)

// Config controls the limiter. PerMinute is the sustained rate and Burst the
// number of requests a fresh client may make at once.
type Config struct {
	Enabled   bool
	PerMinute int
	Burst     int
	// IdleTTL is how long an untouched client bucket is kept before Sweep drops it.
	IdleTTL time.Duration
}

// DefaultConfig suits the authentication endpoints.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		PerMinute: 10,
		Burst:     5,
		IdleTTL:   10 * time.Minute,
	}
}

type client struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one bucket per key. It is safe for concurrent use.
type Limiter struct {
	cfg     Config
	limit   rate.Limit
	clients sync.Map // map[string]*client
	now     func() time.Time
}

// New creates a Limiter. Non-positive values fall back to DefaultConfig.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = def.PerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	return &Limiter{
		cfg:   cfg,
		limit: rate.Limit(float64(cfg.PerMinute) / 60),
		now:   time.Now,
	}
}

// Enabled reports whether the middleware enforces limits.
func (l *Limiter) Enabled() bool {
	return l != nil && l.cfg.Enabled
}

func (l *Limiter) client(key string) *client {
	if c, ok := l.clients.Load(key); ok {
		return c.(*client)
	}
	c, _ := l.clients.LoadOrStore(key, &client{limiter: rate.NewLimiter(l.limit, l.cfg.Burst)})
	return c.(*client)
}

// Allow takes one token from key's bucket. When the bucket is empty it
// returns false and how long until a token is available; the rejected
// request consumes nothing.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	c := l.client(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = now

	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Sweep drops buckets idle for longer than IdleTTL and returns how many it removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.cfg.IdleTTL)
	removed := 0
	l.clients.Range(func(key, value any) bool {
		c := value.(*client)
		c.mu.Lock()
		idle := c.lastSeen.Before(cutoff)
		c.mu.Unlock()
		if idle {
			l.clients.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	l.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// KeyFunc derives the bucket key from a request. An empty key is never limited.
type KeyFunc func(*http.Request) string

// RejectFunc writes the response for a throttled request.
type RejectFunc func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)

// Middleware limits requests by keyFn. Throttled requests go to onReject,
// or get a JSON 429 when onReject is nil.
func (l *Limiter) Middleware(keyFn KeyFunc, onReject RejectFunc) func(http.Handler) http.Handler {
	if onReject == nil {
		onReject = RejectJSON
	}
	return func(next http.Handler) http.Handler {
		if !l.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if ok, retryAfter := l.Allow(key); !ok {
				onReject(w, r, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RejectJSON answers 429 with the API error envelope and Retry-After.
func RejectJSON(w http.ResponseWriter, _ *http.Request, retryAfter time.Duration) {
	jsonutil.TooManyRequests(w, retryAfter)
}
