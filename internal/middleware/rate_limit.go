package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/metorial/custom-server/internal/utils"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// bucket is a token bucket for one client
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-IP token bucket limiter. Idle buckets expire from the
// underlying cache.
type RateLimiter struct {
	mu       sync.Mutex
	ratePerS float64
	burst    float64
	buckets  *cache.Cache
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing rpm requests per minute with the given burst
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		ratePerS: float64(rpm) / 60.0,
		burst:    float64(burst),
		buckets:  cache.New(15*time.Minute, 5*time.Minute),
		now:      time.Now,
	}
}

// Allow takes one token for key, returning how long to wait when none is left
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	var b *bucket
	if v, ok := l.buckets.Get(key); ok {
		b = v.(*bucket)
	} else {
		b = &bucket{tokens: l.burst, lastRefill: now}
	}
	l.buckets.SetDefault(key, b)

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+elapsed*l.ratePerS)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.ratePerS <= 0 {
		return false, time.Minute
	}
	return false, time.Duration((1 - b.tokens) / l.ratePerS * float64(time.Second))
}

// Middleware rejects clients that exhausted their bucket with 429
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		ok, retry := l.Allow(ip)
		if !ok {
			secs := int(math.Ceil(retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			utils.Logger.Debug("Rate limit exceeded", zap.String("client_ip", ip))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			utils.WriteJSONError(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
