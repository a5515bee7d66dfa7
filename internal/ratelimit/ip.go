package ratelimit

import (
	"sync"
	"time"

	"backend-skatespots/internal/cache"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// IPLimiter is a token bucket per client address, kept in process memory.
// Idle buckets age out of the cache after ten minutes.
type IPLimiter struct {
	mu       sync.Mutex
	limiters *cache.Cache[*rate.Limiter]
	rps      rate.Limit
	burst    int
}

func NewIPLimiter(perSecond float64, burst, maxClients int) *IPLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPLimiter{
		limiters: cache.New[*rate.Limiter](10*time.Minute, maxClients),
		rps:      rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *IPLimiter) Allow(ip string) bool {
	return l.limiterFor(ip).Allow()
}

func (l *IPLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.limiters.Set(ip, lim)
	return lim
}

// Middleware rejects requests from addresses that exhausted their bucket.
func (l *IPLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Allow(c.IP()) {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many requests")
		}
		return c.Next()
	}
}
