package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// A bucket refills completely within a minute, so dropping one idle for
// longer than limiterIdleTTL loses nothing.
const limiterIdleTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per key. Buckets of keys that stay idle
// for the idle TTL are evicted.
type RateLimiter struct {
	limiters *cache.Cache
	mutex    sync.Mutex
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
}

// NewRateLimiter allows perMinute requests per key, in bursts of up to
// perMinute. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return newRateLimiter(perMinute, limiterIdleTTL)
}

func newRateLimiter(perMinute int, idleTTL time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: cache.New(idleTTL, idleTTL),
		limit:    rate.Inf,
		burst:    1,
		idleTTL:  idleTTL,
	}
	if perMinute > 0 {
		rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
		rl.burst = perMinute
	}
	return rl
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	var l *rate.Limiter
	if v, ok := rl.limiters.Get(key); ok {
		l = v.(*rate.Limiter)
	} else {
		l = rate.NewLimiter(rl.limit, rl.burst)
	}
	// Every hit pushes the expiry back.
	rl.limiters.Set(key, l, rl.idleTTL)
	rl.mutex.Unlock()
	return l.Allow()
}

// Len is the number of keys with a live bucket.
func (rl *RateLimiter) Len() int {
	rl.limiters.DeleteExpired()
	return rl.limiters.ItemCount()
}

// RateLimitMiddleware limits per authenticated user, or per client IP on
// routes without auth.
func RateLimitMiddleware(perMinute int) gin.HandlerFunc {
	limiter := NewRateLimiter(perMinute)

	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = c.ClientIP()
		}

		if !limiter.Allow(key) {
			log.Warnf("Rate limit exceeded for %s", key)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
