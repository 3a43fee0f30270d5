package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// Limiters hands out one token bucket per key and forgets keys that have
// been idle for ten minutes.
type Limiters struct {
	r        rate.Limit
	b        int
	limiters sync.Map
	sweeps   atomic.Int64
}

func NewLimiters(r rate.Limit, b int) *Limiters {
	return &Limiters{r: r, b: b}
}

// Allow takes a token from key's bucket.
func (l *Limiters) Allow(key string) bool {
	now := time.Now()
	v, _ := l.limiters.LoadOrStore(key, &keyedLimiter{limiter: rate.NewLimiter(l.r, l.b)})
	kl := v.(*keyedLimiter)
	kl.lastSeen.Store(now.UnixNano())
	l.maybeSweep(now)
	return kl.limiter.Allow()
}

func (l *Limiters) maybeSweep(now time.Time) {
	last := l.sweeps.Load()
	if now.UnixNano()-last < int64(5*time.Minute) || !l.sweeps.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-10 * time.Minute).UnixNano()
	l.limiters.Range(func(k, v interface{}) bool {
		if v.(*keyedLimiter).lastSeen.Load() < cutoff {
			l.limiters.Delete(k)
		}
		return true
	})
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimitBy(NewLimiters(r, b), func(c *gin.Context) string { return c.ClientIP() })
}

// RateLimitUser limits authenticated routes per player, falling back to
// the client IP. It must run after Auth.
func RateLimitUser(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimitBy(NewLimiters(r, b), func(c *gin.Context) string {
		if uid := GetUserID(c); uid != 0 {
			return "u:" + strconv.FormatInt(uid, 10)
		}
		return c.ClientIP()
	})
}

func RateLimitBy(l *Limiters, key func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
