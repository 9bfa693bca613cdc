package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// visitor is one rate-limit bucket, keyed by player or client IP.
type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// RateLimit applies a token bucket per caller: authenticated requests
// are keyed by player ID so a player cannot widen their budget by
// rotating addresses, everything else by client IP. r is the refill
// rate per second, b the burst. Idle buckets are pruned in-line during
// lookups; there is no background sweeper to stop.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	var (
		mu        sync.Mutex
		visitors  = make(map[string]*visitor)
		lastSweep = time.Now()
	)

	take := func(key string) bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastSweep) > 5*time.Minute {
			for k, v := range visitors {
				if now.Sub(v.lastSeen) > 10*time.Minute {
					delete(visitors, k)
				}
			}
			lastSweep = now
		}

		v, ok := visitors[key]
		if !ok {
			v = &visitor{bucket: rate.NewLimiter(r, b)}
			visitors[key] = v
		}
		v.lastSeen = now
		return v.bucket.Allow()
	}

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if pid := GetPlayerID(c); pid != 0 {
			key = "player:" + strconv.FormatInt(pid, 10)
		}
		if !take(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
