package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

// bucketKey identifies who a request is charged to. Terminals that name
// their operator in X-Actor get a bucket each, so several tills behind
// one NAT gateway do not starve each other.
func bucketKey(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return "actor:" + actor
	}
	return "ip:" + c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type bucketSet struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
}

func (s *bucketSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (s *bucketSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) > limiterIdleAfter {
			delete(s.buckets, key)
		}
	}
}

// RateLimiter returns a token bucket middleware keyed by X-Actor, or by
// client IP when the header is absent. Idle buckets are swept until ctx
// is done.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	set := &bucketSet{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
	}

	go func() {
		t := time.NewTicker(limiterSweepEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				set.sweep(now)
			}
		}
	}()

	return func(c *gin.Context) {
		now := time.Now()
		l := set.get(bucketKey(c), now)

		r := l.ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
