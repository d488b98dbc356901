package httpmiddleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/auth"
	"faceattend/internal/clock"
)

// SimpleTokenBucket is an in-memory rate limiter keyed by device, falling
// back to client IP for unauthenticated routes.
type SimpleTokenBucket struct {
	capacity int
	rate     int
	clock    clock.Clock
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewSimpleTokenBucket creates limiter with capacity tokens and rate per minute.
func NewSimpleTokenBucket(capacity, perMinute int, clk clock.Clock) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &SimpleTokenBucket{
		capacity: capacity,
		rate:     perMinute,
		clock:    clk,
		state:    make(map[string]*bucket),
	}
}

// GinMiddleware returns gin handler enforcing the limits.
func (l *SimpleTokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := auth.DeviceID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !l.allow(key) {
			c.Header("Retry-After", strconv.Itoa(l.retryAfter()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *SimpleTokenBucket) retryAfter() int {
	if l.rate <= 0 {
		return 60
	}
	return max(1, 60/l.rate)
}

func (l *SimpleTokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	refill := int(now.Sub(b.last).Minutes() * float64(l.rate))
	if refill > 0 {
		b.tokens = min(l.capacity, b.tokens+refill)
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
