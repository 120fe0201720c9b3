package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// tokenBucket admits up to maxTokens requests per refillInterval window and
// never blocks.
type tokenBucket struct {
	mu             sync.Mutex
	tokens         int
	maxTokens      int
	refillInterval time.Duration
	lastRefill     time.Time
	now            func() time.Time
}

func newTokenBucket(maxTokens int, refillInterval time.Duration) *tokenBucket {
	return &tokenBucket{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillInterval: refillInterval,
		lastRefill:     time.Now(),
		now:            time.Now,
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := b.now().Sub(b.lastRefill)
	if refilled := int(elapsed / b.refillInterval); refilled > 0 {
		b.tokens += refilled
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(refilled) * b.refillInterval)
	}
	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// RateLimit answers 429 once perMinute requests have been admitted in the
// current minute. Zero or less disables the limit.
func RateLimit(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	bucket := newTokenBucket(perMinute, time.Minute/time.Duration(perMinute))
	return rateLimit(bucket)
}

func rateLimit(bucket *tokenBucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !bucket.allow() {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
