package gateway

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"infra-monitor/pkg/db"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/telemetry"

	"github.com/gin-gonic/gin"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func decide(count int64, max int, windowStart time.Time, window time.Duration) Decision {
	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(max),
		Limit:     max,
		Remaining: remaining,
		ResetAt:   windowStart.Add(window),
	}
}

type windowCount struct {
	start time.Time
	count int64
}

// MemoryLimiter keeps counters in process. Suitable for a single gateway
// instance.
type MemoryLimiter struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu        sync.Mutex
	counters  map[string]*windowCount
	lastSweep time.Time
}

func NewMemoryLimiter(window time.Duration, max int) *MemoryLimiter {
	return &MemoryLimiter{
		window:   window,
		max:      max,
		now:      time.Now,
		counters: make(map[string]*windowCount),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	start := l.now().Truncate(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !start.Equal(l.lastSweep) {
		for k, wc := range l.counters {
			if wc.start.Before(start) {
				delete(l.counters, k)
			}
		}
		l.lastSweep = start
	}

	wc, ok := l.counters[key]
	if !ok {
		wc = &windowCount{start: start}
		l.counters[key] = wc
	}
	wc.count++
	return decide(wc.count, l.max, start, l.window), nil
}

// RedisLimiter shares counters between gateway instances.
type RedisLimiter struct {
	redis  *db.RedisClient
	window time.Duration
	max    int
	now    func() time.Time
}

func NewRedisLimiter(client *db.RedisClient, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{redis: client, window: window, max: max, now: time.Now}
}

func (l *RedisLimiter) key(client string, start time.Time) string {
	return l.redis.Key("ratelimit", client, strconv.FormatInt(start.Unix(), 10))
}

func (l *RedisLimiter) Allow(ctx context.Context, client string) (Decision, error) {
	start := l.now().Truncate(l.window)
	key := l.key(client, start)

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return decide(incr.Val(), l.max, start, l.window), nil
}

// RateLimit rejects clients over their window budget with 429. Limiter
// errors let the request through.
func RateLimit(limiter Limiter, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("Rate limiter unavailable, allowing request", logger.Err(err))
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			retry := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
			if retry < 1 {
				retry = 1
			}
			h.Set("Retry-After", strconv.Itoa(retry))
			if metrics != nil {
				metrics.RecordRateLimited()
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later."})
			return
		}
		c.Next()
	}
}
