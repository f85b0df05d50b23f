package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger logs one line per request at Info level, mirroring the
// teacher's structured-logging idiom elsewhere in the repo (log/slog with
// key/value pairs) rather than gin's own text logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// rateLimiter is a local, in-process, non-durable fixed-window limiter
// scoped to the HTTP boundary (spec.md §9's last redesign flag: "if carried
// forward, scope it to the HTTP boundary and document its non-durability;
// it is explicitly outside the core"). It resets on process restart and is
// not shared across replicas — callers must not depend on it for
// correctness, only for local abuse protection.
type rateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string]*windowCounter
}

type windowCounter struct {
	count      int
	windowEnds time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, counters: make(map[string]*windowCounter)}
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.counters[key]
	if !ok || now.After(w.windowEnds) {
		w = &windowCounter{count: 0, windowEnds: now.Add(r.window)}
		r.counters[key] = w
	}
	w.count++
	return w.count <= r.limit
}

// rateLimit returns gin middleware enforcing limit requests per window per
// client IP, responding 429 with the standard error envelope once exceeded.
func rateLimit(limit int, window time.Duration) gin.HandlerFunc {
	rl := newRateLimiter(limit, window)
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorEnvelope{
				Error:   "rate_limited",
				Message: "too many requests",
			})
			return
		}
		c.Next()
	}
}
