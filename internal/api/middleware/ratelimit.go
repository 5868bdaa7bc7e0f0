package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter implements fixed window rate limiting using Redis
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
}

// RateLimitConfig defines rate limit rules
type RateLimitConfig struct {
	Name     string                     // Distinguishes limits sharing a key
	Requests int                        // Number of requests allowed
	Window   time.Duration              // Time window
	KeyFunc  func(*http.Request) string // Function to generate rate limit key
}

// NewRateLimiter creates a new rate limiter. A nil client disables limiting.
func NewRateLimiter(redis *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		logger: logger,
	}
}

// Limit returns a middleware that enforces rate limiting
func (rl *RateLimiter) Limit(config RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl.redis == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key := config.KeyFunc(r)
			if key == "" {
				rl.logger.Warn("Rate limit key is empty, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			// Check rate limit
			allowed, remaining, resetTime, err := rl.checkLimit(ctx, key, config)
			if err != nil {
				rl.logger.Error("Rate limit check failed", zap.Error(err))
				// On error, allow request (fail open)
				next.ServeHTTP(w, r)
				return
			}

			// Set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(resetTime).Seconds()), 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"detail": "Rate limit exceeded. Please try again later."})

				rl.logger.Warn("Rate limit exceeded",
					zap.String("key", key),
					zap.String("path", r.URL.Path),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// checkLimit checks if the request is within rate limit
func (rl *RateLimiter) checkLimit(ctx context.Context, key string, config RateLimitConfig) (bool, int, time.Time, error) {
	now := time.Now()
	window := config.Window

	redisKey := windowKey(config.Name, key, now, window)

	// Increment counter
	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, time.Time{}, err
	}

	count := int(incr.Val())
	remaining := config.Requests - count
	if remaining < 0 {
		remaining = 0
	}

	resetTime := windowStart(now, window).Add(window)

	allowed := count <= config.Requests
	return allowed, remaining, resetTime, nil
}

func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

func windowKey(name, key string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", name, key, windowStart(now, window).Unix())
}

// GetRealIP extracts the client IP. chi's RealIP middleware has already
// folded X-Forwarded-For / X-Real-IP into RemoteAddr.
func GetRealIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// KeyByIP generates rate limit key based on IP address
func KeyByIP(r *http.Request) string {
	return fmt.Sprintf("ip:%s", GetRealIP(r))
}

// KeyByUser generates rate limit key based on user ID from context.
// Falls back to IP if no user is in context.
func KeyByUser(r *http.Request) string {
	user := GetUser(r.Context())
	if user != nil && user.ID != "" {
		return fmt.Sprintf("user:%s", user.ID)
	}
	return KeyByIP(r)
}

// GlobalRateLimit applies to all requests from an IP
var GlobalRateLimit = RateLimitConfig{
	Name:     "global",
	Requests: 100,
	Window:   1 * time.Minute,
	KeyFunc:  KeyByIP,
}

// UploadRateLimit applies to media uploads (per user)
var UploadRateLimit = RateLimitConfig{
	Name:     "upload",
	Requests: 20,
	Window:   1 * time.Hour,
	KeyFunc:  KeyByUser,
}

// AskRateLimit applies to question answering (per user)
var AskRateLimit = RateLimitConfig{
	Name:     "ask",
	Requests: 30,
	Window:   1 * time.Minute,
	KeyFunc:  KeyByUser,
}

// WebhookRateLimit applies to webhook endpoints
var WebhookRateLimit = RateLimitConfig{
	Name:     "webhook",
	Requests: 100,
	Window:   1 * time.Minute,
	KeyFunc:  KeyByIP,
}
