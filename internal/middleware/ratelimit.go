package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/response"
)

// RateLimiter enforces a fixed one-minute window per user, counted in Redis
// so the limit holds across server instances.
type RateLimiter struct {
	rdb       *redis.Client
	perMinute int
	now       func() time.Time
	log       zerolog.Logger
}

// NewRateLimiter creates a RateLimiter allowing perMinute requests per user.
// A perMinute of zero or less disables limiting.
func NewRateLimiter(rdb *redis.Client, perMinute int, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:       rdb,
		perMinute: perMinute,
		now:       time.Now,
		log:       log.With().Str("component", "rate_limiter").Logger(),
	}
}

// Middleware limits requests by the authenticated user. It must run after a
// JWT middleware. When Redis is unreachable requests are let through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.rdb == nil || rl.perMinute <= 0 {
			c.Next()
			return
		}
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		now := rl.now()
		key := config.CacheKey.CodeRunRateKey(claims.UserID, now)
		ctx := c.Request.Context()

		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, time.Minute)
		if _, err := pipe.Exec(ctx); err != nil {
			rl.log.Warn().Err(err).Int64("user_id", claims.UserID).Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		count := incr.Val()
		remaining := int64(rl.perMinute) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.perMinute))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.perMinute) {
			reset := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
			c.Header("Retry-After", strconv.Itoa(int(reset.Seconds())+1))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
