package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/PauFou/form-builder-sub001/internal/handler"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
)

const rateLimitWindow = time.Minute

// RateLimiter is a fixed per-minute window keyed by (client ip, path),
// backed by redis so every API instance shares the same counts.
type RateLimiter struct {
	client *redis.Client
	limit  int
	logger *logger.Logger
}

func NewRateLimiter(client *redis.Client, limit int, log *logger.Logger) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	return &RateLimiter{client: client, limit: limit, logger: log}
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rl:%s:%s", c.ClientIP(), c.FullPath())

		count, retryAfter, err := rl.hit(c.Request.Context(), key)
		if err != nil {
			// Redis trouble must not take the ingest path down.
			rl.logger.Error(err, "rate limit check failed")
			c.Next()
			return
		}

		if count > int64(rl.limit) {
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			resp := handler.NewErrorResponse("RATE_LIMITED", "rate limit exceeded")
			resp.RetryAfter = retryAfter
			c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) hit(ctx context.Context, key string) (count int64, retryAfter int, err error) {
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rateLimitWindow)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	retryAfter = int(ttl.Val().Seconds())
	if retryAfter <= 0 {
		retryAfter = int(rateLimitWindow.Seconds())
	}
	return incr.Val(), retryAfter, nil
}
