package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/synesthesie/listings/internal/config"
)

// UploadRateLimit limits image uploads per client IP and calendar day.
// Mount it on upload routes only.
func UploadRateLimit(redisClient *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.UploadRateLimitPerDay <= 0 {
			c.Next()
			return
		}

		// upload_limit:{ip}:{date}, resets at midnight
		now := time.Now()
		key := fmt.Sprintf("upload_limit:%s:%s", c.ClientIP(), now.Format("2006-01-02"))
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

		count, ttl, err := hit(c.Request.Context(), redisClient, key, midnight.Sub(now))
		if err != nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Msg("upload rate limiter unavailable")
			c.Next()
			return
		}

		if count > int64(cfg.UploadRateLimitPerDay) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "upload_rate_limit_exceeded",
				"message":             "Too many uploads today. Please try again tomorrow.",
				"retry_after_hours":   int(ttl.Hours()),
				"max_uploads_per_day": cfg.UploadRateLimitPerDay,
			})
			return
		}

		c.Next()
	}
}
