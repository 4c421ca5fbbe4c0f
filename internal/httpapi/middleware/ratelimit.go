package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/metrics"
	"github.com/suPer8Hu/chat-relay/internal/ratelimit"
)

// RateLimit applies the burst limiter per authenticated user, falling back to
// the client IP. It must run after AuthRequired.
func RateLimit(l ratelimit.Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if uid, ok := c.Get(UserIDKey); ok {
			key = fmt.Sprintf("user:%v", uid)
		}
		if !l.Allow(c.Request.Context(), key) {
			m.RecordRejection("rate_limit")
			c.Header("Retry-After", "60")
			common.Abort(c, http.StatusTooManyRequests, common.CodeRateLimited, "too many requests, slow down")
			return
		}
		c.Next()
	}
}
