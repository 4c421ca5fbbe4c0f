package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/auth"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

const (
	UserIDKey   = "user_id"
	UsernameKey = "username"
)

// AuthRequired validates the bearer token and stores the caller's id and
// username on the context.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !found || token == "" {
			common.Abort(c, http.StatusUnauthorized, common.CodeUnauthorized, "missing bearer token")
			return
		}

		p, err := auth.ParseJWT(secret, token)
		if err != nil {
			common.Abort(c, http.StatusUnauthorized, common.CodeUnauthorized, "invalid or expired token")
			return
		}

		c.Set(UserIDKey, p.UserID)
		c.Set(UsernameKey, p.Username)
		c.Next()
	}
}
