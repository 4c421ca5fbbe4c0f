package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/common"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				Logger(c).WithField("panic", r).WithField("stack", string(debug.Stack())).Error("panic recovered")
				if c.Writer.Written() {
					// a stream already started; nothing sane can be sent
					c.Abort()
					return
				}
				common.Abort(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
			}
		}()
		c.Next()
	}
}
