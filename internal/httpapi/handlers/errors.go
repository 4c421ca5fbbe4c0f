package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/catalog"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-relay/internal/quota"
)

// statusFor maps a domain error to the HTTP status, envelope code and the
// message shown to the client.
func statusFor(err error) (int, int, string) {
	switch {
	case errors.Is(err, chat.ErrInvalidRequest), errors.Is(err, catalog.ErrModelNotEnabled):
		return http.StatusBadRequest, common.CodeBadRequest, err.Error()
	case errors.Is(err, quota.ErrUserNotFound):
		return http.StatusUnauthorized, common.CodeUnauthorized, "user not found"
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound, common.CodeNotFound, "session not found or access denied"
	case errors.Is(err, chat.ErrJobNotFound):
		return http.StatusNotFound, common.CodeNotFound, "job not found"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusTooManyRequests, common.CodeTooMany, "daily request limit exceeded"
	case errors.Is(err, quota.ErrConflict):
		return http.StatusTooManyRequests, common.CodeTooMany, "too many concurrent requests, retry"
	case errors.Is(err, ai.ErrUpstreamConnect):
		return http.StatusBadGateway, common.CodeUpstream, ai.SanitizeError(err.Error())
	default:
		return http.StatusInternalServerError, common.CodeInternal, "internal error"
	}
}

func failErr(c *gin.Context, err error, logMsg string) {
	status, code, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.Logger(c).WithError(err).Error(logMsg)
	}
	common.Fail(c, status, code, msg)
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func requireUser(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "unauthorized")
	}
	return uid, ok
}
