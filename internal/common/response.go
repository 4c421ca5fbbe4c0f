package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes carried in the response envelope. The first three digits
// mirror the HTTP status.
const (
	CodeOK           = 0
	CodeBadRequest   = 40001
	CodeUnauthorized = 40101
	CodeNotFound     = 40401
	CodeMethod       = 40501
	CodeTooMany      = 42901
	CodeRateLimited  = 42902
	CodeInternal     = 50001
	CodeUpstream     = 50201
	CodeUnavailable  = 50301
)

type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Code: CodeOK, Message: "ok", Data: data})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, Envelope{Code: code, Message: msg})
}

// Abort is Fail for middleware: it also stops the handler chain.
func Abort(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, Envelope{Code: code, Message: msg})
}
