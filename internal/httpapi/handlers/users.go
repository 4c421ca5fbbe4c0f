package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
)

// Usage reports the caller's quota with rollover applied. It never writes.
func (h *Handler) Usage(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	u, err := h.Quota.Usage(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err, "load usage failed")
		return
	}
	common.OK(c, u)
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	username, _ := c.Get(middleware.UsernameKey)
	common.OK(c, gin.H{"id": uid, "username": username})
}
