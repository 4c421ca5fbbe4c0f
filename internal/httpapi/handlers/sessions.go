package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/common"
)

func (h *Handler) ListSessions(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	list, err := h.Sessions.ListSessions(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err, "list sessions failed")
		return
	}
	common.OK(c, gin.H{"sessions": list})
}

func (h *Handler) GetSession(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	sess, msgs, err := h.Sessions.Transcript(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		failErr(c, err, "get session failed")
		return
	}
	common.OK(c, gin.H{"session": sess, "messages": msgs})
}

func (h *Handler) ListSessionMessages(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, common.CodeBadRequest, "invalid before_id")
			return
		}
		beforeID = n
	}

	msgs, next, err := h.Sessions.Messages(c.Request.Context(), uid, c.Param("session_id"), limit, beforeID)
	if err != nil {
		failErr(c, err, "list messages failed")
		return
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": next,
	})
}

type renameReq struct {
	Title string `json:"title"`
}

func (h *Handler) RenameSession(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeBadRequest, "invalid json")
		return
	}
	if err := h.Sessions.RenameSession(c.Request.Context(), uid, c.Param("session_id"), req.Title); err != nil {
		failErr(c, err, "rename session failed")
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id"), "title": req.Title})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Sessions.DeleteSession(c.Request.Context(), uid, c.Param("session_id")); err != nil {
		failErr(c, err, "delete session failed")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}
