package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
)

type chatRequest struct {
	Message     string   `json:"message"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"maxTokens"`
	SessionID   string   `json:"sessionId"`
}

// turnRequest resolves the catalog model; the pipeline validates the rest.
func (h *Handler) turnRequest(ctx context.Context, uid uint64, req chatRequest) (chat.TurnRequest, error) {
	out := chat.TurnRequest{
		UserID:      uid,
		SessionID:   req.SessionID,
		Message:     req.Message,
		Model:       strings.TrimSpace(req.Model),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if out.Model == "" || h.Catalog == nil {
		return out, nil
	}
	m, err := h.Catalog.Validate(ctx, out.Model)
	if err != nil {
		return chat.TurnRequest{}, err
	}
	out.UpstreamModel = m.Upstream()
	return out, nil
}

// sseWriter writes rendered events straight to the response and flushes
// each one.
type sseWriter struct {
	w gin.ResponseWriter
}

func (s sseWriter) WriteFrame(event string) error {
	if _, err := io.WriteString(s.w, event); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// StreamChat runs one chat turn as an event stream. Until the first event is
// written every failure is an ordinary JSON error response.
func (h *Handler) StreamChat(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeBadRequest, "invalid json")
		return
	}

	ctx := c.Request.Context()
	turnReq, err := h.turnRequest(ctx, uid, req)
	if err != nil {
		failErr(c, err, "resolve model failed")
		return
	}
	turn, err := h.Pipeline.Prepare(ctx, turnReq)
	if err != nil {
		failErr(c, err, "prepare chat turn failed")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	res := turn.Relay(ctx, sseWriter{w: c.Writer})
	if res.Err != nil || res.PersistErr != nil {
		middleware.Logger(c).WithField("session_id", res.SessionID).
			WithField("outcome", res.Outcome).
			Warn("chat stream ended with errors")
	}
}

// EnqueueChat stores the user turn and queues the reply for a worker. With an
// Idempotency-Key the same job is returned for repeated submissions.
func (h *Handler) EnqueueChat(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, common.CodeUnavailable, "async chat is not enabled")
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeBadRequest, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, common.CodeBadRequest, "idempotency key too long")
		return
	}

	ctx := c.Request.Context()
	turnReq, err := h.turnRequest(ctx, uid, req)
	if err != nil {
		failErr(c, err, "resolve model failed")
		return
	}
	if idempoKey != "" {
		turnReq.IdempotencyKey = &idempoKey
	}

	job, created, err := h.Pipeline.EnqueueTurn(ctx, turnReq)
	if err != nil {
		failErr(c, err, "enqueue chat turn failed")
		return
	}

	// enqueue only when a new job was created
	if created {
		if err := h.Jobs.PublishJob(ctx, job.ID); err != nil {
			middleware.Logger(c).WithError(err).WithField("job_id", job.ID).Error("publish job failed")
			common.Fail(c, http.StatusServiceUnavailable, common.CodeUnavailable, "enqueue failed")
			return
		}
	}

	c.JSON(http.StatusAccepted, common.Envelope{Code: common.CodeOK, Message: "ok", Data: gin.H{
		"job_id":     job.ID,
		"session_id": job.SessionID,
		"status":     job.Status,
		"created":    created,
	}})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, common.CodeBadRequest, "job_id required")
		return
	}

	j, err := h.Pipeline.GetJob(c.Request.Context(), uid, jobID)
	if err != nil {
		failErr(c, err, "get job failed")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":                j.ID,
			"session_id":        j.SessionID,
			"model":             j.Model,
			"status":            j.Status,
			"result_message_id": j.ResultMessageID,
			"error":             j.Error,
			"created_at":        j.CreatedAt,
			"updated_at":        j.UpdatedAt,
		},
	})
}
