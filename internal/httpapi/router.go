package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-relay/internal/metrics"
	"github.com/suPer8Hu/chat-relay/internal/ratelimit"
)

type Deps struct {
	Handler   *handlers.Handler
	JWTSecret string
	Limiter   ratelimit.Limiter
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID(d.Log))
	r.Use(middleware.Recovery())
	r.Use(middleware.AccessLog())
	r.Use(middleware.Metrics(d.Metrics))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, common.CodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, common.CodeMethod, "method not allowed")
	})

	h := d.Handler

	r.GET("/ping", h.Ping)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.AuthRequired(d.JWTSecret))
	api.GET("/me", h.Me)

	// Chat (JWT required)
	chatGroup := api.Group("/chat")
	chatGroup.GET("/usage", h.Usage)
	chatGroup.GET("/models", h.ListModels)
	chatGroup.GET("/sessions", h.ListSessions)
	chatGroup.GET("/sessions/:session_id", h.GetSession)
	chatGroup.GET("/sessions/:session_id/messages", h.ListSessionMessages)
	chatGroup.PUT("/sessions/:session_id/title", h.RenameSession)
	chatGroup.DELETE("/sessions/:session_id", h.DeleteSession)
	chatGroup.GET("/jobs/:job_id", h.GetChatJob)

	limited := chatGroup.Group("")
	limited.Use(middleware.RateLimit(d.Limiter, d.Metrics))
	limited.POST("/stream", h.StreamChat)
	limited.POST("/messages/async", h.EnqueueChat)

	return r
}
