package handlers

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/catalog"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/quota"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
)

// JobPublisher hands a queued job to the workers.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	DB       *gorm.DB
	Redis    *redisstore.Store
	Pipeline *chat.Pipeline
	Sessions *chat.Orchestrator
	Quota    *quota.Gate
	Catalog  *catalog.Registry
	// nil disables the async endpoint
	Jobs JobPublisher
	Log  logrus.FieldLogger
}
