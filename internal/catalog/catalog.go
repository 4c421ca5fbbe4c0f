// Package catalog is the registry of models users may chat with.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/models"
)

var ErrModelNotEnabled = errors.New("catalog: model not enabled")

const enabledKey = "models:enabled"

type Registry struct {
	db    *gorm.DB
	cache *gocache.Cache
}

func New(db *gorm.DB, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Registry{db: db, cache: gocache.New(ttl, 2*ttl)}
}

// Enabled lists enabled models, highest priority first. An empty table
// yields the built-in fallback list so a fresh install can still chat.
func (r *Registry) Enabled(ctx context.Context) ([]models.AIModel, error) {
	if v, ok := r.cache.Get(enabledKey); ok {
		return slices.Clone(v.([]models.AIModel)), nil
	}

	var list []models.AIModel
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority DESC").
		Order("name ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	if len(list) == 0 {
		list = Fallback()
	}
	r.cache.SetDefault(enabledKey, list)
	return slices.Clone(list), nil
}

// Validate resolves a requested model id against the enabled list.
func (r *Registry) Validate(ctx context.Context, modelID string) (models.AIModel, error) {
	modelID = strings.TrimSpace(modelID)
	list, err := r.Enabled(ctx)
	if err != nil {
		return models.AIModel{}, err
	}
	for _, m := range list {
		if m.ModelID == modelID {
			return m, nil
		}
	}
	return models.AIModel{}, fmt.Errorf("%w: %q", ErrModelNotEnabled, modelID)
}

// Default is the model flagged default, else the highest priority one.
func (r *Registry) Default(ctx context.Context) (models.AIModel, error) {
	list, err := r.Enabled(ctx)
	if err != nil {
		return models.AIModel{}, err
	}
	for _, m := range list {
		if m.IsDefault {
			return m, nil
		}
	}
	return list[0], nil
}

func (r *Registry) Invalidate() {
	r.cache.Delete(enabledKey)
}

func Fallback() []models.AIModel {
	return []models.AIModel{
		{ModelID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B Instant", Category: "Llama", Enabled: true, IsDefault: true, Priority: 100},
		{ModelID: "gemma2-9b-it", Name: "Gemma2 9B", Category: "Google", Enabled: true, Priority: 80},
	}
}
