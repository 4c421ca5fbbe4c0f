package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-relay/internal/common"
)

type modelView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	IsDefault   bool   `json:"isDefault"`
}

func (h *Handler) ListModels(c *gin.Context) {
	list, err := h.Catalog.Enabled(c.Request.Context())
	if err != nil {
		failErr(c, err, "list models failed")
		return
	}
	out := make([]modelView, 0, len(list))
	for _, m := range list {
		out = append(out, modelView{
			ID:          m.ModelID,
			Name:        m.Name,
			Description: m.Description,
			Category:    m.Category,
			IsDefault:   m.IsDefault,
		})
	}
	common.OK(c, gin.H{"models": out})
}
