package models

import "time"

// AIModel is one entry of the model catalog served by /api/chat/models.
type AIModel struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	ModelID     string `gorm:"type:varchar(128);uniqueIndex;not null"`
	Name        string `gorm:"type:varchar(128);not null"`
	Description string `gorm:"type:varchar(512)"`
	Category    string `gorm:"type:varchar(64);index"`
	Enabled     bool   `gorm:"not null;index"`
	IsDefault   bool   `gorm:"not null"`
	Priority    int    `gorm:"not null"`
	// provider-side identifier; empty means same as ModelID
	UpstreamModelID string `gorm:"type:varchar(128)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AIModel) TableName() string { return "ai_models" }

func (m *AIModel) Upstream() string {
	if m.UpstreamModelID != "" {
		return m.UpstreamModelID
	}
	return m.ModelID
}
