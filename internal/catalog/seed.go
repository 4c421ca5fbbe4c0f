package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/models"
)

var defaultModels = []models.AIModel{
	{ModelID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B Instant", Description: "Fastest model, good for quick responses", Category: "Llama", Priority: 100, IsDefault: true},
	{ModelID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile", Description: "Latest Llama model, most capable", Category: "Llama", Priority: 90},
	{ModelID: "gemma2-9b-it", Name: "Gemma2 9B", Description: "Google's Gemma2 model, 9B parameters", Category: "Google", Priority: 80},
	{ModelID: "deepseek-r1-distill-llama-70b", Name: "DeepSeek R1 Distill", Description: "DeepSeek's distilled model based on Llama 70B", Category: "DeepSeek", Priority: 70},
	{ModelID: "meta-llama/llama-4-maverick-17b-128e-instruct", Name: "Llama 4 Maverick 17B", Description: "Meta's Llama 4 model", Category: "Llama", Priority: 60},
	{ModelID: "meta-llama/llama-4-scout-17b-16e-instruct", Name: "Llama 4 Scout 17B", Description: "Meta's Scout model for instruction following", Category: "Llama", Priority: 50},
	{ModelID: "qwen/qwen3-32b", Name: "Qwen 3 32B", Description: "Alibaba's Qwen model, 32B parameters", Category: "Qwen", Priority: 40},
	{ModelID: "moonshotai/kimi-k2-instruct", Name: "Kimi K2 Instruct", Description: "Moonshot AI's Kimi model", Category: "Kimi", Priority: 30},
	{ModelID: "openai/gpt-oss-20b", Name: "GPT-OSS 20B", Description: "OpenAI's open-weight model, 20B parameters", Category: "OpenAI", Priority: 5},
	{ModelID: "openai/gpt-oss-120b", Name: "GPT-OSS 120B", Description: "OpenAI's open-weight model, 120B parameters", Category: "OpenAI", Priority: 1},
}

// Seed inserts the default catalog entries that are missing. Existing rows,
// including ones an operator disabled, are left alone.
func Seed(ctx context.Context, db *gorm.DB) (int, error) {
	created := 0
	for _, m := range defaultModels {
		var existing models.AIModel
		err := db.WithContext(ctx).Where("model_id = ?", m.ModelID).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return created, fmt.Errorf("catalog: seed lookup %s: %w", m.ModelID, err)
		}
		row := m
		row.Enabled = true
		if err := db.WithContext(ctx).Create(&row).Error; err != nil {
			return created, fmt.Errorf("catalog: seed %s: %w", m.ModelID, err)
		}
		created++
	}
	return created, nil
}
