package ai

import (
	"net/http"
	"time"
)

// NewOpenRouterProvider adds OpenRouter's optional attribution headers.
func NewOpenRouterProvider(baseURL, apiKey, siteURL, appName string, client *http.Client, responseTimeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenAIProvider{
		Name:    "openrouter",
		BaseURL: baseURL,
		APIKey:  apiKey,
		Headers: map[string]string{
			"HTTP-Referer": siteURL,
			"X-Title":      appName,
		},
		Client:          client,
		ResponseTimeout: responseTimeout,
	}
}
