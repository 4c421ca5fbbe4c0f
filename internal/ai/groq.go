package ai

import (
	"net/http"
	"time"
)

func NewGroqProvider(baseURL, apiKey string, client *http.Client, responseTimeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	return &OpenAIProvider{
		Name:            "groq",
		BaseURL:         baseURL,
		APIKey:          apiKey,
		Client:          client,
		ResponseTimeout: responseTimeout,
	}
}
