package ai

import (
	"net/http"
	"time"
)

// NewOllamaProvider targets a local Ollama through its OpenAI-compatible
// endpoint, so it streams the same SSE shape as the hosted providers.
func NewOllamaProvider(baseURL string, client *http.Client, responseTimeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return &OpenAIProvider{
		Name:            "ollama",
		BaseURL:         baseURL,
		Client:          client,
		ResponseTimeout: responseTimeout,
	}
}
