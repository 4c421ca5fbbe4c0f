package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider speaks the OpenAI-compatible /chat/completions streaming
// API. Groq, OpenRouter and Ollama's /v1 endpoint all use it.
type OpenAIProvider struct {
	Name    string
	BaseURL string
	APIKey  string
	// sent on every request, e.g. OpenRouter's attribution headers
	Headers map[string]string
	Client  *http.Client
	// ResponseTimeout bounds one whole exchange, body included.
	ResponseTimeout time.Duration
}

type chatCompletionReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

func (p *OpenAIProvider) OpenStream(ctx context.Context, in Request) (*Stream, error) {
	if p.Client == nil {
		return nil, fmt.Errorf("%s: http client is nil", p.Name)
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		return nil, fmt.Errorf("%s: model is required", p.Name)
	}
	if len(in.Messages) == 0 {
		return nil, fmt.Errorf("%s: messages are required", p.Name)
	}

	b, err := json.Marshal(chatCompletionReq{
		Model:       model,
		Messages:    in.Messages,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}

	var cancel context.CancelFunc
	if p.ResponseTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.ResponseTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	for k, v := range p.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrUpstreamConnect, p.Name, SanitizeError(err.Error()))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		resp.Body.Close()
		cancel()
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = "empty body"
		}
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrUpstreamConnect, p.Name, resp.StatusCode, SanitizeError(msg))
	}

	return newStream(ctx, cancel, resp.Body), nil
}
