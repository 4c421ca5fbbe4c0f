package ai

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUpstreamConnect wraps every failure that happens before the first byte
// of the stream body: dial errors, connect timeouts and non-2xx responses.
var ErrUpstreamConnect = errors.New("upstream connect failed")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Provider opens one streaming chat completion. The returned Stream yields
// raw body lines; interpreting them is the caller's job.
type Provider interface {
	OpenStream(ctx context.Context, req Request) (*Stream, error)
}

// BuildMessages lays out the outbound conversation: the system prompt, then
// the prior history exactly as stored, then the new user turn.
func BuildMessages(systemPrompt string, history []Message, userMessage string) []Message {
	out := make([]Message, 0, len(history)+2)
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	out = append(out, history...)
	return append(out, Message{Role: RoleUser, Content: userMessage})
}
