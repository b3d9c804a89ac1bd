package llm

import (
	"context"
	"strings"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	Messages     []*Message `json:"messages"`
	Temperature  float64    `json:"temperature"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
}

// Client is the interface for LLM clients
type Client interface {
	// Stream sends a streaming completion request. callback receives every
	// non-empty fragment in order, including whitespace-only ones.
	Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error
	// GetModelName returns the model name
	GetModelName() string
}

// Collect streams req and returns the concatenated output
func Collect(ctx context.Context, c Client, req *CompletionRequest) (string, error) {
	var sb strings.Builder
	err := c.Stream(ctx, req, func(chunk string) error {
		sb.WriteString(chunk)
		return nil
	})
	return sb.String(), err
}

func normalizeRole(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return "user"
	}
	return role
}
