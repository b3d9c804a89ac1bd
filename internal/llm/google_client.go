package llm

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// GoogleGenAIClient implements the Client interface using the official Google GenAI SDK.
type GoogleGenAIClient struct {
	modelName string
	client    *genai.Client
}

// NewGoogleAIClient creates a Google GenAI client for the provided model.
// baseURL is optional.
func NewGoogleAIClient(apiKey, modelName, baseURL string) (*GoogleGenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("google genai client requires an API key")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google GenAI client: %w", err)
	}

	return &GoogleGenAIClient{
		modelName: normalizeGoogleModelName(modelName),
		client:    client,
	}, nil
}

func (c *GoogleGenAIClient) GetModelName() string {
	return c.modelName
}

func (c *GoogleGenAIClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	contents := convertMessagesToGenAI(req.Messages)
	if len(contents) == 0 {
		return fmt.Errorf("google genai request requires at least one message")
	}

	stream := c.client.Models.GenerateContentStream(ctx, c.modelName, contents, buildGenAIGenerationConfig(req))
	for result, err := range stream {
		if err != nil {
			return fmt.Errorf("google genai stream failed: %w", err)
		}
		if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
			continue
		}
		chunk := collectTextFromContent(result.Candidates[0].Content)
		if chunk == "" {
			continue
		}
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return nil
}

func collectTextFromContent(content *genai.Content) string {
	if content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func convertMessagesToGenAI(messages []*Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if normalizeRole(msg.Role) == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

func buildGenAIGenerationConfig(req *CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

func normalizeGoogleModelName(modelName string) string {
	trimmed := strings.TrimSpace(modelName)
	if trimmed == "" {
		return "models/gemini-2.5-flash"
	}

	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "models/") || strings.HasPrefix(lowered, "publishers/") {
		return trimmed
	}
	return "models/" + trimmed
}
