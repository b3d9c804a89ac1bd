package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 8192
)

// AnthropicClient implements the Client interface using the official Anthropic SDK.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates an Anthropic client backed by the official SDK.
func NewAnthropicClient(apiKey, modelName string, opts ...option.RequestOption) (*AnthropicClient, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("anthropic client requires an API key")
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultAnthropicModel
	}

	opts = append([]option.RequestOption{option.WithAPIKey(key)}, opts...)
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

func (c *AnthropicClient) GetModelName() string {
	return c.model
}

func (c *AnthropicClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	params, err := c.buildMessageParams(req)
	if err != nil {
		return err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	if stream == nil {
		return fmt.Errorf("anthropic stream failed: no stream returned")
	}
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()

		deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta)
		if !ok || textDelta.Text == "" {
			continue
		}
		if err := callback(textDelta.Text); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream failed: %w", err)
	}
	return nil
}

func (c *AnthropicClient) buildMessageParams(req *CompletionRequest) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic completion request cannot be nil")
	}

	systemBlocks, chatMessages := convertMessagesToAnthropic(req.SystemPrompt, req.Messages)
	if len(chatMessages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic completion requires at least one user or assistant message")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  chatMessages,
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params, nil
}

// convertMessagesToAnthropic merges consecutive same-role messages, which
// the Messages API rejects.
func convertMessagesToAnthropic(systemPrompt string, messages []*Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	systemBlocks := make([]anthropic.TextBlockParam, 0, 1)
	if sys := strings.TrimSpace(systemPrompt); sys != "" {
		systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: sys})
	}

	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}

		role := anthropic.MessageParamRoleUser
		switch normalizeRole(msg.Role) {
		case "system":
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: msg.Content})
			continue
		case "assistant":
			role = anthropic.MessageParamRoleAssistant
		}

		if n := len(chatMessages); n > 0 && chatMessages[n-1].Role == role {
			chatMessages[n-1].Content = append(chatMessages[n-1].Content, anthropic.NewTextBlock(msg.Content))
			continue
		}
		chatMessages = append(chatMessages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}
	return systemBlocks, chatMessages
}
