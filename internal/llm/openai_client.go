package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	openAIDefaultBaseURL     = "https://api.openai.com/v1"
	openRouterDefaultBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAIClient streams chat completions from OpenAI or any compatible
// endpoint (OpenRouter, local gateways).
type OpenAIClient struct {
	client  openai.Client
	model   string
	baseURL string
}

// NewOpenAIClient constructs a chat-completions client. An empty baseURL
// targets the OpenAI API.
func NewOpenAIClient(apiKey, modelName, baseURL string, opts ...option.RequestOption) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai client requires an API key")
	}
	model := strings.TrimSpace(modelName)
	if model == "" {
		return nil, fmt.Errorf("openai client requires a model")
	}
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}

	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}, opts...)

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   model,
		baseURL: baseURL,
	}, nil
}

// NewOpenRouterClient constructs an OpenAIClient for openrouter.ai
func NewOpenRouterClient(apiKey, modelName, baseURL string, opts ...option.RequestOption) (*OpenAIClient, error) {
	if baseURL == "" {
		baseURL = openRouterDefaultBaseURL
	}
	opts = append([]option.RequestOption{
		option.WithHeader("X-Title", "appforge"),
	}, opts...)
	return NewOpenAIClient(apiKey, modelName, baseURL, opts...)
}

func (c *OpenAIClient) GetModelName() string {
	return c.model
}

func (c *OpenAIClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: convertMessagesToOpenAI(req.SystemPrompt, req.Messages),
	}
	if len(params.Messages) == 0 {
		return fmt.Errorf("openai request requires at least one message")
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := callback(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai stream failed (%s): %w", c.baseURL, err)
	}
	return nil
}

func convertMessagesToOpenAI(systemPrompt string, messages []*Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		result = append(result, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		switch normalizeRole(msg.Role) {
		case "assistant":
			result = append(result, openai.AssistantMessage(msg.Content))
		case "system":
			result = append(result, openai.SystemMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}
