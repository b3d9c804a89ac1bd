package llm

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codefionn/appforge/internal/config"
)

// New creates the client selected by cfg.Provider
func New(cfg config.LLMConfig) (Client, error) {
	var (
		client Client
		err    error
	)
	switch strings.ToLower(cfg.Provider) {
	case "google", "gemini":
		var c *GoogleGenAIClient
		c, err = NewGoogleAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		client = c
	case "anthropic":
		var opts []option.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		var c *AnthropicClient
		c, err = NewAnthropicClient(cfg.APIKey, cfg.Model, opts...)
		client = c
	case "openai":
		var c *OpenAIClient
		c, err = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		client = c
	case "openrouter":
		var c *OpenAIClient
		c, err = NewOpenRouterClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		client = c
	case "scripted":
		if cfg.ScriptPath == "" {
			return nil, fmt.Errorf("scripted provider requires llm.script_path")
		}
		var c *ScriptedClient
		c, err = LoadScript(cfg.ScriptPath, cfg.ScriptChunkSize)
		client = c
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}
