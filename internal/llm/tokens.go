package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/codefionn/appforge/internal/logger"
)

// TokenCounter counts tokens of a text
type TokenCounter func(text string) int

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// CountTokens counts tokens with the cl100k_base encoding, falling back to
// a character estimate when the encoding cannot be loaded.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Warn("llm: tiktoken unavailable, estimating tokens from length: %v", err)
			return
		}
		encoder = enc
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	return EstimateTokenCount(text)
}

// EstimateTokenCount returns a rough token estimate for the provided content.
func EstimateTokenCount(content string) int {
	runes := utf8.RuneCountInString(content)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}
