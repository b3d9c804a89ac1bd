package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codefionn/appforge/internal/config"
	"github.com/codefionn/appforge/internal/consts"
)

// ErrNotConfigured is returned when no search provider is configured
var ErrNotConfigured = errors.New("web search is not configured")

// Result represents a single search result
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response represents the response from a search provider
type Response struct {
	Results []Result `json:"results"`
	Query   string   `json:"query"`
}

// Provider defines the interface for web search providers
type Provider interface {
	// Search performs a web search with the given query
	Search(ctx context.Context, query string, numResults int) (*Response, error)

	// Name returns the name of the search provider
	Name() string

	// Validate checks if the provider is properly configured
	Validate() error
}

// New builds the provider selected in cfg. An empty provider name yields
// (nil, nil): search is optional.
func New(cfg config.SearchConfig, client *http.Client) (Provider, error) {
	if client == nil {
		client = &http.Client{Timeout: consts.Timeout30Seconds}
	}

	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case "":
		return nil, nil
	case "serper":
		p = NewSerperProvider(cfg.Serper, client)
	case "exa":
		p = NewExaProvider(cfg.Exa, client)
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ClampResults applies the default and the upper bound to a requested
// result count.
func ClampResults(n int) int {
	if n <= 0 {
		return consts.DefaultSearchResults
	}
	if n > consts.MaxSearchResults {
		return consts.MaxSearchResults
	}
	return n
}

func snippetOf(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return s
}

// postJSON sends body to endpoint and decodes a 200 response into out
func postJSON(ctx context.Context, client *http.Client, provider, endpoint string, header http.Header, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", provider, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s API error (status %d): %s", provider, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", provider, err)
	}
	return nil
}
