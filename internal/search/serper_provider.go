package search

import (
	"context"
	"fmt"
	"net/http"

	"github.com/codefionn/appforge/internal/config"
)

const serperEndpoint = "https://google.serper.dev/search"

// SerperProvider implements Provider for google.serper.dev
type SerperProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewSerperProvider creates a new Serper search provider
func NewSerperProvider(cfg config.SerperConfig, client *http.Client) *SerperProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &SerperProvider{
		apiKey:   cfg.APIKey,
		endpoint: serperEndpoint,
		client:   client,
	}
}

// WithEndpoint overrides the API endpoint
func (s *SerperProvider) WithEndpoint(endpoint string) *SerperProvider {
	s.endpoint = endpoint
	return s
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
}

type serperResponse struct {
	Organic []serperOrganic `json:"organic"`
}

type serperOrganic struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

// Search returns Serper's organic Google results
func (s *SerperProvider) Search(ctx context.Context, query string, numResults int) (*Response, error) {
	numResults = ClampResults(numResults)

	var found serperResponse
	err := postJSON(ctx, s.client, "serper", s.endpoint, http.Header{"X-Api-Key": {s.apiKey}}, serperRequest{Q: query, Num: numResults}, &found)
	if err != nil {
		return nil, err
	}

	out := &Response{Query: query, Results: make([]Result, 0, numResults)}
	for _, r := range found.Organic {
		if len(out.Results) == numResults {
			break
		}
		if r.Link != "" {
			out.Results = append(out.Results, Result{Title: r.Title, URL: r.Link, Snippet: snippetOf(r.Snippet)})
		}
	}
	return out, nil
}

// Name returns the provider name
func (s *SerperProvider) Name() string {
	return "serper"
}

// Validate checks if the provider is properly configured
func (s *SerperProvider) Validate() error {
	if s.apiKey == "" {
		return fmt.Errorf("serper API key is not configured")
	}
	return nil
}
