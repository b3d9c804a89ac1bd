package search

import (
	"context"
	"errors"
	"net/http"

	"github.com/codefionn/appforge/internal/config"
)

const exaEndpoint = "https://api.exa.ai/search"

// ExaProvider searches with the Exa API (api.exa.ai)
type ExaProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewExaProvider(cfg config.ExaConfig, client *http.Client) *ExaProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &ExaProvider{apiKey: cfg.APIKey, endpoint: exaEndpoint, client: client}
}

// WithEndpoint overrides the API endpoint
func (e *ExaProvider) WithEndpoint(endpoint string) *ExaProvider {
	e.endpoint = endpoint
	return e
}

type exaSearchRequest struct {
	Query         string             `json:"query"`
	NumResults    int                `json:"numResults,omitempty"`
	UseAutoprompt bool               `json:"useAutoprompt,omitempty"`
	Contents      exaContentsOptions `json:"contents,omitempty"`
}

type exaContentsOptions struct {
	Text bool `json:"text,omitempty"`
}

type exaSearchResponse struct {
	Results []exaResult `json:"results"`
}

type exaResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Text    string `json:"text,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Search queries Exa with text contents enabled. Results without a snippet
// get one cut from the page text.
func (e *ExaProvider) Search(ctx context.Context, query string, numResults int) (*Response, error) {
	numResults = ClampResults(numResults)

	var found exaSearchResponse
	err := postJSON(ctx, e.client, "exa", e.endpoint, http.Header{"X-Api-Key": {e.apiKey}}, exaSearchRequest{
		Query:         query,
		NumResults:    numResults,
		UseAutoprompt: true,
		Contents:      exaContentsOptions{Text: true},
	}, &found)
	if err != nil {
		return nil, err
	}

	out := &Response{Query: query, Results: make([]Result, 0, numResults)}
	for _, r := range found.Results {
		if len(out.Results) == numResults {
			break
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = snippetOf(r.Text)
		}
		out.Results = append(out.Results, Result{Title: r.Title, URL: r.URL, Snippet: snippet})
	}
	return out, nil
}

func (e *ExaProvider) Name() string { return "exa" }

func (e *ExaProvider) Validate() error {
	if e.apiKey == "" {
		return errors.New("exa API key is not configured")
	}
	return nil
}
