// Package docsearch is the adapter to the document search service, an
// external collaborator that runs semantic search over ingested campaign
// reports. Ingestion itself is out of scope; only the search contract lives
// here.
package docsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 5 * time.Second
	defaultTopK    = 3
)

// Snippet is one scored document fragment with provenance.
type Snippet struct {
	Text      string  `json:"snippet"`
	SourceRef string  `json:"source_ref"`
	Score     float32 `json:"score"`
}

// Client calls the document search service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	topK       int
}

// New creates a Client for the given base URL. timeout bounds each call and
// topK caps the result count; pass 0 for the defaults.
func New(baseURL string, timeout time.Duration, topK int) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 0},
		timeout:    timeout,
		topK:       topK,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Results []Snippet `json:"results"`
}

// Search returns the top-K snippets matching the query, ordered by score.
// An empty result list is a valid response, not an error.
func (c *Client) Search(ctx context.Context, query string) ([]Snippet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(searchRequest{Query: query, TopK: c.topK})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document search: unexpected status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return sr.Results, nil
}
