package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mindloom/mindloom/internal/metrics"
)

// Paper is one search hit from the paper-search provider.
type Paper struct {
	Title          string   `json:"title"`
	Year           int      `json:"year"`
	CitationCount  int      `json:"citationCount"`
	ReferenceCount int      `json:"referenceCount"`
	IsOpenAccess   bool     `json:"isOpenAccess"`
	Authors        []string `json:"authors"`
	URL            string   `json:"url"`
	Abstract       string   `json:"abstract"`
}

// PaperSearcher finds papers for a query string.
type PaperSearcher interface {
	Search(ctx context.Context, query string) ([]Paper, error)
}

// PaperQA answers questions against a paper corpus. The response shape is
// provider-defined; callers render it with the layered fallback in
// RenderQAMarkdown.
type PaperQA interface {
	Ask(ctx context.Context, question string) (json.RawMessage, error)
}

// PaperClient talks to the paper search and Q&A REST services.
type PaperClient struct {
	searchURL string
	qaURL     string
	http      *http.Client
}

// NewPaperClient builds the REST client for both paper services.
func NewPaperClient(searchURL, qaURL string) *PaperClient {
	return &PaperClient{
		searchURL: strings.TrimRight(searchURL, "/"),
		qaURL:     strings.TrimRight(qaURL, "/"),
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *PaperClient) Search(ctx context.Context, query string) ([]Paper, error) {
	u := fmt.Sprintf("%s/search?query=%s", c.searchURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ProviderCallDuration.WithLabelValues("paper_search").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("paper search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paper search status %d", resp.StatusCode)
	}

	var body struct {
		Papers []Paper `json:"papers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return body.Papers, nil
}

func (c *PaperClient) Ask(ctx context.Context, question string) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return nil, fmt.Errorf("encode question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.qaURL+"/ask", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build qa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ProviderCallDuration.WithLabelValues("paper_qa").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("paper qa: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paper qa status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read qa response: %w", err)
	}
	return json.RawMessage(raw), nil
}
