package keywords

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keyquill/keyquill/internal/pkg/env"
)

const defaultSERPBaseURL = "https://serpapi.example.com/v1"

// SERPResult is one organic search result for a keyword.
type SERPResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
}

// SERPClient fetches organic results for ranking analysis.
type SERPClient struct {
	APIKey  string
	BaseURL string

	HTTPClient *http.Client
}

// NewSERPClientFromEnv builds a SERP client from environment configuration.
func NewSERPClientFromEnv() *SERPClient {
	return &SERPClient{
		APIKey:  strings.TrimSpace(env.GetEnv("SERP_API_KEY", "")),
		BaseURL: strings.TrimSpace(env.GetEnv("SERP_API_BASE_URL", defaultSERPBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TopResults returns up to limit organic results for the keyword.
func (c *SERPClient) TopResults(ctx context.Context, keyword string, limit int) ([]SERPResult, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("SERP_API_KEY is not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	q := url.Values{}
	q.Set("q", keyword)
	q.Set("num", fmt.Sprintf("%d", limit))
	q.Set("api_key", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("serp api returned status %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}

	var out struct {
		Organic []SERPResult `json:"organic_results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.Organic, nil
}
