package keywords

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keyquill/keyquill/internal/pkg/env"
)

const defaultMetricsBaseURL = "https://metrics.example.com/v1"

// KeywordMetrics is the search-volume data for one keyword.
type KeywordMetrics struct {
	Keyword     string  `json:"keyword"`
	Volume      int64   `json:"volume"`
	Difficulty  float64 `json:"difficulty"`
	CPCCents    int64   `json:"cpc_cents"`
	Competition float64 `json:"competition"`
}

// MetricsClient fetches search-volume metrics in batches.
type MetricsClient struct {
	APIKey  string
	BaseURL string

	HTTPClient *http.Client
}

// NewMetricsClientFromEnv builds a metrics client from environment configuration.
func NewMetricsClientFromEnv() *MetricsClient {
	return &MetricsClient{
		APIKey:  strings.TrimSpace(env.GetEnv("METRICS_API_KEY", "")),
		BaseURL: strings.TrimSpace(env.GetEnv("METRICS_API_BASE_URL", defaultMetricsBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Lookup returns metrics for the given keywords, preserving request order
// where the provider reports them.
func (c *MetricsClient) Lookup(ctx context.Context, kws []string) ([]KeywordMetrics, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("METRICS_API_KEY is not configured")
	}
	if len(kws) == 0 {
		return nil, errors.New("at least one keyword is required")
	}

	payload, err := json.Marshal(map[string]interface{}{"keywords": kws})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/keywords/metrics", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

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
		return nil, fmt.Errorf("metrics api returned status %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}

	var out struct {
		Metrics []KeywordMetrics `json:"metrics"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.Metrics, nil
}
