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

const defaultLLMBaseURL = "https://api.openai.com/v1"

// LLMClient talks to an OpenAI-compatible chat-completions endpoint to expand
// a seed term into keyword ideas.
type LLMClient struct {
	APIKey  string
	Model   string
	BaseURL string

	HTTPClient *http.Client
}

// NewLLMClientFromEnv builds an LLM client from environment configuration.
func NewLLMClientFromEnv() *LLMClient {
	return &LLMClient{
		APIKey:  strings.TrimSpace(env.GetEnv("LLM_API_KEY", "")),
		Model:   strings.TrimSpace(env.GetEnv("LLM_MODEL", "gpt-4o-mini")),
		BaseURL: strings.TrimSpace(env.GetEnv("LLM_API_BASE_URL", defaultLLMBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateKeywords asks the model for up to count keyword ideas around the
// seed term. The model is instructed to answer with a JSON string array; any
// surrounding prose is stripped before decoding.
func (c *LLMClient) GenerateKeywords(ctx context.Context, seed string, count int) ([]string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("LLM_API_KEY is not configured")
	}
	if count <= 0 {
		count = 20
	}

	body := map[string]interface{}{
		"model": c.Model,
		"messages": []chatMessage{
			{Role: "system", Content: "You are a keyword research assistant. Answer with a JSON array of strings only, no prose."},
			{Role: "user", Content: fmt.Sprintf("Suggest %d long-tail keyword ideas for the topic: %s", count, seed)},
		},
		"temperature": 0.7,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
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
		return nil, fmt.Errorf("llm returned status %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}

	var completion struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &completion); err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("llm returned no choices")
	}

	return parseKeywordArray(completion.Choices[0].Message.Content)
}

// parseKeywordArray decodes a JSON string array, tolerating code fences and
// leading prose around the array.
func parseKeywordArray(content string) ([]string, error) {
	s := strings.TrimSpace(content)
	if start := strings.Index(s, "["); start >= 0 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		}
	}
	var keywords []string
	if err := json.Unmarshal([]byte(s), &keywords); err != nil {
		return nil, fmt.Errorf("unexpected llm answer shape: %w", err)
	}
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out, nil
}
