package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIConfig configures an OpenAI-compatible chat-completions client. BaseURL
// may point at any compatible relay; Model defaults to a small fast model fit
// for chat replies.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient calls the /chat/completions endpoint of an OpenAI-compatible API.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIClient returns a client with defaults applied. The http.Client
// carries no timeout of its own; deadlines come from the per-call context.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &OpenAIClient{cfg: cfg, httpClient: &http.Client{}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends the prompt and returns the first choice. One request, no
// retries; a 429 or 5xx surfaces to the caller as an error.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (Reply, error) {
	if c.cfg.APIKey == "" {
		return Reply{}, fmt.Errorf("openai: api key not configured")
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxReplyTokens,
		Temperature: temperature,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Reply{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil {
			return Reply{}, fmt.Errorf("openai: %s: %s", resp.Status, out.Error.Message)
		}
		return Reply{}, fmt.Errorf("openai: unexpected status %s", resp.Status)
	}
	if len(out.Choices) == 0 {
		return Reply{}, ErrEmptyReply
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return Reply{}, ErrEmptyReply
	}
	tokens := out.Usage.TotalTokens
	if tokens == 0 {
		tokens = estimateTokens(prompt, text)
	}
	return Reply{Text: text, Tokens: tokens}, nil
}
