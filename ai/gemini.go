package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient generates replies via Google's Gemini API. Alternative provider
// for deployments without an OpenAI key; selected by AI_PROVIDER=gemini.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key not configured")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Generate sends one prompt. Single attempt, deadline from ctx.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (Reply, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	result, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](temperature),
			MaxOutputTokens:   maxReplyTokens,
		},
	)
	if err != nil {
		return Reply{}, fmt.Errorf("gemini: generate: %w", err)
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return Reply{}, ErrEmptyReply
	}
	tokens := 0
	if result.UsageMetadata != nil {
		tokens = int(result.UsageMetadata.TotalTokenCount)
	}
	if tokens == 0 {
		tokens = estimateTokens(prompt, text)
	}
	return Reply{Text: text, Tokens: tokens}, nil
}
