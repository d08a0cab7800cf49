package llm

import (
	"context"
	"fmt"
	"time"

	"soulforge/internal/logging"

	"google.golang.org/genai"
)

// GenAICapability implements Capability against Google's Gemini API via
// the official genai SDK, generalizing the client-construction and
// per-call timing pattern the embedding engine already uses for Embed.
type GenAICapability struct {
	client *genai.Client
	model  string
}

// NewGenAICapability constructs a capability bound to one Gemini model.
func NewGenAICapability(ctx context.Context, apiKey, model string) (*GenAICapability, error) {
	log := logging.Get(logging.CategoryLLM)

	if apiKey == "" {
		return nil, fmt.Errorf("llm: GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	start := time.Now()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	log.Debugw("genai client constructed", "latency", time.Since(start), "model", model)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create genai client: %w", err)
	}

	return &GenAICapability{client: client, model: model}, nil
}

// Generate issues a single-turn text generation call.
func (c *GenAICapability) Generate(ctx context.Context, prompt string) (string, error) {
	log := logging.Get(logging.CategoryLLM)
	start := time.Now()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	latency := time.Since(start)

	if err != nil {
		log.Warnw("genai generate failed", "latency", latency, "err", err)
		return "", fmt.Errorf("llm: generate failed: %w", err)
	}

	text := result.Text()
	if err := CheckErrorSentinel(text); err != nil {
		return "", err
	}

	log.Debugw("genai generate ok", "latency", latency, "response_len", len(text))
	return text, nil
}
