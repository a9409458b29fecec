package llm

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultVertexModel is used when Config.Model is empty
const DefaultVertexModel = "gemini-1.5-pro"

// VertexClient implements Generator with Gemini models on Vertex AI
type VertexClient struct {
	client *genai.Client
	model  string
}

// NewVertexClient creates a Vertex AI client for cfg.Project and cfg.Location
func NewVertexClient(ctx context.Context, cfg Config) (*VertexClient, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, fmt.Errorf("%w: vertex project and location are required", ErrMissingCredentials)
	}

	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultVertexModel
	}

	return &VertexClient{client: client, model: model}, nil
}

// Generate runs prompt against a fresh model handle so per-call options never leak between callers
func (c *VertexClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxOutputTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(opts.MaxOutputTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("vertex generation failed: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Close releases the underlying gRPC connection
func (c *VertexClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}
