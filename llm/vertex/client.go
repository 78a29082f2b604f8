// Package vertex implements llm.Client against Vertex AI's Gemini models,
// adapted from agents/cortex/llm/vertexai.Client (which builds a
// multi-action orchestration prompt for Cortex) down to a single
// system/user completion call, since every fleet agent already builds
// its own structured prompt in the llm package.
package vertex

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// Config holds Vertex AI project/location/model selection.
type Config struct {
	Project  string
	Location string
	Model    string
}

// ConfigFromEnv builds a Config from GCP_PROJECT (also checked by
// cmd/fleet), GCP_LOCATION, and VERTEX_AI_MODEL; internal/config's
// LLM_MODEL is not consulted.
func ConfigFromEnv() Config {
	return Config{
		Project:  envOrDefault("GCP_PROJECT", "your-project"),
		Location: envOrDefault("GCP_LOCATION", "us-central1"),
		Model:    envOrDefault("VERTEX_AI_MODEL", "gemini-2.0-flash"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Client implements llm.Client using the genai SDK against Vertex AI.
type Client struct {
	cfg    Config
	client *genai.Client
}

// NewClient constructs a Client from cfg.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex: creating client: %w", err)
	}
	return &Client{cfg: cfg, client: gc}, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	chat, err := c.client.Chats.Create(ctx, c.cfg.Model, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   int32(maxTokens),
		Temperature:       genai.Ptr(float32(0.3)),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("vertex: creating chat: %w", err)
	}

	result, err := chat.SendMessage(ctx, genai.Part{Text: user})
	if err != nil {
		return "", fmt.Errorf("vertex: sending message: %w", err)
	}

	if len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
		if text := result.Candidates[0].Content.Parts[0].Text; text != "" {
			return text, nil
		}
	}
	return "", fmt.Errorf("vertex: empty response")
}
