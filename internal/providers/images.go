package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"

	"slidespeaker/internal/config"
)

// ImageGen renders an illustrative image for a text prompt.
type ImageGen interface {
	Render(ctx context.Context, prompt, outPath string) error
}

// OpenAIImages implements ImageGen over the OpenAI image API.
type OpenAIImages struct {
	client *openai.Client
	model  string
}

// NewOpenAIImages creates an image client from the process configuration.
func NewOpenAIImages() *OpenAIImages {
	cfg := openai.DefaultConfig(config.OpenAIAPIKey)
	if config.OpenAIBaseURL != "" {
		cfg.BaseURL = config.OpenAIBaseURL
	}
	return &OpenAIImages{
		client: openai.NewClientWithConfig(cfg),
		model:  config.ImageModel,
	}
}

func (g *OpenAIImages) Render(ctx context.Context, prompt, outPath string) error {
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Model:          g.model,
		Prompt:         prompt,
		N:              1,
		Size:           openai.CreateImageSize1792x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("image generation returned no data")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return fmt.Errorf("failed to decode image payload: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", outPath, err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return nil
}
