// Package providers wraps the external AI and media services the pipeline
// steps call. Everything is exposed through narrow interfaces so steps stay
// testable without network access.
package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"slidespeaker/internal/config"
)

// LLM generates and transforms text.
type LLM interface {
	// Complete returns the model response for a system+user prompt pair.
	Complete(ctx context.Context, system, user string) (string, error)
}

// Vision analyzes an image and returns a textual description.
type Vision interface {
	Describe(ctx context.Context, imagePath, prompt string) (string, error)
}

// OpenAIClient implements LLM and Vision over the OpenAI API.
type OpenAIClient struct {
	client      *openai.Client
	scriptModel string
	visionModel string
}

// NewOpenAIClient creates a client from the process configuration.
func NewOpenAIClient() *OpenAIClient {
	cfg := openai.DefaultConfig(config.OpenAIAPIKey)
	if config.OpenAIBaseURL != "" {
		cfg.BaseURL = config.OpenAIBaseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		scriptModel: config.ScriptModel,
		visionModel: config.VisionModel,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.scriptModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Describe(ctx context.Context, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", imagePath, err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/png;base64," + encoded,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision analysis failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision analysis returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
