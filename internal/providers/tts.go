package providers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"

	"slidespeaker/internal/config"
)

// TTS synthesizes speech from text into a local audio file.
type TTS interface {
	Synthesize(ctx context.Context, text, voice, outPath string) error
}

// OpenAITTS implements TTS over the OpenAI speech API.
type OpenAITTS struct {
	client *openai.Client
	model  string
}

// NewOpenAITTS creates a speech client from the process configuration.
func NewOpenAITTS() *OpenAITTS {
	cfg := openai.DefaultConfig(config.OpenAIAPIKey)
	if config.OpenAIBaseURL != "" {
		cfg.BaseURL = config.OpenAIBaseURL
	}
	return &OpenAITTS{
		client: openai.NewClientWithConfig(cfg),
		model:  config.TTSModel,
	}
}

func (t *OpenAITTS) Synthesize(ctx context.Context, text, voice, outPath string) error {
	if voice == "" {
		voice = config.TTSVoice
	}
	resp, err := t.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(t.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", outPath, err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return nil
}
