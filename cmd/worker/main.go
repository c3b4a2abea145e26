package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"slidespeaker/internal/artifacts"
	"slidespeaker/internal/config"
	"slidespeaker/internal/pipeline"
	"slidespeaker/internal/providers"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/repository"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
	"slidespeaker/internal/worker"
)

func main() {
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down gracefully", "signal", sig)
		cancel()
	}()

	stateManager, err := state.NewManager(ctx)
	if err != nil {
		slog.Error("Failed to connect state manager", "error", err)
		os.Exit(1)
	}
	taskQueue := queue.NewQueueWithClient(stateManager.Client())

	db, err := repository.Open(ctx)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := storage.NewProviderFromConfig(ctx)
	if err != nil {
		slog.Error("Failed to create storage provider", "error", err)
		os.Exit(1)
	}

	openAI := providers.NewOpenAIClient()
	deps := pipeline.Deps{
		State:      stateManager,
		Queue:      taskQueue,
		Storage:    store,
		LLM:        openAI,
		TTS:        providers.NewOpenAITTS(),
		Images:     providers.NewOpenAIImages(),
		Vision:     openAI,
		Media:      providers.NewFFmpeg(),
		Artifacts:  artifacts.NewRegistry(stateManager, config.OutputDir),
		UploadsDir: config.UploadsDir,
		OutputDir:  config.OutputDir,
	}

	coordinator := pipeline.NewCoordinator(deps)
	w := worker.New(taskQueue, coordinator, db)
	w.Run(ctx)
}
