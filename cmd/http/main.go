package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slidespeaker/internal/artifacts"
	"slidespeaker/internal/config"
	"slidespeaker/internal/endpoints"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/repository"
	"slidespeaker/internal/server"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

func main() {
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	db.WithCache(stateManager.Client())

	store, err := storage.NewProviderFromConfig(ctx)
	if err != nil {
		slog.Error("Failed to create storage provider", "error", err)
		os.Exit(1)
	}

	registry := artifacts.NewRegistry(stateManager, config.OutputDir)
	sessions := endpoints.NewSessionStore(stateManager.Client())
	handlers := endpoints.NewHandlers(taskQueue, stateManager, db, store, registry, sessions)

	srv := server.NewServer(port, handlers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed to start", "error", err)
			cancel()
		}
	}()
	slog.Info("SlideSpeaker HTTP server started", "port", port)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	} else {
		slog.Info("Server exited gracefully")
	}
}
