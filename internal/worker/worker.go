// Package worker runs the queue-pop/dispatch loop that drives task
// pipelines. Multiple workers may run concurrently; the queue's atomic pop
// delivers each task to exactly one of them.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"slidespeaker/internal/pipeline"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/repository"
)

// Worker pops tasks and dispatches them to the pipeline coordinator.
type Worker struct {
	queue       *queue.Queue
	coordinator *pipeline.Coordinator
	repo        *repository.DB
}

// New creates a worker. repo may be nil; task-row updates are best effort.
func New(q *queue.Queue, coordinator *pipeline.Coordinator, repo *repository.DB) *Worker {
	return &Worker{queue: q, coordinator: coordinator, repo: repo}
}

// setStatus updates the queue record and mirrors processing and terminal
// statuses onto the task row.
func (w *Worker) setStatus(ctx context.Context, taskID, status, errMsg string) {
	if err := w.queue.UpdateStatus(ctx, taskID, status, errMsg); err != nil {
		slog.Error("Failed to update task status", "task_id", taskID, "error", err)
	}
	if w.repo == nil {
		return
	}
	switch status {
	case queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled, queue.StatusProcessing:
		if err := w.repo.UpdateTask(ctx, taskID, status, errMsg); err != nil && !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("Failed to update task row", "task_id", taskID, "error", err)
		}
	}
}

// Run loops until the context is cancelled, processing one task at a time.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Worker started, waiting for tasks")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker shutting down")
			return
		default:
		}

		taskID, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("Failed to pop task", "error", err)
			continue
		}
		if taskID == "" {
			continue
		}
		w.ProcessTask(ctx, taskID)
	}
}

// ProcessTask drives a single task through its pipeline and records the
// terminal status on the queue record.
func (w *Worker) ProcessTask(ctx context.Context, taskID string) {
	record, err := w.queue.GetTask(ctx, taskID)
	if err != nil {
		slog.Error("Failed to load task record", "task_id", taskID, "error", err)
		return
	}
	if record == nil {
		slog.Warn("Popped unknown task", "task_id", taskID)
		return
	}
	if w.queue.IsCancelled(ctx, taskID) {
		slog.Info("Skipping cancelled task", "task_id", taskID)
		w.setStatus(ctx, taskID, queue.StatusCancelled, "")
		return
	}

	w.setStatus(ctx, taskID, queue.StatusProcessing, "")
	slog.Info("Processing task", "task_id", taskID, "task_type", record.TaskType, "file_id", record.Kwargs.FileID)

	err = w.coordinator.AcceptTask(ctx, taskID, record)
	switch {
	case err == nil:
		w.setStatus(ctx, taskID, queue.StatusCompleted, "")
		slog.Info("Task completed", "task_id", taskID)
	case errors.Is(err, pipeline.ErrCancelled):
		w.setStatus(ctx, taskID, queue.StatusCancelled, "")
		slog.Info("Task cancelled", "task_id", taskID)
	default:
		w.setStatus(ctx, taskID, queue.StatusFailed, err.Error())
		slog.Error("Task failed", "task_id", taskID, "error", err)
	}
}
