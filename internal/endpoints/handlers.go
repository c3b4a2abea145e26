package endpoints

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"slidespeaker/internal/artifacts"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/repository"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// Handlers bundles the dependencies the API layer drives.
type Handlers struct {
	queue    *queue.Queue
	state    *state.Manager
	repo     *repository.DB
	store    storage.Provider
	registry *artifacts.Registry
	sessions *SessionStore
}

// NewHandlers creates the handler set.
func NewHandlers(q *queue.Queue, st *state.Manager, repo *repository.DB, store storage.Provider, registry *artifacts.Registry, sessions *SessionStore) *Handlers {
	return &Handlers{
		queue:    q,
		state:    st,
		repo:     repo,
		store:    store,
		registry: registry,
		sessions: sessions,
	}
}

// ownedTask loads a task row and enforces ownership. A missing task and a
// foreign task are indistinguishable to the caller: both are 404.
func (h *Handlers) ownedTask(c *gin.Context) (*repository.Task, bool) {
	userID, err := GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}
	taskID := c.Param("id")
	task, err := h.repo.GetTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return nil, false
		}
		slog.Error("Failed to load task row", "task_id", taskID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task"})
		return nil, false
	}
	if task.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return nil, false
	}
	return task, true
}

// submitTask enqueues a task, inserts the task row (best effort) and binds
// the task<->file mapping.
func (h *Handlers) submitTask(ctx context.Context, taskType, userID string, kwargs queue.TaskKwargs) (string, error) {
	taskID, err := h.queue.Submit(ctx, taskType, userID, kwargs)
	if err != nil {
		return "", err
	}
	if kwargs.FileID != "" {
		if err := h.state.BindTask(ctx, kwargs.FileID, taskID); err != nil {
			slog.Warn("Failed to bind task mapping", "task_id", taskID, "error", err)
		}
	}
	row := &repository.Task{
		ID:       taskID,
		UploadID: kwargs.FileID,
		TaskType: taskType,
		Status:   queue.StatusQueued,
		Kwargs: map[string]any{
			"voice_language":      kwargs.VoiceLanguage,
			"subtitle_language":   kwargs.SubtitleLanguage,
			"transcript_language": kwargs.TranscriptLanguage,
			"generate_video":      kwargs.GenerateVideo,
			"generate_podcast":    kwargs.GeneratePodcast,
			"generate_subtitles":  kwargs.GenerateSubtitles,
		},
		VoiceLanguage:    kwargs.VoiceLanguage,
		SubtitleLanguage: kwargs.SubtitleLanguage,
	}
	if err := h.repo.InsertTask(ctx, row); err != nil {
		slog.Warn("Failed to insert task row", "task_id", taskID, "error", err)
	}
	return taskID, nil
}

// HandleHealth reports substrate reachability.
func (h *Handlers) HandleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	status := gin.H{"service": "slidespeaker", "status": "healthy"}
	if _, err := h.queue.Length(ctx); err != nil {
		status["status"] = "degraded"
		status["queue"] = err.Error()
	}
	c.JSON(http.StatusOK, status)
}

// HandleStatistics returns the caller's task statistics.
func (h *Handlers) HandleStatistics(c *gin.Context) {
	userID, err := GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	stats, err := h.repo.GetStatistics(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
