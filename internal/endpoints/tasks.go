package endpoints

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"slidespeaker/internal/queue"
	"slidespeaker/internal/state"
)

// HandleListTasks lists the caller's tasks with pagination and an optional
// status filter.
func (h *Handlers) HandleListTasks(c *gin.Context) {
	userID, err := GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.Query("status")

	tasks, err := h.repo.ListTasks(c.Request.Context(), limit, offset, status, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "limit": limit, "offset": offset})
}

// HandleGetTask returns the task row plus, while running, the detailed
// runtime state.
func (h *Handlers) HandleGetTask(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}
	response := gin.H{"task": task}
	if st, err := h.state.GetStateByTask(c.Request.Context(), task.ID); err == nil && st != nil {
		response["state"] = st
	}
	c.JSON(http.StatusOK, response)
}

// HandleGetProgress returns the progress view of a task.
func (h *Handlers) HandleGetProgress(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	st, err := h.state.GetStateByTask(ctx, task.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load state"})
		return
	}
	if st == nil {
		// State expired or not yet materialized: fall back to the row.
		c.JSON(http.StatusOK, gin.H{
			"task_id":  task.ID,
			"status":   task.Status,
			"progress": progressForRowStatus(task.Status),
			"steps":    gin.H{},
			"errors":   []state.TaskErrorEntry{},
		})
		return
	}

	steps := make([]gin.H, 0, len(st.StepOrder))
	for _, name := range st.OrderedStepNames() {
		snap := st.Steps[name]
		steps = append(steps, gin.H{
			"step":   name,
			"name":   state.DisplayName(name),
			"status": snap.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id":      task.ID,
		"file_id":      st.FileID,
		"status":       st.Status,
		"progress":     st.Progress(),
		"current_step": st.CurrentStep,
		"steps":        steps,
		"errors":       st.Errors,
		"updated_at":   st.UpdatedAt,
	})
}

func progressForRowStatus(status string) int {
	if status == queue.StatusCompleted {
		return 100
	}
	return 0
}

// HandleCancelTask flags a task for cancellation; effective within one step
// boundary.
func (h *Handlers) HandleCancelTask(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cancelled, err := h.queue.Cancel(ctx, task.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel task"})
		return
	}
	if !cancelled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Task cannot be cancelled (already completed or not found)"})
		return
	}
	if err := h.repo.UpdateTask(ctx, task.ID, queue.StatusCancelled, ""); err != nil {
		slog.Warn("Failed to update task row", "task_id", task.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancelled successfully"})
}

type retryRequest struct {
	Step string `json:"step"`
}

// HandleRetryTask resets a failed task from a resume step and re-enqueues
// it. Resume step resolution: explicit -> last failed from errors -> first
// failed in order -> current step -> first step.
func (h *Handlers) HandleRetryTask(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}
	if task.Status != queue.StatusFailed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only failed tasks can be retried"})
		return
	}

	var req retryRequest
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	st, err := h.state.GetStateByTask(ctx, task.ID)
	if err != nil || st == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Task state unavailable; cannot resume"})
		return
	}

	resumeStep := resolveResumeStep(st, req.Step)
	if resumeStep == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No resumable step"})
		return
	}
	if _, err := h.state.ResetStepsFromTask(ctx, task.ID, resumeStep); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset steps"})
		return
	}
	if err := h.queue.UpdateStatus(ctx, task.ID, queue.StatusProcessing, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update task"})
		return
	}
	if err := h.queue.EnqueueExisting(ctx, task.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to re-enqueue task"})
		return
	}
	if err := h.repo.UpdateTask(ctx, task.ID, queue.StatusProcessing, ""); err != nil {
		slog.Warn("Failed to update task row", "task_id", task.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task re-enqueued", "resume_step": resumeStep})
}

func resolveResumeStep(st *state.TaskState, explicit string) string {
	if explicit != "" && st.Step(explicit) != nil {
		return explicit
	}
	if len(st.Errors) > 0 {
		last := st.Errors[len(st.Errors)-1].Step
		if st.Step(last) != nil {
			return last
		}
	}
	for _, name := range st.OrderedStepNames() {
		if st.Steps[name].Status == state.StepFailed {
			return name
		}
	}
	if st.CurrentStep != "" && st.Step(st.CurrentStep) != nil {
		return st.CurrentStep
	}
	names := st.OrderedStepNames()
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

// HandleDeleteTask cancels a task, removes its rows, state and queue
// entries, and enqueues a file purge when it was the last task for its
// upload.
func (h *Handlers) HandleDeleteTask(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID, _ := GetUserID(c)

	// Best effort: stop in-flight processing first.
	if _, err := h.queue.Cancel(ctx, task.ID); err != nil {
		slog.Warn("Failed to cancel task before delete", "task_id", task.ID, "error", err)
	}

	// Collect the artifact inventory before state goes away.
	inventory, err := h.registry.Collect(ctx, task.UploadID, task.ID, task.FileExt)
	if err != nil {
		slog.Warn("Failed to collect artifacts", "task_id", task.ID, "error", err)
		inventory = nil
	}

	if err := h.repo.DeleteTask(ctx, task.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete task"})
		return
	}
	if err := h.queue.Remove(ctx, task.ID); err != nil {
		slog.Warn("Failed to remove queue entries", "task_id", task.ID, "error", err)
	}
	remaining, err := h.state.UnbindTask(ctx, task.UploadID, task.ID)
	if err != nil {
		slog.Warn("Failed to unbind task", "task_id", task.ID, "error", err)
	}
	if err := h.state.DeleteStateByTask(ctx, task.UploadID, task.ID); err != nil {
		slog.Warn("Failed to delete state", "task_id", task.ID, "error", err)
	}

	// Last task for the upload: remove the row and purge all files.
	if remaining == 0 {
		siblings, err := h.repo.GetTasksByUploadID(ctx, task.UploadID)
		if err == nil && len(siblings) == 0 {
			if err := h.repo.DeleteUpload(ctx, task.UploadID); err != nil {
				slog.Warn("Failed to delete upload row", "upload_id", task.UploadID, "error", err)
			}
			kwargs := queue.TaskKwargs{
				FileID:       task.UploadID,
				FileExt:      task.FileExt,
				TargetTaskID: task.ID,
			}
			if inventory != nil {
				kwargs.StorageKeys = inventory.StorageKeys
				kwargs.LocalPaths = inventory.LocalPaths
			}
			if _, err := h.queue.Submit(ctx, state.TaskTypePurge, userID, kwargs); err != nil {
				slog.Warn("Failed to enqueue file purge", "upload_id", task.UploadID, "error", err)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}

// HandleListUploadTasks lists all tasks for one upload.
func (h *Handlers) HandleListUploadTasks(c *gin.Context) {
	userID, err := GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	fileID := c.Param("file_id")
	ctx := c.Request.Context()
	upload, err := h.repo.GetUpload(ctx, fileID)
	if err != nil || upload == nil || upload.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	tasks, err := h.repo.GetTasksByUploadID(ctx, fileID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}
