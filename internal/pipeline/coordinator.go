package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"slidespeaker/internal/queue"
	"slidespeaker/internal/state"
)

// Registry maps step names to their implementations. Populated per variant
// at startup; coordinators dispatch through it instead of name switches.
type Registry map[string]StepFunc

// Coordinator walks a task's persisted step plan and executes each step
// through the registry.
type Coordinator struct {
	deps     Deps
	registry Registry
}

// NewCoordinator builds the coordinator with the full step registry
// (pdf + slides + podcast + purge).
func NewCoordinator(deps Deps) *Coordinator {
	registry := Registry{}
	registerPDFSteps(registry)
	registerSlideSteps(registry)
	registerPodcastSteps(registry)
	registerPurgeSteps(registry)
	return &Coordinator{deps: deps, registry: registry}
}

// AcceptTask materializes state for a task (creating it when absent,
// refreshing knobs when present) and runs its pipeline to completion,
// cancellation or failure.
func (c *Coordinator) AcceptTask(ctx context.Context, taskID string, record *queue.TaskRecord) error {
	kwargs := record.Kwargs
	run := &Run{
		Deps:     c.deps,
		TaskID:   taskID,
		FileID:   kwargs.FileID,
		FilePath: kwargs.FilePath,
		FileExt:  kwargs.FileExt,

		PurgeTargetTaskID: kwargs.TargetTaskID,
		PurgeStorageKeys:  kwargs.StorageKeys,
		PurgeLocalPaths:   kwargs.LocalPaths,
	}

	if run.Cancelled(ctx) {
		slog.Info("Task cancelled before processing started", "task_id", taskID)
		if err := c.deps.State.MarkCancelledByTask(ctx, taskID, ""); err != nil {
			slog.Error("Failed to mark task cancelled", "task_id", taskID, "error", err)
		}
		return ErrCancelled
	}

	st, err := c.deps.State.GetStateByTask(ctx, taskID)
	if err != nil {
		return err
	}
	if st == nil {
		st, err = c.deps.State.CreateState(ctx, createOptions(taskID, record))
		if err != nil {
			return fmt.Errorf("failed to create state for task %s: %w", taskID, err)
		}
	} else {
		// Refresh user knobs in case the task was re-submitted with new
		// options. The step plan itself is never re-derived.
		st.VoiceLanguage = kwargs.VoiceLanguage
		st.SubtitleLanguage = kwargs.SubtitleLanguage
		st.GenerateSubtitles = kwargs.GenerateSubtitles
		st.TaskID = taskID
		if err := c.deps.State.Save(ctx, st); err != nil {
			return err
		}
	}

	if st.Status == state.TaskQueued {
		if err := c.deps.State.SetStatusByTask(ctx, taskID, state.TaskProcessing); err != nil {
			slog.Error("Failed to set task processing", "task_id", taskID, "error", err)
		}
	}

	for _, step := range st.OrderedStepNames() {
		snap := st.Steps[step]
		if snap != nil && snap.Status == state.StepSkipped {
			continue
		}
		fn, ok := c.registry[step]
		if !ok {
			return fmt.Errorf("no implementation registered for step %q", step)
		}
		if err := executeStep(ctx, run, step, fn); err != nil {
			return err
		}
	}

	if err := c.deps.State.MarkCompletedByTask(ctx, taskID); err != nil {
		return err
	}
	slog.Info("Task completed", "task_id", taskID)
	return nil
}

func createOptions(taskID string, record *queue.TaskRecord) state.CreateStateOptions {
	kwargs := record.Kwargs
	sourceType := kwargs.SourceType
	if sourceType == "" {
		if strings.EqualFold(kwargs.FileExt, ".pdf") {
			sourceType = "pdf"
		} else {
			sourceType = "slides"
		}
	}
	return state.CreateStateOptions{
		TaskType: record.TaskType,
		FileID:   kwargs.FileID,
		TaskID:   taskID,
		UserID:   record.UserID,
		FilePath: kwargs.FilePath,
		FileExt:  kwargs.FileExt,
		Filename: kwargs.Filename,

		SourceType: sourceType,
		Plan: state.PlanOptions{
			SourceType:         sourceType,
			VoiceLanguage:      kwargs.VoiceLanguage,
			SubtitleLanguage:   kwargs.SubtitleLanguage,
			TranscriptLanguage: kwargs.TranscriptLanguage,
			GenerateVideo:      kwargs.GenerateVideo,
			GeneratePodcast:    kwargs.GeneratePodcast,
			GenerateSubtitles:  kwargs.GenerateSubtitles,
			GenerateAvatar:     kwargs.GenerateAvatar,
		},
		VideoResolution:   kwargs.VideoResolution,
		VoiceID:           kwargs.VoiceID,
		PodcastHostVoice:  kwargs.PodcastHostVoice,
		PodcastGuestVoice: kwargs.PodcastGuestVoice,
	}
}
