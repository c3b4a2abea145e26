package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"slidespeaker/internal/state"
)

var (
	// ErrCancelled signals cooperative cancellation. Never treated as a
	// task failure: no error entry is recorded for it.
	ErrCancelled = errors.New("pipeline cancelled")
	// ErrStepFailed signals that a step finalized with a failed status.
	ErrStepFailed = errors.New("pipeline step failed")
)

// StepFunc is one pluggable pipeline unit. Implementations write their data
// into the step snapshot and poll run.Cancelled at unit boundaries.
type StepFunc func(ctx context.Context, run *Run) error

// Run is the per-task execution context handed to every step.
type Run struct {
	Deps
	TaskID   string
	FileID   string
	FilePath string
	FileExt  string

	// Purge-task payload.
	PurgeTargetTaskID string
	PurgeStorageKeys  []string
	PurgeLocalPaths   []string
}

// Cancelled probes the queue cancellation flag for this task.
func (r *Run) Cancelled(ctx context.Context) bool {
	return r.TaskID != "" && r.Queue.IsCancelled(ctx, r.TaskID)
}

// StateNow loads a fresh state snapshot for this task.
func (r *Run) StateNow(ctx context.Context) (*state.TaskState, error) {
	st, err := r.State.GetStateByTask(ctx, r.TaskID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("no state for task %s", r.TaskID)
	}
	return st, nil
}

// StepData returns the recorded data of an earlier step, or nil.
func (r *Run) StepData(ctx context.Context, step string) (*state.StepData, error) {
	st, err := r.StateNow(ctx)
	if err != nil {
		return nil, err
	}
	snap := st.Step(step)
	if snap == nil {
		return nil, nil
	}
	return snap.Data, nil
}

// CompleteStep records a step's payload and marks it completed.
func (r *Run) CompleteStep(ctx context.Context, step string, data *state.StepData) error {
	return r.State.UpdateStepStatusByTask(ctx, r.TaskID, step, state.StepCompleted, data)
}

// executeStep drives one step: prerequisite checks, idempotent skip of
// completed steps, execution, finalization and failure recording. A nil
// return means the loop may continue.
func executeStep(ctx context.Context, run *Run, step string, fn StepFunc) error {
	if run.Cancelled(ctx) {
		slog.Info("Task cancelled before step", "task_id", run.TaskID, "step", step)
		if err := run.State.MarkCancelledByTask(ctx, run.TaskID, step); err != nil {
			slog.Error("Failed to mark task cancelled", "task_id", run.TaskID, "error", err)
		}
		return ErrCancelled
	}

	st, err := run.StateNow(ctx)
	if err != nil {
		return err
	}
	switch st.Status {
	case state.TaskFailed:
		slog.Error("Task already failed before step", "task_id", run.TaskID, "step", step)
		if err := run.State.UpdateStepStatusByTask(ctx, run.TaskID, step, state.StepFailed, nil); err != nil {
			slog.Error("Failed to mark step failed", "task_id", run.TaskID, "error", err)
		}
		return ErrStepFailed
	case state.TaskCancelled:
		if err := run.State.MarkCancelledByTask(ctx, run.TaskID, step); err != nil {
			slog.Error("Failed to mark task cancelled", "task_id", run.TaskID, "error", err)
		}
		return ErrCancelled
	}

	snap := st.Step(step)
	if snap == nil {
		return fmt.Errorf("step %q not in plan for task %s", step, run.TaskID)
	}
	switch snap.Status {
	case state.StepCompleted:
		slog.Info("Skipping already completed step", "task_id", run.TaskID, "step", step)
		return nil
	case state.StepSkipped:
		return nil
	}

	if err := run.State.UpdateStepStatusByTask(ctx, run.TaskID, step, state.StepProcessing, nil); err != nil {
		return err
	}
	slog.Info("Executing step", "task_id", run.TaskID, "step", state.DisplayName(step))

	if err := fn(ctx, run); err != nil {
		if errors.Is(err, ErrCancelled) {
			if markErr := run.State.MarkCancelledByTask(ctx, run.TaskID, step); markErr != nil {
				slog.Error("Failed to mark task cancelled", "task_id", run.TaskID, "error", markErr)
			}
			return ErrCancelled
		}
		return recordStepFailure(ctx, run, step, err)
	}

	return finalizeStep(ctx, run, step)
}

// finalizeStep enforces post-conditions on the step snapshot: failed raises,
// cancelled raises, any non-terminal status is promoted to completed (the
// step finished but did not record its status).
func finalizeStep(ctx context.Context, run *Run, step string) error {
	st, err := run.StateNow(ctx)
	if err != nil {
		return err
	}
	snap := st.Step(step)
	if snap == nil {
		return fmt.Errorf("step %q vanished from task %s", step, run.TaskID)
	}
	switch snap.Status {
	case state.StepCompleted:
		return nil
	case state.StepFailed:
		detail := ""
		if snap.Data != nil && snap.Data.Error != "" {
			detail = ": " + snap.Data.Error
		}
		return recordStepFailure(ctx, run, step, fmt.Errorf("%w: step %q%s", ErrStepFailed, step, detail))
	case state.StepCancelled:
		if err := run.State.MarkCancelledByTask(ctx, run.TaskID, step); err != nil {
			slog.Error("Failed to mark task cancelled", "task_id", run.TaskID, "error", err)
		}
		return ErrCancelled
	default:
		return run.State.UpdateStepStatusByTask(ctx, run.TaskID, step, state.StepCompleted, nil)
	}
}

func recordStepFailure(ctx context.Context, run *Run, step string, cause error) error {
	slog.Error("Step failed", "task_id", run.TaskID, "step", step, "error", cause)
	msg := cause.Error()
	if err := run.State.UpdateStepStatusByTask(ctx, run.TaskID, step, state.StepFailed,
		&state.StepData{Kind: state.DataError, Error: msg}); err != nil {
		slog.Error("Failed to record step failure", "task_id", run.TaskID, "error", err)
	}
	if err := run.State.AddErrorByTask(ctx, run.TaskID, step, msg); err != nil {
		slog.Error("Failed to record error entry", "task_id", run.TaskID, "error", err)
	}
	if err := run.State.MarkFailedByTask(ctx, run.TaskID); err != nil {
		slog.Error("Failed to mark task failed", "task_id", run.TaskID, "error", err)
	}
	if errors.Is(cause, ErrStepFailed) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrStepFailed, cause)
}
