package pipeline

import (
	"context"

	"slidespeaker/internal/artifacts"
	"slidespeaker/internal/providers"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// StateStore is the slice of the state manager the pipeline drives.
type StateStore interface {
	CreateState(ctx context.Context, opts state.CreateStateOptions) (*state.TaskState, error)
	GetStateByTask(ctx context.Context, taskID string) (*state.TaskState, error)
	Save(ctx context.Context, st *state.TaskState) error
	UpdateStepStatusByTask(ctx context.Context, taskID, step string, status state.StepStatus, data *state.StepData) error
	UpdateStepByTask(ctx context.Context, taskID, step string, fn func(*state.StepSnapshot)) error
	SetArtifactByTask(ctx context.Context, taskID, category, name string, ref state.ArtifactRef) error
	AddErrorByTask(ctx context.Context, taskID, step, message string) error
	SetStatusByTask(ctx context.Context, taskID, status string) error
	MarkCompletedByTask(ctx context.Context, taskID string) error
	MarkFailedByTask(ctx context.Context, taskID string) error
	MarkCancelledByTask(ctx context.Context, taskID, cancelledStep string) error
	DeleteStateByTask(ctx context.Context, fileID, taskID string) error
}

// Canceller is the hot-path cancellation probe.
type Canceller interface {
	IsCancelled(ctx context.Context, taskID string) bool
}

// Deps is the explicit dependency context threaded through coordinators and
// steps. Constructed once per process in cmd/*; no package-level singletons.
type Deps struct {
	State   StateStore
	Queue   Canceller
	Storage storage.Provider
	LLM     providers.LLM
	TTS     providers.TTS
	Images  providers.ImageGen
	Vision  providers.Vision
	Media   providers.Media

	Artifacts *artifacts.Registry

	UploadsDir string
	OutputDir  string
}
