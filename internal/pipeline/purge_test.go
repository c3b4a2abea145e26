package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidespeaker/internal/artifacts"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// storeReader adapts mockStore to the artifact registry's reader.
type storeReader struct{ *mockStore }

func (s storeReader) GetState(_ context.Context, _ string) (*state.TaskState, error) {
	return nil, nil
}

func TestPurgeTaskDeletesArtifacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Seed storage with objects a finished task would have left behind.
	keys := []string{
		"uploads/file0123456789ab.pdf",
		"outputs/task-1/video/task-1.mp4",
		"outputs/task-1/audio/task-1.mp3",
		"file0123456789ab_podcast.mp3", // legacy flat key
	}
	for _, key := range keys {
		require.NoError(t, env.blobs.PutBytes(ctx, []byte("x"), key, ""))
	}

	deps := env.coord.deps
	deps.Artifacts = artifacts.NewRegistry(storeReader{env.store}, env.tempDir+"/output")
	coord := NewCoordinator(deps)

	record := &queue.TaskRecord{
		TaskID:   "purge-1",
		TaskType: state.TaskTypePurge,
		Kwargs: queue.TaskKwargs{
			FileID:       "file0123456789ab",
			FileExt:      ".pdf",
			TargetTaskID: "task-1",
			StorageKeys:  keys,
		},
	}
	require.NoError(t, coord.AcceptTask(ctx, "purge-1", record))

	for _, key := range keys {
		_, err := env.blobs.GetBytes(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound, key)
	}

	st, err := env.store.GetStateByTask(ctx, "purge-1")
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, st.Status)
	assert.Equal(t, state.StepCompleted, st.Steps[state.StepPurgeTaskFiles].Status)
}

// A purge over already-missing objects still completes: purge is
// best-effort idempotent.
func TestPurgeTolerantOfMissingObjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	deps := env.coord.deps
	deps.Artifacts = artifacts.NewRegistry(storeReader{env.store}, env.tempDir+"/output")
	coord := NewCoordinator(deps)

	record := &queue.TaskRecord{
		TaskID:   "purge-2",
		TaskType: state.TaskTypePurge,
		Kwargs: queue.TaskKwargs{
			FileID:      "missing-file",
			FileExt:     ".pdf",
			StorageKeys: []string{"nothing/here.mp4"},
		},
	}
	require.NoError(t, coord.AcceptTask(ctx, "purge-2", record))

	st, err := env.store.GetStateByTask(ctx, "purge-2")
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, st.Status)
}
