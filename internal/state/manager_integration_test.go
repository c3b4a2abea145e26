//go:build integration
// +build integration

package state

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests require a reachable Redis (REDIS_HOST/REDIS_PORT).
func setupManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(context.Background())
	if err != nil {
		t.Skipf("Skipping test: Redis not available: %v", err)
	}
	return m
}

func createTestState(t *testing.T, m *Manager) (*TaskState, string, string) {
	t.Helper()
	fileID := "itest-" + uuid.New().String()[:8]
	taskID := uuid.New().String()
	st, err := m.CreateState(context.Background(), CreateStateOptions{
		FileID:  fileID,
		TaskID:  taskID,
		FileExt: ".pdf",
		Plan: PlanOptions{
			SourceType:        "pdf",
			VoiceLanguage:     "english",
			GenerateVideo:     true,
			GenerateSubtitles: true,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.DeleteStateByTask(context.Background(), fileID, taskID)
		_, _ = m.UnbindTask(context.Background(), fileID, taskID)
	})
	return st, fileID, taskID
}

func TestCreateAndResolveState(t *testing.T) {
	ctx := context.Background()
	m := setupManager(t)
	_, fileID, taskID := createTestState(t, m)

	// Task-scoped lookup.
	st, err := m.GetStateByTask(ctx, taskID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, fileID, st.FileID)
	assert.Equal(t, TaskQueued, st.Status)

	// File-scoped lookup resolves through the mapping.
	st, err = m.GetState(ctx, fileID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, taskID, st.TaskID)

	// The legacy file-scoped key is gone: task-scoped is canonical.
	exists, err := m.client.Exists(ctx, stateKey(fileID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestUpdateStepStatusIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := setupManager(t)
	_, _, taskID := createTestState(t, m)

	require.NoError(t, m.UpdateStepStatusByTask(ctx, taskID, StepSegmentPDFContent, StepProcessing, nil))
	require.NoError(t, m.UpdateStepStatusByTask(ctx, taskID, StepSegmentPDFContent, StepProcessing, nil))

	st, err := m.GetStateByTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StepProcessing, st.Steps[StepSegmentPDFContent].Status)
	assert.Equal(t, StepSegmentPDFContent, st.CurrentStep)
}

func TestBindUnbindTaskCounts(t *testing.T) {
	ctx := context.Background()
	m := setupManager(t)
	_, fileID, taskID := createTestState(t, m)

	second := uuid.New().String()
	require.NoError(t, m.BindTask(ctx, fileID, second))
	t.Cleanup(func() { _, _ = m.UnbindTask(ctx, fileID, second) })

	ids, err := m.TaskIDsByFile(ctx, fileID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	remaining, err := m.UnbindTask(ctx, fileID, second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, remaining)

	remaining, err = m.UnbindTask(ctx, fileID, taskID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, remaining)
}

func TestResetStepsFromTaskPersists(t *testing.T) {
	ctx := context.Background()
	m := setupManager(t)
	st, _, taskID := createTestState(t, m)

	for _, name := range st.OrderedStepNames() {
		require.NoError(t, m.UpdateStepStatusByTask(ctx, taskID, name, StepCompleted, nil))
	}
	require.NoError(t, m.UpdateStepStatusByTask(ctx, taskID, StepGeneratePDFAudio, StepFailed, nil))
	require.NoError(t, m.AddErrorByTask(ctx, taskID, StepGeneratePDFAudio, "boom"))
	require.NoError(t, m.MarkFailedByTask(ctx, taskID))

	reset, err := m.ResetStepsFromTask(ctx, taskID, StepGeneratePDFAudio)
	require.NoError(t, err)
	require.NotNil(t, reset)
	assert.Equal(t, TaskProcessing, reset.Status)
	assert.Equal(t, StepPending, reset.Steps[StepGeneratePDFAudio].Status)
	assert.Equal(t, StepCompleted, reset.Steps[StepSegmentPDFContent].Status)
	assert.Empty(t, reset.Errors)
}

func TestMarkCancelledCancelsOpenSteps(t *testing.T) {
	ctx := context.Background()
	m := setupManager(t)
	_, _, taskID := createTestState(t, m)

	require.NoError(t, m.UpdateStepStatusByTask(ctx, taskID, StepSegmentPDFContent, StepCompleted, nil))
	require.NoError(t, m.UpdateStepStatusByTask(ctx, taskID, StepRevisePDFTranscripts, StepProcessing, nil))
	require.NoError(t, m.MarkCancelledByTask(ctx, taskID, StepRevisePDFTranscripts))

	st, err := m.GetStateByTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, st.Status)
	assert.Equal(t, StepCompleted, st.Steps[StepSegmentPDFContent].Status)
	assert.Equal(t, StepCancelled, st.Steps[StepRevisePDFTranscripts].Status)
	assert.Equal(t, StepCancelled, st.Steps[StepComposeVideo].Status)
}
