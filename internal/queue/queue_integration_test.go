//go:build integration
// +build integration

package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests require a reachable Redis (REDIS_HOST/REDIS_PORT).
func setupTestQueue(t *testing.T) *Queue {
	t.Helper()
	ctx := context.Background()
	q, err := NewQueue(ctx)
	if err != nil {
		t.Skipf("Skipping test: Redis not available: %v", err)
	}
	return q
}

func TestSubmitPopLifecycle(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)
	defer q.Close()

	taskID, err := q.Submit(ctx, "video", "user-1", TaskKwargs{
		FileID:        "itest-file",
		VoiceLanguage: "english",
		GenerateVideo: true,
	})
	require.NoError(t, err)
	defer q.Remove(ctx, taskID)

	record, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusQueued, record.Status)

	// Drain until our task id appears; other tests may share the queue.
	for {
		popped, err := q.Pop(ctx)
		require.NoError(t, err)
		if popped == "" {
			t.Fatalf("task %s never popped", taskID)
		}
		if popped == taskID {
			break
		}
	}

	require.NoError(t, q.UpdateStatus(ctx, taskID, StatusProcessing, ""))
	record, err = q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, record.Status)
}

func TestCancelSemantics(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)
	defer q.Close()

	taskID, err := q.Submit(ctx, "video", "user-1", TaskKwargs{FileID: "itest-cancel"})
	require.NoError(t, err)
	defer q.Remove(ctx, taskID)

	assert.False(t, q.IsCancelled(ctx, taskID))

	cancelled, err := q.Cancel(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.True(t, q.IsCancelled(ctx, taskID))

	// Cancelling a terminal task returns false and changes nothing.
	cancelled, err = q.Cancel(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	record, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, record.Status)
}

func TestCancelMissingTask(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)
	defer q.Close()

	cancelled, err := q.Cancel(ctx, "no-such-task")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestEnqueueExistingRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	q := setupTestQueue(t)
	defer q.Close()

	taskID, err := q.Submit(ctx, "video", "user-1", TaskKwargs{FileID: "itest-retry"})
	require.NoError(t, err)
	defer q.Remove(ctx, taskID)

	// Queued, not processing: re-enqueue is rejected.
	require.Error(t, q.EnqueueExisting(ctx, taskID))

	require.NoError(t, q.UpdateStatus(ctx, taskID, StatusProcessing, ""))
	require.NoError(t, q.EnqueueExisting(ctx, taskID))
}
