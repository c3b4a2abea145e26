package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRecordMarshaling(t *testing.T) {
	record := &TaskRecord{
		TaskID:   "11111111-2222-3333-4444-555555555555",
		TaskType: "video",
		Status:   StatusQueued,
		UserID:   "user-1",
		Kwargs: TaskKwargs{
			FileID:            "abcd1234abcd1234",
			FileExt:           ".pdf",
			VoiceLanguage:     "english",
			GenerateVideo:     true,
			GenerateSubtitles: true,
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded TaskRecord
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, record.TaskID, decoded.TaskID)
	assert.Equal(t, record.Kwargs.FileID, decoded.Kwargs.FileID)
	assert.True(t, decoded.Kwargs.GenerateVideo)
	assert.False(t, decoded.Kwargs.GeneratePodcast)
}

func TestQueueConstants(t *testing.T) {
	assert.Equal(t, "ss:queue", QueueKey)
	assert.NotZero(t, BlockTimeout)
	assert.NotZero(t, TaskRetention)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "ss:task:abc", taskKey("abc"))
	assert.Equal(t, "ss:task:abc:cancelled", cancelKey("abc"))
}
