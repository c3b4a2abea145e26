package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidespeaker/internal/state"
)

type fakeStateReader struct {
	byTask map[string]*state.TaskState
	byFile map[string]*state.TaskState
}

func (f *fakeStateReader) GetStateByTask(_ context.Context, taskID string) (*state.TaskState, error) {
	return f.byTask[taskID], nil
}

func (f *fakeStateReader) GetState(_ context.Context, fileID string) (*state.TaskState, error) {
	return f.byFile[fileID], nil
}

func TestCollectInventory(t *testing.T) {
	st := &state.TaskState{
		FileID:  "file-1",
		TaskID:  "task-1",
		FileExt: ".pdf",
		Steps: map[string]*state.StepSnapshot{
			state.StepGeneratePDFAudio: {
				Status: state.StepCompleted,
				Data: &state.StepData{
					Kind: state.DataAudio,
					Audio: []state.AudioArtifact{
						{Index: 0, StorageKey: "outputs/task-1/audio/chapter_01.mp3", LocalPath: "/out/task-1/audio/chapter_01.mp3"},
					},
				},
			},
			state.StepComposeVideo: {
				Status: state.StepCompleted,
				Data: &state.StepData{
					Kind:    state.DataCompose,
					Compose: &state.ComposeResult{StorageURI: "local://outputs/task-1/video/task-1.mp4"},
				},
			},
		},
		StepOrder: []string{state.StepGeneratePDFAudio, state.StepComposeVideo},
	}
	st.Artifacts.Set("subtitles", "en", state.ArtifactRef{StorageKey: "outputs/task-1/subtitles/task-1_en.srt"})

	reader := &fakeStateReader{byTask: map[string]*state.TaskState{"task-1": st}}
	registry := NewRegistry(reader, "/out")

	inv, err := registry.Collect(context.Background(), "file-1", "task-1", ".pdf")
	require.NoError(t, err)

	assert.Contains(t, inv.StorageKeys, "uploads/file-1.pdf")
	assert.Contains(t, inv.StorageKeys, "file-1.pdf") // legacy flat upload key
	assert.Contains(t, inv.StorageKeys, "outputs/task-1/audio/chapter_01.mp3")
	assert.Contains(t, inv.StorageKeys, "outputs/task-1/video/task-1.mp4") // from URI
	assert.Contains(t, inv.StorageKeys, "outputs/task-1/subtitles/task-1_en.srt")
	assert.Contains(t, inv.StorageKeys, "file-1_podcast.mp3") // legacy podcast key

	assert.Contains(t, inv.LocalPaths, "/out/task-1")
	assert.Contains(t, inv.LocalPaths, "/out/task-1/audio/chapter_01.mp3")
}

func TestCollectWithoutState(t *testing.T) {
	registry := NewRegistry(&fakeStateReader{}, "/out")
	inv, err := registry.Collect(context.Background(), "file-9", "", ".pdf")
	require.NoError(t, err)
	assert.Contains(t, inv.StorageKeys, "uploads/file-9.pdf")
	assert.Contains(t, inv.LocalPaths, "/out/file-9")
}
