package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidespeaker/internal/queue"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// scriptedLLM answers by prompt shape: segmentation and podcast prompts get
// canned JSON, everything else is echoed with a marker.
func scriptedLLM() *fakeLLM {
	return &fakeLLM{reply: func(system, user string) (string, error) {
		switch {
		case strings.Contains(system, "Split the provided document"):
			return `[{"title": "Introduction", "content": "The intro.", "transcript": "Welcome to the paper."},
				{"title": "Methods", "content": "The methods.", "transcript": "We did science."}]`, nil
		case strings.Contains(system, "podcast scripts"):
			return `[{"speaker": "host", "text": "Welcome to the show."},
				{"speaker": "guest", "text": "Glad to be here."}]`, nil
		case strings.Contains(system, "translator"):
			return "xlat: " + user, nil
		default:
			return "rev: " + user, nil
		}
	}}
}

type testEnv struct {
	store   *mockStore
	queue   *mockQueue
	blobs   *storage.LocalStorage
	llm     *fakeLLM
	tts     *fakeTTS
	images  *fakeImages
	media   *fakeMedia
	coord   *Coordinator
	tempDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tempDir := t.TempDir()
	blobs, err := storage.NewLocalStorage(tempDir + "/store")
	require.NoError(t, err)

	env := &testEnv{
		store:   newMockStore(),
		queue:   newMockQueue(),
		blobs:   blobs,
		llm:     scriptedLLM(),
		tts:     &fakeTTS{},
		images:  &fakeImages{},
		media:   &fakeMedia{text: "Page one.\fPage two.", pages: 2},
		tempDir: tempDir,
	}
	env.coord = NewCoordinator(Deps{
		State:      env.store,
		Queue:      env.queue,
		Storage:    env.blobs,
		LLM:        env.llm,
		TTS:        env.tts,
		Images:     env.images,
		Vision:     fakeVision{},
		Media:      env.media,
		UploadsDir: tempDir + "/uploads",
		OutputDir:  tempDir + "/output",
	})
	return env
}

func pdfRecord(taskType string, kwargs queue.TaskKwargs) *queue.TaskRecord {
	kwargs.FileID = "file0123456789ab"
	kwargs.FilePath = "/tmp/paper.pdf"
	kwargs.FileExt = ".pdf"
	kwargs.Filename = "paper.pdf"
	return &queue.TaskRecord{TaskID: "task-1", TaskType: taskType, Kwargs: kwargs}
}

func TestPDFVideoEnglishRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := pdfRecord("video", queue.TaskKwargs{
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GenerateSubtitles: true,
	})
	require.NoError(t, env.coord.AcceptTask(ctx, "task-1", record))

	st, err := env.store.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, state.TaskCompleted, st.Status)
	assert.Equal(t, 100, st.Progress())

	for _, name := range []string{
		state.StepSegmentPDFContent,
		state.StepRevisePDFTranscripts,
		state.StepGeneratePDFChapterImages,
		state.StepGeneratePDFAudio,
		state.StepGeneratePDFSubtitles,
		state.StepComposeVideo,
	} {
		assert.Equal(t, state.StepCompleted, st.Steps[name].Status, name)
	}
	assert.NotContains(t, st.Steps, state.StepTranslateVoiceTranscripts)

	// Final artifacts are recorded and their bytes are in storage.
	require.Contains(t, st.Artifacts.Video, "video")
	require.Contains(t, st.Artifacts.Audio, "track")
	require.Contains(t, st.Artifacts.Subtitles, "en")
	require.Contains(t, st.Artifacts.Transcripts, "en")

	videoKey := st.Artifacts.Video["video"].StorageKey
	assert.Equal(t, "outputs/task-1/video/task-1.mp4", videoKey)
	data, err := env.blobs.GetBytes(ctx, videoKey)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// Both subtitle formats exist under the canonical layout; the SRT is
	// the canonical artifact reference.
	for _, format := range []string{"srt", "vtt"} {
		key := storage.OutputObjectKey("task-1", storage.CategorySubtitles, "task-1_en."+format)
		exists, err := env.blobs.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists, key)
	}
	assert.Equal(t, "outputs/task-1/subtitles/task-1_en.srt", st.Artifacts.Subtitles["en"].StorageKey)
}

func TestSlidePodcastOnlySkipsVideoSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := &queue.TaskRecord{
		TaskID:   "task-3",
		TaskType: "podcast",
		Kwargs: queue.TaskKwargs{
			FileID:          "deck0123456789ab",
			FilePath:        "/tmp/deck.pptx",
			FileExt:         ".pptx",
			Filename:        "deck.pptx",
			VoiceLanguage:   "english",
			GeneratePodcast: true,
		},
	}
	require.NoError(t, env.coord.AcceptTask(ctx, "task-3", record))

	st, err := env.store.GetStateByTask(ctx, "task-3")
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, st.Status)
	assert.NotContains(t, st.Steps, state.StepExtractSlides)
	assert.NotContains(t, st.Steps, state.StepComposeVideo)
	assert.Equal(t, state.StepCompleted, st.Steps[state.StepComposePodcast].Status)
	require.Contains(t, st.Artifacts.Podcast, "podcast")
	assert.Empty(t, st.Artifacts.Video)
}

func TestRerunAfterCompletionIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := pdfRecord("video", queue.TaskKwargs{
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GenerateSubtitles: true,
	})
	require.NoError(t, env.coord.AcceptTask(ctx, "task-1", record))

	llmCalls := env.llm.callCount()
	ttsCalls := env.tts.callCount()
	imageCalls := env.images.calls

	require.NoError(t, env.coord.AcceptTask(ctx, "task-1", record))

	assert.Equal(t, llmCalls, env.llm.callCount(), "completed steps must not re-run the LLM")
	assert.Equal(t, ttsCalls, env.tts.callCount(), "completed steps must not re-run TTS")
	assert.Equal(t, imageCalls, env.images.calls, "completed steps must not re-run image generation")
}

func TestFailureRecordsErrorAndHaltsPipeline(t *testing.T) {
	env := newTestEnv(t)
	env.tts.fail = fmt.Errorf("tts provider is down")
	ctx := context.Background()

	record := pdfRecord("video", queue.TaskKwargs{
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GenerateSubtitles: true,
	})
	err := env.coord.AcceptTask(ctx, "task-1", record)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepFailed)

	st, err2 := env.store.GetStateByTask(ctx, "task-1")
	require.NoError(t, err2)
	assert.Equal(t, state.TaskFailed, st.Status)
	assert.Equal(t, state.StepFailed, st.Steps[state.StepGeneratePDFAudio].Status)

	// Earlier steps keep their results; later steps never left pending.
	assert.Equal(t, state.StepCompleted, st.Steps[state.StepSegmentPDFContent].Status)
	assert.Equal(t, state.StepPending, st.Steps[state.StepComposeVideo].Status)

	require.NotEmpty(t, st.Errors)
	last := st.Errors[len(st.Errors)-1]
	assert.Equal(t, state.StepGeneratePDFAudio, last.Step)
	assert.Contains(t, last.Error, "tts provider is down")
	assert.NotEmpty(t, last.Timestamp)
}

func TestRetryResumesFromFailedStep(t *testing.T) {
	env := newTestEnv(t)
	env.tts.fail = fmt.Errorf("tts provider is down")
	ctx := context.Background()

	record := pdfRecord("video", queue.TaskKwargs{
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GenerateSubtitles: true,
	})
	require.Error(t, env.coord.AcceptTask(ctx, "task-1", record))

	// Reset from the failed step, as the retry endpoint does.
	st, err := env.store.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, st.ResetStepsFrom(state.StepGeneratePDFAudio))
	require.NoError(t, env.store.Save(ctx, st))

	segmentCalls := env.llm.callCount()
	imageCalls := env.images.calls

	// Provider recovered.
	env.tts.fail = nil
	require.NoError(t, env.coord.AcceptTask(ctx, "task-1", record))

	st, err = env.store.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, st.Status)
	assert.Empty(t, st.Errors)

	// Earlier artifacts were not regenerated.
	assert.Equal(t, segmentCalls, env.llm.callCount())
	assert.Equal(t, imageCalls, env.images.calls)
}

func TestCancellationMidStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Cancel after the first audio unit completes.
	env.tts.after = func(call int) {
		if call == 1 {
			env.queue.cancel("task-1")
		}
	}

	record := pdfRecord("video", queue.TaskKwargs{
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GenerateSubtitles: true,
	})
	err := env.coord.AcceptTask(ctx, "task-1", record)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)

	st, err2 := env.store.GetStateByTask(ctx, "task-1")
	require.NoError(t, err2)
	assert.Equal(t, state.TaskCancelled, st.Status)
	assert.Equal(t, state.StepCancelled, st.Steps[state.StepGeneratePDFAudio].Status)
	assert.Equal(t, state.StepCompleted, st.Steps[state.StepSegmentPDFContent].Status)
	assert.Less(t, st.Progress(), 100)

	// Cancellation is not an error.
	assert.Empty(t, st.Errors)
}

func TestPodcastWithTranslation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := pdfRecord("podcast", queue.TaskKwargs{
		VoiceLanguage:      "english",
		TranscriptLanguage: "spanish",
		GeneratePodcast:    true,
	})
	require.NoError(t, env.coord.AcceptTask(ctx, "task-1", record))

	st, err := env.store.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, st.Status)

	for _, name := range []string{
		state.StepSegmentPDFContent,
		state.StepGeneratePodcastScript,
		state.StepTranslatePodcastScript,
		state.StepGeneratePodcastAudio,
		state.StepGeneratePodcastSubtitles,
		state.StepComposePodcast,
	} {
		assert.Equal(t, state.StepCompleted, st.Steps[name].Status, name)
	}
	assert.NotContains(t, st.Steps, state.StepComposeVideo)

	// Script language propagates from the translation step.
	assert.Equal(t, "spanish", st.Steps[state.StepTranslatePodcastScript].Data.Language)
	assert.Equal(t, "spanish", st.Steps[state.StepGeneratePodcastAudio].Data.Language)

	require.Contains(t, st.Artifacts.Podcast, "podcast")
	require.Contains(t, st.Artifacts.Transcripts, "podcast")

	transcript, err := env.blobs.GetBytes(ctx, st.Artifacts.Transcripts["podcast"].StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(transcript), `"language": "spanish"`)
}

func TestBothSharesSegmentation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := pdfRecord("both", queue.TaskKwargs{
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GeneratePodcast:   true,
		GenerateSubtitles: true,
	})
	require.NoError(t, env.coord.AcceptTask(ctx, "task-1", record))

	st, err := env.store.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, st.Status)
	require.Contains(t, st.Artifacts.Video, "video")
	require.Contains(t, st.Artifacts.Podcast, "podcast")

	// Segmentation ran exactly once: one chapters payload serves both paths.
	count := 0
	for _, name := range st.OrderedStepNames() {
		if name == state.StepSegmentPDFContent {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSlideDeckRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := &queue.TaskRecord{
		TaskID:   "task-2",
		TaskType: "video",
		Kwargs: queue.TaskKwargs{
			FileID:            "deck0123456789ab",
			FilePath:          "/tmp/deck.pptx",
			FileExt:           ".pptx",
			Filename:          "deck.pptx",
			VoiceLanguage:     "english",
			GenerateVideo:     true,
			GenerateSubtitles: true,
		},
	}
	require.NoError(t, env.coord.AcceptTask(ctx, "task-2", record))

	st, err := env.store.GetStateByTask(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, st.Status)
	assert.Equal(t, state.StepCompleted, st.Steps[state.StepExtractSlides].Status)
	assert.Equal(t, state.StepCompleted, st.Steps[state.StepComposeVideo].Status)
	assert.Equal(t, state.StepSkipped, st.Steps[state.StepAnalyzeSlideImages].Status)
	require.Contains(t, st.Artifacts.Video, "video")
}

func TestUnknownStepInPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := pdfRecord("video", queue.TaskKwargs{
		VoiceLanguage: "english",
		GenerateVideo: true,
	})
	_, err := env.store.CreateState(ctx, createOptions("task-1", record))
	require.NoError(t, err)

	st, err := env.store.GetStateByTask(ctx, "task-1")
	require.NoError(t, err)
	st.StepOrder = append(st.StepOrder, "mystery_step")
	st.Steps["mystery_step"] = &state.StepSnapshot{Status: state.StepPending}
	require.NoError(t, env.store.Save(ctx, st))

	err = env.coord.AcceptTask(ctx, "task-1", record)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCancelled))
}
