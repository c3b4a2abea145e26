package endpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"slidespeaker/internal/state"
)

func failedVideoState() *state.TaskState {
	order, steps := state.BuildSteps(state.TaskTypeVideo, state.PlanOptions{
		SourceType:        "pdf",
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GenerateSubtitles: true,
	})
	return &state.TaskState{TaskID: "task-1", StepOrder: order, Steps: steps}
}

func TestResolveResumeStepExplicit(t *testing.T) {
	st := failedVideoState()
	assert.Equal(t, state.StepGeneratePDFAudio,
		resolveResumeStep(st, state.StepGeneratePDFAudio))

	// Unknown explicit step falls through the chain.
	st.CurrentStep = state.StepRevisePDFTranscripts
	assert.Equal(t, state.StepRevisePDFTranscripts, resolveResumeStep(st, "bogus_step"))
}

func TestResolveResumeStepFromErrors(t *testing.T) {
	st := failedVideoState()
	st.Errors = []state.TaskErrorEntry{
		{Step: state.StepSegmentPDFContent, Error: "first"},
		{Step: state.StepGeneratePDFAudio, Error: "last"},
	}
	assert.Equal(t, state.StepGeneratePDFAudio, resolveResumeStep(st, ""))
}

func TestResolveResumeStepFirstFailedByOrder(t *testing.T) {
	st := failedVideoState()
	st.Steps[state.StepGeneratePDFChapterImages].Status = state.StepFailed
	st.Steps[state.StepComposeVideo].Status = state.StepFailed
	assert.Equal(t, state.StepGeneratePDFChapterImages, resolveResumeStep(st, ""))
}

func TestResolveResumeStepFallsBackToFirst(t *testing.T) {
	st := failedVideoState()
	assert.Equal(t, state.StepSegmentPDFContent, resolveResumeStep(st, ""))
}

func TestLocaleForLanguage(t *testing.T) {
	assert.Equal(t, "en", localeForLanguage("English"))
	assert.Equal(t, "zh", localeForLanguage("chinese"))
	assert.Equal(t, "ja", localeForLanguage("ja"))
	assert.Equal(t, "", localeForLanguage("klingon"))
}

func TestTaskOptionsKwargs(t *testing.T) {
	opts := taskOptions{TaskType: "both", VoiceLanguage: "japanese"}
	kwargs := opts.kwargs("file-1", "/tmp/f.pdf", ".pdf", "f.pdf", "pdf")
	assert.True(t, kwargs.GenerateVideo)
	assert.True(t, kwargs.GeneratePodcast)
	assert.True(t, kwargs.GenerateSubtitles) // default on

	off := false
	opts = taskOptions{TaskType: "video", GenerateSubtitles: &off}
	kwargs = opts.kwargs("file-1", "", ".pdf", "", "pdf")
	assert.True(t, kwargs.GenerateVideo)
	assert.False(t, kwargs.GeneratePodcast)
	assert.False(t, kwargs.GenerateSubtitles)
}
