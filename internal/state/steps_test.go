package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStepsPDFVideoEnglish(t *testing.T) {
	order, steps := BuildSteps(TaskTypeVideo, PlanOptions{
		SourceType:        "pdf",
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GenerateSubtitles: true,
	})

	assert.Equal(t, []string{
		StepSegmentPDFContent,
		StepRevisePDFTranscripts,
		StepGeneratePDFChapterImages,
		StepGeneratePDFAudio,
		StepGeneratePDFSubtitles,
		StepComposeVideo,
	}, order)

	// Language-conditional steps are absent, not skipped.
	assert.NotContains(t, steps, StepTranslateVoiceTranscripts)
	assert.NotContains(t, steps, StepTranslateSubtitleTranscript)
	for _, name := range order {
		assert.Equal(t, StepPending, steps[name].Status, name)
	}
}

func TestBuildStepsPDFVideoTranslated(t *testing.T) {
	order, steps := BuildSteps(TaskTypeVideo, PlanOptions{
		SourceType:        "pdf",
		VoiceLanguage:     "japanese",
		SubtitleLanguage:  "chinese",
		GenerateVideo:     true,
		GenerateSubtitles: true,
	})
	assert.Contains(t, steps, StepTranslateVoiceTranscripts)
	assert.Contains(t, steps, StepTranslateSubtitleTranscript)

	// Translation happens after revision and before image generation.
	idx := map[string]int{}
	for i, name := range order {
		idx[name] = i
	}
	assert.Less(t, idx[StepRevisePDFTranscripts], idx[StepTranslateVoiceTranscripts])
	assert.Less(t, idx[StepTranslateVoiceTranscripts], idx[StepGeneratePDFChapterImages])
}

func TestBuildStepsSubtitlesDisabled(t *testing.T) {
	_, steps := BuildSteps(TaskTypeVideo, PlanOptions{
		SourceType:        "pdf",
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GenerateSubtitles: false,
	})
	require.Contains(t, steps, StepGeneratePDFSubtitles)
	assert.Equal(t, StepSkipped, steps[StepGeneratePDFSubtitles].Status)
}

func TestBuildStepsPodcastTranslated(t *testing.T) {
	order, steps := BuildSteps(TaskTypePodcast, PlanOptions{
		SourceType:         "pdf",
		VoiceLanguage:      "english",
		TranscriptLanguage: "spanish",
		GeneratePodcast:    true,
	})

	assert.Equal(t, []string{
		StepSegmentPDFContent,
		StepGeneratePodcastScript,
		StepTranslatePodcastScript,
		StepGeneratePodcastAudio,
		StepGeneratePodcastSubtitles,
		StepComposePodcast,
	}, order)
	assert.NotContains(t, steps, StepComposeVideo)
}

func TestBuildStepsPodcastEnglishHasNoTranslate(t *testing.T) {
	_, steps := BuildSteps(TaskTypePodcast, PlanOptions{
		SourceType:      "pdf",
		VoiceLanguage:   "english",
		GeneratePodcast: true,
	})
	assert.NotContains(t, steps, StepTranslatePodcastScript)
}

func TestBuildStepsBothSharesSegmentation(t *testing.T) {
	order, steps := BuildSteps(TaskTypeBoth, PlanOptions{
		SourceType:        "pdf",
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GeneratePodcast:   true,
		GenerateSubtitles: true,
	})

	// segment_pdf_content appears exactly once, first.
	count := 0
	for _, name := range order {
		if name == StepSegmentPDFContent {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, StepSegmentPDFContent, order[0])

	// Video steps precede podcast steps.
	idx := map[string]int{}
	for i, name := range order {
		idx[name] = i
	}
	assert.Less(t, idx[StepComposeVideo], idx[StepGeneratePodcastScript])
	assert.Contains(t, steps, StepComposePodcast)
}

func TestBuildStepsSlides(t *testing.T) {
	order, steps := BuildSteps(TaskTypeVideo, PlanOptions{
		SourceType:        "slides",
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GenerateSubtitles: true,
		GenerateAvatar:    false,
		VisualAnalysis:    false,
	})

	assert.Equal(t, StepExtractSlides, order[0])
	assert.Equal(t, StepComposeVideo, order[len(order)-1])
	assert.Equal(t, StepSkipped, steps[StepAnalyzeSlideImages].Status)
	assert.Equal(t, StepSkipped, steps[StepGenerateAvatarVideos].Status)

	_, enabled := BuildSteps(TaskTypeVideo, PlanOptions{
		SourceType:     "slides",
		VoiceLanguage:  "english",
		GenerateVideo:  true,
		GenerateAvatar: true,
		VisualAnalysis: true,
	})
	assert.Equal(t, StepPending, enabled[StepAnalyzeSlideImages].Status)
	assert.Equal(t, StepPending, enabled[StepGenerateAvatarVideos].Status)
}

func TestBuildStepsSlidesPodcastOnly(t *testing.T) {
	order, steps := BuildSteps(TaskTypePodcast, PlanOptions{
		SourceType:      "slides",
		VoiceLanguage:   "english",
		GeneratePodcast: true,
	})

	// No video branch: podcast-only decks must not run the slide-video
	// steps. Scripting still goes through chapter segmentation.
	assert.Equal(t, []string{
		StepSegmentPDFContent,
		StepGeneratePodcastScript,
		StepGeneratePodcastAudio,
		StepGeneratePodcastSubtitles,
		StepComposePodcast,
	}, order)
	assert.NotContains(t, steps, StepExtractSlides)
	assert.NotContains(t, steps, StepGenerateAudio)
	assert.NotContains(t, steps, StepGenerateAvatarVideos)
	assert.NotContains(t, steps, StepComposeVideo)
}

func TestBuildStepsSlidesBoth(t *testing.T) {
	order, steps := BuildSteps(TaskTypeBoth, PlanOptions{
		SourceType:        "slides",
		VoiceLanguage:     "english",
		GenerateVideo:     true,
		GeneratePodcast:   true,
		GenerateSubtitles: true,
	})
	assert.Equal(t, StepExtractSlides, order[0])
	assert.Contains(t, steps, StepComposeVideo)
	assert.Contains(t, steps, StepComposePodcast)

	idx := map[string]int{}
	for i, name := range order {
		idx[name] = i
	}
	assert.Less(t, idx[StepComposeVideo], idx[StepSegmentPDFContent])
}

func TestBuildStepsPurge(t *testing.T) {
	order, steps := BuildSteps(TaskTypePurge, PlanOptions{})
	assert.Equal(t, []string{StepPurgeTaskFiles}, order)
	assert.Equal(t, StepPending, steps[StepPurgeTaskFiles].Status)
}

func TestTaskTypeFor(t *testing.T) {
	assert.Equal(t, TaskTypeVideo, TaskTypeFor(true, false))
	assert.Equal(t, TaskTypePodcast, TaskTypeFor(false, true))
	assert.Equal(t, TaskTypeBoth, TaskTypeFor(true, true))
	assert.Equal(t, TaskTypeVideo, TaskTypeFor(false, false))
}

func TestEffectiveTranscriptLanguage(t *testing.T) {
	assert.Equal(t, "spanish", PlanOptions{TranscriptLanguage: "spanish", VoiceLanguage: "english"}.EffectiveTranscriptLanguage())
	assert.Equal(t, "japanese", PlanOptions{VoiceLanguage: "japanese"}.EffectiveTranscriptLanguage())
	assert.Equal(t, "english", PlanOptions{}.EffectiveTranscriptLanguage())
}
