package state

import "strings"

// Pipeline step names. Stable identifiers: they key the persisted steps map
// and the step registry.
const (
	StepSegmentPDFContent           = "segment_pdf_content"
	StepRevisePDFTranscripts        = "revise_pdf_transcripts"
	StepTranslateVoiceTranscripts   = "translate_voice_transcripts"
	StepTranslateSubtitleTranscript = "translate_subtitle_transcripts"
	StepGeneratePDFChapterImages    = "generate_pdf_chapter_images"
	StepGeneratePDFAudio            = "generate_pdf_audio"
	StepGeneratePDFSubtitles        = "generate_pdf_subtitles"
	StepComposeVideo                = "compose_video"

	StepExtractSlides         = "extract_slides"
	StepConvertSlidesToImages = "convert_slides_to_images"
	StepAnalyzeSlideImages    = "analyze_slide_images"
	StepGenerateTranscripts   = "generate_transcripts"
	StepReviseTranscripts     = "revise_transcripts"
	StepGenerateAudio         = "generate_audio"
	StepGenerateAvatarVideos  = "generate_avatar_videos"
	StepGenerateSubtitles     = "generate_subtitles"

	StepGeneratePodcastScript    = "generate_podcast_script"
	StepTranslatePodcastScript   = "translate_podcast_script"
	StepGeneratePodcastAudio     = "generate_podcast_audio"
	StepGeneratePodcastSubtitles = "generate_podcast_subtitles"
	StepComposePodcast           = "compose_podcast"

	StepPurgeTaskFiles = "purge_task_files"
)

// Task types.
const (
	TaskTypeVideo   = "video"
	TaskTypePodcast = "podcast"
	TaskTypeBoth    = "both"
	TaskTypePurge   = "file_purge"
)

// PlanOptions carries the task knobs the step plan depends on. The enabled
// set is computed exactly once at task creation and persisted; a config
// change mid-task cannot alter the plan.
type PlanOptions struct {
	SourceType         string // "pdf" or "slides"
	VoiceLanguage      string
	SubtitleLanguage   string
	TranscriptLanguage string
	GenerateVideo      bool
	GeneratePodcast    bool
	GenerateSubtitles  bool
	GenerateAvatar     bool
	VisualAnalysis     bool
}

func isEnglish(lang string) bool {
	l := strings.ToLower(strings.TrimSpace(lang))
	return l == "" || l == "english" || l == "en"
}

// EffectiveTranscriptLanguage resolves the podcast transcript language:
// explicit transcript language first, then voice language, then English.
func (o PlanOptions) EffectiveTranscriptLanguage() string {
	if s := strings.TrimSpace(o.TranscriptLanguage); s != "" {
		return s
	}
	if s := strings.TrimSpace(o.VoiceLanguage); s != "" {
		return s
	}
	return "english"
}

type planStep struct {
	name    string
	status  StepStatus
	include bool
}

func buildPlan(steps []planStep) ([]string, map[string]*StepSnapshot) {
	order := make([]string, 0, len(steps))
	m := make(map[string]*StepSnapshot, len(steps))
	for _, s := range steps {
		if !s.include {
			continue
		}
		if _, dup := m[s.name]; dup {
			continue
		}
		order = append(order, s.name)
		m[s.name] = &StepSnapshot{Status: s.status}
	}
	return order, m
}

// BuildSteps computes the declared step order and the initial steps map for
// a task. Conditional steps are either absent (language edges) or present
// with status skipped (feature toggles), matching what progress reporting
// expects.
func BuildSteps(taskType string, opts PlanOptions) ([]string, map[string]*StepSnapshot) {
	if taskType == TaskTypePurge {
		return buildPlan([]planStep{{StepPurgeTaskFiles, StepPending, true}})
	}

	translateVoice := !isEnglish(opts.VoiceLanguage)
	translateSubs := opts.SubtitleLanguage != "" && !isEnglish(opts.SubtitleLanguage)

	var steps []planStep
	if opts.SourceType == "pdf" {
		steps = append(steps, planStep{StepSegmentPDFContent, StepPending, true})
		if opts.GenerateVideo {
			steps = append(steps,
				planStep{StepRevisePDFTranscripts, StepPending, true},
				planStep{StepTranslateVoiceTranscripts, StepPending, translateVoice},
				planStep{StepTranslateSubtitleTranscript, StepPending, translateSubs},
				planStep{StepGeneratePDFChapterImages, StepPending, true},
				planStep{StepGeneratePDFAudio, StepPending, true},
				planStep{StepGeneratePDFSubtitles, subtitleStatus(opts.GenerateSubtitles), true},
				planStep{StepComposeVideo, StepPending, true},
			)
		}
	} else if opts.GenerateVideo {
		steps = append(steps,
			planStep{StepExtractSlides, StepPending, true},
			planStep{StepConvertSlidesToImages, StepPending, true},
			planStep{StepAnalyzeSlideImages, toggleStatus(opts.VisualAnalysis), true},
			planStep{StepGenerateTranscripts, StepPending, true},
			planStep{StepReviseTranscripts, StepPending, true},
			planStep{StepTranslateVoiceTranscripts, StepPending, translateVoice},
			planStep{StepTranslateSubtitleTranscript, StepPending, translateSubs},
			planStep{StepGenerateAudio, StepPending, true},
			planStep{StepGenerateAvatarVideos, toggleStatus(opts.GenerateAvatar), true},
			planStep{StepGenerateSubtitles, subtitleStatus(opts.GenerateSubtitles), true},
			planStep{StepComposeVideo, StepPending, true},
		)
	}

	if opts.GeneratePodcast {
		steps = append(steps,
			// Podcasts are always scripted from chapter segmentation, for
			// slide sources too (extraction reads any document type).
			// Shared with the PDF video path; buildPlan deduplicates.
			planStep{StepSegmentPDFContent, StepPending, true},
			planStep{StepGeneratePodcastScript, StepPending, true},
			planStep{StepTranslatePodcastScript, StepPending, !isEnglish(opts.EffectiveTranscriptLanguage())},
			planStep{StepGeneratePodcastAudio, StepPending, true},
			planStep{StepGeneratePodcastSubtitles, StepPending, true},
			planStep{StepComposePodcast, StepPending, true},
		)
	}

	return buildPlan(steps)
}

func subtitleStatus(enabled bool) StepStatus {
	if enabled {
		return StepPending
	}
	return StepSkipped
}

func toggleStatus(enabled bool) StepStatus {
	if enabled {
		return StepPending
	}
	return StepSkipped
}

// TaskTypeFor derives the explicit task type from the generation flags.
func TaskTypeFor(generateVideo, generatePodcast bool) string {
	switch {
	case generateVideo && generatePodcast:
		return TaskTypeBoth
	case generatePodcast:
		return TaskTypePodcast
	default:
		return TaskTypeVideo
	}
}

// FirstStep returns the initial current_step for a plan.
func FirstStep(order []string) string {
	if len(order) == 0 {
		return ""
	}
	return order[0]
}

// DisplayName returns the human-readable label for a step.
func DisplayName(step string) string {
	names := map[string]string{
		StepSegmentPDFContent:           "Segmenting PDF content into chapters",
		StepRevisePDFTranscripts:        "Revising and refining chapter transcripts",
		StepTranslateVoiceTranscripts:   "Translating voice transcripts",
		StepTranslateSubtitleTranscript: "Translating subtitle transcripts",
		StepGeneratePDFChapterImages:    "Generating chapter images",
		StepGeneratePDFAudio:            "Generating chapter audio",
		StepGeneratePDFSubtitles:        "Generating subtitles",
		StepComposeVideo:                "Composing final video",
		StepExtractSlides:               "Extracting slides",
		StepConvertSlidesToImages:       "Converting slides to images",
		StepAnalyzeSlideImages:          "Analyzing slide images",
		StepGenerateTranscripts:         "Generating transcripts",
		StepReviseTranscripts:           "Revising transcripts",
		StepGenerateAudio:               "Generating audio",
		StepGenerateAvatarVideos:        "Generating avatar videos",
		StepGenerateSubtitles:           "Generating subtitles",
		StepGeneratePodcastScript:       "Generating 2-person podcast script",
		StepTranslatePodcastScript:      "Translating podcast script",
		StepGeneratePodcastAudio:        "Generating podcast audio (multi-voice)",
		StepGeneratePodcastSubtitles:    "Generating podcast subtitles",
		StepComposePodcast:              "Composing final podcast (MP3)",
		StepPurgeTaskFiles:              "Purging task files",
	}
	if n, ok := names[step]; ok {
		return n
	}
	return step
}
