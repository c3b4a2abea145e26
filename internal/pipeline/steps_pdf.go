package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// registerPDFSteps wires the PDF video pipeline plus the translation steps
// shared with the slide pipeline.
func registerPDFSteps(r Registry) {
	r[state.StepSegmentPDFContent] = stepSegmentPDFContent
	r[state.StepRevisePDFTranscripts] = stepRevisePDFTranscripts
	r[state.StepTranslateVoiceTranscripts] = stepTranslateVoiceTranscripts
	r[state.StepTranslateSubtitleTranscript] = stepTranslateSubtitleTranscripts
	r[state.StepGeneratePDFChapterImages] = stepGeneratePDFChapterImages
	r[state.StepGeneratePDFAudio] = stepGenerateNarrationAudio
	r[state.StepGeneratePDFSubtitles] = stepGenerateNarrationSubtitles
	r[state.StepComposeVideo] = stepComposeVideo
}

const segmentSystemPrompt = `You are an expert technical editor. Split the provided document text into
coherent chapters for a narrated video. Respond with JSON:
[{"title": "...", "content": "...", "transcript": "..."}]
where transcript is a spoken-style narration of the chapter in English.`

func stepSegmentPDFContent(ctx context.Context, run *Run) error {
	text, err := run.Media.ExtractText(ctx, run.FilePath)
	if err != nil {
		return fmt.Errorf("failed to extract document text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("document %s contains no extractable text", run.FileID)
	}
	if run.Cancelled(ctx) {
		return ErrCancelled
	}

	response, err := run.LLM.Complete(ctx, segmentSystemPrompt, text)
	if err != nil {
		return fmt.Errorf("failed to segment content: %w", err)
	}
	var raw []struct {
		Title      string `json:"title"`
		Content    string `json:"content"`
		Transcript string `json:"transcript"`
	}
	if err := parseJSONResponse(response, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("segmentation produced no chapters")
	}

	chapters := make([]state.Chapter, len(raw))
	for i, ch := range raw {
		chapters[i] = state.Chapter{
			Index:      i,
			Title:      strings.TrimSpace(ch.Title),
			Content:    strings.TrimSpace(ch.Content),
			Transcript: strings.TrimSpace(ch.Transcript),
		}
	}
	return run.CompleteStep(ctx, state.StepSegmentPDFContent, &state.StepData{
		Kind:     state.DataChapters,
		Chapters: chapters,
	})
}

const reviseSystemPrompt = `You are a narration editor. Rewrite the chapter narration so it flows as
natural spoken English, keeping all technical content. Return only the
revised narration text.`

func stepRevisePDFTranscripts(ctx context.Context, run *Run) error {
	chapters, err := run.chaptersFromState(ctx)
	if err != nil {
		return err
	}

	segments := make([]state.TranscriptSegment, 0, len(chapters))
	for _, chapter := range chapters {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		source := chapter.Transcript
		if source == "" {
			source = chapter.Content
		}
		revised, err := run.LLM.Complete(ctx, reviseSystemPrompt, source)
		if err != nil {
			return fmt.Errorf("failed to revise chapter %d: %w", chapter.Index, err)
		}
		segments = append(segments, state.TranscriptSegment{
			Index:    chapter.Index,
			Language: "english",
			Text:     strings.TrimSpace(revised),
		})
	}

	st, err := run.StateNow(ctx)
	if err != nil {
		return err
	}
	markdown := transcriptMarkdown(st.Filename, chapters, segments)
	ref, err := run.storeBytes(ctx, storage.CategoryTranscripts, "transcript_en.md", []byte(markdown), "text/markdown")
	if err != nil {
		return err
	}
	if err := run.State.SetArtifactByTask(ctx, run.TaskID, "transcripts", "en", ref); err != nil {
		return err
	}
	return run.State.UpdateStepByTask(ctx, run.TaskID, state.StepRevisePDFTranscripts, func(snap *state.StepSnapshot) {
		snap.Status = state.StepCompleted
		snap.Data = &state.StepData{Kind: state.DataTranscripts, Segments: segments, Language: "english"}
		snap.Markdown = markdown
		snap.StorageURI = ref.StorageURI
	})
}

func stepTranslateVoiceTranscripts(ctx context.Context, run *Run) error {
	st, err := run.StateNow(ctx)
	if err != nil {
		return err
	}
	segments, err := run.voiceSegments(ctx)
	if err != nil {
		return err
	}
	translated, err := translateSegments(ctx, run, segments, st.VoiceLanguage)
	if err != nil {
		return err
	}
	return run.CompleteStep(ctx, state.StepTranslateVoiceTranscripts, &state.StepData{
		Kind:     state.DataTranscripts,
		Segments: translated,
		Language: strings.ToLower(st.VoiceLanguage),
	})
}

func stepTranslateSubtitleTranscripts(ctx context.Context, run *Run) error {
	st, err := run.StateNow(ctx)
	if err != nil {
		return err
	}
	// Translate from the English revision, not the voice translation.
	var source []state.TranscriptSegment
	for _, step := range []string{state.StepRevisePDFTranscripts, state.StepReviseTranscripts} {
		data, err := run.StepData(ctx, step)
		if err != nil {
			return err
		}
		if data != nil && len(data.Segments) > 0 {
			source = data.Segments
			break
		}
	}
	if len(source) == 0 {
		return fmt.Errorf("no transcripts available; transcript generation must run first")
	}
	translated, err := translateSegments(ctx, run, source, st.SubtitleLanguage)
	if err != nil {
		return err
	}
	return run.CompleteStep(ctx, state.StepTranslateSubtitleTranscript, &state.StepData{
		Kind:     state.DataTranscripts,
		Segments: translated,
		Language: strings.ToLower(st.SubtitleLanguage),
	})
}

func stepGeneratePDFChapterImages(ctx context.Context, run *Run) error {
	chapters, err := run.chaptersFromState(ctx)
	if err != nil {
		return err
	}

	images := make([]state.ImageArtifact, 0, len(chapters))
	for _, chapter := range chapters {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		name := fmt.Sprintf("chapter_%02d.png", chapter.Index+1)
		localPath := filepath.Join(run.workDir(storage.CategoryImages), name)
		prompt := fmt.Sprintf("A clean, modern illustration for a chapter titled %q. %s", chapter.Title, firstSentence(chapter.Content))
		if err := run.Images.Render(ctx, prompt, localPath); err != nil {
			return fmt.Errorf("failed to render chapter %d image: %w", chapter.Index, err)
		}
		ref, err := run.storeFile(ctx, storage.CategoryImages, name, localPath, "image/png")
		if err != nil {
			return err
		}
		images = append(images, state.ImageArtifact{
			Index:      chapter.Index,
			StorageKey: ref.StorageKey,
			StorageURI: ref.StorageURI,
			LocalPath:  localPath,
		})
	}
	return run.CompleteStep(ctx, state.StepGeneratePDFChapterImages, &state.StepData{
		Kind:   state.DataImages,
		Images: images,
	})
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?"); idx > 0 && idx < 300 {
		return text[:idx+1]
	}
	if len(text) > 300 {
		return text[:300]
	}
	return text
}
