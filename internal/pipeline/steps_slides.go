package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// registerSlideSteps wires the slide deck pipeline. Audio, subtitles and
// video composition are shared with the PDF pipeline; translation steps are
// registered there.
func registerSlideSteps(r Registry) {
	r[state.StepExtractSlides] = stepExtractSlides
	r[state.StepConvertSlidesToImages] = stepConvertSlidesToImages
	r[state.StepAnalyzeSlideImages] = stepAnalyzeSlideImages
	r[state.StepGenerateTranscripts] = stepGenerateTranscripts
	r[state.StepReviseTranscripts] = stepReviseTranscripts
	r[state.StepGenerateAudio] = stepGenerateNarrationAudio
	r[state.StepGenerateAvatarVideos] = stepGenerateAvatarVideos
	r[state.StepGenerateSubtitles] = stepGenerateNarrationSubtitles
}

func stepExtractSlides(ctx context.Context, run *Run) error {
	text, err := run.Media.ExtractText(ctx, run.FilePath)
	if err != nil {
		return fmt.Errorf("failed to extract slide text: %w", err)
	}

	// pdftotext separates pages with form feeds; one slide per page.
	pages := strings.Split(text, "\f")
	chapters := make([]state.Chapter, 0, len(pages))
	for _, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		title := ""
		if lines := strings.SplitN(page, "\n", 2); len(lines) > 0 {
			title = strings.TrimSpace(lines[0])
		}
		chapters = append(chapters, state.Chapter{
			Index:   len(chapters),
			Title:   title,
			Content: page,
		})
	}
	if len(chapters) == 0 {
		return fmt.Errorf("deck %s contains no extractable slides", run.FileID)
	}
	return run.CompleteStep(ctx, state.StepExtractSlides, &state.StepData{
		Kind:     state.DataChapters,
		Chapters: chapters,
	})
}

func stepConvertSlidesToImages(ctx context.Context, run *Run) error {
	outDir := run.workDir(storage.CategoryImages)
	pages, err := run.Media.RenderPages(ctx, run.FilePath, outDir)
	if err != nil {
		return fmt.Errorf("failed to render slides: %w", err)
	}

	images := make([]state.ImageArtifact, 0, len(pages))
	for i, page := range pages {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		name := fmt.Sprintf("slide_%02d.png", i+1)
		ref, err := run.storeFile(ctx, storage.CategoryImages, name, page, "image/png")
		if err != nil {
			return err
		}
		images = append(images, state.ImageArtifact{
			Index:      i,
			StorageKey: ref.StorageKey,
			StorageURI: ref.StorageURI,
			LocalPath:  page,
		})
	}
	return run.CompleteStep(ctx, state.StepConvertSlidesToImages, &state.StepData{
		Kind:   state.DataImages,
		Images: images,
	})
}

func stepAnalyzeSlideImages(ctx context.Context, run *Run) error {
	data, err := run.StepData(ctx, state.StepConvertSlidesToImages)
	if err != nil {
		return err
	}
	if data == nil || len(data.Images) == 0 {
		return fmt.Errorf("no slide images available; conversion must run first")
	}

	segments := make([]state.TranscriptSegment, 0, len(data.Images))
	for _, img := range data.Images {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		analysis, err := run.Vision.Describe(ctx, img.LocalPath,
			"Describe the visual content of this slide: charts, diagrams, figures and their meaning. Be concise.")
		if err != nil {
			return fmt.Errorf("failed to analyze slide %d: %w", img.Index, err)
		}
		segments = append(segments, state.TranscriptSegment{
			Index:    img.Index,
			Language: "english",
			Text:     strings.TrimSpace(analysis),
		})
	}
	return run.CompleteStep(ctx, state.StepAnalyzeSlideImages, &state.StepData{
		Kind:     state.DataTranscripts,
		Segments: segments,
		Language: "english",
	})
}

const slideTranscriptPrompt = `You are writing the narration for one slide of a presentation video.
Write natural spoken English covering the slide's content. Return only the
narration text.`

func stepGenerateTranscripts(ctx context.Context, run *Run) error {
	chapters, err := run.chaptersFromState(ctx)
	if err != nil {
		return err
	}

	// Visual analysis notes enrich the prompt when available.
	var analysis []state.TranscriptSegment
	if data, err := run.StepData(ctx, state.StepAnalyzeSlideImages); err != nil {
		return err
	} else if data != nil {
		analysis = data.Segments
	}

	segments := make([]state.TranscriptSegment, 0, len(chapters))
	for _, chapter := range chapters {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		prompt := chapter.Content
		if chapter.Index < len(analysis) {
			prompt += "\n\nVisual notes: " + analysis[chapter.Index].Text
		}
		text, err := run.LLM.Complete(ctx, slideTranscriptPrompt, prompt)
		if err != nil {
			return fmt.Errorf("failed to generate transcript for slide %d: %w", chapter.Index, err)
		}
		segments = append(segments, state.TranscriptSegment{
			Index:    chapter.Index,
			Language: "english",
			Text:     strings.TrimSpace(text),
		})
	}
	return run.CompleteStep(ctx, state.StepGenerateTranscripts, &state.StepData{
		Kind:     state.DataTranscripts,
		Segments: segments,
		Language: "english",
	})
}

func stepReviseTranscripts(ctx context.Context, run *Run) error {
	data, err := run.StepData(ctx, state.StepGenerateTranscripts)
	if err != nil {
		return err
	}
	if data == nil || len(data.Segments) == 0 {
		return fmt.Errorf("no transcripts available; transcript generation must run first")
	}

	chapters, err := run.chaptersFromState(ctx)
	if err != nil {
		return err
	}

	segments := make([]state.TranscriptSegment, 0, len(data.Segments))
	for _, seg := range data.Segments {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		revised, err := run.LLM.Complete(ctx, reviseSystemPrompt, seg.Text)
		if err != nil {
			return fmt.Errorf("failed to revise transcript %d: %w", seg.Index, err)
		}
		segments = append(segments, state.TranscriptSegment{
			Index:    seg.Index,
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
	return run.State.UpdateStepByTask(ctx, run.TaskID, state.StepReviseTranscripts, func(snap *state.StepSnapshot) {
		snap.Status = state.StepCompleted
		snap.Data = &state.StepData{Kind: state.DataTranscripts, Segments: segments, Language: "english"}
		snap.Markdown = markdown
		snap.StorageURI = ref.StorageURI
	})
}

// stepGenerateAvatarVideos renders a per-slide presenter segment by pairing
// each slide image with its narration audio. Stored per unit as step data;
// video composition builds from the slide images and audio, not these segments.
func stepGenerateAvatarVideos(ctx context.Context, run *Run) error {
	imagesData, err := run.StepData(ctx, state.StepConvertSlidesToImages)
	if err != nil {
		return err
	}
	audioData, err := run.StepData(ctx, state.StepGenerateAudio)
	if err != nil {
		return err
	}
	if imagesData == nil || audioData == nil || len(imagesData.Images) == 0 || len(audioData.Audio) == 0 {
		return fmt.Errorf("avatar videos need slide images and audio; earlier steps must run first")
	}
	if len(imagesData.Images) != len(audioData.Audio) {
		return fmt.Errorf("image/audio unit mismatch: %d images, %d audio", len(imagesData.Images), len(audioData.Audio))
	}

	segments := make([]state.ImageArtifact, 0, len(imagesData.Images))
	for i, img := range imagesData.Images {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		name := fmt.Sprintf("avatar_%02d.mp4", i+1)
		outPath := filepath.Join(run.workDir(storage.CategoryVideo), name)
		err := run.Media.ComposeSlideshow(ctx,
			[]string{img.LocalPath},
			[]string{audioData.Audio[i].LocalPath},
			"", outPath)
		if err != nil {
			return fmt.Errorf("failed to render avatar segment %d: %w", i, err)
		}
		ref, err := run.storeFile(ctx, storage.CategoryVideo, name, outPath, "video/mp4")
		if err != nil {
			return err
		}
		segments = append(segments, state.ImageArtifact{
			Index:      i,
			StorageKey: ref.StorageKey,
			StorageURI: ref.StorageURI,
			LocalPath:  outPath,
		})
	}
	return run.CompleteStep(ctx, state.StepGenerateAvatarVideos, &state.StepData{
		Kind:   state.DataImages,
		Images: segments,
	})
}
