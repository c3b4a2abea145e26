package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// stepGenerateNarrationAudio synthesizes one audio unit per transcript
// segment plus a concatenated full track. Shared by the PDF and slide
// pipelines (registered as generate_pdf_audio and generate_audio).
func stepGenerateNarrationAudio(ctx context.Context, run *Run) error {
	st, err := run.StateNow(ctx)
	if err != nil {
		return err
	}
	segments, err := run.voiceSegments(ctx)
	if err != nil {
		return err
	}

	voice := st.VoiceID
	audio := make([]state.AudioArtifact, 0, len(segments))
	localPaths := make([]string, 0, len(segments))
	for _, seg := range segments {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		name := fmt.Sprintf("chapter_%02d.mp3", seg.Index+1)
		localPath := filepath.Join(run.workDir(storage.CategoryAudio), name)
		if err := run.TTS.Synthesize(ctx, seg.Text, voice, localPath); err != nil {
			return fmt.Errorf("failed to synthesize segment %d: %w", seg.Index, err)
		}
		duration, err := run.Media.ProbeDuration(ctx, localPath)
		if err != nil {
			return fmt.Errorf("failed to probe segment %d duration: %w", seg.Index, err)
		}
		ref, err := run.storeFile(ctx, storage.CategoryAudio, name, localPath, "audio/mpeg")
		if err != nil {
			return err
		}
		audio = append(audio, state.AudioArtifact{
			Index:       seg.Index,
			StorageKey:  ref.StorageKey,
			StorageURI:  ref.StorageURI,
			LocalPath:   localPath,
			DurationSec: duration,
		})
		localPaths = append(localPaths, localPath)
	}

	trackName := run.baseID() + ".mp3"
	trackPath := filepath.Join(run.workDir(storage.CategoryAudio), trackName)
	if err := run.Media.ConcatAudio(ctx, localPaths, trackPath); err != nil {
		return fmt.Errorf("failed to concatenate audio track: %w", err)
	}
	trackRef, err := run.storeFile(ctx, storage.CategoryAudio, trackName, trackPath, "audio/mpeg")
	if err != nil {
		return err
	}
	if err := run.State.SetArtifactByTask(ctx, run.TaskID, "audio", "track", trackRef); err != nil {
		return err
	}

	step := state.StepGeneratePDFAudio
	if snap := st.Step(state.StepGenerateAudio); snap != nil {
		step = state.StepGenerateAudio
	}
	return run.CompleteStep(ctx, step, &state.StepData{
		Kind:  state.DataAudio,
		Audio: audio,
	})
}

// stepGenerateNarrationSubtitles renders SRT and VTT files for the resolved
// subtitle locale, timed by the per-unit audio durations.
func stepGenerateNarrationSubtitles(ctx context.Context, run *Run) error {
	st, err := run.StateNow(ctx)
	if err != nil {
		return err
	}
	segments, err := run.subtitleSegments(ctx)
	if err != nil {
		return err
	}

	var audio []state.AudioArtifact
	for _, step := range []string{state.StepGeneratePDFAudio, state.StepGenerateAudio} {
		data, err := run.StepData(ctx, step)
		if err != nil {
			return err
		}
		if data != nil && len(data.Audio) > 0 {
			audio = data.Audio
			break
		}
	}

	locale := localeFor(st.EffectiveSubtitleLanguage())
	windows := cueWindows(segments, audio)

	// SRT first: the leading entry becomes the canonical artifact reference.
	subtitles := make([]state.SubtitleArtifact, 0, 2)
	for _, render := range []subtitleRender{
		{format: "srt", content: renderSRT(segments, windows), contentType: "text/plain"},
		{format: "vtt", content: renderVTT(segments, windows), contentType: "text/vtt"},
	} {
		format, content, contentType := render.format, render.content, render.contentType
		name := fmt.Sprintf("%s_%s.%s", run.baseID(), locale, format)
		localPath := filepath.Join(run.workDir(storage.CategorySubtitles), name)
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("failed to create subtitle directory: %w", err)
		}
		if err := os.WriteFile(localPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write subtitle file: %w", err)
		}
		ref, err := run.storeFile(ctx, storage.CategorySubtitles, name, localPath, contentType)
		if err != nil {
			return err
		}
		subtitles = append(subtitles, state.SubtitleArtifact{
			Locale:     locale,
			Format:     format,
			StorageKey: ref.StorageKey,
			StorageURI: ref.StorageURI,
			LocalPath:  localPath,
		})
	}
	if err := run.State.SetArtifactByTask(ctx, run.TaskID, "subtitles", locale, state.ArtifactRef{
		StorageKey: subtitles[0].StorageKey,
		StorageURI: subtitles[0].StorageURI,
	}); err != nil {
		return err
	}

	step := state.StepGeneratePDFSubtitles
	if snap := st.Step(state.StepGenerateSubtitles); snap != nil {
		step = state.StepGenerateSubtitles
	}
	return run.CompleteStep(ctx, step, &state.StepData{
		Kind:      state.DataSubtitles,
		Subtitles: subtitles,
		Language:  locale,
	})
}

// stepComposeVideo assembles the final MP4 from the per-unit images and
// audio, burning in subtitles when available.
func stepComposeVideo(ctx context.Context, run *Run) error {
	var images []state.ImageArtifact
	for _, step := range []string{state.StepGeneratePDFChapterImages, state.StepConvertSlidesToImages} {
		data, err := run.StepData(ctx, step)
		if err != nil {
			return err
		}
		if data != nil && len(data.Images) > 0 {
			images = data.Images
			break
		}
	}
	if len(images) == 0 {
		return fmt.Errorf("no images available; image generation must run first")
	}

	var audio []state.AudioArtifact
	for _, step := range []string{state.StepGeneratePDFAudio, state.StepGenerateAudio} {
		data, err := run.StepData(ctx, step)
		if err != nil {
			return err
		}
		if data != nil && len(data.Audio) > 0 {
			audio = data.Audio
			break
		}
	}
	if len(audio) == 0 {
		return fmt.Errorf("no audio available; audio generation must run first")
	}
	if len(images) != len(audio) {
		return fmt.Errorf("image/audio unit mismatch: %d images, %d audio", len(images), len(audio))
	}

	imagePaths := make([]string, len(images))
	for i, img := range images {
		imagePaths[i] = img.LocalPath
	}
	audioPaths := make([]string, len(audio))
	for i, a := range audio {
		audioPaths[i] = a.LocalPath
	}

	subtitlePath := ""
	for _, step := range []string{state.StepGeneratePDFSubtitles, state.StepGenerateSubtitles} {
		data, err := run.StepData(ctx, step)
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		for _, sub := range data.Subtitles {
			if sub.Format == "srt" && sub.LocalPath != "" {
				subtitlePath = sub.LocalPath
			}
		}
	}

	if run.Cancelled(ctx) {
		return ErrCancelled
	}

	name := run.baseID() + ".mp4"
	outPath := filepath.Join(run.workDir(storage.CategoryVideo), name)
	if err := run.Media.ComposeSlideshow(ctx, imagePaths, audioPaths, subtitlePath, outPath); err != nil {
		return fmt.Errorf("failed to compose video: %w", err)
	}
	duration, err := run.Media.ProbeDuration(ctx, outPath)
	if err != nil {
		return fmt.Errorf("failed to probe video duration: %w", err)
	}

	ref, err := run.storeFile(ctx, storage.CategoryVideo, name, outPath, "video/mp4")
	if err != nil {
		return err
	}
	if err := run.State.SetArtifactByTask(ctx, run.TaskID, "video", "video", ref); err != nil {
		return err
	}
	return run.CompleteStep(ctx, state.StepComposeVideo, &state.StepData{
		Kind: state.DataCompose,
		Compose: &state.ComposeResult{
			StorageKey:  ref.StorageKey,
			StorageURI:  ref.StorageURI,
			LocalPath:   outPath,
			DurationSec: duration,
		},
	})
}
