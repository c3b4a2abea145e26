package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"slidespeaker/internal/config"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// registerPodcastSteps wires the podcast pipeline (from PDF chapters).
func registerPodcastSteps(r Registry) {
	r[state.StepGeneratePodcastScript] = stepGeneratePodcastScript
	r[state.StepTranslatePodcastScript] = stepTranslatePodcastScript
	r[state.StepGeneratePodcastAudio] = stepGeneratePodcastAudio
	r[state.StepGeneratePodcastSubtitles] = stepGeneratePodcastSubtitles
	r[state.StepComposePodcast] = stepComposePodcast
}

const podcastScriptPrompt = `You write two-person podcast scripts. Host interviews Guest about the
provided document chapters. The conversation is engaging and covers every
chapter. Respond with JSON:
[{"speaker": "host", "text": "..."}, {"speaker": "guest", "text": "..."}]
Write the dialogue in English.`

func stepGeneratePodcastScript(ctx context.Context, run *Run) error {
	chapters, err := run.chaptersFromState(ctx)
	if err != nil {
		return err
	}

	var content strings.Builder
	for _, chapter := range chapters {
		fmt.Fprintf(&content, "## %s\n%s\n\n", chapter.Title, chapter.Content)
	}
	if run.Cancelled(ctx) {
		return ErrCancelled
	}

	response, err := run.LLM.Complete(ctx, podcastScriptPrompt, content.String())
	if err != nil {
		return fmt.Errorf("failed to generate podcast script: %w", err)
	}
	var raw []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
	}
	if err := parseJSONResponse(response, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("podcast script generation produced no dialogue")
	}

	dialogue := make([]state.DialogueLine, 0, len(raw))
	for _, line := range raw {
		speaker := strings.ToLower(strings.TrimSpace(line.Speaker))
		if speaker != "host" && speaker != "guest" {
			speaker = "host"
		}
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}
		dialogue = append(dialogue, state.DialogueLine{Speaker: speaker, Text: text})
	}
	return run.CompleteStep(ctx, state.StepGeneratePodcastScript, &state.StepData{
		Kind:     state.DataPodcastScript,
		Dialogue: dialogue,
		Language: "english",
	})
}

func stepTranslatePodcastScript(ctx context.Context, run *Run) error {
	st, err := run.StateNow(ctx)
	if err != nil {
		return err
	}
	data, err := run.StepData(ctx, state.StepGeneratePodcastScript)
	if err != nil {
		return err
	}
	if data == nil || len(data.Dialogue) == 0 {
		return fmt.Errorf("no podcast script available; script generation must run first")
	}

	// The target is the explicit transcript language, else the voice language:
	// the same effective language that planned this step when not English.
	target := st.PodcastTranscriptLanguage
	if target == "" {
		target = st.VoiceLanguage
	}

	translated := make([]state.DialogueLine, 0, len(data.Dialogue))
	for i, line := range data.Dialogue {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		text, err := run.LLM.Complete(ctx,
			fmt.Sprintf("You are a professional translator. Translate the user's text to %s. Keep the conversational tone. Return only the translation.", target),
			line.Text,
		)
		if err != nil {
			return fmt.Errorf("failed to translate dialogue line %d: %w", i, err)
		}
		translated = append(translated, state.DialogueLine{
			Speaker: line.Speaker,
			Text:    strings.TrimSpace(text),
		})
	}
	return run.CompleteStep(ctx, state.StepTranslatePodcastScript, &state.StepData{
		Kind:     state.DataPodcastScript,
		Dialogue: translated,
		Language: strings.ToLower(target),
	})
}

// podcastDialogue resolves the dialogue audio/subtitles are produced from:
// the translated script when present, else the English one.
func (r *Run) podcastDialogue(ctx context.Context) ([]state.DialogueLine, string, error) {
	for _, step := range []string{state.StepTranslatePodcastScript, state.StepGeneratePodcastScript} {
		data, err := r.StepData(ctx, step)
		if err != nil {
			return nil, "", err
		}
		if data != nil && len(data.Dialogue) > 0 {
			return data.Dialogue, data.Language, nil
		}
	}
	return nil, "", fmt.Errorf("no podcast script available; script generation must run first")
}

func stepGeneratePodcastAudio(ctx context.Context, run *Run) error {
	st, err := run.StateNow(ctx)
	if err != nil {
		return err
	}
	dialogue, language, err := run.podcastDialogue(ctx)
	if err != nil {
		return err
	}

	hostVoice := st.PodcastHostVoice
	if hostVoice == "" {
		hostVoice = config.PodcastHost
	}
	guestVoice := st.PodcastGuestVoice
	if guestVoice == "" {
		guestVoice = config.PodcastGuest
	}

	audio := make([]state.AudioArtifact, 0, len(dialogue))
	for i, line := range dialogue {
		if run.Cancelled(ctx) {
			return ErrCancelled
		}
		voice := hostVoice
		if line.Speaker == "guest" {
			voice = guestVoice
		}
		name := fmt.Sprintf("line_%03d.mp3", i+1)
		localPath := filepath.Join(run.workDir(storage.CategoryPodcast), name)
		if err := run.TTS.Synthesize(ctx, line.Text, voice, localPath); err != nil {
			return fmt.Errorf("failed to synthesize dialogue line %d: %w", i, err)
		}
		duration, err := run.Media.ProbeDuration(ctx, localPath)
		if err != nil {
			return fmt.Errorf("failed to probe dialogue line %d: %w", i, err)
		}
		audio = append(audio, state.AudioArtifact{
			Index:       i,
			LocalPath:   localPath,
			DurationSec: duration,
		})
	}
	return run.CompleteStep(ctx, state.StepGeneratePodcastAudio, &state.StepData{
		Kind:     state.DataAudio,
		Audio:    audio,
		Language: language,
	})
}

func stepGeneratePodcastSubtitles(ctx context.Context, run *Run) error {
	dialogue, language, err := run.podcastDialogue(ctx)
	if err != nil {
		return err
	}
	audioData, err := run.StepData(ctx, state.StepGeneratePodcastAudio)
	if err != nil {
		return err
	}
	var audio []state.AudioArtifact
	if audioData != nil {
		audio = audioData.Audio
	}

	segments := make([]state.TranscriptSegment, len(dialogue))
	for i, line := range dialogue {
		segments[i] = state.TranscriptSegment{
			Index:    i,
			Language: language,
			Text:     fmt.Sprintf("%s: %s", strings.ToUpper(line.Speaker[:1])+line.Speaker[1:], line.Text),
		}
	}
	locale := localeFor(language)
	windows := cueWindows(segments, audio)

	// SRT first: the leading entry becomes the canonical artifact reference.
	subtitles := make([]state.SubtitleArtifact, 0, 2)
	for _, render := range []subtitleRender{
		{format: "srt", content: renderSRT(segments, windows), contentType: "text/plain"},
		{format: "vtt", content: renderVTT(segments, windows), contentType: "text/vtt"},
	} {
		name := fmt.Sprintf("%s_podcast_%s.%s", run.baseID(), locale, render.format)
		ref, err := run.storeBytes(ctx, storage.CategorySubtitles, name, []byte(render.content), render.contentType)
		if err != nil {
			return err
		}
		subtitles = append(subtitles, state.SubtitleArtifact{
			Locale:     locale,
			Format:     render.format,
			StorageKey: ref.StorageKey,
			StorageURI: ref.StorageURI,
		})
	}

	// The dialogue transcript JSON is a downloadable artifact carrying the
	// explicit language.
	transcript := map[string]any{
		"language": language,
		"dialogue": dialogue,
	}
	payload, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal podcast transcript: %w", err)
	}
	ref, err := run.storeBytes(ctx, storage.CategoryTranscripts, "podcast_dialogue.json", payload, "application/json")
	if err != nil {
		return err
	}
	if err := run.State.SetArtifactByTask(ctx, run.TaskID, "transcripts", "podcast", ref); err != nil {
		return err
	}
	if err := run.State.SetArtifactByTask(ctx, run.TaskID, "subtitles", locale, state.ArtifactRef{
		StorageKey: subtitles[0].StorageKey,
		StorageURI: subtitles[0].StorageURI,
	}); err != nil {
		return err
	}
	return run.CompleteStep(ctx, state.StepGeneratePodcastSubtitles, &state.StepData{
		Kind:      state.DataSubtitles,
		Subtitles: subtitles,
		Language:  locale,
	})
}

func stepComposePodcast(ctx context.Context, run *Run) error {
	audioData, err := run.StepData(ctx, state.StepGeneratePodcastAudio)
	if err != nil {
		return err
	}
	if audioData == nil || len(audioData.Audio) == 0 {
		return fmt.Errorf("no podcast audio available; audio generation must run first")
	}

	inputs := make([]string, len(audioData.Audio))
	for i, a := range audioData.Audio {
		inputs[i] = a.LocalPath
	}
	if run.Cancelled(ctx) {
		return ErrCancelled
	}

	name := run.baseID() + "_podcast.mp3"
	outPath := filepath.Join(run.workDir(storage.CategoryPodcast), name)
	if err := run.Media.ConcatAudio(ctx, inputs, outPath); err != nil {
		return fmt.Errorf("failed to compose podcast: %w", err)
	}
	duration, err := run.Media.ProbeDuration(ctx, outPath)
	if err != nil {
		return fmt.Errorf("failed to probe podcast duration: %w", err)
	}

	ref, err := run.storeFile(ctx, storage.CategoryPodcast, name, outPath, "audio/mpeg")
	if err != nil {
		return err
	}
	if err := run.State.SetArtifactByTask(ctx, run.TaskID, "podcast", "podcast", ref); err != nil {
		return err
	}
	return run.CompleteStep(ctx, state.StepComposePodcast, &state.StepData{
		Kind: state.DataCompose,
		Compose: &state.ComposeResult{
			StorageKey:  ref.StorageKey,
			StorageURI:  ref.StorageURI,
			LocalPath:   outPath,
			DurationSec: duration,
		},
	})
}
