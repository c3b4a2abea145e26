package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

// baseID returns the identifier output artifacts are keyed under.
func (r *Run) baseID() string {
	return storage.ResolveOutputBaseID(r.FileID, r.TaskID)
}

// workDir returns the task-local scratch directory for a category.
func (r *Run) workDir(category string) string {
	return filepath.Join(r.OutputDir, r.baseID(), category)
}

// storeFile uploads a local file under the canonical outputs layout and
// returns the artifact reference for it.
func (r *Run) storeFile(ctx context.Context, category, name, localPath, contentType string) (state.ArtifactRef, error) {
	key := storage.OutputObjectKey(r.baseID(), category, name)
	if err := r.Storage.PutFile(ctx, localPath, key, contentType); err != nil {
		return state.ArtifactRef{}, err
	}
	return state.ArtifactRef{
		StorageKey: key,
		StorageURI: r.Storage.URIFor(key),
		LocalPath:  localPath,
	}, nil
}

// storeBytes uploads an in-memory payload under the canonical layout.
func (r *Run) storeBytes(ctx context.Context, category, name string, data []byte, contentType string) (state.ArtifactRef, error) {
	key := storage.OutputObjectKey(r.baseID(), category, name)
	if err := r.Storage.PutBytes(ctx, data, key, contentType); err != nil {
		return state.ArtifactRef{}, err
	}
	return state.ArtifactRef{
		StorageKey: key,
		StorageURI: r.Storage.URIFor(key),
	}, nil
}

// chaptersFromState returns the segmented chapters recorded by the
// segmentation/extraction step, failing when the prerequisite is missing.
func (r *Run) chaptersFromState(ctx context.Context) ([]state.Chapter, error) {
	for _, step := range []string{state.StepSegmentPDFContent, state.StepExtractSlides} {
		data, err := r.StepData(ctx, step)
		if err != nil {
			return nil, err
		}
		if data != nil && len(data.Chapters) > 0 {
			return data.Chapters, nil
		}
	}
	return nil, fmt.Errorf("no segmented content available; segmentation must run first")
}

// voiceSegments returns the transcript segments audio generation should
// narrate: translated voice transcripts when present, else the revised
// English ones.
func (r *Run) voiceSegments(ctx context.Context) ([]state.TranscriptSegment, error) {
	steps := []string{
		state.StepTranslateVoiceTranscripts,
		state.StepRevisePDFTranscripts,
		state.StepReviseTranscripts,
	}
	for _, step := range steps {
		data, err := r.StepData(ctx, step)
		if err != nil {
			return nil, err
		}
		if data != nil && len(data.Segments) > 0 {
			return data.Segments, nil
		}
	}
	return nil, fmt.Errorf("no transcripts available; transcript generation must run first")
}

// subtitleSegments resolves the segments subtitles are rendered from.
func (r *Run) subtitleSegments(ctx context.Context) ([]state.TranscriptSegment, error) {
	data, err := r.StepData(ctx, state.StepTranslateSubtitleTranscript)
	if err != nil {
		return nil, err
	}
	if data != nil && len(data.Segments) > 0 {
		return data.Segments, nil
	}
	return r.voiceSegments(ctx)
}

// localeFor maps a language name to the short locale code used in subtitle
// filenames and artifact maps.
func localeFor(language string) string {
	locales := map[string]string{
		"english":    "en",
		"chinese":    "zh",
		"simplified": "zh",
		"japanese":   "ja",
		"korean":     "ko",
		"spanish":    "es",
		"french":     "fr",
		"german":     "de",
		"italian":    "it",
		"portuguese": "pt",
		"russian":    "ru",
		"thai":       "th",
	}
	key := strings.ToLower(strings.TrimSpace(language))
	if key == "" {
		return "en"
	}
	if code, ok := locales[key]; ok {
		return code
	}
	if len(key) == 2 {
		return key
	}
	return "en"
}

// transcriptMarkdown renders a markdown view of chapter transcripts.
func transcriptMarkdown(title string, chapters []state.Chapter, segments []state.TranscriptSegment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	for i, seg := range segments {
		heading := fmt.Sprintf("Chapter %d", i+1)
		if i < len(chapters) && chapters[i].Title != "" {
			heading = chapters[i].Title
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", heading, strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// subtitleRender is one subtitle file to materialize. Rendering loops list
// SRT first so the leading entry is the canonical artifact deterministically.
type subtitleRender struct {
	format      string
	content     string
	contentType string
}

func formatSRTTime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func formatVTTTime(d time.Duration) string {
	return strings.Replace(formatSRTTime(d), ",", ".", 1)
}

// cueWindows derives subtitle timing windows from per-unit audio durations.
// A zero duration falls back to a reading-speed estimate.
func cueWindows(segments []state.TranscriptSegment, audio []state.AudioArtifact) []time.Duration {
	windows := make([]time.Duration, len(segments))
	for i := range segments {
		var d float64
		if i < len(audio) {
			d = audio[i].DurationSec
		}
		if d <= 0 {
			// ~15 characters per second reading speed.
			d = float64(len(segments[i].Text)) / 15.0
			if d < 2 {
				d = 2
			}
		}
		windows[i] = time.Duration(d * float64(time.Second))
	}
	return windows
}

// renderSRT renders segments as SubRip with sequential timing windows.
func renderSRT(segments []state.TranscriptSegment, windows []time.Duration) string {
	var b strings.Builder
	var cursor time.Duration
	for i, seg := range segments {
		end := cursor + windows[i]
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatSRTTime(cursor), formatSRTTime(end), strings.TrimSpace(seg.Text))
		cursor = end
	}
	return b.String()
}

// renderVTT renders segments as WebVTT with sequential timing windows.
func renderVTT(segments []state.TranscriptSegment, windows []time.Duration) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	var cursor time.Duration
	for i, seg := range segments {
		end := cursor + windows[i]
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", formatVTTTime(cursor), formatVTTTime(end), strings.TrimSpace(seg.Text))
		cursor = end
	}
	return b.String()
}

var jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseJSONResponse unmarshals a model response that may be wrapped in a
// markdown code fence.
func parseJSONResponse(raw string, v any) error {
	payload := strings.TrimSpace(raw)
	if m := jsonBlockRe.FindStringSubmatch(payload); m != nil {
		payload = strings.TrimSpace(m[1])
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("failed to parse model response: %w", err)
	}
	return nil
}

// translateSegments translates each segment to the target language,
// preserving unit order. Probes cancellation between units.
func translateSegments(ctx context.Context, run *Run, segments []state.TranscriptSegment, language string) ([]state.TranscriptSegment, error) {
	out := make([]state.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		if run.Cancelled(ctx) {
			return nil, ErrCancelled
		}
		text, err := run.LLM.Complete(ctx,
			fmt.Sprintf("You are a professional translator. Translate the user's text to %s. Return only the translation.", language),
			seg.Text,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to translate segment %d: %w", seg.Index, err)
		}
		out = append(out, state.TranscriptSegment{
			Index:    seg.Index,
			Language: strings.ToLower(language),
			Text:     strings.TrimSpace(text),
		})
	}
	return out, nil
}
