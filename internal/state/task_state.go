package state

import (
	"strings"
	"time"
)

// Task-level statuses.
const (
	TaskQueued     = "queued"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
	TaskCancelled  = "cancelled"
)

// StepStatus is the canonical per-step status set.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepCancelled  StepStatus = "cancelled"
	StepSkipped    StepStatus = "skipped"
)

var statusAliases = map[string]StepStatus{
	"completed":   StepCompleted,
	"complete":    StepCompleted,
	"processing":  StepProcessing,
	"in_progress": StepProcessing,
	"running":     StepProcessing,
	"failed":      StepFailed,
	"error":       StepFailed,
	"cancelled":   StepCancelled,
	"canceled":    StepCancelled,
	"skipped":     StepSkipped,
	"queued":      StepPending,
	"waiting":     StepPending,
	"pending":     StepPending,
}

// NormalizeStepStatus maps raw status strings, including legacy aliases,
// to the canonical set. Unknown or empty values normalize to pending.
func NormalizeStepStatus(raw string) StepStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if status, ok := statusAliases[key]; ok {
		return status
	}
	return StepPending
}

// IsTerminal reports whether a step status admits no further transitions
// (other than a retry reset for failed steps).
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepCancelled, StepSkipped:
		return true
	default:
		return false
	}
}

// StepDataKind discriminates the typed step payload variants.
type StepDataKind string

const (
	DataChapters      StepDataKind = "chapters"
	DataTranscripts   StepDataKind = "transcripts"
	DataAudio         StepDataKind = "audio"
	DataSubtitles     StepDataKind = "subtitles"
	DataImages        StepDataKind = "images"
	DataCompose       StepDataKind = "compose"
	DataPodcastScript StepDataKind = "podcast_script"
	DataError         StepDataKind = "error"
)

// Chapter is one segmented unit of a source document.
type Chapter struct {
	Index      int    `json:"index"`
	Title      string `json:"title"`
	Content    string `json:"content,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// TranscriptSegment is one narration unit in a given language.
type TranscriptSegment struct {
	Index    int    `json:"index"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

// AudioArtifact describes one generated audio unit.
type AudioArtifact struct {
	Index       int     `json:"index"`
	StorageKey  string  `json:"storage_key,omitempty"`
	StorageURI  string  `json:"storage_uri,omitempty"`
	LocalPath   string  `json:"local_path,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// SubtitleArtifact describes one generated subtitle file.
type SubtitleArtifact struct {
	Locale     string `json:"locale"`
	Format     string `json:"format"`
	StorageKey string `json:"storage_key,omitempty"`
	StorageURI string `json:"storage_uri,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
}

// ImageArtifact describes one generated image unit.
type ImageArtifact struct {
	Index      int    `json:"index"`
	StorageKey string `json:"storage_key,omitempty"`
	StorageURI string `json:"storage_uri,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
}

// ComposeResult describes a final composed media artifact.
type ComposeResult struct {
	StorageKey  string  `json:"storage_key,omitempty"`
	StorageURI  string  `json:"storage_uri,omitempty"`
	LocalPath   string  `json:"local_path,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// DialogueLine is one turn in a two-speaker podcast script.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// StepData is the closed, tagged payload a step records on completion.
// Only the field matching Kind is populated.
type StepData struct {
	Kind      StepDataKind        `json:"kind,omitempty"`
	Chapters  []Chapter           `json:"chapters,omitempty"`
	Segments  []TranscriptSegment `json:"segments,omitempty"`
	Audio     []AudioArtifact     `json:"audio,omitempty"`
	Subtitles []SubtitleArtifact  `json:"subtitles,omitempty"`
	Images    []ImageArtifact     `json:"images,omitempty"`
	Compose   *ComposeResult      `json:"compose,omitempty"`
	Dialogue  []DialogueLine      `json:"dialogue,omitempty"`
	Language  string              `json:"language,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// StepSnapshot is the persisted view of a single pipeline step.
type StepSnapshot struct {
	Status     StepStatus `json:"status"`
	Data       *StepData  `json:"data,omitempty"`
	Markdown   string     `json:"markdown,omitempty"`
	StorageURI string     `json:"storage_uri,omitempty"`
}

// TaskErrorEntry records a step failure.
type TaskErrorEntry struct {
	Step      string `json:"step"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// ArtifactRef locates one downloadable artifact.
type ArtifactRef struct {
	StorageKey string `json:"storage_key,omitempty"`
	StorageURI string `json:"storage_uri,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
}

// ArtifactMap indexes downloadable artifacts by category. Subtitle entries are
// keyed by locale, transcript entries by locale or "podcast" (the dialogue
// JSON), the rest by artifact name.
type ArtifactMap struct {
	Audio       map[string]ArtifactRef `json:"audio,omitempty"`
	Video       map[string]ArtifactRef `json:"video,omitempty"`
	Subtitles   map[string]ArtifactRef `json:"subtitles,omitempty"`
	Podcast     map[string]ArtifactRef `json:"podcast,omitempty"`
	Images      map[string]ArtifactRef `json:"images,omitempty"`
	Transcripts map[string]ArtifactRef `json:"transcripts,omitempty"`
}

func (a *ArtifactMap) category(name string) *map[string]ArtifactRef {
	switch name {
	case "audio":
		return &a.Audio
	case "video":
		return &a.Video
	case "subtitles":
		return &a.Subtitles
	case "podcast":
		return &a.Podcast
	case "images":
		return &a.Images
	case "transcripts":
		return &a.Transcripts
	default:
		return nil
	}
}

// Set records an artifact under category/name.
func (a *ArtifactMap) Set(category, name string, ref ArtifactRef) {
	m := a.category(category)
	if m == nil {
		return
	}
	if *m == nil {
		*m = make(map[string]ArtifactRef)
	}
	(*m)[name] = ref
}

// All returns every recorded artifact with its category and name.
func (a *ArtifactMap) All() map[string]map[string]ArtifactRef {
	out := make(map[string]map[string]ArtifactRef)
	for _, category := range []string{"audio", "video", "subtitles", "podcast", "images", "transcripts"} {
		m := a.category(category)
		if m != nil && len(*m) > 0 {
			out[category] = *m
		}
	}
	return out
}

// TaskState is the durable runtime state of one processing task.
type TaskState struct {
	FileID   string `json:"file_id"`
	TaskID   string `json:"task_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	FileExt  string `json:"file_ext,omitempty"`
	Filename string `json:"filename,omitempty"`

	SourceType string `json:"source_type,omitempty"`
	TaskType   string `json:"task_type,omitempty"`

	Status      string `json:"status"`
	CurrentStep string `json:"current_step,omitempty"`

	// StepOrder preserves the declared execution order; Steps holds the
	// per-step substates. Retry resets walk StepOrder, never map order.
	StepOrder []string                 `json:"step_order"`
	Steps     map[string]*StepSnapshot `json:"steps"`

	Errors []TaskErrorEntry `json:"errors"`

	VoiceLanguage             string `json:"voice_language,omitempty"`
	SubtitleLanguage          string `json:"subtitle_language,omitempty"`
	PodcastTranscriptLanguage string `json:"podcast_transcript_language,omitempty"`
	VideoResolution           string `json:"video_resolution,omitempty"`

	GenerateVideo     bool `json:"generate_video"`
	GeneratePodcast   bool `json:"generate_podcast"`
	GenerateSubtitles bool `json:"generate_subtitles"`
	GenerateAvatar    bool `json:"generate_avatar,omitempty"`

	VoiceID           string `json:"voice_id,omitempty"`
	PodcastHostVoice  string `json:"podcast_host_voice,omitempty"`
	PodcastGuestVoice string `json:"podcast_guest_voice,omitempty"`

	Artifacts ArtifactMap `json:"artifacts"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Step returns the snapshot for the named step, or nil when absent.
func (t *TaskState) Step(name string) *StepSnapshot {
	if t.Steps == nil {
		return nil
	}
	return t.Steps[name]
}

// OrderedStepNames returns step names in declared order, appending any
// legacy steps present in the map but missing from the order list.
func (t *TaskState) OrderedStepNames() []string {
	seen := make(map[string]bool, len(t.StepOrder))
	names := make([]string, 0, len(t.Steps))
	for _, name := range t.StepOrder {
		if _, ok := t.Steps[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	for name := range t.Steps {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}

// Progress returns completion percentage over non-skipped steps.
func (t *TaskState) Progress() int {
	total := 0
	completed := 0
	for _, snap := range t.Steps {
		if snap == nil || snap.Status == StepSkipped {
			continue
		}
		total++
		if snap.Status == StepCompleted {
			completed++
		}
	}
	if total == 0 {
		return 0
	}
	return completed * 100 / total
}

// EffectiveSubtitleLanguage resolves the locale used for subtitle artifacts.
func (t *TaskState) EffectiveSubtitleLanguage() string {
	for _, candidate := range []string{t.SubtitleLanguage, t.PodcastTranscriptLanguage, t.VoiceLanguage} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return "english"
}

// Touch advances the updated_at audit timestamp.
func (t *TaskState) Touch() {
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// ResetStepsFrom resets startStep and every later step in declared order to
// pending (skipped steps stay skipped), clears their data, drops error
// entries referencing reset steps and sets the task processing. Steps
// declared before startStep are untouched. Returns false when startStep is
// not in the plan.
func (t *TaskState) ResetStepsFrom(startStep string) bool {
	if t.Step(startStep) == nil {
		return false
	}
	reset := make(map[string]bool)
	encountered := false
	for _, name := range t.OrderedStepNames() {
		if name == startStep {
			encountered = true
		}
		if !encountered {
			continue
		}
		snap := t.Steps[name]
		if snap.Status == StepSkipped {
			continue
		}
		snap.Status = StepPending
		snap.Data = nil
		snap.Markdown = ""
		reset[name] = true
	}

	kept := t.Errors[:0]
	for _, entry := range t.Errors {
		if !reset[entry.Step] {
			kept = append(kept, entry)
		}
	}
	t.Errors = kept

	t.Status = TaskProcessing
	t.CurrentStep = startStep
	return true
}

// Cancel marks the task cancelled, cancelling every step still pending or
// processing. cancelledStep, when set, names the step that observed the
// cancellation.
func (t *TaskState) Cancel(cancelledStep string) {
	t.Status = TaskCancelled
	if snap := t.Step(cancelledStep); snap != nil && snap.Status != StepCompleted {
		snap.Status = StepCancelled
	}
	for _, name := range t.OrderedStepNames() {
		snap := t.Steps[name]
		if snap.Status == StepPending || snap.Status == StepProcessing {
			snap.Status = StepCancelled
		}
	}
}
