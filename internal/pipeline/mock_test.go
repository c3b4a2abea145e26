package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"slidespeaker/internal/state"
)

// mockStore is an in-memory StateStore. States round-trip through JSON on
// every save/load to mirror the Redis serialization boundary.
type mockStore struct {
	mu     sync.Mutex
	states map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{states: make(map[string]string)}
}

func (m *mockStore) CreateState(_ context.Context, opts state.CreateStateOptions) (*state.TaskState, error) {
	taskType := opts.TaskType
	if taskType == "" {
		taskType = state.TaskTypeFor(opts.Plan.GenerateVideo, opts.Plan.GeneratePodcast)
	}
	order, steps := state.BuildSteps(taskType, opts.Plan)
	st := &state.TaskState{
		FileID:                    opts.FileID,
		TaskID:                    opts.TaskID,
		UserID:                    opts.UserID,
		FilePath:                  opts.FilePath,
		FileExt:                   opts.FileExt,
		Filename:                  opts.Filename,
		SourceType:                opts.SourceType,
		TaskType:                  taskType,
		Status:                    state.TaskQueued,
		CurrentStep:               state.FirstStep(order),
		StepOrder:                 order,
		Steps:                     steps,
		Errors:                    []state.TaskErrorEntry{},
		VoiceLanguage:             opts.Plan.VoiceLanguage,
		SubtitleLanguage:          opts.Plan.SubtitleLanguage,
		PodcastTranscriptLanguage: opts.Plan.TranscriptLanguage,
		GenerateVideo:             opts.Plan.GenerateVideo,
		GeneratePodcast:           opts.Plan.GeneratePodcast,
		GenerateSubtitles:         opts.Plan.GenerateSubtitles,
		GenerateAvatar:            opts.Plan.GenerateAvatar,
		PodcastHostVoice:          opts.PodcastHostVoice,
		PodcastGuestVoice:         opts.PodcastGuestVoice,
	}
	if err := m.Save(context.Background(), st); err != nil {
		return nil, err
	}
	return st, nil
}

func (m *mockStore) Save(_ context.Context, st *state.TaskState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.TaskID] = string(payload)
	return nil
}

func (m *mockStore) GetStateByTask(_ context.Context, taskID string) (*state.TaskState, error) {
	m.mu.Lock()
	raw, ok := m.states[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var st state.TaskState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *mockStore) mutate(ctx context.Context, taskID string, fn func(*state.TaskState)) error {
	st, err := m.GetStateByTask(ctx, taskID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no state for task %s", taskID)
	}
	fn(st)
	return m.Save(ctx, st)
}

func (m *mockStore) UpdateStepStatusByTask(ctx context.Context, taskID, step string, status state.StepStatus, data *state.StepData) error {
	return m.mutate(ctx, taskID, func(st *state.TaskState) {
		if snap := st.Step(step); snap != nil {
			snap.Status = status
			if data != nil {
				snap.Data = data
			}
			st.CurrentStep = step
		}
	})
}

func (m *mockStore) UpdateStepByTask(ctx context.Context, taskID, step string, fn func(*state.StepSnapshot)) error {
	return m.mutate(ctx, taskID, func(st *state.TaskState) {
		if snap := st.Step(step); snap != nil {
			fn(snap)
			st.CurrentStep = step
		}
	})
}

func (m *mockStore) SetArtifactByTask(ctx context.Context, taskID, category, name string, ref state.ArtifactRef) error {
	return m.mutate(ctx, taskID, func(st *state.TaskState) {
		st.Artifacts.Set(category, name, ref)
	})
}

func (m *mockStore) AddErrorByTask(ctx context.Context, taskID, step, message string) error {
	return m.mutate(ctx, taskID, func(st *state.TaskState) {
		st.Errors = append(st.Errors, state.TaskErrorEntry{
			Step: step, Error: message, Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func (m *mockStore) SetStatusByTask(ctx context.Context, taskID, status string) error {
	return m.mutate(ctx, taskID, func(st *state.TaskState) { st.Status = status })
}

func (m *mockStore) MarkCompletedByTask(ctx context.Context, taskID string) error {
	return m.SetStatusByTask(ctx, taskID, state.TaskCompleted)
}

func (m *mockStore) MarkFailedByTask(ctx context.Context, taskID string) error {
	return m.SetStatusByTask(ctx, taskID, state.TaskFailed)
}

func (m *mockStore) MarkCancelledByTask(ctx context.Context, taskID, cancelledStep string) error {
	return m.mutate(ctx, taskID, func(st *state.TaskState) { st.Cancel(cancelledStep) })
}

func (m *mockStore) DeleteStateByTask(_ context.Context, _ string, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, taskID)
	return nil
}

// mockQueue is a togglable cancellation probe.
type mockQueue struct {
	mu        sync.Mutex
	cancelled map[string]bool
}

func newMockQueue() *mockQueue {
	return &mockQueue{cancelled: make(map[string]bool)}
}

func (q *mockQueue) IsCancelled(_ context.Context, taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[taskID]
}

func (q *mockQueue) cancel(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[taskID] = true
}

// Fake providers. Each counts its calls so idempotence is observable.

type fakeLLM struct {
	mu    sync.Mutex
	calls int
	reply func(system, user string) (string, error)
}

func (f *fakeLLM) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.reply(system, user)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTTS struct {
	mu    sync.Mutex
	calls int
	fail  error
	after func(call int)
}

func (f *fakeTTS) Synthesize(_ context.Context, text, voice, outPath string) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return fail
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(outPath, []byte("mp3:"+voice+":"+text), 0o644); err != nil {
		return err
	}
	if f.after != nil {
		f.after(call)
	}
	return nil
}

func (f *fakeTTS) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeImages struct{ calls int }

func (f *fakeImages) Render(_ context.Context, prompt, outPath string) error {
	f.calls++
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte("png:"+prompt), 0o644)
}

type fakeVision struct{}

func (fakeVision) Describe(_ context.Context, _, _ string) (string, error) {
	return "a chart trending upward", nil
}

type fakeMedia struct {
	text  string
	pages int
}

func (f *fakeMedia) ProbeDuration(_ context.Context, _ string) (float64, error) {
	return 3.5, nil
}

func (f *fakeMedia) ConcatAudio(_ context.Context, inputs []string, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte(fmt.Sprintf("concat:%d", len(inputs))), 0o644)
}

func (f *fakeMedia) ComposeSlideshow(_ context.Context, images, audios []string, subtitlePath, outPath string) error {
	if len(images) != len(audios) {
		return fmt.Errorf("mismatched inputs")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte(fmt.Sprintf("mp4:%d:%s", len(images), subtitlePath)), 0o644)
}

func (f *fakeMedia) ExtractText(_ context.Context, _ string) (string, error) {
	return f.text, nil
}

func (f *fakeMedia) RenderPages(_ context.Context, _, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var pages []string
	for i := 0; i < f.pages; i++ {
		page := filepath.Join(outDir, fmt.Sprintf("page-%02d.png", i+1))
		if err := os.WriteFile(page, []byte("page"), 0o644); err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}
