package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"slidespeaker/internal/config"
)

const (
	// StateTTL is the sliding expiration applied on every state write.
	StateTTL = 24 * time.Hour
	// MappingTTL bounds the task<->file index lifetime.
	MappingTTL = 30 * 24 * time.Hour
)

// Manager is the Redis-backed state store for task runtime state and the
// task<->file indices.
type Manager struct {
	client *redis.Client
}

// NewManager connects to Redis using the process configuration.
func NewManager(ctx context.Context) (*Manager, error) {
	addr := fmt.Sprintf("%s:%d", config.RedisHost, config.RedisPort)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("State manager initialized", "addr", addr)
	return &Manager{client: client}, nil
}

// NewManagerWithClient creates a manager with an existing client (for tests).
func NewManagerWithClient(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// Client exposes the underlying Redis client for substrate sharing
// (sessions, caches) within the process.
func (m *Manager) Client() *redis.Client { return m.client }

func stateKey(fileID string) string      { return "ss:state:" + fileID }
func taskStateKey(taskID string) string  { return "ss:state:task:" + taskID }
func task2fileKey(taskID string) string  { return "ss:task2file:" + taskID }
func file2taskKey(fileID string) string  { return "ss:file2task:" + fileID }
func file2tasksKey(fileID string) string { return "ss:file2tasks:" + fileID }

// CreateStateOptions carries everything needed to materialize a task state.
type CreateStateOptions struct {
	// TaskType overrides the derived type (used for file_purge tasks).
	TaskType string

	FileID   string
	TaskID   string
	UserID   string
	FilePath string
	FileExt  string
	Filename string

	SourceType string
	Plan       PlanOptions

	VideoResolution   string
	VoiceID           string
	PodcastHostVoice  string
	PodcastGuestVoice string
}

// CreateState materializes the steps for a task and persists the state.
// Task-scoped states are canonical; any stale file-scoped mirror is removed.
func (m *Manager) CreateState(ctx context.Context, opts CreateStateOptions) (*TaskState, error) {
	taskType := opts.TaskType
	if taskType == "" {
		taskType = TaskTypeFor(opts.Plan.GenerateVideo, opts.Plan.GeneratePodcast)
	}
	order, steps := BuildSteps(taskType, opts.Plan)

	now := time.Now().UTC().Format(time.RFC3339)
	st := &TaskState{
		FileID:                    opts.FileID,
		TaskID:                    opts.TaskID,
		UserID:                    opts.UserID,
		FilePath:                  opts.FilePath,
		FileExt:                   opts.FileExt,
		Filename:                  opts.Filename,
		SourceType:                opts.SourceType,
		TaskType:                  taskType,
		Status:                    TaskQueued,
		CurrentStep:               FirstStep(order),
		StepOrder:                 order,
		Steps:                     steps,
		Errors:                    []TaskErrorEntry{},
		VoiceLanguage:             opts.Plan.VoiceLanguage,
		SubtitleLanguage:          opts.Plan.SubtitleLanguage,
		PodcastTranscriptLanguage: opts.Plan.TranscriptLanguage,
		VideoResolution:           opts.VideoResolution,
		GenerateVideo:             opts.Plan.GenerateVideo,
		GeneratePodcast:           opts.Plan.GeneratePodcast,
		GenerateSubtitles:         opts.Plan.GenerateSubtitles,
		GenerateAvatar:            opts.Plan.GenerateAvatar,
		VoiceID:                   strings.TrimSpace(opts.VoiceID),
		PodcastHostVoice:          strings.TrimSpace(opts.PodcastHostVoice),
		PodcastGuestVoice:         strings.TrimSpace(opts.PodcastGuestVoice),
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}

	if st.TaskID != "" {
		if err := m.BindTask(ctx, st.FileID, st.TaskID); err != nil {
			slog.Warn("Failed to bind task mapping", "task_id", st.TaskID, "error", err)
		}
	}
	if err := m.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Save persists a state under its canonical key. When a task id is present
// the task-scoped key is written and the file-scoped mirror deleted to avoid
// bleed-through across runs.
func (m *Manager) Save(ctx context.Context, st *TaskState) error {
	st.Touch()
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if st.TaskID != "" {
		if err := m.client.Set(ctx, taskStateKey(st.TaskID), payload, StateTTL).Err(); err != nil {
			return fmt.Errorf("failed to save task state: %w", err)
		}
		if st.FileID != "" {
			// Best-effort legacy mirror removal.
			m.client.Del(ctx, stateKey(st.FileID))
		}
		return nil
	}
	if err := m.client.Set(ctx, stateKey(st.FileID), payload, StateTTL).Err(); err != nil {
		return fmt.Errorf("failed to save file state: %w", err)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, key string) (*TaskState, error) {
	raw, err := m.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load state %s: %w", key, err)
	}
	var st TaskState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state %s: %w", key, err)
	}
	return &st, nil
}

// GetState resolves the state for a file id: task-scoped state via the
// file2task mapping first, then the legacy file-scoped key.
func (m *Manager) GetState(ctx context.Context, fileID string) (*TaskState, error) {
	if taskID, err := m.client.Get(ctx, file2taskKey(fileID)).Result(); err == nil && taskID != "" {
		if st, err := m.load(ctx, taskStateKey(taskID)); err == nil && st != nil {
			return st, nil
		}
	}
	return m.load(ctx, stateKey(fileID))
}

// GetStateByTask prefers the task-scoped state, then resolves through the
// task2file mapping.
func (m *Manager) GetStateByTask(ctx context.Context, taskID string) (*TaskState, error) {
	if st, err := m.load(ctx, taskStateKey(taskID)); err != nil {
		return nil, err
	} else if st != nil {
		return st, nil
	}
	fileID, err := m.client.Get(ctx, task2fileKey(taskID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve task mapping: %w", err)
	}
	return m.GetState(ctx, fileID)
}

// mutateByTask loads, applies fn and saves the state for a task id.
func (m *Manager) mutateByTask(ctx context.Context, taskID string, fn func(*TaskState)) (*TaskState, error) {
	st, err := m.GetStateByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	st.TaskID = taskID
	fn(st)
	if err := m.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateStepStatusByTask updates a step's status (and optionally its data),
// advancing current_step. Re-writing an identical status is a no-op write.
func (m *Manager) UpdateStepStatusByTask(ctx context.Context, taskID, step string, status StepStatus, data *StepData) error {
	_, err := m.mutateByTask(ctx, taskID, func(st *TaskState) {
		snap := st.Step(step)
		if snap == nil {
			return
		}
		snap.Status = status
		if data != nil {
			snap.Data = data
		}
		st.CurrentStep = step
	})
	return err
}

// UpdateStepByTask applies an arbitrary mutation to one step snapshot.
func (m *Manager) UpdateStepByTask(ctx context.Context, taskID, step string, fn func(*StepSnapshot)) error {
	_, err := m.mutateByTask(ctx, taskID, func(st *TaskState) {
		snap := st.Step(step)
		if snap == nil {
			return
		}
		fn(snap)
		st.CurrentStep = step
	})
	return err
}

// SetArtifactByTask records a downloadable artifact in the artifact map.
func (m *Manager) SetArtifactByTask(ctx context.Context, taskID, category, name string, ref ArtifactRef) error {
	_, err := m.mutateByTask(ctx, taskID, func(st *TaskState) {
		st.Artifacts.Set(category, name, ref)
	})
	return err
}

// AddErrorByTask appends a step error entry.
func (m *Manager) AddErrorByTask(ctx context.Context, taskID, step, message string) error {
	_, err := m.mutateByTask(ctx, taskID, func(st *TaskState) {
		st.Errors = append(st.Errors, TaskErrorEntry{
			Step:      step,
			Error:     message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
	return err
}

// SetStatusByTask sets the task-level status.
func (m *Manager) SetStatusByTask(ctx context.Context, taskID, status string) error {
	_, err := m.mutateByTask(ctx, taskID, func(st *TaskState) {
		st.Status = status
	})
	return err
}

// MarkCompletedByTask marks the task completed.
func (m *Manager) MarkCompletedByTask(ctx context.Context, taskID string) error {
	return m.SetStatusByTask(ctx, taskID, TaskCompleted)
}

// MarkFailedByTask marks the task failed.
func (m *Manager) MarkFailedByTask(ctx context.Context, taskID string) error {
	return m.SetStatusByTask(ctx, taskID, TaskFailed)
}

// MarkCancelledByTask marks the task cancelled and cancels every step still
// pending or processing. cancelledStep, when set, names the step that
// observed the cancellation.
func (m *Manager) MarkCancelledByTask(ctx context.Context, taskID, cancelledStep string) error {
	_, err := m.mutateByTask(ctx, taskID, func(st *TaskState) {
		st.Cancel(cancelledStep)
	})
	return err
}

// ResetStepsFromTask resets startStep and every later step in declared order
// to pending (skipped steps stay skipped), clears their data, drops error
// entries referencing reset steps and sets the task processing. Steps
// declared before startStep are untouched.
func (m *Manager) ResetStepsFromTask(ctx context.Context, taskID, startStep string) (*TaskState, error) {
	st, err := m.GetStateByTask(ctx, taskID)
	if err != nil || st == nil {
		return nil, err
	}
	if !st.ResetStepsFrom(startStep) {
		return nil, fmt.Errorf("unknown step %q for task %s", startStep, taskID)
	}
	st.TaskID = taskID
	if err := m.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// BindTask binds a task to a file in both the scalar mapping and the
// multi-task set, then removes the legacy file-scoped state key.
func (m *Manager) BindTask(ctx context.Context, fileID, taskID string) error {
	if fileID == "" || taskID == "" {
		return fmt.Errorf("file id and task id are required")
	}
	pipe := m.client.Pipeline()
	pipe.Set(ctx, task2fileKey(taskID), fileID, MappingTTL)
	pipe.Set(ctx, file2taskKey(fileID), taskID, MappingTTL)
	pipe.SAdd(ctx, file2tasksKey(fileID), taskID)
	pipe.Expire(ctx, file2tasksKey(fileID), MappingTTL)
	pipe.Del(ctx, stateKey(fileID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bind task %s: %w", taskID, err)
	}
	return nil
}

// UnbindTask removes the task from the file's task set and returns the
// remaining task count, enabling last-writer purge decisions.
func (m *Manager) UnbindTask(ctx context.Context, fileID, taskID string) (int64, error) {
	if fileID == "" {
		return 0, nil
	}
	pipe := m.client.Pipeline()
	pipe.SRem(ctx, file2tasksKey(fileID), taskID)
	pipe.Del(ctx, task2fileKey(taskID))
	remaining := pipe.SCard(ctx, file2tasksKey(fileID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to unbind task %s: %w", taskID, err)
	}
	return remaining.Val(), nil
}

// FileIDByTask resolves the file id bound to a task, or "".
func (m *Manager) FileIDByTask(ctx context.Context, taskID string) (string, error) {
	fileID, err := m.client.Get(ctx, task2fileKey(taskID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve task mapping: %w", err)
	}
	return fileID, nil
}

// TaskIDsByFile returns all task ids bound to a file.
func (m *Manager) TaskIDsByFile(ctx context.Context, fileID string) ([]string, error) {
	ids, err := m.client.SMembers(ctx, file2tasksKey(fileID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for file %s: %w", fileID, err)
	}
	return ids, nil
}

// DeleteStateByTask removes the task-scoped state and mappings.
func (m *Manager) DeleteStateByTask(ctx context.Context, fileID, taskID string) error {
	pipe := m.client.Pipeline()
	pipe.Del(ctx, taskStateKey(taskID))
	pipe.Del(ctx, task2fileKey(taskID))
	if fileID != "" {
		pipe.Del(ctx, file2taskKey(fileID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete state for task %s: %w", taskID, err)
	}
	return nil
}

// PurgeLegacyFileStates removes file-scoped states whose file already has a
// task mapping. Returns (checked, removed).
func (m *Manager) PurgeLegacyFileStates(ctx context.Context) (int, int, error) {
	var checked, removed int
	iter := m.client.Scan(ctx, 0, "ss:state:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, "ss:state:task:") {
			continue
		}
		fileID := strings.TrimPrefix(key, "ss:state:")
		checked++
		mapped, _ := m.client.Get(ctx, file2taskKey(fileID)).Result()
		hasSet, _ := m.client.Exists(ctx, file2tasksKey(fileID)).Result()
		if mapped != "" || hasSet > 0 {
			if err := m.client.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return checked, removed, fmt.Errorf("failed to scan legacy states: %w", err)
	}
	return checked, removed, nil
}
