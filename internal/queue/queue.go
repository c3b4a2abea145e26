package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"slidespeaker/internal/config"
)

var (
	// ErrTaskNotFound is returned when a task record does not exist.
	ErrTaskNotFound = errors.New("task not found")
)

const (
	// QueueKey is the Redis list holding queued task ids.
	QueueKey = "ss:queue"
	// BlockTimeout is how long a pop waits for a task.
	BlockTimeout = 1 * time.Second
	// TaskRetention is how long task records are kept after submission.
	TaskRetention = 7 * 24 * time.Hour
	// CancelFlagTTL bounds the lifetime of the cancellation flag.
	CancelFlagTTL = 24 * time.Hour
)

// Task statuses mirror the task-row statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// TaskKwargs carries the task-scoped options a worker needs to dispatch.
type TaskKwargs struct {
	FileID   string `json:"file_id,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	FileExt  string `json:"file_ext,omitempty"`
	Filename string `json:"filename,omitempty"`

	SourceType string `json:"source_type,omitempty"`

	VoiceLanguage      string `json:"voice_language,omitempty"`
	SubtitleLanguage   string `json:"subtitle_language,omitempty"`
	TranscriptLanguage string `json:"transcript_language,omitempty"`
	VideoResolution    string `json:"video_resolution,omitempty"`

	GenerateVideo     bool `json:"generate_video"`
	GeneratePodcast   bool `json:"generate_podcast"`
	GenerateSubtitles bool `json:"generate_subtitles"`
	GenerateAvatar    bool `json:"generate_avatar,omitempty"`

	VoiceID           string `json:"voice_id,omitempty"`
	PodcastHostVoice  string `json:"podcast_host_voice,omitempty"`
	PodcastGuestVoice string `json:"podcast_guest_voice,omitempty"`

	// Purge-task payload.
	TargetTaskID string   `json:"target_task_id,omitempty"`
	StorageKeys  []string `json:"storage_keys,omitempty"`
	LocalPaths   []string `json:"local_paths,omitempty"`
}

// TaskRecord is the durable queue-side view of a task.
type TaskRecord struct {
	TaskID    string     `json:"task_id"`
	TaskType  string     `json:"task_type"`
	Status    string     `json:"status"`
	UserID    string     `json:"user_id,omitempty"`
	Kwargs    TaskKwargs `json:"kwargs"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Queue manages the Redis task queue and cancellation flags.
type Queue struct {
	client *redis.Client
}

// NewQueue creates a queue connection from the process configuration.
func NewQueue(ctx context.Context) (*Queue, error) {
	addr := fmt.Sprintf("%s:%d", config.RedisHost, config.RedisPort)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("Task queue initialized", "addr", addr)
	return &Queue{client: client}, nil
}

// NewQueueWithClient creates a queue with an existing Redis client (for
// testing and substrate sharing).
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func taskKey(taskID string) string   { return "ss:task:" + taskID }
func cancelKey(taskID string) string { return "ss:task:" + taskID + ":cancelled" }

// Submit creates a task record and pushes its id to the queue tail.
func (q *Queue) Submit(ctx context.Context, taskType, userID string, kwargs TaskKwargs) (string, error) {
	taskID := uuid.New().String()
	now := time.Now().UTC()
	record := &TaskRecord{
		TaskID:    taskID,
		TaskType:  taskType,
		Status:    StatusQueued,
		UserID:    userID,
		Kwargs:    kwargs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task record: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, taskKey(taskID), payload, TaskRetention)
	pipe.LPush(ctx, QueueKey, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	slog.Info("Task enqueued", "task_id", taskID, "task_type", taskType, "file_id", kwargs.FileID)
	return taskID, nil
}

// Pop blocks for up to BlockTimeout and returns the next task id, or ""
// when the queue is empty.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	result, err := q.client.BRPop(ctx, BlockTimeout, QueueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to pop task: %w", err)
	}
	if len(result) < 2 {
		return "", fmt.Errorf("invalid BRPOP result: %v", result)
	}
	return result[1], nil
}

// GetTask retrieves a task record, or nil when absent.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	raw, err := q.client.Get(ctx, taskKey(taskID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	var record TaskRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &record, nil
}

// UpdateStatus updates the task record status; cancelling also raises the
// cancellation flag.
func (q *Queue) UpdateStatus(ctx context.Context, taskID, status, errMsg string) error {
	record, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrTaskNotFound
	}
	record.Status = status
	record.Error = errMsg
	record.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal task record: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.Set(ctx, taskKey(taskID), payload, TaskRetention)
	if status == StatusCancelled {
		pipe.Set(ctx, cancelKey(taskID), "1", CancelFlagTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	return nil
}

// Cancel flags a queued or processing task as cancelled. Returns false when
// the task is missing or already terminal.
func (q *Queue) Cancel(ctx context.Context, taskID string) (bool, error) {
	record, err := q.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	if record.Status != StatusQueued && record.Status != StatusProcessing {
		return false, nil
	}
	if err := q.UpdateStatus(ctx, taskID, StatusCancelled, ""); err != nil {
		return false, err
	}
	slog.Info("Task cancelled", "task_id", taskID)
	return true, nil
}

// IsCancelled is the hot-path cancellation probe used inside long steps.
func (q *Queue) IsCancelled(ctx context.Context, taskID string) bool {
	exists, err := q.client.Exists(ctx, cancelKey(taskID)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

// EnqueueExisting re-pushes an existing task id for retry. The record must
// already be in processing status (set by the retry reset).
func (q *Queue) EnqueueExisting(ctx context.Context, taskID string) error {
	record, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrTaskNotFound
	}
	if record.Status != StatusProcessing {
		return fmt.Errorf("task %s is %s, expected %s", taskID, record.Status, StatusProcessing)
	}
	pipe := q.client.Pipeline()
	pipe.Del(ctx, cancelKey(taskID))
	pipe.LPush(ctx, QueueKey, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to re-enqueue task %s: %w", taskID, err)
	}
	slog.Info("Task re-enqueued", "task_id", taskID)
	return nil
}

// Remove deletes a task's record, cancellation flag and any queued entries.
func (q *Queue) Remove(ctx context.Context, taskID string) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, QueueKey, 0, taskID)
	pipe.Del(ctx, taskKey(taskID))
	pipe.Del(ctx, cancelKey(taskID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove task %s: %w", taskID, err)
	}
	return nil
}

// Length returns the number of queued task ids.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return length, nil
}

// Close closes the underlying connection.
func (q *Queue) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
