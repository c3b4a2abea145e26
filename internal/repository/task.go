package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Task is the persistent record of one processing task.
type Task struct {
	ID               string         `json:"task_id"`
	UploadID         string         `json:"upload_id"`
	TaskType         string         `json:"task_type"`
	Status           string         `json:"status"`
	Kwargs           map[string]any `json:"kwargs,omitempty"`
	VoiceLanguage    string         `json:"voice_language,omitempty"`
	SubtitleLanguage string         `json:"subtitle_language,omitempty"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        string         `json:"created_at,omitempty"`
	UpdatedAt        string         `json:"updated_at,omitempty"`

	// Derived from the owning upload on reads.
	UserID     string `json:"user_id,omitempty"`
	Filename   string `json:"filename,omitempty"`
	FileExt    string `json:"file_ext,omitempty"`
	SourceType string `json:"source_type,omitempty"`
}

// Statistics summarizes task counts for listings.
type Statistics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
}

const taskColumns = `
	t.id, t.upload_id, t.task_type, t.status, t.kwargs, t.voice_language, t.subtitle_language,
	t.error, t.created_at, t.updated_at, u.user_id, u.filename, u.file_ext, u.source_type`

// InsertTask creates a task row.
func (d *DB) InsertTask(ctx context.Context, t *Task) error {
	kwargs, err := json.Marshal(t.Kwargs)
	if err != nil {
		return fmt.Errorf("failed to marshal kwargs: %w", err)
	}
	now := nowISO()
	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO tasks (id, upload_id, task_type, status, kwargs, voice_language, subtitle_language, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UploadID, t.TaskType, t.Status, string(kwargs),
		nullable(t.VoiceLanguage), nullable(t.SubtitleLanguage), nullable(t.Error), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	d.invalidateTaskCache(ctx)
	return nil
}

// GetTask fetches a task row joined with its upload.
func (d *DB) GetTask(ctx context.Context, id string) (*Task, error) {
	if cached := d.taskFromCache(ctx, id); cached != nil {
		return cached, nil
	}
	row := d.conn.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t LEFT JOIN uploads u ON u.id = t.upload_id
		WHERE t.id = ?`, id)
	task, err := scanTask(row.Scan)
	if err != nil {
		return nil, err
	}
	d.taskToCache(ctx, task)
	return task, nil
}

// UpdateTask updates a task row's status and error.
func (d *DB) UpdateTask(ctx context.Context, id, status, errMsg string) error {
	res, err := d.conn.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, nullable(errMsg), nowISO(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	d.invalidateTaskCache(ctx)
	return nil
}

// DeleteTask removes a task row.
func (d *DB) DeleteTask(ctx context.Context, id string) error {
	if _, err := d.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	d.invalidateTaskCache(ctx)
	return nil
}

// ListTasks returns task rows newest-first with optional status and owner
// filters.
func (d *DB) ListTasks(ctx context.Context, limit, offset int, status, userID string) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	var conds []string
	var args []any
	if status != "" {
		conds = append(conds, "t.status = ?")
		args = append(args, status)
	}
	if userID != "" {
		conds = append(conds, "u.user_id = ?")
		args = append(args, userID)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit, offset)

	rows, err := d.conn.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t LEFT JOIN uploads u ON u.id = t.upload_id
		`+where+`
		ORDER BY t.created_at DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTasksByUploadID returns all task rows for an upload.
func (d *DB) GetTasksByUploadID(ctx context.Context, uploadID string) ([]*Task, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t LEFT JOIN uploads u ON u.id = t.upload_id
		WHERE t.upload_id = ?
		ORDER BY t.created_at DESC`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for upload %s: %w", uploadID, err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetStatistics returns task counts by status and type, optionally scoped
// to one owner.
func (d *DB) GetStatistics(ctx context.Context, userID string) (*Statistics, error) {
	query := `
		SELECT t.status, t.task_type, COUNT(*)
		FROM tasks t LEFT JOIN uploads u ON u.id = t.upload_id`
	var args []any
	if userID != "" {
		query += " WHERE u.user_id = ?"
		args = append(args, userID)
	}
	query += " GROUP BY t.status, t.task_type"

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	defer rows.Close()

	stats := &Statistics{ByStatus: make(map[string]int), ByType: make(map[string]int)}
	for rows.Next() {
		var status, taskType string
		var count int
		if err := rows.Scan(&status, &taskType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics: %w", err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByType[taskType] += count
	}
	return stats, rows.Err()
}

func scanTask(scan func(...any) error) (*Task, error) {
	var t Task
	var kwargs, voiceLang, subLang, errMsg, userID, filename, fileExt, sourceType sql.NullString
	err := scan(&t.ID, &t.UploadID, &t.TaskType, &t.Status, &kwargs, &voiceLang, &subLang,
		&errMsg, &t.CreatedAt, &t.UpdatedAt, &userID, &filename, &fileExt, &sourceType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if kwargs.Valid && kwargs.String != "" {
		if err := json.Unmarshal([]byte(kwargs.String), &t.Kwargs); err != nil {
			t.Kwargs = nil
		}
	}
	t.VoiceLanguage = voiceLang.String
	t.SubtitleLanguage = subLang.String
	t.Error = errMsg.String
	t.UserID = userID.String
	t.Filename = filename.String
	t.FileExt = fileExt.String
	t.SourceType = sourceType.String
	return &t, nil
}
