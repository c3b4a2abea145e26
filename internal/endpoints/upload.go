package endpoints

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"slidespeaker/internal/config"
	"slidespeaker/internal/queue"
	"slidespeaker/internal/repository"
	"slidespeaker/internal/storage"
)

var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// taskOptions are the knob fields shared by upload and rerun requests.
type taskOptions struct {
	VoiceLanguage      string `form:"voice_language" json:"voice_language"`
	SubtitleLanguage   string `form:"subtitle_language" json:"subtitle_language"`
	TranscriptLanguage string `form:"transcript_language" json:"transcript_language"`
	VideoResolution    string `form:"video_resolution" json:"video_resolution"`
	TaskType           string `form:"task_type" json:"task_type"`
	GenerateSubtitles  *bool  `form:"generate_subtitles" json:"generate_subtitles"`
	GenerateAvatar     bool   `form:"generate_avatar" json:"generate_avatar"`
	VoiceID            string `form:"voice_id" json:"voice_id"`
	PodcastHostVoice   string `form:"podcast_host_voice" json:"podcast_host_voice"`
	PodcastGuestVoice  string `form:"podcast_guest_voice" json:"podcast_guest_voice"`
}

func (o *taskOptions) normalize() {
	if o.VoiceLanguage == "" {
		o.VoiceLanguage = "english"
	}
	if o.TaskType == "" {
		o.TaskType = "video"
	}
}

func (o *taskOptions) kwargs(fileID, filePath, fileExt, filename, sourceType string) queue.TaskKwargs {
	generateSubtitles := true
	if o.GenerateSubtitles != nil {
		generateSubtitles = *o.GenerateSubtitles
	}
	return queue.TaskKwargs{
		FileID:             fileID,
		FilePath:           filePath,
		FileExt:            fileExt,
		Filename:           filename,
		SourceType:         sourceType,
		VoiceLanguage:      o.VoiceLanguage,
		SubtitleLanguage:   o.SubtitleLanguage,
		TranscriptLanguage: o.TranscriptLanguage,
		VideoResolution:    o.VideoResolution,
		GenerateVideo:      o.TaskType == "video" || o.TaskType == "both",
		GeneratePodcast:    o.TaskType == "podcast" || o.TaskType == "both",
		GenerateSubtitles:  generateSubtitles,
		GenerateAvatar:     o.GenerateAvatar,
		VoiceID:            o.VoiceID,
		PodcastHostVoice:   o.PodcastHostVoice,
		PodcastGuestVoice:  o.PodcastGuestVoice,
	}
}

// HandleUpload accepts a document, stores it content-addressed and submits
// the initial task. Re-uploading identical bytes reuses the upload.
func (h *Handlers) HandleUpload(c *gin.Context) {
	userID, err := GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var opts taskOptions
	if err := c.ShouldBind(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	opts.normalize()
	if opts.TaskType != "video" && opts.TaskType != "podcast" && opts.TaskType != "both" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task_type"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file"})
		return
	}
	if fileHeader.Size > config.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}
	fileExt := strings.ToLower(filepath.Ext(fileHeader.Filename))
	contentType, ok := allowedExtensions[fileExt]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported file type %s", fileExt)})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}

	// Content-addressed id: re-uploads of the same bytes dedupe.
	digest := sha256.Sum256(data)
	fileID := hex.EncodeToString(digest[:])[:16]

	ctx := c.Request.Context()
	localPath := filepath.Join(config.UploadsDir, fileID+fileExt)
	if err := os.MkdirAll(config.UploadsDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist upload"})
		return
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist upload"})
		return
	}

	key := storage.UploadObjectKey(fileID, fileExt)
	exists, err := h.store.Exists(ctx, key)
	if err != nil {
		slog.Warn("Failed to probe upload key", "key", key, "error", err)
	}
	if !exists {
		if err := h.store.PutBytes(ctx, data, key, contentType); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store upload"})
			return
		}
	}

	sourceType := "slides"
	if fileExt == ".pdf" {
		sourceType = "pdf"
	}
	upload := &repository.Upload{
		ID:          fileID,
		UserID:      userID,
		Filename:    fileHeader.Filename,
		FileExt:     fileExt,
		SourceType:  sourceType,
		ContentType: contentType,
		Checksum:    hex.EncodeToString(digest[:]),
		SizeBytes:   int64(len(data)),
		StorageURI:  h.store.URIFor(key),
	}
	if err := h.repo.InsertUpload(ctx, upload); err != nil {
		slog.Warn("Failed to persist upload row", "file_id", fileID, "error", err)
	}

	kwargs := opts.kwargs(fileID, localPath, fileExt, fileHeader.Filename, sourceType)
	taskID, err := h.submitTask(ctx, opts.TaskType, userID, kwargs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit task"})
		return
	}

	slog.Info("File uploaded", "file_id", fileID, "file_ext", fileExt, "task_id", taskID)
	c.JSON(http.StatusOK, gin.H{"file_id": fileID, "task_id": taskID})
}

// HandleRerun submits a new task over an existing upload.
func (h *Handlers) HandleRerun(c *gin.Context) {
	userID, err := GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	fileID := c.Param("file_id")
	ctx := c.Request.Context()
	upload, err := h.repo.GetUpload(ctx, fileID)
	if err != nil || upload == nil || upload.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	var opts taskOptions
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	opts.normalize()

	localPath := filepath.Join(config.UploadsDir, fileID+upload.FileExt)
	if _, err := os.Stat(localPath); err != nil {
		// Re-materialize the source from storage for the worker.
		key := storage.UploadObjectKey(fileID, upload.FileExt)
		if probed := storage.ProbeKeys(ctx, h.store, key, storage.LegacyUploadKeys(fileID, upload.FileExt)[0]); probed != "" {
			if err := h.store.GetFile(ctx, probed, localPath); err != nil {
				slog.Warn("Failed to restore upload from storage", "file_id", fileID, "error", err)
			}
		}
	}

	kwargs := opts.kwargs(fileID, localPath, upload.FileExt, upload.Filename, upload.SourceType)
	taskID, err := h.submitTask(ctx, opts.TaskType, userID, kwargs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"file_id": fileID, "task_id": taskID})
}
