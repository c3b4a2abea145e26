package endpoints

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"slidespeaker/internal/config"
	"slidespeaker/internal/repository"
	"slidespeaker/internal/storage"
)

// HandleListDownloads enumerates the downloadable artifacts of a task.
func (h *Handlers) HandleListDownloads(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	st, err := h.state.GetStateByTask(ctx, task.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load state"})
		return
	}

	downloads := make([]gin.H, 0, 8)
	add := func(kind, name, url string) {
		downloads = append(downloads, gin.H{"kind": kind, "name": name, "url": url})
	}

	base := fmt.Sprintf("/api/tasks/%s", task.ID)
	if st != nil {
		if len(st.Artifacts.Video) > 0 {
			add("video", "video.mp4", base+"/video")
		}
		if len(st.Artifacts.Audio) > 0 {
			add("audio", "audio.mp3", base+"/audio")
		}
		if len(st.Artifacts.Podcast) > 0 {
			add("podcast", "podcast.mp3", base+"/podcast")
		}
		for locale := range st.Artifacts.Subtitles {
			add("subtitles", fmt.Sprintf("subtitles_%s.srt", locale), base+"/subtitles/srt?locale="+locale)
			add("subtitles", fmt.Sprintf("subtitles_%s.vtt", locale), base+"/subtitles/vtt?locale="+locale)
		}
		for name := range st.Artifacts.Transcripts {
			add("transcript", "transcript_"+name, base+"/transcripts/"+name)
		}
	} else {
		// State expired: probe storage for the canonical and legacy keys.
		for kind, keys := range map[string][]string{
			"video":   append([]string{storage.OutputObjectKey(task.ID, storage.CategoryVideo, task.ID+".mp4")}, storage.LegacyVideoKeys(task.UploadID)...),
			"podcast": append([]string{storage.OutputObjectKey(task.ID, storage.CategoryPodcast, task.ID+"_podcast.mp3")}, storage.LegacyPodcastKeys(task.UploadID)...),
			"audio":   append([]string{storage.OutputObjectKey(task.ID, storage.CategoryAudio, task.ID+".mp3")}, storage.LegacyAudioKeys(task.UploadID)...),
		} {
			if key := storage.ProbeKeys(ctx, h.store, keys...); key != "" {
				add(kind, kind, base+"/"+kind)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"task_id": task.ID, "downloads": downloads})
}

// mediaSpec describes how one media kind is resolved and served.
type mediaSpec struct {
	category    string
	artifact    string
	contentType string
	filename    func(task *repository.Task) string
	keys        func(task *repository.Task) []string
}

func mediaSpecFor(kind string) (mediaSpec, bool) {
	switch kind {
	case "video":
		return mediaSpec{
			category:    "video",
			artifact:    "video",
			contentType: "video/mp4",
			filename:    func(t *repository.Task) string { return t.ID + ".mp4" },
			keys: func(t *repository.Task) []string {
				return append(
					[]string{
						storage.OutputObjectKey(t.ID, storage.CategoryVideo, t.ID+".mp4"),
						storage.OutputObjectKey(t.UploadID, storage.CategoryVideo, t.UploadID+".mp4"),
					},
					storage.LegacyVideoKeys(t.UploadID)...)
			},
		}, true
	case "audio":
		return mediaSpec{
			category:    "audio",
			artifact:    "track",
			contentType: "audio/mpeg",
			filename:    func(t *repository.Task) string { return t.ID + ".mp3" },
			keys: func(t *repository.Task) []string {
				return append(
					[]string{
						storage.OutputObjectKey(t.ID, storage.CategoryAudio, t.ID+".mp3"),
						storage.OutputObjectKey(t.UploadID, storage.CategoryAudio, t.UploadID+".mp3"),
					},
					storage.LegacyAudioKeys(t.UploadID)...)
			},
		}, true
	case "podcast":
		return mediaSpec{
			category:    "podcast",
			artifact:    "podcast",
			contentType: "audio/mpeg",
			filename:    func(t *repository.Task) string { return t.ID + "_podcast.mp3" },
			keys: func(t *repository.Task) []string {
				return append(
					[]string{
						storage.OutputObjectKey(t.ID, storage.CategoryPodcast, t.ID+"_podcast.mp3"),
						storage.OutputObjectKey(t.UploadID, storage.CategoryPodcast, t.UploadID+"_podcast.mp3"),
					},
					storage.LegacyPodcastKeys(t.UploadID)...)
			},
		}, true
	default:
		return mediaSpec{}, false
	}
}

// HandleMedia serves a final media artifact inline or as an attachment.
// Cloud-backed objects redirect to a presigned URL unless proxying is
// forced; local objects stream with Range support.
func (h *Handlers) HandleMedia(kind string, attachment bool) gin.HandlerFunc {
	spec, ok := mediaSpecFor(kind)
	if !ok {
		panic("unknown media kind " + kind)
	}
	return func(c *gin.Context) {
		task, okTask := h.ownedTask(c)
		if !okTask {
			return
		}
		ctx := c.Request.Context()

		key := ""
		if st, err := h.state.GetStateByTask(ctx, task.ID); err == nil && st != nil {
			if m := st.Artifacts.All()[spec.category]; m != nil {
				if ref, ok := m[spec.artifact]; ok {
					key = ref.StorageKey
					if key == "" {
						key = storage.ObjectKeyFromURI(ref.StorageURI)
					}
				}
			}
		}
		if key == "" {
			key = storage.ProbeKeys(ctx, h.store, spec.keys(task)...)
		}
		if key == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
			return
		}

		disposition := storage.DispositionInline
		if attachment {
			disposition = storage.DispositionAttachment
		}
		if !config.ProxyCloudMedia {
			url, err := h.store.Presign(ctx, key, storage.PresignOptions{
				TTL:         time.Hour,
				Disposition: disposition,
				Filename:    spec.filename(task),
				ContentType: spec.contentType,
			})
			if err != nil {
				slog.Warn("Failed to presign artifact", "key", key, "error", err)
			} else if url != "" {
				c.Redirect(http.StatusTemporaryRedirect, url)
				return
			}
		}
		h.streamObject(c, key, spec.contentType, spec.filename(task), attachment)
	}
}

// streamObject proxies object bytes with Range support.
func (h *Handlers) streamObject(c *gin.Context, key, contentType, filename string, attachment bool) {
	data, err := h.store.GetBytes(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read artifact"})
		return
	}
	if attachment {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	} else {
		c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	}
	c.Header("Content-Type", contentType)
	http.ServeContent(c.Writer, c.Request, filename, time.Time{}, bytes.NewReader(data))
}

// HandleSubtitles serves SRT/VTT subtitles with locale fallback:
// request param -> task row -> state -> English.
func (h *Handlers) HandleSubtitles(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}
	format := c.Param("format")
	if format != "srt" && format != "vtt" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported subtitle format"})
		return
	}
	ctx := c.Request.Context()
	st, _ := h.state.GetStateByTask(ctx, task.ID)

	locale := c.Query("locale")
	if locale == "" && task.SubtitleLanguage != "" {
		locale = localeForLanguage(task.SubtitleLanguage)
	}
	if locale == "" && st != nil {
		locale = localeForLanguage(st.EffectiveSubtitleLanguage())
	}
	if locale == "" {
		locale = "en"
	}

	candidates := []string{
		storage.OutputObjectKey(task.ID, storage.CategorySubtitles, fmt.Sprintf("%s_%s.%s", task.ID, locale, format)),
		storage.OutputObjectKey(task.ID, storage.CategorySubtitles, fmt.Sprintf("%s_podcast_%s.%s", task.ID, locale, format)),
		storage.OutputObjectKey(task.UploadID, storage.CategorySubtitles, fmt.Sprintf("%s_%s.%s", task.UploadID, locale, format)),
	}
	candidates = append(candidates, storage.LegacySubtitleKeys(task.UploadID, locale, format)...)
	if st != nil {
		for _, snap := range st.Steps {
			if snap == nil || snap.Data == nil {
				continue
			}
			for _, sub := range snap.Data.Subtitles {
				if sub.Locale == locale && sub.Format == format && sub.StorageKey != "" {
					candidates = append([]string{sub.StorageKey}, candidates...)
				}
			}
		}
	}

	key := storage.ProbeKeys(ctx, h.store, candidates...)
	if key == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subtitles not found"})
		return
	}
	contentType := "text/plain; charset=utf-8"
	if format == "vtt" {
		contentType = "text/vtt; charset=utf-8"
	}
	h.streamObject(c, key, contentType, fmt.Sprintf("%s_%s.%s", task.ID, locale, format), false)
}

// HandleTranscript serves a stored transcript artifact (markdown or JSON).
func (h *Handlers) HandleTranscript(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}
	name := c.Param("name")
	ctx := c.Request.Context()
	st, err := h.state.GetStateByTask(ctx, task.ID)
	if err != nil || st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transcript not found"})
		return
	}
	ref, ok2 := st.Artifacts.Transcripts[name]
	if !ok2 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transcript not found"})
		return
	}
	key := ref.StorageKey
	if key == "" {
		key = storage.ObjectKeyFromURI(ref.StorageURI)
	}
	contentType := "text/markdown; charset=utf-8"
	filename := "transcript_" + name + ".md"
	if strings.HasSuffix(key, ".json") {
		contentType = "application/json"
		filename = "transcript_" + name + ".json"
	}
	h.streamObject(c, key, contentType, filename, false)
}

// localeForLanguage maps a language name (or code) to the short locale code.
func localeForLanguage(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if len(lang) == 2 {
		return lang
	}
	locales := map[string]string{
		"english": "en", "chinese": "zh", "japanese": "ja", "korean": "ko",
		"spanish": "es", "french": "fr", "german": "de", "italian": "it",
		"portuguese": "pt", "russian": "ru", "thai": "th",
	}
	if code, ok := locales[lang]; ok {
		return code
	}
	return ""
}
