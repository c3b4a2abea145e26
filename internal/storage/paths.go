package storage

import (
	"context"
	"fmt"
	"strings"

	"slidespeaker/internal/config"
)

const (
	UploadsPrefix = "uploads"
	OutputsPrefix = "outputs"
)

// Artifact categories under outputs/{base_id}/.
const (
	CategoryAudio       = "audio"
	CategoryVideo       = "video"
	CategorySubtitles   = "subtitles"
	CategoryPodcast     = "podcast"
	CategoryTranscripts = "transcripts"
	CategoryImages      = "images"
)

// NormalizeExtension lowercases an extension and ensures a leading dot.
func NormalizeExtension(fileExt string) string {
	if fileExt == "" {
		return ""
	}
	ext := strings.ToLower(fileExt)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// UploadObjectKey returns the canonical key for an uploaded source file.
func UploadObjectKey(uploadID, fileExt string) string {
	return fmt.Sprintf("%s/%s%s", UploadsPrefix, uploadID, NormalizeExtension(fileExt))
}

// OutputObjectKey assembles an outputs key for a task/file base id.
func OutputObjectKey(baseID string, segments ...string) string {
	parts := []string{OutputsPrefix, baseID}
	for _, s := range segments {
		s = strings.Trim(s, "/\\")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// ResolveOutputBaseID chooses the identifier task outputs are keyed under:
// the task id when present, otherwise the upload/file id.
func ResolveOutputBaseID(fileID, taskID string) string {
	if tid := strings.TrimSpace(taskID); tid != "" {
		return tid
	}
	return strings.TrimSpace(fileID)
}

// BuildStorageURI converts an object key into a provider-qualified URI.
func BuildStorageURI(key string) string {
	switch strings.ToLower(config.StorageProvider) {
	case "s3":
		if config.S3Bucket != "" {
			return fmt.Sprintf("s3://%s/%s", config.S3Bucket, key)
		}
		return "s3://" + key
	case "oss":
		if config.OSSBucket != "" {
			return fmt.Sprintf("oss://%s/%s", config.OSSBucket, key)
		}
		return "oss://" + key
	default:
		return "local://" + key
	}
}

// ObjectKeyFromURI extracts the object key from a provider-qualified URI.
// It is the inverse of BuildStorageURI for canonical keys.
func ObjectKeyFromURI(uri string) string {
	if uri == "" {
		return ""
	}
	if !strings.Contains(uri, "://") {
		return strings.TrimLeft(uri, "/")
	}
	remainder := uri[strings.Index(uri, "://")+3:]
	scheme := strings.ToLower(uri[:strings.Index(uri, "://")])
	if scheme == "local" {
		return remainder
	}
	// Strip the bucket segment (bucket/key).
	parts := strings.SplitN(remainder, "/", 2)
	if len(parts) == 1 {
		return ""
	}
	return parts[1]
}

// LegacyUploadKeys lists pre-layout flat key candidates for an upload, in
// probe order. Reads must try canonical first, then these.
func LegacyUploadKeys(uploadID, fileExt string) []string {
	return []string{uploadID + NormalizeExtension(fileExt)}
}

// LegacyAudioKeys lists flat key candidates for a final audio artifact.
func LegacyAudioKeys(id string) []string {
	return []string{id + ".mp3"}
}

// LegacyVideoKeys lists flat key candidates for a final video artifact.
func LegacyVideoKeys(id string) []string {
	return []string{id + ".mp4"}
}

// LegacyPodcastKeys lists flat key candidates for a final podcast artifact.
func LegacyPodcastKeys(id string) []string {
	return []string{id + "_podcast.mp3"}
}

// LegacySubtitleKeys lists flat key candidates for a subtitle artifact.
func LegacySubtitleKeys(id, locale, format string) []string {
	return []string{fmt.Sprintf("%s_%s.%s", id, locale, format)}
}

// ProbeKeys returns the first key from candidates that exists, or "" when
// none do. Errors from Exists are treated as absence: probing is best-effort.
func ProbeKeys(ctx context.Context, provider Provider, candidates ...string) string {
	for _, key := range candidates {
		if key == "" {
			continue
		}
		if ok, err := provider.Exists(ctx, key); err == nil && ok {
			return key
		}
	}
	return ""
}
