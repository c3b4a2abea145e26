package config

import (
	"os"
	"path/filepath"
	"strconv"
)

var (
	// Storage backend selection: "local", "s3" or "oss"
	StorageProvider = getEnvWithDefault("STORAGE_PROVIDER", "local")

	// S3 configuration
	S3Region      = getEnvWithDefault("AWS_REGION", "auto")
	S3Bucket      = os.Getenv("S3_BUCKET")
	S3AccessKey   = os.Getenv("AWS_ACCESS_KEY_ID")
	S3SecretKey   = os.Getenv("AWS_SECRET_ACCESS_KEY")
	S3EndpointURL = os.Getenv("AWS_ENDPOINT_URL")

	// OSS configuration
	OSSEndpoint  = os.Getenv("OSS_ENDPOINT")
	OSSBucket    = os.Getenv("OSS_BUCKET")
	OSSAccessKey = os.Getenv("OSS_ACCESS_KEY_ID")
	OSSSecretKey = os.Getenv("OSS_ACCESS_KEY_SECRET")

	// Redis (queue + state store + sessions)
	RedisHost     = getEnvWithDefault("REDIS_HOST", "localhost")
	RedisPort     = getEnvInt("REDIS_PORT", 6379)
	RedisDB       = getEnvInt("REDIS_DB", 0)
	RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Database (task/upload rows). A sqlite path or file: URL.
	DatabaseURL = getEnvWithDefault("DATABASE_URL", filepath.Join(dataDir(), "slidespeaker.db"))

	// Local directories
	UploadsDir = getEnvWithDefault("UPLOADS_DIR", filepath.Join(dataDir(), "uploads"))
	OutputDir  = getEnvWithDefault("OUTPUT_DIR", filepath.Join(dataDir(), "output"))

	// Provider credentials and model names (opaque to the core)
	OpenAIAPIKey  = os.Getenv("OPENAI_API_KEY")
	OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	ScriptModel   = getEnvWithDefault("SCRIPT_MODEL", "gpt-4o")
	VisionModel   = getEnvWithDefault("VISION_MODEL", "gpt-4o")
	TTSModel      = getEnvWithDefault("TTS_MODEL", "tts-1")
	TTSVoice      = getEnvWithDefault("TTS_VOICE", "alloy")
	PodcastHost   = getEnvWithDefault("PODCAST_HOST_VOICE", "alloy")
	PodcastGuest  = getEnvWithDefault("PODCAST_GUEST_VOICE", "onyx")
	ImageModel    = getEnvWithDefault("IMAGE_MODEL", "dall-e-3")
	FFmpegBin     = getEnvWithDefault("FFMPEG_BIN", "ffmpeg")

	// Feature flags
	EnableVisualAnalysis = getEnvWithDefault("ENABLE_VISUAL_ANALYSIS", "false") == "true"
	ProxyCloudMedia      = getEnvWithDefault("PROXY_CLOUD_MEDIA", "false") == "true"

	// Upload limits
	MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_MB", 100)) * 1024 * 1024
)

func dataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	return "./data"
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
