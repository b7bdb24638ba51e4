package config

import "time"

// Settings is the full runtime configuration of the orchestration server.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	MediaRoot string
	RecRoot   string
	Encoder   string
	RTMPPort  int

	CatalogPath       string
	TranscodeEnabled  bool
	ArchiveEnabled    bool
	ThumbnailsEnabled bool
	ThumbnailInterval time.Duration
	RelayInterval     time.Duration
	StopGrace         time.Duration
	ShutdownTimeout   time.Duration

	// PublicBaseURL is where MEDIA_ROOT is reachable over HTTP.
	PublicBaseURL string
	HostServer    string
	PublishPrefix string

	API APISettings
	S3  S3Settings

	ArchiveMode        string
	ArchiveBin         string
	UploadConcurrency  int
	UploadMaxAttempts  int
	UploadBackoff      time.Duration
	ArchiveRemoveDelay time.Duration

	ClipRateLimit int
}

// APISettings configures the remote API collaborator.
type APISettings struct {
	Endpoint   string
	Secret     string
	IgnoreAuth bool
}

// S3Settings configures the S3-compatible object store.
type S3Settings struct {
	Endpoint        string
	AccessKey       string
	Secret          string
	UseSSL          bool
	Region          string
	Bucket          string
	ClipsBucket     string
	PublishURL      string
	ClipsPublishURL string
}

// FromEnv assembles Settings from the environment. Call Load first to pick up a .env file.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8000"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		MediaRoot: GetEnv("MEDIA_ROOT", "./media"),
		RecRoot:   GetEnv("REC_ROOT", "./rec"),
		Encoder:   GetEnv("ENCODER_PATH", "ffmpeg"),
		RTMPPort:  GetEnvInt("RTMP_PORT", 1935),

		CatalogPath:       GetEnv("CATALOG_PATH", ""),
		TranscodeEnabled:  GetEnvBool("TRANSCODE_ENABLED", false),
		ArchiveEnabled:    GetEnvBool("ARCHIVE_ENABLED", false),
		ThumbnailsEnabled: GetEnvBool("THUMBNAILS_ENABLED", false),
		ThumbnailInterval: GetEnvDuration("THUMBNAIL_INTERVAL", time.Minute),
		RelayInterval:     GetEnvDuration("RELAY_INTERVAL", time.Second),
		StopGrace:         GetEnvDuration("STOP_GRACE", 10*time.Second),
		ShutdownTimeout:   GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		PublicBaseURL: GetEnv("PUBLIC_BASE_URL", "http://127.0.0.1:8000/media"),
		HostServer:    GetEnv("HOST_SERVER", "localhost"),
		PublishPrefix: GetEnv("PUBLISH_PREFIX", "/live/"),

		API: APISettings{
			Endpoint:   GetEnv("API_ENDPOINT", ""),
			Secret:     GetEnv("API_SECRET", ""),
			IgnoreAuth: GetEnvBool("IGNORE_AUTH", false),
		},
		S3: S3Settings{
			Endpoint:        GetEnv("S3_ENDPOINT", ""),
			AccessKey:       GetEnv("S3_ACCESS_KEY", ""),
			Secret:          GetEnv("S3_SECRET", ""),
			UseSSL:          GetEnvBool("S3_USE_SSL", true),
			Region:          GetEnv("S3_REGION", ""),
			Bucket:          GetEnv("S3_BUCKET", "stream-vods"),
			ClipsBucket:     GetEnv("S3_CLIPS_BUCKET", "stream-clips"),
			PublishURL:      GetEnv("S3_PUBLISH_URL", ""),
			ClipsPublishURL: GetEnv("S3_CLIPS_PUBLISH_URL", ""),
		},

		ArchiveMode:        GetEnv("ARCHIVE_MODE", "process"),
		ArchiveBin:         GetEnv("ARCHIVE_BIN", "archive"),
		UploadConcurrency:  GetEnvInt("UPLOAD_CONCURRENCY", 4),
		UploadMaxAttempts:  GetEnvInt("UPLOAD_MAX_ATTEMPTS", 12),
		UploadBackoff:      GetEnvDuration("UPLOAD_BACKOFF", 5*time.Second),
		ArchiveRemoveDelay: GetEnvDuration("ARCHIVE_REMOVE_DELAY", 10*time.Second),

		ClipRateLimit: GetEnvInt("CLIP_RATE_LIMIT", 10),
	}
}
