package archive

import (
	"media-orchestrator/internal/platform/config"
	"media-orchestrator/internal/remote"
)

// ConfigFromSettings maps the process settings onto the uploader's Config.
func ConfigFromSettings(s config.Settings) Config {
	return Config{
		Bucket:      s.S3.Bucket,
		PublishURL:  s.S3.PublishURL,
		MediaURL:    s.PublicBaseURL,
		Concurrency: s.UploadConcurrency,
		MaxAttempts: s.UploadMaxAttempts,
		Backoff:     s.UploadBackoff,
		RemoveDelay: s.ArchiveRemoveDelay,
	}
}

// RemoteFromSettings maps the process settings onto the API client's Config.
func RemoteFromSettings(s config.Settings) remote.Config {
	return remote.Config{
		Endpoint:      s.API.Endpoint,
		Secret:        s.API.Secret,
		HostServer:    s.HostServer,
		PublishPrefix: s.PublishPrefix,
		IgnoreAuth:    s.API.IgnoreAuth,
	}
}
