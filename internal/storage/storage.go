// Package storage puts archive and clip artifacts into durable object storage.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"media-orchestrator/internal/platform/config"
)

// ObjectStore uploads objects. Implementations must be safe for concurrent use.
type ObjectStore interface {
	PutFile(ctx context.Context, bucket, key, filePath string) error
	PutBytes(ctx context.Context, bucket, key string, data []byte) error
}

// ArchivePrefix is the key prefix of a recording:
// live/archives/<year>_<2-digit month>/<token>/
func ArchivePrefix(t time.Time, token string) string {
	return fmt.Sprintf("live/archives/%d_%02d/%s/", t.Year(), int(t.Month()), token)
}

// ClipKey names a clip object: clip_<name>_<unix ms>.mp4
func ClipKey(name string, t time.Time) string {
	return fmt.Sprintf("clip_%s_%d.mp4", name, t.UnixMilli())
}

// PublicURL joins a public base URL and an object key.
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// ContentType guesses the content type of a media artifact from its name.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4":
		return "video/mp4"
	case ".m4s":
		return "video/iso.segment"
	case ".mpd":
		return "application/dash+xml"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

func cleanKey(key string) string {
	return strings.TrimLeft(path.Clean("/"+key), "/")
}

// Open returns an S3 store when an endpoint is configured and a Local store
// rooted at localRoot otherwise.
func Open(cfg config.S3Settings, localRoot string) (ObjectStore, error) {
	if cfg.Endpoint == "" {
		return Local{Root: localRoot}, nil
	}
	return NewS3(S3Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		Secret:    cfg.Secret,
		UseSSL:    cfg.UseSSL,
		Region:    cfg.Region,
	})
}
