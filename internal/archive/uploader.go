// Package archive moves finished recordings into object storage and
// registers them with the platform API.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"media-orchestrator/internal/platform/metrics"
	"media-orchestrator/internal/remote"
	"media-orchestrator/internal/session"
	"media-orchestrator/internal/storage"
)

// ErrUploadExhausted is returned when the batch still fails after every attempt.
// The local files are left in place.
var ErrUploadExhausted = errors.New("archive upload attempts exhausted")

const thumbnailName = "thumbnail.jpg"

// Config tunes the uploader.
type Config struct {
	Bucket string
	// PublishURL is the public base URL of Bucket.
	PublishURL string
	// MediaURL is where the media root is served. When the recording kept
	// no thumbnail of its own, it is fetched from
	// <MediaURL>/<app>/<name>/thumbnail.jpg.
	MediaURL string
	// App is used for jobs that do not name their app.
	App         string
	Concurrency int
	MaxAttempts int
	Backoff     time.Duration
	RemoveDelay time.Duration
}

// Registrar catalogs uploaded recordings.
type Registrar interface {
	RegisterArchive(ctx context.Context, a remote.Archive) error
}

// Uploader runs one archive handoff at a time per call; it is safe to share.
type Uploader struct {
	cfg     Config
	store   storage.ObjectStore
	api     Registrar
	http    *http.Client
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewUploader(cfg Config, store storage.ObjectStore, api Registrar, log *slog.Logger, m *metrics.Metrics) *Uploader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.App == "" {
		cfg.App = "live"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Uploader{
		cfg:     cfg,
		store:   store,
		api:     api,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// isArchiveFile reports whether name belongs in the uploaded archive.
func isArchiveFile(name string) bool {
	switch filepath.Ext(name) {
	case ".ts", ".m3u8", ".mpd", ".m4s", ".tmp":
		return true
	}
	return false
}

// Run uploads the thumbnail and the recording in job.Dir, registers the
// archive and finally removes job.Dir.
func (u *Uploader) Run(ctx context.Context, job session.Job) error {
	log := u.log.With("token", job.Token, "stream", job.StreamName)
	log.Info("archive upload started", "dir", job.Dir, "key", job.KeyPrefix)

	var thumbnailURL string
	if err := u.uploadThumbnail(ctx, job); err != nil {
		log.Warn("thumbnail not archived", "error", err)
	} else {
		thumbnailURL = storage.PublicURL(u.cfg.PublishURL, job.KeyPrefix+thumbnailName)
	}

	manifest, err := u.uploadRecording(ctx, job, log)
	if err != nil {
		return err
	}

	a := remote.Archive{
		StreamName:   job.StreamName,
		Duration:     job.Duration,
		Token:        job.Token,
		ThumbnailURL: thumbnailURL,
		PlaylistURL:  storage.PublicURL(u.cfg.PublishURL, job.KeyPrefix+manifest),
	}
	if err := u.api.RegisterArchive(ctx, a); err != nil {
		log.Error("archive registration failed", "error", err)
	}
	log.Info("archive uploaded", "playlist", a.PlaylistURL)

	if u.cfg.RemoveDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(u.cfg.RemoveDelay):
		}
	}
	if err := os.RemoveAll(job.Dir); err != nil {
		return fmt.Errorf("remove %s: %w", job.Dir, err)
	}
	return nil
}

// uploadThumbnail stores the thumbnail the recording kept in job.Dir, or
// else the stream's live one.
func (u *Uploader) uploadThumbnail(ctx context.Context, job session.Job) error {
	key := job.KeyPrefix + thumbnailName
	local := filepath.Join(job.Dir, thumbnailName)
	if _, err := os.Stat(local); err == nil {
		return u.store.PutFile(ctx, u.cfg.Bucket, key, local)
	}

	app := job.App
	if app == "" {
		app = u.cfg.App
	}
	bucket := (u.now().Add(-15*time.Second).UnixMilli()) / 60000
	src := fmt.Sprintf("%s/%s/%s/%s?v=%d", strings.TrimRight(u.cfg.MediaURL, "/"), app, job.StreamName, thumbnailName, bucket)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := u.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch thumbnail: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	return u.store.PutBytes(ctx, u.cfg.Bucket, key, data)
}

// uploadRecording uploads every archive file in job.Dir, deleting each once
// stored, and retries what is left after a failure. It returns the name of
// the recording's playlist.
func (u *Uploader) uploadRecording(ctx context.Context, job session.Job, log *slog.Logger) (string, error) {
	manifest := "indexarchive.m3u8"
	for attempt := 1; ; attempt++ {
		names, err := archiveFiles(job.Dir)
		if err != nil {
			return "", err
		}
		for _, n := range names {
			if strings.HasSuffix(n, ".m3u8") {
				manifest = n
			}
		}

		err = u.uploadBatch(ctx, job, names)
		if err == nil {
			return manifest, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt >= u.cfg.MaxAttempts {
			log.Error("archive upload gave up", "attempts", attempt, "error", err, "dir", job.Dir)
			return "", fmt.Errorf("%w after %d attempts: %v", ErrUploadExhausted, attempt, err)
		}

		u.metrics.IncUploadRetries()
		log.Warn("archive upload failed, retrying", "attempt", attempt, "backoff", u.cfg.Backoff.String(), "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(u.cfg.Backoff):
		}
	}
}

func (u *Uploader) uploadBatch(ctx context.Context, job session.Job, names []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)
	for _, name := range names {
		g.Go(func() error {
			path := filepath.Join(job.Dir, name)
			if err := u.store.PutFile(gctx, u.cfg.Bucket, job.KeyPrefix+name, path); err != nil {
				return err
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func archiveFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read recording dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && isArchiveFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
