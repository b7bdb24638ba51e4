// Package clip cuts short clips out of a stream's rolling archive.
package clip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"media-orchestrator/internal/bus"
	"media-orchestrator/internal/platform/logger"
	"media-orchestrator/internal/platform/metrics"
	"media-orchestrator/internal/playlist"
	"media-orchestrator/internal/session"
	"media-orchestrator/internal/storage"
)

var (
	ErrInvalidLength   = errors.New("clip length must be within (0, 60] seconds")
	ErrNotArchiving    = errors.New("stream is not being archived")
	ErrInvalidPlaylist = errors.New("invalid archive playlist")
	ErrNoSegments      = errors.New("no archive segments in window")
	ErrEncoderFailed   = errors.New("clip encoder failed")
	ErrUploadFailed    = errors.New("clip upload failed")
)

// Archives finds the running recording session of a stream.
type Archives interface {
	ArchiveSession(name string) (*session.Session, bool)
}

// Config configures an Extractor.
type Config struct {
	Encoder string
	// MediaRoot is served at PublicBaseURL; archive playlists are fetched
	// from there.
	MediaRoot     string
	PublicBaseURL string
	// WorkDir receives clips before upload.
	WorkDir    string
	Bucket     string
	PublishURL string
	Interval   int
	Timeout    time.Duration
}

// Result describes an uploaded clip. Time is in unix milliseconds.
type Result struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Time     int64  `json:"time"`
}

type Extractor struct {
	cfg      Config
	archives Archives
	store    storage.ObjectStore
	bus      *bus.Bus
	client   *http.Client
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewExtractor returns an Extractor. b may be nil.
func NewExtractor(cfg Config, archives Archives, store storage.ObjectStore, b *bus.Bus, log *slog.Logger, m *metrics.Metrics) *Extractor {
	if cfg.Interval <= 0 {
		cfg.Interval = SegmentInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Extractor{
		cfg:      cfg,
		archives: archives,
		store:    store,
		bus:      b,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log,
		metrics:  m,
	}
}

// Extract cuts the last length seconds of name's archive into an mp4 and
// uploads it to the clips bucket.
func (e *Extractor) Extract(ctx context.Context, name string, length float64) (res Result, err error) {
	defer func() { e.metrics.ClipResult(resultLabel(err)) }()

	if length <= 0 || length > MaxLength {
		return Result{}, ErrInvalidLength
	}
	sess, ok := e.archives.ArchiveSession(name)
	if !ok || sess.Plan().PlaylistName == "" {
		return Result{}, ErrNotArchiving
	}
	archiveURL, err := e.archiveURL(sess)
	if err != nil {
		return Result{}, err
	}

	segments, err := e.fetchPlaylist(ctx, archiveURL+"/"+sess.Plan().PlaylistName)
	if err != nil {
		return Result{}, err
	}
	start, end := Window(len(segments), length, e.cfg.Interval)
	uris := make([]string, 0, end-start)
	for _, s := range segments[start:end] {
		uris = append(uris, resolveURI(archiveURL, s.URI))
	}
	if len(uris) == 0 {
		return Result{}, ErrNoSegments
	}

	now := time.Now()
	filename := storage.ClipKey(name, now)
	out := filepath.Join(e.cfg.WorkDir, sess.Definition().StreamApp, filename)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEncoderFailed, err)
	}
	defer os.Remove(out)

	if err := e.concat(ctx, uris, out); err != nil {
		return Result{}, err
	}
	if err := e.store.PutFile(ctx, e.cfg.Bucket, filename, out); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	res = Result{
		Filename: filename,
		URL:      storage.PublicURL(e.cfg.PublishURL, filename),
		Time:     now.UnixMilli(),
	}
	e.log.Info("clip created", "stream", name, "length", length, "segments", len(uris), "url", res.URL)
	if e.bus != nil {
		e.bus.Publish(ctx, bus.Clip{Length: length, Name: name, Filename: filename, URL: res.URL})
	}
	return res, nil
}

// archiveURL is where the recording's output directory is served.
func (e *Extractor) archiveURL(sess *session.Session) (string, error) {
	rel, err := filepath.Rel(e.cfg.MediaRoot, sess.Plan().OutDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: archive outside media root", ErrNotArchiving)
	}
	return strings.TrimRight(e.cfg.PublicBaseURL, "/") + "/" + filepath.ToSlash(rel), nil
}

func (e *Extractor) fetchPlaylist(ctx context.Context, target string) ([]playlist.Segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlaylist, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlaylist, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidPlaylist, resp.StatusCode)
	}
	segments, err := playlist.ParseMedia(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlaylist, err)
	}
	return segments, nil
}

// concat losslessly joins uris into an mp4 at out.
func (e *Extractor) concat(ctx context.Context, uris []string, out string) error {
	args := []string{
		"-protocol_whitelist", "file,http,https,tcp,tls,concat",
		"-i", "concat:" + strings.Join(uris, "|"),
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-f", "mp4",
		"-y", out,
	}
	stderr := logger.Writer(e.log, slog.LevelDebug, slog.String("component", "clip-encoder"))
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, e.cfg.Encoder, args...)
	cmd.Stdout = stderr
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrEncoderFailed, err)
	}
	return nil
}

// resolveURI makes a playlist entry absolute against the playlist's directory.
func resolveURI(base, uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	b, err := url.Parse(base + "/")
	if err != nil {
		return base + "/" + uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return base + "/" + uri
	}
	return b.ResolveReference(ref).String()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidLength), errors.Is(err, ErrNotArchiving):
		return "rejected"
	default:
		return "failed"
	}
}
