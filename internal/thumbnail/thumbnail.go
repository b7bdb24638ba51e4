// Package thumbnail keeps a periodically refreshed still image of every
// published stream next to its playlists.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"media-orchestrator/internal/bus"
	"media-orchestrator/internal/platform/logger"
)

// FileName is the thumbnail written into a stream's media directory.
const FileName = "thumbnail.jpg"

type Config struct {
	Encoder   string
	MediaRoot string
	Interval  time.Duration
	// Timeout bounds a single snapshot run.
	Timeout time.Duration
}

type job struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Generator snapshots each published stream on publish and every Interval
// after, until the stream ends.
type Generator struct {
	cfg Config
	log *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job // by publisher conn id
}

func New(cfg Config, log *slog.Logger) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Generator{cfg: cfg, log: log, jobs: make(map[string]*job)}
}

// Subscribe wires the generator to publish lifecycle events on b.
func (g *Generator) Subscribe(b *bus.Bus) {
	bus.On(b, func(_ context.Context, ev bus.PostPublish) { g.Start(ev.ID, ev.Path) })
	bus.On(b, func(_ context.Context, ev bus.DonePublish) { g.Stop(ev.ID) })
}

// Path is the thumbnail file of streamPath.
func (g *Generator) Path(streamPath string) string {
	return filepath.Join(g.cfg.MediaRoot, filepath.FromSlash(streamPath), FileName)
}

// Start schedules snapshots of streamPath for publisher connID.
func (g *Generator) Start(connID, streamPath string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.jobs[connID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{path: streamPath, cancel: cancel, done: make(chan struct{})}
	g.jobs[connID] = j
	go g.loop(ctx, j)
}

func (g *Generator) loop(ctx context.Context, j *job) {
	defer close(j.done)
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := g.Snapshot(ctx, j.path); err != nil && ctx.Err() == nil {
			g.log.Debug("thumbnail not generated", "stream", j.path, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends connID's schedule and removes its thumbnail.
func (g *Generator) Stop(connID string) {
	g.mu.Lock()
	j, ok := g.jobs[connID]
	delete(g.jobs, connID)
	g.mu.Unlock()
	if !ok {
		return
	}
	j.cancel()
	<-j.done
	if err := os.Remove(g.Path(j.path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.log.Warn("thumbnail not removed", "stream", j.path, "error", err)
	}
}

// Close stops every schedule.
func (g *Generator) Close() {
	g.mu.Lock()
	ids := make([]string, 0, len(g.jobs))
	for id := range g.jobs {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	for _, id := range ids {
		g.Stop(id)
	}
}

// Snapshot grabs one frame of streamPath's source playlist.
func (g *Generator) Snapshot(ctx context.Context, streamPath string) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	dir := filepath.Join(g.cfg.MediaRoot, filepath.FromSlash(streamPath))
	args := []string{
		"-err_detect", "ignore_err",
		"-ignore_unknown",
		"-stats",
		"-i", filepath.Join(dir, "index.m3u8"),
		"-fflags", "nobuffer+genpts+igndts",
		"-threads", "1",
		"-frames:v", "1",
		"-q:v", "25",
		"-an",
		"-y", filepath.Join(dir, FileName),
	}
	out := logger.Writer(g.log, slog.LevelDebug, slog.String("stream", streamPath))
	defer out.Close()

	cmd := exec.CommandContext(ctx, g.cfg.Encoder, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("thumbnail %s: %w", streamPath, err)
	}
	return nil
}
