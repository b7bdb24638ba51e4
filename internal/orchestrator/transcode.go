package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"media-orchestrator/internal/bus"
	"media-orchestrator/internal/platform/metrics"
	"media-orchestrator/internal/playlist"
	"media-orchestrator/internal/registry"
	"media-orchestrator/internal/remote"
	"media-orchestrator/internal/session"
	"media-orchestrator/internal/task"
	"media-orchestrator/internal/thumbnail"
)

// StreamConfigs resolves per-stream configuration held by the platform API.
type StreamConfigs interface {
	StreamConfig(ctx context.Context, name string) (remote.StreamConfig, error)
}

// TranscodeConfig configures the TranscodeService.
type TranscodeConfig struct {
	Catalog task.TransCatalog
	Runtime task.Runtime
	// TranscodeEnabled lists the catalog's renditions in the ABR playlist.
	TranscodeEnabled bool
	StopGrace        time.Duration
}

// TranscodeService runs one encoder session per catalog task for every
// published stream, keyed app_task_conn.
type TranscodeService struct {
	cfg      TranscodeConfig
	sessions *registry.Registry[string, *session.Session]
	configs  StreamConfigs
	launcher session.Launcher
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	live map[string]string // conn id -> stream path
}

// NewTranscodeService returns a TranscodeService. launcher receives finished
// recordings and may be nil.
func NewTranscodeService(cfg TranscodeConfig, configs StreamConfigs, launcher session.Launcher, log *slog.Logger, m *metrics.Metrics) *TranscodeService {
	return &TranscodeService{
		cfg:      cfg,
		sessions: registry.New[string, *session.Session](),
		configs:  configs,
		launcher: launcher,
		log:      log,
		metrics:  m,
		live:     make(map[string]string),
	}
}

// Subscribe registers the service's lifecycle handlers on b.
func (s *TranscodeService) Subscribe(b *bus.Bus) {
	bus.On(b, s.onPostPublish)
	bus.On(b, s.onDonePublish)
	bus.On(b, s.onTransAdd)
	bus.On(b, s.onTransDel)
}

func (s *TranscodeService) onPostPublish(ctx context.Context, ev bus.PostPublish) {
	app, name, err := task.ParseStreamPath(ev.Path)
	if err != nil {
		s.log.Warn("publish ignored", "error", err)
		return
	}
	tasks := s.cfg.Catalog.ForApp(app)
	if len(tasks) == 0 {
		return
	}

	s.mu.Lock()
	s.live[ev.ID] = ev.Path
	s.mu.Unlock()

	dir := filepath.Join(s.cfg.Runtime.MediaRoot, app, name)
	if err := playlist.WriteABR(dir, s.renditions(tasks)); err != nil {
		s.log.Error("abr playlist not written", "stream", ev.Path, "error", err)
	}

	archive := s.archiveAllowed(ctx, tasks, name)

	// Held until every session is registered so a concurrent donePublish
	// either finds them all or stops this publish from starting any.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[ev.ID]; !ok {
		s.log.Info("publisher left before sessions started", "stream", ev.Path, "conn", ev.ID)
		return
	}
	for _, spec := range tasks {
		if spec.Rec && !archive {
			s.log.Info("recording skipped, archiving disabled for stream", "stream", ev.Path)
			continue
		}
		s.start(spec, ev.Stream)
	}
}

func (s *TranscodeService) onDonePublish(_ context.Context, ev bus.DonePublish) {
	s.mu.Lock()
	delete(s.live, ev.ID)
	s.mu.Unlock()

	app, _, err := task.ParseStreamPath(ev.Path)
	if err != nil {
		return
	}
	for _, spec := range s.cfg.Catalog.ForApp(app) {
		if sess, ok := s.sessions.Get(task.Key(app, spec.TaskName(), ev.ID)); ok {
			s.end(sess)
		}
	}
}

func (s *TranscodeService) onTransAdd(ctx context.Context, ev bus.TransAdd) {
	app, name, err := task.ParseStreamPath(ev.Path)
	if err != nil {
		s.log.Warn("trans add ignored", "error", err)
		return
	}
	spec, err := s.cfg.Catalog.Find(app, ev.Task)
	if err != nil {
		s.log.Warn("trans add ignored", "error", err)
		return
	}
	if spec.Rec && !s.archiveAllowed(ctx, []task.Spec{spec}, name) {
		s.log.Info("recording skipped, archiving disabled for stream", "stream", ev.Path)
		return
	}
	s.start(spec, ev.Stream)
}

func (s *TranscodeService) onTransDel(_ context.Context, ev bus.TransDel) {
	app, _, err := task.ParseStreamPath(ev.Path)
	if err != nil {
		return
	}
	if sess, ok := s.sessions.Get(task.Key(app, ev.Task, ev.ID)); ok {
		s.end(sess)
	}
}

// end stops sess. A recording first keeps the stream's current thumbnail in
// its output directory, since the live one is removed with the publisher.
func (s *TranscodeService) end(sess *session.Session) {
	def := sess.Definition()
	if def.Rec && sess.State() == session.StateRunning {
		src := filepath.Join(s.cfg.Runtime.MediaRoot, def.StreamApp, def.StreamName, thumbnail.FileName)
		if err := keepThumbnail(src, sess.Plan().OutDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("thumbnail not kept for archive", "session", sess.Key(), "error", err)
		}
	}
	sess.End()
}

func keepThumbnail(src, dir string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(dir, thumbnail.FileName), data, 0o644)
}

// archiveAllowed asks the platform once whether name may be recorded, and
// only when one of tasks records. A failed lookup denies.
func (s *TranscodeService) archiveAllowed(ctx context.Context, tasks []task.Spec, name string) bool {
	recording := false
	for _, t := range tasks {
		recording = recording || t.Rec
	}
	if !recording || s.configs == nil {
		return false
	}
	sc, err := s.configs.StreamConfig(ctx, name)
	if err != nil {
		s.log.Warn("stream config lookup failed", "stream", name, "error", err)
		return false
	}
	return sc.Archive
}

func (s *TranscodeService) renditions(tasks []task.Spec) []playlist.Rendition {
	if !s.cfg.TranscodeEnabled {
		return nil
	}
	var out []playlist.Rendition
	for _, t := range tasks {
		if t.Bandwidth <= 0 || t.Rec {
			continue
		}
		out = append(out, playlist.Rendition{
			URI:        "index" + t.Name + ".m3u8",
			Bandwidth:  uint32(t.Bandwidth),
			Resolution: t.Resolution,
		})
	}
	return out
}

func (s *TranscodeService) start(spec task.Spec, st bus.Stream) {
	def, err := spec.Bind(s.cfg.Runtime, st.Path, st.Args)
	if err != nil {
		s.log.Warn("task not bound", "stream", st.Path, "error", err)
		return
	}
	key := task.Key(def.App, def.TaskName(), st.ID)

	var sess *session.Session
	sess, err = session.NewTranscode(def, session.Options{
		Key:       key,
		Log:       s.log,
		StopGrace: s.cfg.StopGrace,
		Launcher:  s.launcher,
		OnProgress: func(p session.Progress) {
			if cur, ok := s.sessions.Get(key); ok && cur == sess {
				s.log.Debug("progress", "session", key, "frames", p.Frames, "fps", p.CurrentFPS, "kbps", p.CurrentKbps, "time", p.Timemark)
			}
		},
		OnEnd: func(error) {
			if s.sessions.Remove(key, sess) {
				s.metrics.SessionEnded(metrics.KindTranscode)
			}
		},
	})
	if err != nil {
		s.log.Error("task skipped", "session", key, "error", err)
		return
	}

	if err := s.sessions.Insert(key, sess); err != nil {
		if errors.Is(err, registry.ErrExists) {
			s.log.Warn("session already running", "session", key)
			return
		}
		s.log.Error("session not registered", "session", key, "error", err)
		return
	}
	s.metrics.SessionStarted(metrics.KindTranscode)
	sess.Run()
}

// Sessions lists live transcode sessions ordered by key.
func (s *TranscodeService) Sessions() []session.Info {
	keys := registry.SortedKeys(s.sessions)
	out := make([]session.Info, 0, len(keys))
	for _, k := range keys {
		if sess, ok := s.sessions.Get(k); ok {
			out = append(out, sess.Info())
		}
	}
	return out
}

// Get returns the session registered under key.
func (s *TranscodeService) Get(key string) (*session.Session, bool) {
	return s.sessions.Get(key)
}

func (s *TranscodeService) Len() int { return s.sessions.Len() }

// ArchiveSession finds the running recording session of stream name.
func (s *TranscodeService) ArchiveSession(name string) (*session.Session, bool) {
	var found *session.Session
	s.sessions.Range(func(_ string, sess *session.Session) bool {
		def := sess.Definition()
		if def.Rec && def.StreamName == name {
			found = sess
			return false
		}
		return true
	})
	return found, found != nil
}

// Shutdown ends every session and waits for them to exit or ctx to expire.
func (s *TranscodeService) Shutdown(ctx context.Context) error {
	sessions := s.sessions.Values()
	for _, sess := range sessions {
		s.end(sess)
	}
	return endAll(ctx, sessions)
}

func endAll(ctx context.Context, sessions []*session.Session) error {
	for _, sess := range sessions {
		sess.End()
	}
	for _, sess := range sessions {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Task looks up a catalog task of app.
func (s *TranscodeService) Task(app, name string) (task.Spec, error) {
	return s.cfg.Catalog.Find(app, name)
}
