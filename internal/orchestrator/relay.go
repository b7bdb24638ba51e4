package orchestrator

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"time"

	"media-orchestrator/internal/bus"
	"media-orchestrator/internal/platform/metrics"
	"media-orchestrator/internal/registry"
	"media-orchestrator/internal/session"
	"media-orchestrator/internal/task"
)

// DefaultRelayInterval is the static reconciliation period.
const DefaultRelayInterval = time.Second

// edgeApp matches an edge URL that already names an app.
var edgeApp = regexp.MustCompile(`rtmp://([^/]+)/([^/]+)`)

// Directory answers who publishes and plays a stream path.
type Directory interface {
	HasPublisher(path string) bool
	PlayerCount(path string) int
}

// RelayConfig configures the RelayService.
type RelayConfig struct {
	Tasks     []task.Spec
	Runtime   task.Runtime
	Interval  time.Duration
	StopGrace time.Duration
}

// RelayService supervises static relays, kept alive by a reconciliation
// loop, and dynamic pull/push relays bound to a connection id.
type RelayService struct {
	cfg     RelayConfig
	names   []string // stream name per catalog index
	static  *registry.Registry[int, *session.Session]
	dynamic *registry.ListRegistry[string, *session.Session]
	dir     Directory
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRelayService(cfg RelayConfig, dir Directory, log *slog.Logger, m *metrics.Metrics) *RelayService {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRelayInterval
	}
	names := make([]string, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		names[i] = t.Name
		if names[i] == "" && t.Mode == task.ModeStatic {
			names[i] = task.RandomName()
		}
	}
	return &RelayService{
		cfg:     cfg,
		names:   names,
		static:  registry.New[int, *session.Session](),
		dynamic: registry.NewList[string, *session.Session](),
		dir:     dir,
		log:     log,
		metrics: m,
	}
}

// Subscribe registers the service's handlers on b.
func (s *RelayService) Subscribe(b *bus.Bus) {
	bus.On(b, s.onRelayPull)
	bus.On(b, s.onRelayPush)
	bus.On(b, s.onRelayDelete)
	bus.On(b, s.onPrePlay)
	bus.On(b, s.onDonePlay)
	bus.On(b, s.onPostPublish)
	bus.On(b, s.onDonePublish)
}

// Run reconciles static relays now and then on every tick until ctx is done.
func (s *RelayService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.Reconcile()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile()
		}
	}
}

// Reconcile starts every static relay whose catalog index has no session.
func (s *RelayService) Reconcile() {
	for i, spec := range s.cfg.Tasks {
		if spec.Mode != task.ModeStatic || s.static.Has(i) {
			continue
		}
		spec.Name = s.names[i]
		def, err := spec.Bind(s.cfg.Runtime, "/"+spec.App+"/"+spec.Name, nil)
		if err != nil {
			s.log.Warn("static relay skipped", "index", i, "error", err)
			continue
		}
		def.InPath = spec.Edge
		def.OutPath = s.cfg.Runtime.LocalURL(def.StreamPath)

		idx := i
		var sess *session.Session
		sess = session.NewRelay(def, s.options(task.Key(spec.App, spec.Name, "static"), func() {
			if s.static.Remove(idx, sess) {
				s.metrics.SessionEnded(metrics.KindRelay)
			}
		}))
		if err := s.static.Insert(i, sess); err != nil {
			continue
		}
		s.log.Info("static relay start", "index", i, "in", def.InPath, "out", def.OutPath)
		s.metrics.SessionStarted(metrics.KindRelay)
		sess.Run()
	}
}

func (s *RelayService) onRelayPull(_ context.Context, ev bus.RelayPull) {
	spec := task.Spec{App: ev.App, Name: ev.Name, Mode: task.ModePull}
	def, err := spec.Bind(s.cfg.Runtime, "/"+ev.App+"/"+ev.Name, nil)
	if err != nil {
		s.log.Warn("relay pull rejected", "id", ev.ID, "error", err)
		return
	}
	def.InPath = ev.URL
	def.OutPath = s.cfg.Runtime.LocalURL(def.StreamPath)
	s.startDynamic(ev.ID, def)
}

func (s *RelayService) onRelayPush(_ context.Context, ev bus.RelayPush) {
	spec := task.Spec{App: ev.App, Name: ev.Name, Mode: task.ModePush}
	def, err := spec.Bind(s.cfg.Runtime, "/"+ev.App+"/"+ev.Name, nil)
	if err != nil {
		s.log.Warn("relay push rejected", "id", ev.ID, "error", err)
		return
	}
	def.InPath = s.cfg.Runtime.LocalURL(def.StreamPath)
	def.OutPath = ev.URL
	s.startDynamic(ev.ID, def)
}

func (s *RelayService) onRelayDelete(_ context.Context, ev bus.RelayDelete) {
	for _, sess := range s.dynamic.Get(ev.ID) {
		sess.End()
	}
}

// onPrePlay pulls a catalog stream from its edge when a player arrives and
// nothing publishes it locally.
func (s *RelayService) onPrePlay(_ context.Context, ev bus.PrePlay) {
	app, name, err := task.ParseStreamPath(ev.Path)
	if err != nil {
		return
	}
	spec, ok := s.find(func(t task.Spec) bool { return t.Name == name })
	if !ok || spec.Mode != task.ModePull || spec.App != app {
		return
	}
	if s.dir.HasPublisher(ev.Path) || s.pulling(ev.Path) {
		return
	}
	def, err := spec.Bind(s.cfg.Runtime, ev.Path, ev.Args)
	if err != nil {
		return
	}
	def.InPath = spec.Edge
	if edgeApp.MatchString(spec.Edge) {
		def.InPath = spec.Edge + "/" + name
	}
	def.InPath = withArgs(def.InPath, ev.Args)
	def.OutPath = s.cfg.Runtime.LocalURL(ev.Path)
	s.startDynamic(ev.ID, def)
}

// onDonePlay stops on-demand pulls of a stream once its last player left.
func (s *RelayService) onDonePlay(_ context.Context, ev bus.DonePlay) {
	if s.dir.PlayerCount(ev.Path) > 0 {
		return
	}
	s.dynamic.Range(func(_ string, list []*session.Session) bool {
		for _, sess := range list {
			def := sess.Definition()
			if def.Mode == task.ModePull && def.StreamPath == ev.Path {
				sess.End()
			}
		}
		return true
	})
}

// onPostPublish pushes a newly published stream to every push edge of its app.
func (s *RelayService) onPostPublish(_ context.Context, ev bus.PostPublish) {
	app, name, err := task.ParseStreamPath(ev.Path)
	if err != nil {
		return
	}
	for i := len(s.cfg.Tasks) - 1; i >= 0; i-- {
		spec := s.cfg.Tasks[i]
		if spec.Mode != task.ModePush || spec.App != app {
			continue
		}
		def, err := spec.Bind(s.cfg.Runtime, ev.Path, ev.Args)
		if err != nil {
			continue
		}
		def.InPath = s.cfg.Runtime.LocalURL(ev.Path)
		switch {
		case spec.AppendName != nil && !*spec.AppendName:
			def.OutPath = spec.Edge
		case edgeApp.MatchString(spec.Edge):
			def.OutPath = spec.Edge + "/" + name
		default:
			def.OutPath = spec.Edge + ev.Path
		}
		def.OutPath = withArgs(def.OutPath, ev.Args)
		s.startDynamic(ev.ID, def)
	}
}

func (s *RelayService) onDonePublish(_ context.Context, ev bus.DonePublish) {
	for _, sess := range s.dynamic.Get(ev.ID) {
		sess.End()
	}
	s.static.Range(func(_ int, sess *session.Session) bool {
		if sess.Definition().StreamPath == ev.Path {
			sess.End()
		}
		return true
	})
}

func (s *RelayService) startDynamic(id string, def task.Definition) {
	var sess *session.Session
	sess = session.NewRelay(def, s.options(task.Key(def.App, def.TaskName(), id), func() {
		if s.dynamic.Remove(id, sess) {
			s.metrics.SessionEnded(metrics.KindRelay)
		}
	}))
	s.dynamic.Append(id, sess)
	s.log.Info("relay start", "id", id, "mode", def.Mode, "in", def.InPath, "out", def.OutPath)
	s.metrics.SessionStarted(metrics.KindRelay)
	sess.Run()
}

func (s *RelayService) options(key string, onEnd func()) session.Options {
	return session.Options{
		Key:       key,
		Log:       s.log,
		StopGrace: s.cfg.StopGrace,
		OnEnd:     func(error) { onEnd() },
	}
}

func (s *RelayService) find(match func(task.Spec) bool) (task.Spec, bool) {
	for _, t := range s.cfg.Tasks {
		if match(t) {
			return t, true
		}
	}
	return task.Spec{}, false
}

// pulling reports whether a pull relay already feeds path.
func (s *RelayService) pulling(path string) bool {
	found := false
	s.dynamic.Range(func(_ string, list []*session.Session) bool {
		for _, sess := range list {
			def := sess.Definition()
			if def.Mode == task.ModePull && def.StreamPath == path {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// withArgs appends the connection's query arguments to u.
func withArgs(u string, args url.Values) string {
	if len(args) == 0 {
		return u
	}
	return u + "?" + args.Encode()
}

// Has reports whether id owns any dynamic relay.
func (s *RelayService) Has(id string) bool { return s.dynamic.Has(id) }

// Sessions lists static then dynamic relay sessions.
func (s *RelayService) Sessions() []RelaySession {
	var out []RelaySession
	s.static.Range(func(i int, sess *session.Session) bool {
		out = append(out, RelaySession{ID: "static", Index: i, Info: sess.Info()})
		return true
	})
	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	var dyn []RelaySession
	s.dynamic.Range(func(id string, list []*session.Session) bool {
		for _, sess := range list {
			dyn = append(dyn, RelaySession{ID: id, Index: -1, Info: sess.Info()})
		}
		return true
	})
	sort.SliceStable(dyn, func(a, b int) bool { return dyn[a].ID < dyn[b].ID })
	return append(out, dyn...)
}

// Len counts live relay sessions.
func (s *RelayService) Len() int { return s.static.Len() + s.dynamic.Count() }

// Shutdown ends every relay and waits for them to exit or ctx to expire.
// Stop the reconciliation loop first.
func (s *RelayService) Shutdown(ctx context.Context) error {
	all := s.static.Values()
	s.dynamic.Range(func(_ string, list []*session.Session) bool {
		all = append(all, list...)
		return true
	})
	return endAll(ctx, all)
}
