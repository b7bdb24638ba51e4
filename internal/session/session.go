// Package session supervises one external encoder process: it builds the
// command line, spawns it, follows its status output, stops it and cleans
// up after it.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"sync"
	"time"

	"media-orchestrator/internal/platform/logger"
	"media-orchestrator/internal/storage"
	"media-orchestrator/internal/task"
)

// Kind tells transcode sessions from relay sessions.
type Kind string

const (
	KindTranscode Kind = "transcode"
	KindRelay     Kind = "relay"
)

// State is a session's lifecycle position.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateEnded   State = "ended"
)

const stderrTail = 64

// Options configures a Session. Callbacks run on the session's own
// goroutine; OnEnd runs exactly once.
type Options struct {
	Key string
	Log *slog.Logger
	// StopGrace is how long End waits for a graceful exit before killing
	// the process group. Zero waits forever.
	StopGrace time.Duration
	// Launcher receives finished recordings. Nil drops them with a warning.
	Launcher   Launcher
	OnProgress func(Progress)
	OnEnd      func(err error)
}

// Session is one supervised encoder process.
type Session struct {
	kind  Kind
	def   task.Definition
	token string
	plan  Plan
	opts  Options
	log   *slog.Logger

	stderr *lineRing
	done   chan struct{}
	once   sync.Once

	mu            sync.Mutex
	state         State
	stopRequested bool
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	killTimer     *time.Timer
	started       time.Time
	progress      Progress
	exitErr       error
}

// NewTranscode prepares a local-mux session. Configuration warnings that
// disable a single output are logged; a task left with no outputs fails.
func NewTranscode(def task.Definition, opts Options) (*Session, error) {
	token := task.NewToken()
	plan, err := BuildTranscodeArgs(def, token, time.Now())
	if err != nil {
		return nil, err
	}
	s := newSession(KindTranscode, def, token, plan, opts)
	for _, w := range plan.Warnings {
		s.log.Error("output skipped", "error", w)
	}
	return s, nil
}

// NewRelay prepares a pull, push or static relay session.
func NewRelay(def task.Definition, opts Options) *Session {
	return newSession(KindRelay, def, "", BuildRelayArgs(def), opts)
}

func newSession(kind Kind, def task.Definition, token string, plan Plan, opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", opts.Key, "stream", def.StreamPath)
	return &Session{
		kind:   kind,
		def:    def,
		token:  token,
		plan:   plan,
		opts:   opts,
		log:    log,
		stderr: newLineRing(stderrTail),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
}

func (s *Session) Key() string                 { return s.opts.Key }
func (s *Session) Kind() Kind                  { return s.kind }
func (s *Session) Definition() task.Definition { return s.def }

// Token is the recording token salting this session's output names.
func (s *Session) Token() string { return s.token }

// Plan returns the encoder invocation.
func (s *Session) Plan() Plan { return s.plan }

// Done is closed after the session has ended and its end callback ran.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run spawns the encoder and returns without waiting for it. A spawn failure
// is logged and still ends the session.
func (s *Session) Run() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.started = time.Now()
	if s.stopRequested {
		s.mu.Unlock()
		go s.finish(errors.New("stopped before start"))
		return
	}

	err := s.start()
	s.mu.Unlock()
	if err != nil {
		s.log.Error("encoder spawn failed", "error", err)
		go s.finish(err)
	}
}

// start spawns the process. Callers hold s.mu.
func (s *Session) start() error {
	if s.plan.OutDir != "" {
		if err := os.MkdirAll(s.plan.OutDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	cmd := exec.Command(s.def.Encoder, s.plan.Args...)
	setProcessGroup(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	stdout := logger.Writer(s.log, slog.LevelDebug, slog.String("stream_fd", "stdout"))
	cmd.Stdout = stdout

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		return fmt.Errorf("start %s: %w", s.def.Encoder, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.log.Info("encoder started", "kind", string(s.kind), "pid", cmd.Process.Pid, "task", s.def.TaskName())

	go s.wait(cmd, stderr, stdout)
	return nil
}

func (s *Session) wait(cmd *exec.Cmd, stderr io.Reader, stdout io.Closer) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanStatusLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if p, ok := ParseProgress(line); ok {
			s.setProgress(p)
			continue
		}
		s.stderr.Add(line)
		s.log.Debug(line, "stream_fd", "stderr")
	}
	// Keep the pipe drained so the encoder never blocks on a full stderr.
	_, _ = io.Copy(io.Discard, stderr)

	err := cmd.Wait()
	_ = stdout.Close()
	s.finish(err)
}

func (s *Session) setProgress(p Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(p)
	}
}

// End asks the encoder to stop by writing "q" to its input and returns
// immediately. After StopGrace the process group is killed.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopRequested || s.state == StateEnded {
		return
	}
	s.stopRequested = true
	if s.cmd == nil {
		return
	}

	if _, err := io.WriteString(s.stdin, "q"); err != nil {
		s.log.Debug("stop input not delivered", "error", err)
	}
	if s.opts.StopGrace > 0 {
		cmd := s.cmd
		s.killTimer = time.AfterFunc(s.opts.StopGrace, func() {
			s.log.Warn("encoder ignored stop, killing process group", "grace", s.opts.StopGrace.String())
			if err := killProcessGroup(cmd); err != nil {
				s.log.Error("kill failed", "error", err)
			}
		})
	}
}

func (s *Session) finish(exitErr error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StateEnded
		s.exitErr = exitErr
		if s.killTimer != nil {
			s.killTimer.Stop()
		}
		if s.stdin != nil {
			_ = s.stdin.Close()
		}
		elapsed := time.Since(s.started)
		spawned := s.cmd != nil
		s.mu.Unlock()

		if exitErr != nil && spawned {
			s.log.Warn("encoder exited with error", "error", exitErr, "stderr", s.stderr.Lines())
		} else {
			s.log.Info("encoder ended", "elapsed", elapsed.Round(time.Second).String())
		}

		if s.opts.OnEnd != nil {
			s.opts.OnEnd(exitErr)
		}
		if spawned {
			s.complete(elapsed)
		}
		close(s.done)
	})
}

// complete hands recordings to the archive launcher; other local-mux
// sessions clean their output directory.
func (s *Session) complete(elapsed time.Duration) {
	if s.kind != KindTranscode {
		return
	}
	if s.def.Rec {
		job := Job{
			Token:      s.token,
			StreamName: s.def.StreamName,
			KeyPrefix:  storage.ArchivePrefix(time.Now(), s.token),
			Duration:   int(math.Round(elapsed.Seconds())),
			Dir:        s.plan.OutDir,
			App:        s.def.StreamApp,
		}
		if s.opts.Launcher == nil {
			s.log.Warn("recording finished with no archive launcher", "dir", job.Dir)
			return
		}
		if err := s.opts.Launcher.Launch(job); err != nil {
			s.log.Error("archive handoff failed", "error", err, "dir", job.Dir)
			return
		}
		s.log.Info("archive handoff started", "token", job.Token, "key", job.KeyPrefix, "duration", job.Duration)
		return
	}
	if err := s.cleanupOutputs(); err != nil {
		s.log.Warn("output cleanup incomplete", "error", err)
	}
}

// Info is a point-in-time view of a session.
type Info struct {
	Key      string    `json:"key"`
	Kind     Kind      `json:"kind"`
	App      string    `json:"app"`
	Stream   string    `json:"stream"`
	Task     string    `json:"task"`
	Mode     task.Mode `json:"mode"`
	Rec      bool      `json:"rec"`
	Token    string    `json:"token,omitempty"`
	In       string    `json:"in,omitempty"`
	Out      string    `json:"out,omitempty"`
	State    State     `json:"state"`
	Started  time.Time `json:"started"`
	Progress Progress  `json:"progress"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Key:      s.opts.Key,
		Kind:     s.kind,
		App:      s.def.App,
		Stream:   s.def.StreamPath,
		Task:     s.def.TaskName(),
		Mode:     s.def.Mode,
		Rec:      s.def.Rec,
		Token:    s.token,
		In:       s.def.InPath,
		Out:      s.def.OutPath,
		State:    s.state,
		Started:  s.started,
		Progress: s.progress,
	}
}

// Progress returns the last parsed status report.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
