package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"media-orchestrator/internal/platform/logger"
	"media-orchestrator/internal/session"
)

// ProcessLauncher runs each handoff as an independent archive process, so
// uploads outlive a restart of the server.
type ProcessLauncher struct {
	Bin string
	Log *slog.Logger
}

func (l ProcessLauncher) Launch(job session.Job) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("token", job.Token)

	cmd := exec.Command(l.Bin, job.Args()...)
	out := logger.Writer(log, slog.LevelInfo, slog.String("proc", "archive"))
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		_ = out.Close()
		return fmt.Errorf("start %s: %w", l.Bin, err)
	}
	go func() {
		err := cmd.Wait()
		_ = out.Close()
		if err != nil {
			log.Error("archive process failed", "error", err)
		}
	}()
	return nil
}

// InProcessLauncher runs handoffs on goroutines of the server itself.
type InProcessLauncher struct {
	Uploader *Uploader
	Log      *slog.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

func NewInProcessLauncher(ctx context.Context, u *Uploader, log *slog.Logger) *InProcessLauncher {
	if log == nil {
		log = slog.Default()
	}
	return &InProcessLauncher{Uploader: u, Log: log, ctx: ctx}
}

func (l *InProcessLauncher) Launch(job session.Job) error {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.Uploader.Run(l.ctx, job); err != nil {
			l.Log.Error("archive handoff failed", "token", job.Token, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every launched handoff has returned.
func (l *InProcessLauncher) Wait() {
	l.wg.Wait()
}
