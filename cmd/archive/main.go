// Command archive uploads one finished recording and registers it with the
// platform API. The server spawns it as
//
//	archive <token> <stream name> <key prefix> <duration seconds> <dir> [app]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"

	"media-orchestrator/internal/archive"
	"media-orchestrator/internal/platform/config"
	"media-orchestrator/internal/platform/logger"
	"media-orchestrator/internal/platform/metrics"
	"media-orchestrator/internal/remote"
	"media-orchestrator/internal/session"
	"media-orchestrator/internal/storage"
)

func main() {
	envFile := flag.String("env-file", ".env", "Environment file to load before reading settings")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (default LOG_LEVEL)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <token> <stream> <key-prefix> <duration> <dir> [app]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExit codes: 0=ok  1=error  2=usage\n")
	}
	flag.Parse()

	_ = config.Load(*envFile)
	cfg := config.FromEnv()
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log := logger.Component(logger.New(cfg.LogLevel, cfg.LogFormat), "archive")

	job, err := parseJob(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	store, err := storage.Open(cfg.S3, cfg.RecRoot)
	if err != nil {
		log.Error("storage unavailable", "error", err)
		os.Exit(1)
	}
	api := remote.New(archive.RemoteFromSettings(cfg), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := archive.NewUploader(archive.ConfigFromSettings(cfg), store, api, log, metrics.New())
	if err := u.Run(ctx, job); err != nil {
		if errors.Is(err, archive.ErrUploadExhausted) {
			log.Error("recording left on disk for recovery", "dir", job.Dir, "error", err)
		} else {
			log.Error("archive failed", "error", err)
		}
		os.Exit(1)
	}
}

func parseJob(args []string) (session.Job, error) {
	if len(args) != 5 && len(args) != 6 {
		return session.Job{}, fmt.Errorf("expected 5 or 6 arguments, got %d", len(args))
	}
	duration, err := strconv.Atoi(args[3])
	if err != nil {
		return session.Job{}, fmt.Errorf("duration %q: %w", args[3], err)
	}
	job := session.Job{
		Token:      args[0],
		StreamName: args[1],
		KeyPrefix:  args[2],
		Duration:   duration,
		Dir:        args[4],
	}
	if len(args) == 6 {
		job.App = args[5]
	}
	return job, nil
}
