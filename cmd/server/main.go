package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-orchestrator/internal/archive"
	"media-orchestrator/internal/bus"
	"media-orchestrator/internal/clip"
	"media-orchestrator/internal/orchestrator"
	"media-orchestrator/internal/platform/config"
	"media-orchestrator/internal/platform/logger"
	"media-orchestrator/internal/platform/metrics"
	"media-orchestrator/internal/remote"
	"media-orchestrator/internal/session"
	"media-orchestrator/internal/storage"
	"media-orchestrator/internal/streams"
	"media-orchestrator/internal/task"
	"media-orchestrator/internal/thumbnail"

	"github.com/go-chi/chi/v5"
)

func main() {
	_ = config.Load()
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Settings, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := checkMediaRoot(cfg.MediaRoot); err != nil {
		return err
	}
	version, err := session.CheckEncoder(ctx, cfg.Encoder)
	if err != nil {
		return err
	}
	catalog, err := task.LoadCatalog(cfg.CatalogPath, cfg.TranscodeEnabled, cfg.ArchiveEnabled)
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.S3, cfg.RecRoot)
	if err != nil {
		return err
	}

	met := metrics.New()
	api := remote.New(archive.RemoteFromSettings(cfg), logger.Component(log, "remote"))
	b := bus.New(logger.Component(log, "bus"))

	// The directory must see each event before the orchestrators do.
	dir := streams.NewDirectory()
	dir.Subscribe(b)

	var inProcess *archive.InProcessLauncher
	var launcher session.Launcher
	switch cfg.ArchiveMode {
	case "inprocess":
		uploader := archive.NewUploader(archive.ConfigFromSettings(cfg), store, api, logger.Component(log, "archive"), met)
		inProcess = archive.NewInProcessLauncher(context.WithoutCancel(ctx), uploader, logger.Component(log, "archive"))
		launcher = inProcess
	default:
		launcher = archive.ProcessLauncher{Bin: cfg.ArchiveBin, Log: logger.Component(log, "archive")}
	}

	rt := task.Runtime{
		Encoder:         cfg.Encoder,
		MediaRoot:       cfg.MediaRoot,
		RTMPPort:        cfg.RTMPPort,
		AnalyzeDuration: catalog.Trans.AnalyzeDuration,
		ProbeSize:       catalog.Trans.ProbeSize,
	}
	trans := orchestrator.NewTranscodeService(orchestrator.TranscodeConfig{
		Catalog:          catalog.Trans,
		Runtime:          rt,
		TranscodeEnabled: cfg.TranscodeEnabled,
		StopGrace:        cfg.StopGrace,
	}, api, launcher, logger.Component(log, "trans"), met)
	trans.Subscribe(b)

	relayInterval := cfg.RelayInterval
	if catalog.Relay.UpdateInterval > 0 {
		relayInterval = time.Duration(catalog.Relay.UpdateInterval) * time.Millisecond
	}
	relay := orchestrator.NewRelayService(orchestrator.RelayConfig{
		Tasks:     catalog.Relay.Tasks,
		Runtime:   rt,
		Interval:  relayInterval,
		StopGrace: cfg.StopGrace,
	}, dir, logger.Component(log, "relay"), met)
	relay.Subscribe(b)

	// Subscribed after trans: recordings copy the thumbnail on donePublish
	// before the generator removes it.
	if cfg.ThumbnailsEnabled {
		thumbs := thumbnail.New(thumbnail.Config{
			Encoder:   cfg.Encoder,
			MediaRoot: cfg.MediaRoot,
			Interval:  cfg.ThumbnailInterval,
		}, logger.Component(log, "thumbnail"))
		thumbs.Subscribe(b)
		defer thumbs.Close()
	}

	extractor := clip.NewExtractor(clip.Config{
		Encoder:       cfg.Encoder,
		MediaRoot:     cfg.MediaRoot,
		PublicBaseURL: cfg.PublicBaseURL,
		WorkDir:       cfg.RecRoot,
		Bucket:        cfg.S3.ClipsBucket,
		PublishURL:    cfg.S3.ClipsPublishURL,
	}, trans, store, b, logger.Component(log, "clip"), met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetActiveSessions(metrics.KindTranscode, trans.Len())
			met.SetActiveSessions(metrics.KindRelay, relay.Len())
		}).ServeHTTP(w, r)
	})
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaRoot))))
	orchestrator.NewHandler(b, dir, trans, relay, api, logger.Component(log, "api")).Routes(r)
	clip.NewHandler(extractor, logger.Component(log, "clip")).Routes(r, cfg.ClipRateLimit)

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	go relay.Run(relayCtx)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"encoder", cfg.Encoder,
		"encoder_version", version,
		"trans_tasks", len(catalog.Trans.Tasks),
		"relay_tasks", len(catalog.Relay.Tasks),
		"archive_mode", cfg.ArchiveMode,
		"log_level", cfg.LogLevel,
	)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	log.Info("shutdown signal received, draining connections")
	stopRelay()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := relay.Shutdown(shutdownCtx); err != nil {
		log.Warn("relay sessions still running", "error", err)
	}
	if err := trans.Shutdown(shutdownCtx); err != nil {
		log.Warn("transcode sessions still running", "error", err)
	}
	if inProcess != nil {
		inProcess.Wait()
	}

	log.Info("server stopped")
	return nil
}

// checkMediaRoot makes sure dir exists and is writable.
func checkMediaRoot(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("media root: %w", err)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("media root not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
