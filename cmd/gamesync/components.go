package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/afero"

	"github.com/BadgerOps/gamesync/internal/config"
	"github.com/BadgerOps/gamesync/internal/download"
	"github.com/BadgerOps/gamesync/internal/engine"
	"github.com/BadgerOps/gamesync/internal/events"
	"github.com/BadgerOps/gamesync/internal/manifest"
	"github.com/BadgerOps/gamesync/internal/metrics"
	"github.com/BadgerOps/gamesync/internal/patchtool"
	"github.com/BadgerOps/gamesync/internal/staging"
)

// session holds everything one sync command needs and how to tear it down.
type session struct {
	syncer  *engine.Syncer
	target  engine.Target
	closers []func()
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newSession validates the config and wires the engine.
func newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &session{
		target: engine.Target{
			ManifestURL: cfg.Game.ManifestURL,
			InstallDir:  cfg.Game.InstallDir,
		},
	}

	fetcher := download.NewClient(logger,
		download.WithUserAgent(cfg.Download.UserAgent),
		download.WithChunkSize(cfg.Download.ChunkSize),
		download.WithRetryCount(cfg.Download.RetryAttempts),
		download.WithRateLimit(cfg.Download.MaxBytesPerSecond),
	)
	manifests := manifest.NewClient(logger,
		manifest.WithUserAgent(cfg.Download.UserAgent),
		manifest.WithBodyLimit(cfg.Download.ManifestBodyLimit),
		manifest.WithAttempts(cfg.Download.RetryAttempts),
	)

	tools := patchtool.NewManager(patchtool.Config{
		PrimaryURL: cfg.PatchTool.PrimaryURL,
		MirrorURL:  cfg.PatchTool.MirrorURL,
		Path:       cfg.PatchToolPath(runtime.GOOS),
		MinSize:    cfg.PatchTool.MinSize,
		Allowlist:  cfg.PatchTool.SHA256Allowlist,
	}, fetcher, logger, patchtool.WithRejectHook(globalMetrics.GateRejected))

	sinks := []engine.Sink{events.NewLogSink(logger)}
	if cfg.Events.RedisURL != "" {
		rdb, err := events.NewRedisClient(ctx, cfg.Events.RedisURL)
		if err != nil {
			logger.Warn("redis events disabled", "error", err)
		} else {
			rs := events.NewRedisSink(rdb, cfg.Events.Channel, logger)
			sinks = append(sinks, rs)
			s.closers = append(s.closers, func() {
				rs.Close()
				rdb.Close()
			})
		}
	}

	if cfg.Metrics.Listen != "" {
		stop := serveMetrics(cfg.Metrics.Listen)
		s.closers = append(s.closers, stop)
	}

	opts := engine.Options{
		Manifests:          manifests,
		Fetcher:            fetcher,
		Merger:             staging.NewMerger(afero.NewOsFs(), logger),
		Sink:               events.NewMulti(sinks...),
		Metrics:            globalMetrics,
		Logger:             logger,
		ResourcePackDirs:   cfg.Game.ResourcePackDirs,
		DeltaExtensions:    cfg.Game.DeltaExtensions,
		MinFreeSpaceMargin: cfg.Download.MinFreeSpaceMargin,
	}
	if cfg.PatchTool.PrimaryURL != "" || cfg.PatchTool.MirrorURL != "" {
		opts.PatchTool = func(ctx context.Context) (engine.PatchApplier, error) {
			tool, err := tools.Ensure(ctx)
			if err != nil {
				return nil, err
			}
			return tool, nil
		}
	}
	// A nil *store.Store must not reach the interface.
	if globalStore != nil {
		opts.Store = globalStore
	}
	s.syncer = engine.NewSyncer(opts)
	return s, nil
}

// serveMetrics exposes the registry until the returned stop func is called.
func serveMetrics(addr string) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("serving metrics", "listen", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
		<-done
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(globalRegistry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	return mux
}
