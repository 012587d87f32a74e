// Command streamctl runs the download-manager service: an HTTP API
// over a single scheduler.Manager, a live WebSocket state feed, and an
// optional webhook notifier on terminal transitions.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinoosan/streamctl/internal/config"
	"github.com/tinoosan/streamctl/internal/downloadcfg"
	"github.com/tinoosan/streamctl/internal/downloader/httpdl"
	"github.com/tinoosan/streamctl/internal/index"
	"github.com/tinoosan/streamctl/internal/index/memindex"
	"github.com/tinoosan/streamctl/internal/index/pgindex"
	"github.com/tinoosan/streamctl/internal/live"
	"github.com/tinoosan/streamctl/internal/logging"
	"github.com/tinoosan/streamctl/internal/metrics"
	"github.com/tinoosan/streamctl/internal/notify"
	"github.com/tinoosan/streamctl/internal/requirements"
	"github.com/tinoosan/streamctl/internal/router"
	"github.com/tinoosan/streamctl/internal/scheduler"
	"github.com/tinoosan/streamctl/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "streamctl:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:    cfg.LogLevel,
		JSON:     cfg.LogJSON,
		FilePath: cfg.LogFile,
	})

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  "streamctl",
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	idx, err := newIndex(cfg)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	if closer, ok := idx.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	factory := &httpdl.Factory{
		BaseDir:     cfg.BaseDir,
		MaxParallel: 4,
		Policy:      downloadcfg.CollisionRename,
		Client:      http.DefaultClient,
		Logger:      logger,
	}

	watcherFactory := func(onChange func(notMet uint32)) requirements.Watcher {
		return requirements.New(30*time.Second, requirements.DefaultProbe, onChange)
	}

	mgr := scheduler.New(scheduler.Config{
		Index:                    idx,
		Factory:                  factory,
		WatcherFactory:           watcherFactory,
		MaxSimultaneousDownloads: cfg.MaxSimultaneousDownloads,
		MinRetryCount:            cfg.MinRetryCount,
		Logger:                   logger,
		Telemetry:                tel,
	})
	defer mgr.Release()

	hub := live.NewHub(logger)
	defer hub.Close()
	mgr.AddListener(hub)

	if cfg.WebhookURL != "" {
		mgr.AddListener(notify.New(cfg.WebhookURL, logger))
	}

	handler := router.New(logger, mgr, cfg.AuthTokenList(), hub, tel)

	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		Handler:      handler,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}

	return nil
}

func newIndex(cfg *config.Config) (index.Index, error) {
	switch cfg.IndexBackend {
	case "postgres":
		return pgindex.NewFromEnv()
	default:
		return memindex.New(), nil
	}
}
