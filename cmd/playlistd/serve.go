package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/orrn/playlist/internal/api"
	"github.com/orrn/playlist/internal/api/handlers"
	"github.com/orrn/playlist/internal/api/middleware"
	"github.com/orrn/playlist/internal/archive"
	"github.com/orrn/playlist/internal/config"
	"github.com/orrn/playlist/internal/core"
	"github.com/orrn/playlist/internal/db"
	"github.com/orrn/playlist/internal/metrics"
	"github.com/orrn/playlist/internal/notify"
	"github.com/orrn/playlist/internal/watch"
	"github.com/orrn/playlist/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the queue service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log, err := ctx.logger()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(runCtx, cfg, log)
		},
	}
}

// acquireLock takes the single-instance lock that sits next to the database.
func acquireLock(dbPath string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	lock := flock.New(dbPath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another playlistd instance is already using this database")
	}
	return lock, nil
}

func newArchiver(conn *sql.DB, cfg *config.Config, log logrus.FieldLogger) (*archive.Archiver, error) {
	return archive.NewArchiver(conn, archive.ArchiveConfig{
		ArchivePath: cfg.Archive.Path,
		ArchiveDays: cfg.Archive.Days,
	}, log)
}

func runServe(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	lock, err := acquireLock(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("failed to release lock")
		}
	}()

	conn, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	store := db.NewStore(conn)
	defer store.Close()

	if n, err := store.Runs.FailRunning(ctx); err != nil {
		log.WithError(err).Warn("failed to close interrupted job runs")
	} else if n > 0 {
		log.WithField("runs", n).Info("marked interrupted job runs as failed")
	}

	var archives handlers.ArchiveLister
	if cfg.Archive.Enabled {
		archiver, err := newArchiver(conn, cfg, log)
		if err != nil {
			return err
		}
		archiver.Start()
		defer archiver.Stop()
		archives = archiver
	}

	collector := metrics.New()
	hub := notify.NewHub(0, log)

	sender := webhook.NewWebhookSender(store.Webhooks, webhook.WebhookConfig{
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	}, log)
	sender.Start()
	defer sender.Stop()

	engine := core.NewPrinterManager(&cfg.Printer, log)
	scheduler := core.NewScheduler(cfg.Scheduler.PollInterval, log)
	defer scheduler.Stop()

	orch := core.NewOrchestrator(core.OrchestratorConfig{
		Engine:    engine,
		Settings:  store.Settings,
		Notifier:  notify.Multi{hub, sender},
		Scheduler: scheduler,
		Runs:      store.Runs,
		Metrics:   collector,
		Log:       log,
	})
	engine.SetEventSink(orch.Post)
	hub.OnSubscribe(func() { orch.Post(core.ClientConnected{}) })

	auth, err := middleware.NewAuthMiddleware(ctx, store.Settings)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		_ = orch.Run(runCtx)
	}()
	orch.Post(core.SettingsUpdated{})

	engine.Start()
	defer engine.Stop()

	watcher := watch.NewWatcher(cfg.Printer.UploadsDir, watch.DefaultExtensions, orch.Post, log)
	go func() {
		if err := watcher.Run(runCtx); err != nil {
			log.WithError(err).Error("upload watcher stopped")
		}
	}()

	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Store:    store,
		Queue:    orch,
		Publish:  orch.Post,
		Printer:  engine,
		Hub:      hub,
		Webhooks: sender,
		Auth:     auth,
		Metrics:  collector,
		Archives: archives,
		Log:      log,
	})

	// request contexts end on shutdown so open event streams let go
	reqCtx, endRequests := context.WithCancel(context.Background())
	defer endRequests()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return reqCtx },
	}
	srv.RegisterOnShutdown(endRequests)

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		cancel()
		<-orchDone
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown incomplete")
	}

	cancel()
	<-orchDone
	return nil
}
