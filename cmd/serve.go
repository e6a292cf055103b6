package cmd

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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/orrn/makerspool/internal/api"
	"github.com/orrn/makerspool/internal/api/middleware"
	"github.com/orrn/makerspool/internal/archive"
	"github.com/orrn/makerspool/internal/core"
	"github.com/orrn/makerspool/internal/db"
	"github.com/orrn/makerspool/internal/logging"
	"github.com/orrn/makerspool/internal/tracker"
	"github.com/orrn/makerspool/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secureCookies, _ := cmd.Flags().GetBool("secure-cookies")
			return serve(secureCookies)
		},
	}
	cmd.Flags().Bool("secure-cookies", false, "mark the auth cookie Secure (set when served over HTTPS)")
	return cmd
}

func serve(secureCookies bool) error {
	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := openDB(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fleet, err := db.Fleet.LoadFleet(ctx)
	if err != nil {
		return fmt.Errorf("failed to load fleet: %w", err)
	}

	tr := tracker.New(tracker.Config{
		FinishCheckInterval: cfg.Scheduler.FinishCheckInterval,
		SnapshotInterval:    cfg.Scheduler.SnapshotInterval,
		Logger:              logger,
	})
	targets := make([]webhook.Target, 0, len(cfg.Webhooks.Targets))
	for _, t := range cfg.Webhooks.Targets {
		targets = append(targets, webhook.Target{URL: t.URL, Secret: t.Secret, Events: t.Events})
	}
	sender := webhook.NewSender(webhook.Config{
		Targets:     targets,
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
		Logger:      logger,
	})

	scheduler := core.NewScheduler(core.Options{Notifier: core.MultiNotifier{tr, sender}, Logger: logger})
	if err := scheduler.Restore(fleet); err != nil {
		return fmt.Errorf("failed to restore fleet: %w", err)
	}

	archiver, err := archive.NewArchiver(archive.ArchiveConfig{
		ArchivePath: cfg.Database.ArchivePath,
		ArchiveDays: cfg.Database.ArchiveDays,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	auth, err := middleware.NewAuthMiddleware(cfg.Auth, secureCookies)
	if err != nil {
		return err
	}

	tr.Start(scheduler)
	sender.Start()
	archiver.Start()

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(api.Deps{
			Scheduler: scheduler,
			Archiver:  archiver,
			Webhooks:  sender,
			Config:    cfg,
			Auth:      auth,
			Logger:    logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := runServer(ctx, srv, logger)

	archiver.Stop()
	sender.Stop()
	// Last, so the final snapshot sees every mutation the server accepted.
	tr.Stop()
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// runServer serves until ctx is cancelled or the listener fails, then shuts
// the server down. A listener failure is returned.
func runServer(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server failed", "error", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	return serveErr
}
