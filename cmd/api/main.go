package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bellhop/app"
	"bellhop/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := cfg.NewLogger()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("api: exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if spec := cfg.Requests.SweepSchedule; spec != "" {
		scheduler := newSweepScheduler(a.Requests, cfg.Requests.Retention, log)
		if err := scheduler.Start(spec); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	server := NewServer(ServerDeps{
		Sessions:       a.Sessions,
		Requests:       a.Requests,
		Lifecycle:      a.Lifecycle,
		Views:          a.Views,
		Health:         a.Health,
		AppURL:         cfg.Server.AppURL,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Log:            log,
	})

	// No WriteTimeout: live views hold their connection open.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"port": cfg.Server.Port, "backend": cfg.Store.Backend}).Info("api: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("api: shutting down")
		// Live view handlers only return once their views close.
		a.Sessions.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
