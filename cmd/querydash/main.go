package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"querydash/pkg/auth"
	"querydash/pkg/config"
	"querydash/pkg/controller"
	"querydash/pkg/jobs"
	"querydash/pkg/store"
)

type app struct {
	cfg        config.Config
	store      *store.Store
	queue      *jobs.Queue
	controller *controller.Controller
	ctx        context.Context
	cancel     context.CancelFunc
	queueDone  chan struct{}
}

func newApp(cfg config.Config) (*app, error) {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.Dialect())
	if err != nil {
		cancel()
		return nil, err
	}
	slog.Info("database ready", "dialect", db.Dialect())

	queue := jobs.NewQueue(jobs.NoRunner{}, db, cfg.JobWorkers)
	authenticator := auth.New(db, cfg.JWTSecret, cfg.TokenTTL)
	if !authenticator.TokensEnabled() {
		slog.Warn("QUERYDASH_JWT_SECRET not set, bearer tokens disabled")
	}

	c := controller.NewController(ctx, db, authenticator, queue, controller.Paging{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	})

	return &app{
		cfg:        cfg,
		store:      db,
		queue:      queue,
		controller: c,
		ctx:        ctx,
		cancel:     cancel,
		queueDone:  make(chan struct{}),
	}, nil
}

// shutdown stops the job workers and websocket clients
func (a *app) shutdown() {
	a.controller.Shutdown()
	a.cancel()
	select {
	case <-a.queueDone:
	case <-time.After(5 * time.Second):
		slog.Warn("job workers did not stop in time")
	}
}

func (a *app) run() error {
	slog.Info("starting job workers", "workers", a.cfg.JobWorkers)
	go func() {
		defer close(a.queueDone)
		if err := a.queue.Run(a.ctx); err != nil {
			slog.Error("job queue stopped", "error", err)
		}
	}()
	a.controller.Start()

	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.controller.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		slog.Info("server starting", "address", a.cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		slog.Error("server error, shutting down", "error", err)
		a.shutdown()
		return err
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)

		slog.Info("initiating graceful server shutdown", "timeout", "5s")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		// websocket connections are hijacked and not tracked by the server
		a.controller.Shutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
			a.shutdown()
			return err
		}
		a.shutdown()

		slog.Info("server shutdown complete")
		return nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.Debug)

	slog.Info("application starting")
	a, err := newApp(cfg)
	if err != nil {
		slog.Error("failed to create app", "error", err)
		os.Exit(1)
	}

	defer func() {
		slog.Info("closing database store")
		a.store.Close()
	}()

	if err := a.run(); err != nil {
		slog.Error("failed to run server", "error", err)
		a.store.Close()
		os.Exit(1)
	}
}
