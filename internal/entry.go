// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/rpfba/internal/api"
	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/batch"
	"github.com/starford/rpfba/internal/ledger"
	"github.com/starford/rpfba/internal/simservice"
	"github.com/starford/rpfba/internal/sse"
	"github.com/starford/rpfba/internal/worker"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.launcher == nil {
		app.launcher = worker.NewProcessLauncher()
	}
	return app, nil
}

// newLogger builds the JSON logger. Server modes log to stdout; modes whose
// stdout carries data log to stderr.
func (a *application) newLogger(def io.Writer) *slog.Logger {
	out := def
	if a.logOut != nil {
		out = a.logOut
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// newService opens the ledger when configured and builds the simulation
// service. The returned func closes the ledger.
func (a *application) newService(logger *slog.Logger, notify func(batch.Event)) (*simservice.Service, func(), error) {
	cfg := a.config
	deps := simservice.Deps{
		Launcher: a.launcher,
		Notify:   notify,
		WorkDir:  cfg.App.WorkDir,
		Logger:   logger,
	}
	closeFn := func() {}
	if cfg.Ledger.Enabled() {
		db, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("init ledger: %w", err)
		}
		deps.Ledger = db
		closeFn = func() {
			if err := db.Close(); err != nil {
				logger.Warn("ledger: close failed", slog.String("error", err.Error()))
			}
		}
	}
	return simservice.NewService(deps), closeFn, nil
}

// defaultRequest is the request every mode starts from.
func (a *application) defaultRequest() simservice.Request {
	c, _ := archive.ParseCompression(a.config.App.Compression)
	return simservice.Request{
		Params:      a.config.Simulation,
		Format:      simservice.FormatTar,
		Compression: c,
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := app.newLogger(os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("sim_type", string(cfg.Simulation.SimType)),
		slog.Int("num_workers", cfg.Simulation.NumWorkers),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	svc, closeLedger, err := app.newService(logger, broker.PublishBatch)
	if err != nil {
		return err
	}
	defer closeLedger()

	apiRouter := api.NewRouter(svc, cfg.Simulation, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// REST routes.
	r.Mount("/", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Running batches get the same grace period as open requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
