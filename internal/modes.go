package internal

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/starford/rpfba/internal/batch"
	"github.com/starford/rpfba/internal/blob"
	"github.com/starford/rpfba/internal/checksum"
	"github.com/starford/rpfba/internal/mcpserver"
	"github.com/starford/rpfba/internal/simservice"
	"github.com/starford/rpfba/internal/watch"
	"github.com/starford/rpfba/internal/worker"
)

// BatchRequest names the locations of one command-line run. Each location
// is a local path or an s3://bucket/key object.
type BatchRequest struct {
	Input  string
	GEM    string
	Output string
	// Request overrides the configured parameters. Source is filled from
	// Input.
	Request simservice.Request
}

// DefaultRequest returns the request the configuration describes.
func DefaultRequest(cfg *Config) simservice.Request {
	return (&application{config: cfg}).defaultRequest()
}

// RunBatch runs one archive, or one model with the sbml format, and writes
// the result to req.Output. Nothing is written when the run fails.
func RunBatch(ctx context.Context, req BatchRequest, opts ...Option) (*batch.Summary, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	logger := app.newLogger(os.Stderr)
	blobs := blob.New(app.config.S3)

	gem, err := blobs.ReadAll(ctx, req.GEM)
	if err != nil {
		return nil, fmt.Errorf("read gem: %w", err)
	}
	in, err := blobs.Open(ctx, req.Input)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	svc, closeLedger, err := app.newService(logger, nil)
	if err != nil {
		return nil, err
	}
	defer closeLedger()

	logger.Info("app: run",
		slog.String("input", req.Input),
		slog.String("gem", req.GEM),
		slog.String("gem_sha256", checksum.Short(gem)),
		slog.String("output", req.Output),
		slog.String("format", req.Request.Format))

	simReq := req.Request
	simReq.Source = req.Input
	var out bytes.Buffer
	sum, err := svc.Simulate(ctx, simReq, in, gem, &out)
	if err != nil {
		return sum, err
	}

	w, err := blobs.Create(ctx, req.Output)
	if err != nil {
		return sum, fmt.Errorf("create output: %w", err)
	}
	if _, err := out.WriteTo(w); err != nil {
		_ = w.Close()
		return sum, fmt.Errorf("write output: %w", err)
	}
	if err := w.Close(); err != nil {
		return sum, fmt.Errorf("write output: %w", err)
	}
	return sum, nil
}

// RunWatch processes archives dropped into the configured inbox until a
// signal arrives or ctx is cancelled.
func RunWatch(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	if err := cfg.Watch.Validate(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	logger := app.newLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gem, err := blob.New(cfg.S3).ReadAll(ctx, cfg.Watch.GEM)
	if err != nil {
		return fmt.Errorf("read gem: %w", err)
	}
	svc, closeLedger, err := app.newService(logger, nil)
	if err != nil {
		return err
	}
	defer closeLedger()

	return watch.Watch(ctx, svc, watch.Options{
		Inbox:   cfg.Watch.Inbox,
		Outbox:  cfg.Watch.Outbox,
		GEM:     gem,
		Request: app.defaultRequest(),
	}, logger, nil)
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.newLogger(os.Stderr)
	svc, closeLedger, err := app.newService(logger, nil)
	if err != nil {
		return err
	}
	defer closeLedger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcpserver.New(svc, blob.New(app.config.S3), app.config.Simulation)
	logger.Info("mcp: serving on stdio")
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

// Inspect summarizes the model stored at loc.
func Inspect(ctx context.Context, loc string, opts ...Option) (*simservice.ModelInfo, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	data, err := blob.New(app.config.S3).ReadAll(ctx, loc)
	if err != nil {
		return nil, err
	}
	return simservice.Inspect(data)
}

// RunWorker is the child side of the process launcher: it reads one job on
// stdin and writes its result on stdout. Logs go to stderr.
func RunWorker(ctx context.Context, level slog.Level) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return worker.Serve(ctx, os.Stdin, os.Stdout, logger)
}
