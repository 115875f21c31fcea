// Package simservice runs simulation requests for the REST, watch and MCP
// surfaces and exposes the run history.
package simservice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/batch"
	"github.com/starford/rpfba/internal/checksum"
	"github.com/starford/rpfba/internal/ledger"
	"github.com/starford/rpfba/internal/worker"
)

// Input formats.
const (
	FormatTar  = "tar"
	FormatSBML = "sbml"
)

// Request is one simulation request.
type Request struct {
	Params      worker.Params
	Format      string
	Compression archive.Compression
	// Source names the input in events and the ledger.
	Source string
}

// Deps wires a Service.
type Deps struct {
	Launcher worker.Launcher
	// Ledger is optional.
	Ledger ledger.Ledger
	// Notify is optional and receives every batch event.
	Notify  func(batch.Event)
	WorkDir string
	Logger  *slog.Logger
}

// Service coordinates batches, the ledger and event fan-out.
type Service struct {
	launcher worker.Launcher
	ledger   ledger.Ledger
	notify   func(batch.Event)
	workDir  string
	logger   *slog.Logger
}

// NewService creates a service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		launcher: d.Launcher,
		ledger:   d.Ledger,
		notify:   d.Notify,
		workDir:  d.WorkDir,
		logger:   logger,
	}
}

// Simulate runs req against gem. For FormatTar input is an archive and out
// receives the result archive; for FormatSBML input is one model and out
// receives the single result model.
func (s *Service) Simulate(ctx context.Context, req Request, input io.Reader, gem []byte, out io.Writer) (*batch.Summary, error) {
	format := req.Format
	if format == "" {
		format = FormatTar
	}
	if format != FormatTar && format != FormatSBML {
		return nil, fmt.Errorf("simservice: input format %q: %w", req.Format, apperr.ErrConfig)
	}

	o := &batch.Orchestrator{
		Launcher:    s.launcher,
		Params:      req.Params,
		Compression: req.Compression,
		WorkDir:     s.workDir,
		Logger:      s.logger,
		Notify:      s.observer(ctx, req.Params, gem),
		Source:      req.Source,
	}

	if format == FormatTar {
		return o.Run(ctx, input, gem, out)
	}

	model, err := io.ReadAll(input)
	if err != nil {
		return nil, fmt.Errorf("simservice: read model: %w", err)
	}
	result, summary, err := o.RunSingle(ctx, model, gem)
	if err != nil {
		return summary, err
	}
	if _, err := io.Copy(out, bytes.NewReader(result)); err != nil {
		return summary, fmt.Errorf("simservice: write model: %w", err)
	}
	return summary, nil
}

func (s *Service) observer(ctx context.Context, p worker.Params, gem []byte) func(batch.Event) {
	var record func(batch.Event)
	if s.ledger != nil {
		record = ledger.Observer(ctx, s.ledger, ledger.RunInfo{
			SimType:     string(p.SimType),
			GEMChecksum: checksum.Short(gem),
		}, s.logger)
	}
	notify := s.notify
	if record == nil && notify == nil {
		return nil
	}
	return func(ev batch.Event) {
		if record != nil {
			record(ev)
		}
		if notify != nil {
			notify(ev)
		}
	}
}

// RunDetail is a run with its jobs.
type RunDetail struct {
	ledger.Run
	Jobs []ledger.Job `json:"jobs"`
}

// ListRuns returns runs newest first. Without a ledger it fails with
// apperr.ErrDisabled.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]ledger.Run, int, error) {
	if s.ledger == nil {
		return nil, 0, fmt.Errorf("simservice: ledger: %w", apperr.ErrDisabled)
	}
	runs, total, err := s.ledger.ListRuns(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	return runs, total, nil
}

// GetRun returns one run and its jobs.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunDetail, error) {
	if s.ledger == nil {
		return nil, fmt.Errorf("simservice: ledger: %w", apperr.ErrDisabled)
	}
	run, err := s.ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.ledger.RunJobs(ctx, runID)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []ledger.Job{}
	}
	return &RunDetail{Run: *run, Jobs: jobs}, nil
}
