// Package batch runs one isolated merge and simulate job per model of an
// input archive and packs the results into an output archive.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/checksum"
	"github.com/starford/rpfba/internal/metrics"
	"github.com/starford/rpfba/internal/storage"
	"github.com/starford/rpfba/internal/worker"
)

const (
	inputDir  = "input"
	outputDir = "output"
)

// SingleEntryName is the archive entry a lone model file is wrapped into.
const SingleEntryName = "single.rpsbml.xml"

// Orchestrator fans jobs out to a bounded pool of launches.
type Orchestrator struct {
	Launcher    worker.Launcher
	Params      worker.Params
	Compression archive.Compression
	// WorkDir is the parent of the private per-run directory. Empty means
	// os.TempDir.
	WorkDir string
	Logger  *slog.Logger
	// Notify receives run and job events. Calls are serialized.
	Notify func(Event)
	// Source names the input in events, for example a file path.
	Source string
}

// JobOutcome is a job that produced an output model.
type JobOutcome struct {
	JobID       string  `json:"job_id"`
	ObjectiveID string  `json:"objective_id"`
	Value       float64 `json:"value"`
	OK          bool    `json:"ok"`
	SolverError string  `json:"solver_error,omitempty"`
	// Renamed lists pathway reactions inserted under a new id.
	Renamed     []string `json:"renamed,omitempty"`
	SinkSpecies []string `json:"sink_species,omitempty"`
}

// Skip is a job that produced no output.
type Skip struct {
	JobID   string `json:"job_id"`
	Reason  string `json:"reason"`
	Crashed bool   `json:"crashed"`
}

// Summary reports a finished run.
type Summary struct {
	RunID     string       `json:"run_id"`
	Total     int          `json:"total"`
	Completed []JobOutcome `json:"completed"`
	Skipped   []Skip       `json:"skipped"`
	Started   time.Time    `json:"started"`
	Finished  time.Time    `json:"finished"`
}

// Run reads a model archive from input, runs every job against gem and
// writes the result archive to out. It fails with apperr.ErrEmptyArchive or
// apperr.ErrNoResults instead of writing an empty archive.
func (o *Orchestrator) Run(ctx context.Context, input io.Reader, gem []byte, out io.Writer) (*Summary, error) {
	entries, err := archive.Read(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConfig, err)
	}
	results, sum, err := o.Process(ctx, entries, gem)
	if err != nil {
		return sum, err
	}
	if err := archive.Write(out, results, o.Compression); err != nil {
		return sum, fmt.Errorf("batch: %w", err)
	}
	return sum, nil
}

// RunSingle runs one model file and returns the resulting model.
func (o *Orchestrator) RunSingle(ctx context.Context, model, gem []byte) ([]byte, *Summary, error) {
	results, sum, err := o.Process(ctx, []archive.Entry{{Name: SingleEntryName, Data: model}}, gem)
	if err != nil {
		return nil, sum, err
	}
	return results[0].Data, sum, nil
}

type job struct {
	id   string
	path string
}

// Process runs entries as jobs in a private working directory that is
// removed before returning. It returns the output entries sorted by name.
func (o *Orchestrator) Process(ctx context.Context, entries []archive.Entry, gem []byte) ([]archive.Entry, *Summary, error) {
	logger := o.logger()
	p := o.Params
	if err := p.Validate(); err != nil {
		metrics.BatchesTotal.WithLabelValues("config_error").Inc()
		return nil, nil, err
	}
	if o.Launcher == nil {
		return nil, nil, fmt.Errorf("%w: batch: no launcher", apperr.ErrConfig)
	}
	if len(entries) == 0 {
		metrics.BatchesTotal.WithLabelValues("empty_input").Inc()
		return nil, nil, fmt.Errorf("batch: %w", apperr.ErrEmptyArchive)
	}

	ws, err := storage.NewTemp(o.WorkDir, "rpfba-run-*")
	if err != nil {
		return nil, nil, fmt.Errorf("batch: %w", err)
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			logger.Warn("batch: cleanup failed", slog.String("error", err.Error()))
		}
	}()

	r := &run{
		o:      o,
		ws:     ws,
		gem:    gem,
		logger: logger,
		sum:    &Summary{RunID: uuid.NewString(), Started: time.Now().UTC()},
	}
	logger = logger.With(slog.String("run_id", r.sum.RunID))
	r.logger = logger

	r.sum.Total = len(entries)
	logger.Info("batch: started",
		slog.Int("jobs", len(entries)),
		slog.Int("workers", p.NumWorkers),
		slog.String("sim_type", string(p.SimType)),
		slog.String("gem_checksum", checksum.Short(gem)))
	r.emit(Event{Type: EventRunStarted, Total: r.sum.Total, Source: o.Source})

	jobs, err := r.stage(entries)
	if err != nil {
		r.finish(err)
		return nil, r.sum, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.NumWorkers)
	for _, j := range jobs {
		g.Go(func() error {
			r.execute(gctx, j)
			return nil
		})
	}
	_ = g.Wait()
	r.sum.Finished = time.Now().UTC()

	if err := ctx.Err(); err != nil {
		metrics.BatchesTotal.WithLabelValues("cancelled").Inc()
		r.finish(err)
		return nil, r.sum, fmt.Errorf("batch: %w", err)
	}

	files, err := ws.List(outputDir, archive.ResultName(""))
	if err != nil {
		r.finish(err)
		return nil, r.sum, fmt.Errorf("batch: %w", err)
	}
	if len(files) == 0 {
		metrics.BatchesTotal.WithLabelValues("no_results").Inc()
		err := fmt.Errorf("batch: %w", apperr.ErrNoResults)
		r.finish(err)
		return nil, r.sum, err
	}
	results := make([]archive.Entry, 0, len(files))
	for _, f := range files {
		data, err := ws.Read(f.Path)
		if err != nil {
			r.finish(err)
			return nil, r.sum, fmt.Errorf("batch: %w", err)
		}
		results = append(results, archive.Entry{Name: path.Base(f.Path), Data: data})
	}

	metrics.BatchesTotal.WithLabelValues("succeeded").Inc()
	r.finish(nil)
	return results, r.sum, nil
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// run is the mutable state of one Process call.
type run struct {
	o      *Orchestrator
	ws     *storage.FS
	gem    []byte
	logger *slog.Logger

	mu  sync.Mutex
	sum *Summary
}

// stage writes every entry into the working directory. Entries whose job id
// was already seen are skipped.
func (r *run) stage(entries []archive.Entry) ([]job, error) {
	seen := make(map[string]bool, len(entries))
	jobs := make([]job, 0, len(entries))
	for _, e := range entries {
		id := archive.JobID(e.Name)
		if seen[id] {
			r.skip(id, "duplicate job id", false)
			continue
		}
		seen[id] = true
		p := path.Join(inputDir, archive.ResultName(id))
		if err := r.ws.Write(p, e.Data); err != nil {
			return nil, fmt.Errorf("batch: stage %s: %w", e.Name, err)
		}
		jobs = append(jobs, job{id: id, path: p})
	}
	return jobs, nil
}

func (r *run) execute(ctx context.Context, j job) {
	simType := string(r.o.Params.SimType)
	metrics.JobsActive.Inc()
	start := time.Now()
	defer func() {
		metrics.JobsActive.Dec()
		metrics.JobDuration.WithLabelValues(simType).Observe(time.Since(start).Seconds())
	}()

	data, err := r.ws.Read(j.path)
	if err != nil {
		r.skip(j.id, err.Error(), false)
		return
	}
	res, err := r.o.Launcher.Launch(ctx, worker.Request{
		JobID:   j.id,
		Pathway: data,
		GEM:     r.gem,
		Params:  r.o.Params,
	})
	if err != nil {
		var crash *worker.CrashError
		r.skip(j.id, err.Error(), errors.As(err, &crash))
		return
	}
	if err := r.ws.Write(path.Join(outputDir, archive.ResultName(j.id)), res.Model); err != nil {
		r.skip(j.id, err.Error(), false)
		return
	}

	outcome := JobOutcome{
		JobID:       j.id,
		ObjectiveID: res.ObjectiveID,
		Value:       res.Value,
		OK:          res.OK,
		SolverError: res.SolverError,
		Renamed:     res.Renamed,
		SinkSpecies: res.SinkSpecies,
	}
	if !res.OK {
		metrics.SolverFailuresTotal.Inc()
		r.logger.Warn("batch: optimization failed",
			slog.String("job_id", j.id),
			slog.String("error", res.SolverError))
	}
	metrics.JobsTotal.WithLabelValues(simType, metrics.StatusCompleted).Inc()
	r.logger.Info("batch: job completed",
		slog.String("job_id", j.id),
		slog.String("objective_id", res.ObjectiveID),
		slog.Float64("value", res.Value),
		slog.Any("renamed", res.Renamed),
		slog.Any("sink_species", res.SinkSpecies))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sum.Completed = append(r.sum.Completed, outcome)
	r.emitLocked(Event{
		Type:        EventJobFinished,
		JobID:       j.id,
		Status:      metrics.StatusCompleted,
		ObjectiveID: res.ObjectiveID,
		Value:       res.Value,
		OK:          res.OK,
		Reason:      res.SolverError,
	})
}

func (r *run) skip(jobID, reason string, crashed bool) {
	status := metrics.StatusSkipped
	if crashed {
		status = metrics.StatusCrashed
	}
	metrics.JobsTotal.WithLabelValues(string(r.o.Params.SimType), status).Inc()
	r.logger.Warn("batch: job skipped",
		slog.String("job_id", jobID),
		slog.String("reason", reason),
		slog.Bool("crashed", crashed))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sum.Skipped = append(r.sum.Skipped, Skip{JobID: jobID, Reason: reason, Crashed: crashed})
	r.emitLocked(Event{Type: EventJobFinished, JobID: jobID, Status: status, Reason: reason})
}

func (r *run) finish(err error) {
	skipped := make([]string, 0, len(r.sum.Skipped))
	for _, s := range r.sum.Skipped {
		skipped = append(skipped, s.JobID)
	}
	attrs := []any{
		slog.Int("total", r.sum.Total),
		slog.Int("completed", len(r.sum.Completed)),
		slog.Int("skipped", len(r.sum.Skipped)),
		slog.Any("skipped_jobs", skipped),
	}
	ev := Event{
		Type:      EventRunFinished,
		Total:     r.sum.Total,
		Completed: len(r.sum.Completed),
		Skipped:   len(r.sum.Skipped),
		Status:    "succeeded",
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		ev.Status = "failed"
		ev.Reason = err.Error()
		r.logger.Error("batch: failed", attrs...)
	} else {
		r.logger.Info("batch: finished", attrs...)
	}
	r.emit(ev)
}

func (r *run) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(ev)
}

func (r *run) emitLocked(ev Event) {
	if r.o.Notify == nil {
		return
	}
	ev.RunID = r.sum.RunID
	ev.Time = time.Now().UTC()
	r.o.Notify(ev)
}
