package ledger

import (
	"context"
	"log/slog"

	"github.com/starford/rpfba/internal/batch"
)

// RunInfo describes a run before it starts.
type RunInfo struct {
	SimType     string
	GEMChecksum string
}

// Observer returns a batch event callback that writes runs and jobs to l.
// Ledger failures are logged and never stop the batch.
func Observer(ctx context.Context, l Ledger, info RunInfo, logger *slog.Logger) func(batch.Event) {
	warn := func(err error, ev batch.Event) {
		if err != nil {
			logger.Warn("ledger: record failed",
				slog.String("run_id", ev.RunID),
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()))
		}
	}
	return func(ev batch.Event) {
		switch ev.Type {
		case batch.EventRunStarted:
			_, err := l.BeginRun(ctx, Run{
				ID:          ev.RunID,
				Source:      ev.Source,
				SimType:     info.SimType,
				GEMChecksum: info.GEMChecksum,
				Total:       ev.Total,
				StartedAt:   ev.Time,
			})
			warn(err, ev)
		case batch.EventJobFinished:
			warn(l.RecordJob(ctx, Job{
				RunID:       ev.RunID,
				JobID:       ev.JobID,
				Status:      ev.Status,
				Reason:      ev.Reason,
				ObjectiveID: ev.ObjectiveID,
				Value:       ev.Value,
				OK:          ev.OK,
				RecordedAt:  ev.Time,
			}), ev)
		case batch.EventRunFinished:
			status := StatusSucceeded
			if ev.Status != StatusSucceeded {
				status = StatusFailed
			}
			warn(l.FinishRun(ctx, ev.RunID, RunResult{
				Status:     status,
				Total:      ev.Total,
				Completed:  ev.Completed,
				Skipped:    ev.Skipped,
				Error:      ev.Reason,
				FinishedAt: ev.Time,
			}), ev)
		}
	}
}
