package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	require.NoError(t, db.conn.QueryRow(`SELECT count(*) FROM runs`).Scan(&count))
	require.NoError(t, db.conn.QueryRow(`SELECT count(*) FROM jobs`).Scan(&count))
}

func TestRunLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.BeginRun(ctx, Run{Source: "in.tar.xz", SimType: "fraction", GEMChecksum: "abc", Total: 2})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	require.NoError(t, db.RecordJob(ctx, Job{RunID: id, JobID: "rp_2", Status: "skipped", Reason: "sink collision"}))
	require.NoError(t, db.RecordJob(ctx, Job{RunID: id, JobID: "rp_1", Status: "completed", ObjectiveID: "obj_x", Value: 2.5, OK: true}))
	// Re-recording replaces the row.
	require.NoError(t, db.RecordJob(ctx, Job{RunID: id, JobID: "rp_1", Status: "completed", ObjectiveID: "obj_x", Value: 3, OK: true}))

	run, err := db.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, db.FinishRun(ctx, id, RunResult{Status: StatusSucceeded, Total: 2, Completed: 1, Skipped: 1}))
	run, err = db.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, 1, run.Completed)
	require.NotNil(t, run.FinishedAt)

	jobs, err := db.RunJobs(ctx, id)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "rp_1", jobs[0].JobID)
	assert.Equal(t, 3.0, jobs[0].Value)
	assert.True(t, jobs[0].OK)
	assert.Equal(t, "sink collision", jobs[1].Reason)
}

func TestGetRunNotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, db.FinishRun(context.Background(), "missing", RunResult{Status: StatusFailed}), apperr.ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_, err := db.BeginRun(ctx, Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	runs, total, err := db.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	runs, _, err = db.ListRuns(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].ID)
}

func TestObserverRecordsBatchEvents(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	notify := Observer(ctx, db, RunInfo{SimType: "fba", GEMChecksum: "deadbeef"}, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	now := time.Now().UTC()
	notify(batch.Event{Type: batch.EventRunStarted, RunID: "r1", Source: "x.tar", Total: 2, Time: now})
	notify(batch.Event{Type: batch.EventJobFinished, RunID: "r1", JobID: "rp_1", Status: "completed", Value: 1, OK: true, Time: now})
	notify(batch.Event{Type: batch.EventJobFinished, RunID: "r1", JobID: "rp_2", Status: "crashed", Reason: "killed", Time: now})
	notify(batch.Event{Type: batch.EventRunFinished, RunID: "r1", Status: "succeeded", Total: 2, Completed: 1, Skipped: 1, Time: now})

	run, err := db.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "fba", run.SimType)
	assert.Equal(t, "deadbeef", run.GEMChecksum)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, 1, run.Skipped)

	jobs, err := db.RunJobs(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "crashed", jobs[1].Status)

	notify(batch.Event{Type: batch.EventRunFinished, RunID: "r1", Status: "failed", Reason: "no results", Time: now})
	run, err = db.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "no results", run.Error)
}
