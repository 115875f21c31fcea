package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/sbml"
	"github.com/starford/rpfba/internal/testutil"
	"github.com/starford/rpfba/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "RPFBA_BATCH_WORKER"

// TestMain lets the test binary act as a worker process.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		if err := worker.Serve(context.Background(), os.Stdin, os.Stdout, slog.New(slog.NewJSONHandler(io.Discard, nil))); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fiveModels holds four mergeable pathways and one whose sink collides
// with the host's acetate export.
func fiveModels(t *testing.T) []archive.Entry {
	t.Helper()
	var entries []archive.Entry
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("rp_%03d", i)
		entries = append(entries, archive.Entry{Name: id + ".rpsbml.xml", Data: testutil.SBML(t, testutil.Pathway(t, id))})
	}
	entries = append(entries, archive.Entry{Name: "rp_005.rpsbml.xml", Data: testutil.SBML(t, testutil.AcetateSinkPathway(t, "rp_005"))})
	return entries
}

func tarball(t *testing.T, entries []archive.Entry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, archive.Write(&buf, entries, archive.XZ))
	return &buf
}

func orchestrator(t *testing.T, l worker.Launcher) *Orchestrator {
	t.Helper()
	p := worker.DefaultParams()
	p.NumWorkers = 3
	return &Orchestrator{
		Launcher:    l,
		Params:      p,
		Compression: archive.XZ,
		WorkDir:     t.TempDir(),
		Logger:      quietLogger(),
	}
}

func assertWorkDirEmpty(t *testing.T, o *Orchestrator) {
	t.Helper()
	left, err := os.ReadDir(o.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRunSkipsCollidingModel(t *testing.T) {
	o := orchestrator(t, worker.InProcessLauncher{Logger: quietLogger()})
	var events []Event
	o.Notify = func(ev Event) { events = append(events, ev) }

	var out bytes.Buffer
	sum, err := o.Run(context.Background(), tarball(t, fiveModels(t)), testutil.SBML(t, testutil.GEM(t)), &out)
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Total)
	assert.Len(t, sum.Completed, 4)
	require.Len(t, sum.Skipped, 1)
	assert.Equal(t, "rp_005", sum.Skipped[0].JobID)
	assert.Contains(t, sum.Skipped[0].Reason, "sink collision")
	assert.False(t, sum.Skipped[0].Crashed)
	for _, c := range sum.Completed {
		assert.Equal(t, []string{"TARGET_0000000001__64__MNXC3"}, c.SinkSpecies, c.JobID)
		assert.Empty(t, c.Renamed, c.JobID)
	}

	results, err := archive.Read(&out)
	require.NoError(t, err)
	var names []string
	for _, e := range results {
		names = append(names, e.Name)
		m, err := sbml.ReadBytes(e.Data)
		require.NoError(t, err)
		v, ok := m.Reaction("RP1_sink").Annotations.Float("fba_obj_RP1_sink__restricted_biomass")
		require.True(t, ok)
		assert.InDelta(t, 2.5, v, 1e-9)
	}
	assert.Equal(t, []string{"rp_001.sbml.xml", "rp_002.sbml.xml", "rp_003.sbml.xml", "rp_004.sbml.xml"}, names)

	require.NotEmpty(t, events)
	assert.Equal(t, EventRunStarted, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, EventRunFinished, last.Type)
	assert.Equal(t, 4, last.Completed)
	assert.Equal(t, 1, last.Skipped)
	assert.Equal(t, sum.RunID, last.RunID)
	assertWorkDirEmpty(t, o)
}

func TestRunWithWorkerProcesses(t *testing.T) {
	o := orchestrator(t, &worker.ProcessLauncher{
		Path:   os.Args[0],
		Args:   []string{"-test.run=^$"},
		Env:    append(os.Environ(), helperEnv+"=1"),
		Stderr: io.Discard,
	})
	o.Params.NumWorkers = 2

	var out bytes.Buffer
	sum, err := o.Run(context.Background(), tarball(t, fiveModels(t)), testutil.SBML(t, testutil.GEM(t)), &out)
	require.NoError(t, err)
	assert.Len(t, sum.Completed, 4)
	require.Len(t, sum.Skipped, 1)
	assert.Equal(t, "rp_005", sum.Skipped[0].JobID)

	results, err := archive.Read(&out)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

// crashingLauncher reports a crash for one job and runs the rest in process.
type crashingLauncher struct {
	crash string
	calls atomic.Int32
}

func (l *crashingLauncher) Launch(ctx context.Context, req worker.Request) (*worker.Result, error) {
	l.calls.Add(1)
	if req.JobID == l.crash {
		return nil, &worker.CrashError{JobID: req.JobID, Signal: syscall.SIGSEGV}
	}
	return worker.Execute(ctx, req, quietLogger())
}

func TestRunContinuesAfterCrash(t *testing.T) {
	l := &crashingLauncher{crash: "rp_002"}
	o := orchestrator(t, l)

	entries := fiveModels(t)[:4]
	var out bytes.Buffer
	sum, err := o.Run(context.Background(), tarball(t, entries), testutil.SBML(t, testutil.GEM(t)), &out)
	require.NoError(t, err)
	assert.Equal(t, int32(4), l.calls.Load())
	assert.Len(t, sum.Completed, 3)
	require.Len(t, sum.Skipped, 1)
	assert.True(t, sum.Skipped[0].Crashed)
	assert.Contains(t, sum.Skipped[0].Reason, "segmentation")
}

func TestRunEmptyArchive(t *testing.T) {
	l := &crashingLauncher{}
	o := orchestrator(t, l)
	_, err := o.Run(context.Background(), tarball(t, nil), testutil.SBML(t, testutil.GEM(t)), io.Discard)
	assert.ErrorIs(t, err, apperr.ErrEmptyArchive)
	assert.Zero(t, l.calls.Load())
}

func TestRunNoResults(t *testing.T) {
	o := orchestrator(t, worker.InProcessLauncher{Logger: quietLogger()})
	entries := fiveModels(t)[4:]
	var out bytes.Buffer
	sum, err := o.Run(context.Background(), tarball(t, entries), testutil.SBML(t, testutil.GEM(t)), &out)
	assert.ErrorIs(t, err, apperr.ErrNoResults)
	require.NotNil(t, sum)
	assert.Len(t, sum.Skipped, 1)
	assert.Zero(t, out.Len())
	assertWorkDirEmpty(t, o)
}

func TestRunRejectsBadParamsBeforeJobs(t *testing.T) {
	for name, edit := range map[string]func(o *Orchestrator){
		"workers":  func(o *Orchestrator) { o.Params.NumWorkers = 0 },
		"fraction": func(o *Orchestrator) { o.Params.FractionOf = 1.5 },
		"sim type": func(o *Orchestrator) { o.Params.SimType = "fva" },
	} {
		t.Run(name, func(t *testing.T) {
			l := &crashingLauncher{}
			o := orchestrator(t, l)
			edit(o)
			_, err := o.Run(context.Background(), tarball(t, fiveModels(t)), testutil.SBML(t, testutil.GEM(t)), io.Discard)
			assert.ErrorIs(t, err, apperr.ErrConfig)
			assert.Zero(t, l.calls.Load())
		})
	}
}

func TestRunRejectsUnreadableArchive(t *testing.T) {
	o := orchestrator(t, &crashingLauncher{})
	_, err := o.Run(context.Background(), bytes.NewReader([]byte("garbage that is not a tar stream")), nil, io.Discard)
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestProcessSkipsDuplicateJobIDs(t *testing.T) {
	o := orchestrator(t, worker.InProcessLauncher{Logger: quietLogger()})
	pathway := testutil.SBML(t, testutil.Pathway(t, "rp_001"))
	entries := []archive.Entry{
		{Name: "rp_001.rpsbml.xml", Data: pathway},
		{Name: "rp_001.sbml.xml", Data: pathway},
	}
	results, sum, err := o.Process(context.Background(), entries, testutil.SBML(t, testutil.GEM(t)))
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 2, sum.Total)
	require.Len(t, sum.Skipped, 1)
	assert.Equal(t, "duplicate job id", sum.Skipped[0].Reason)
}

func TestRunSingle(t *testing.T) {
	o := orchestrator(t, worker.InProcessLauncher{Logger: quietLogger()})
	data, sum, err := o.RunSingle(context.Background(), testutil.SBML(t, testutil.Pathway(t, "rp_042")), testutil.SBML(t, testutil.GEM(t)))
	require.NoError(t, err)
	require.Len(t, sum.Completed, 1)
	assert.Equal(t, "single", sum.Completed[0].JobID)

	m, err := sbml.ReadBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "rp_042", m.ID)
}

func TestRunCancelled(t *testing.T) {
	o := orchestrator(t, worker.InProcessLauncher{Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, tarball(t, fiveModels(t)), testutil.SBML(t, testutil.GEM(t)), io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarySkippedSorted(t *testing.T) {
	o := orchestrator(t, &crashingLauncher{crash: "rp_003"})
	_, sum, err := o.Process(context.Background(), fiveModels(t), testutil.SBML(t, testutil.GEM(t)))
	require.NoError(t, err)
	var ids []string
	for _, s := range sum.Skipped {
		ids = append(ids, s.JobID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"rp_003", "rp_005"}, ids)
}
