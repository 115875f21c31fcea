package simservice

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/batch"
	"github.com/starford/rpfba/internal/fba"
	"github.com/starford/rpfba/internal/ledger"
	"github.com/starford/rpfba/internal/model"
	"github.com/starford/rpfba/internal/testutil"
	"github.com/starford/rpfba/internal/testutil/testdb"
	"github.com/starford/rpfba/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, l ledger.Ledger, notify func(batch.Event)) *Service {
	t.Helper()
	return NewService(Deps{
		Launcher: worker.InProcessLauncher{Logger: testutil.Logger()},
		Ledger:   l,
		Notify:   notify,
		WorkDir:  t.TempDir(),
		Logger:   testutil.Logger(),
	})
}

func request(format string) Request {
	p := worker.DefaultParams()
	p.NumWorkers = 2
	return Request{Params: p, Format: format, Compression: archive.Gzip, Source: "test"}
}

func TestSimulateArchiveRecordsLedger(t *testing.T) {
	db := testdb.New(t)
	var (
		mu     sync.Mutex
		events []batch.Event
	)
	svc := newService(t, db, func(ev batch.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	ctx := context.Background()
	gem := testutil.SBML(t, testutil.GEM(t))

	var out bytes.Buffer
	sum, err := svc.Simulate(ctx, request(FormatTar), bytes.NewReader(testutil.PathwayArchive(t, 2)), gem, &out)
	require.NoError(t, err)
	assert.Len(t, sum.Completed, 2)

	entries, err := archive.Read(&out)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	mu.Lock()
	require.NotEmpty(t, events)
	assert.Equal(t, batch.EventRunStarted, events[0].Type)
	mu.Unlock()

	runs, total, err := svc.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].ID)
	assert.Equal(t, "fraction", runs[0].SimType)
	assert.Equal(t, ledger.StatusSucceeded, runs[0].Status)

	detail, err := svc.GetRun(ctx, sum.RunID)
	require.NoError(t, err)
	assert.Len(t, detail.Jobs, 2)
	assert.Equal(t, "rp_001", detail.Jobs[0].JobID)
}

func TestSimulateSingleModel(t *testing.T) {
	svc := newService(t, nil, nil)
	gem := testutil.SBML(t, testutil.GEM(t))
	doc := testutil.SBML(t, testutil.Pathway(t, "rp_001"))

	var out bytes.Buffer
	sum, err := svc.Simulate(context.Background(), request(FormatSBML), bytes.NewReader(doc), gem, &out)
	require.NoError(t, err)
	require.Len(t, sum.Completed, 1)

	info, err := Inspect(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "rp_001", info.ID)
	found := false
	for _, o := range info.Objectives {
		if o.ID == sum.Completed[0].ObjectiveID {
			found = true
			require.NotNil(t, o.FluxValue)
		}
	}
	assert.True(t, found)
}

func TestSimulateRejectsUnknownFormat(t *testing.T) {
	svc := newService(t, nil, nil)
	_, err := svc.Simulate(context.Background(), request("zip"), bytes.NewReader(nil), nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestRunsWithoutLedger(t *testing.T) {
	svc := newService(t, nil, nil)
	_, _, err := svc.ListRuns(context.Background(), 10, 0)
	assert.ErrorIs(t, err, apperr.ErrDisabled)
	_, err = svc.GetRun(context.Background(), "x")
	assert.ErrorIs(t, err, apperr.ErrDisabled)
}

func TestGetRunNotFound(t *testing.T) {
	svc := newService(t, testdb.New(t), nil)
	_, err := svc.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDescribeReportsResults(t *testing.T) {
	m := testutil.Pathway(t, "rp_007")
	require.NoError(t, fba.WriteResults(m, mustObjective(t, m), nil, "rp_pathway"))

	info := Describe(m)
	assert.Equal(t, "rp_007", info.ID)
	assert.Equal(t, 2, info.Reactions)
	assert.Equal(t, 2, info.Species)
	require.Len(t, info.Objectives, 1)
	require.NotNil(t, info.Objectives[0].FluxValue)
	assert.Equal(t, 0.0, *info.Objectives[0].FluxValue)

	var group *GroupInfo
	for i := range info.Groups {
		if info.Groups[i].ID == "rp_pathway" {
			group = &info.Groups[i]
		}
	}
	require.NotNil(t, group)
	assert.Equal(t, 2, group.Members)
	assert.Contains(t, group.Results, fba.GroupKey("obj_sink"))
}

func TestInspectBadDocument(t *testing.T) {
	_, err := Inspect([]byte("not xml"))
	assert.Error(t, err)
}

func mustObjective(t *testing.T, m *model.Model) string {
	t.Helper()
	require.NoError(t, m.AddObjective(&model.Objective{
		ID:             "obj_sink",
		Maximize:       true,
		FluxObjectives: []*model.FluxObjective{{Reaction: "RP1_sink", Coefficient: 1}},
	}))
	return "obj_sink"
}
