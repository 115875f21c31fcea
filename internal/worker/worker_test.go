package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/sbml"
	"github.com/starford/rpfba/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "RPFBA_WORKER_HELPER"

// TestMain lets the test binary act as a worker process.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "serve":
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		if err := Serve(context.Background(), os.Stdin, os.Stdout, logger); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	case "crash":
		_ = syscall.Kill(os.Getpid(), syscall.SIGKILL)
		time.Sleep(time.Minute)
		os.Exit(3)
	}
	os.Exit(m.Run())
}

func helper(mode string) *ProcessLauncher {
	return &ProcessLauncher{
		Path:   os.Args[0],
		Args:   []string{"-test.run=^$"},
		Env:    append(os.Environ(), helperEnv+"="+mode),
		Stderr: io.Discard,
	}
}

func request(t *testing.T, jobID string, p Params) Request {
	t.Helper()
	return Request{
		JobID:   jobID,
		Pathway: testutil.SBML(t, testutil.Pathway(t, jobID)),
		GEM:     testutil.SBML(t, testutil.GEM(t)),
		Params:  p,
	}
}

func TestExecuteFractionPathwayOnly(t *testing.T) {
	res, err := Execute(context.Background(), request(t, "rp_001", DefaultParams()), nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "obj_RP1_sink__restricted_biomass", res.ObjectiveID)
	assert.InDelta(t, 2.5, res.Value, 1e-9)
	assert.Equal(t, []string{"TARGET_0000000001__64__MNXC3"}, res.SinkSpecies)

	out, err := sbml.ReadBytes(res.Model)
	require.NoError(t, err)
	assert.Equal(t, "rp_001", out.ID)
	assert.Nil(t, out.Reaction("EX_glc"))

	v, ok := out.Reaction("RP1_sink").Annotations.Float("fba_obj_RP1_sink__restricted_biomass")
	require.True(t, ok)
	assert.InDelta(t, 2.5, v, 1e-9)
	v, ok = out.Group("rp_pathway").Annotations.Float("fba_obj_biomass")
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)

	obj := out.Objective("obj_RP1_sink__restricted_biomass")
	require.NotNil(t, obj)
	assert.Equal(t, obj.ID, out.ActiveObjective().ID)
	assert.NotNil(t, out.Objective("obj_biomass"))
	assert.Nil(t, out.Objective("host_objective"))
	require.NoError(t, out.Validate())
}

func TestExecuteAcceptsItsOwnOutput(t *testing.T) {
	first, err := Execute(context.Background(), request(t, "rp_001", DefaultParams()), nil)
	require.NoError(t, err)

	req := request(t, "rp_001", DefaultParams())
	req.Pathway = first.Model
	second, err := Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, second.OK)
	assert.Equal(t, first.ObjectiveID, second.ObjectiveID)
	assert.InDelta(t, first.Value, second.Value, 1e-9)

	out, err := sbml.ReadBytes(second.Model)
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	v, ok := out.Objective("obj_biomass").Annotations.Float("flux_value")
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)
}

func TestExecuteProjectsAnnotatedHostObjective(t *testing.T) {
	gem := testutil.NewModel(t, "host").
		Species("glc__64__MNXC3", testutil.GlucoseKey).
		Reaction("EX_glc", 0, 10, "-> glc__64__MNXC3").
		Reaction("biomass", 0, 1000, "glc__64__MNXC3 ->").
		Objective("obj_biomass", "biomass").
		Build()
	p := DefaultParams()
	p.SimType = SimFBA
	req := request(t, "rp_001", p)
	req.GEM = testutil.SBML(t, gem)

	res, err := Execute(context.Background(), req, nil)
	require.NoError(t, err)
	require.Equal(t, "obj_biomass", res.ObjectiveID)

	out, err := sbml.ReadBytes(res.Model)
	require.NoError(t, err)
	obj := out.Objective("obj_biomass")
	require.NotNil(t, obj)
	v, ok := obj.Annotations.Float("flux_value")
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)
	assert.Empty(t, obj.FluxObjectives)
	assert.Equal(t, "obj_biomass", out.ActiveObjective().ID)
}

func TestExecuteRejectsInvalidModel(t *testing.T) {
	broken := testutil.Pathway(t, "rp_broken")
	broken.Group("rp_pathway").Members = append(broken.Group("rp_pathway").Members, "ghost")
	req := request(t, "rp_broken", DefaultParams())
	req.Pathway = testutil.SBML(t, broken)

	_, err := Execute(context.Background(), req, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExecuteFullMergedModel(t *testing.T) {
	p := DefaultParams()
	p.DontMerge = false
	res, err := Execute(context.Background(), request(t, "rp_001", p), nil)
	require.NoError(t, err)

	out, err := sbml.ReadBytes(res.Model)
	require.NoError(t, err)
	assert.Equal(t, "host", out.ID)
	assert.NotNil(t, out.Reaction("EX_glc"))
	assert.NotNil(t, out.Reaction("RP1_sink"))
	_, ok := out.Reaction("EX_glc").Annotations.Get("fba_obj_biomass")
	assert.False(t, ok)
}

func TestExecuteSimTypes(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(p *Params)
		objID string
		value float64
	}{
		{"fba", func(p *Params) { p.SimType = SimFBA }, "obj_biomass", 10},
		{"fba explicit id", func(p *Params) {
			p.SimType = SimFBA
			p.SourceReaction = "RP1_sink"
			p.ObjectiveID = "mine"
		}, "mine", 10},
		{"pfba", func(p *Params) {
			p.SimType = SimPFBA
			p.FractionOf = 1
		}, "obj_biomass", 20},
		{"multi_fba", func(p *Params) {
			p.SimType = SimMultiFBA
			p.Reactions = []string{"biomass", "RP1_sink"}
			p.Coefficients = []float64{1, 1}
		}, "obj_RP1_sink__biomass", 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultParams()
			tc.edit(&p)
			require.NoError(t, p.Validate())
			res, err := Execute(context.Background(), request(t, "rp_001", p), nil)
			require.NoError(t, err)
			assert.True(t, res.OK)
			assert.Equal(t, tc.objID, res.ObjectiveID)
			assert.InDelta(t, tc.value, res.Value, 1e-6)
		})
	}
}

func TestExecuteMergeError(t *testing.T) {
	req := request(t, "rp_bad", DefaultParams())
	req.Pathway = testutil.SBML(t, testutil.AcetateSinkPathway(t, "rp_bad"))
	_, err := Execute(context.Background(), req, nil)
	assert.ErrorIs(t, err, apperr.ErrMerge)
}

func TestExecuteBadInput(t *testing.T) {
	req := request(t, "rp_001", DefaultParams())
	req.Pathway = []byte("not xml")
	_, err := Execute(context.Background(), req, nil)
	assert.Error(t, err)

	req = request(t, "rp_001", Params{SimType: "bogus", PathwayGroupID: "rp_pathway", CompartmentID: "MNXC3"})
	_, err = Execute(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrUnknownSimType)
}

func TestParamsValidate(t *testing.T) {
	ok := DefaultParams()
	require.NoError(t, ok.Validate())

	cases := map[string]func(p *Params){
		"zero workers":      func(p *Params) { p.NumWorkers = 0 },
		"too many workers":  func(p *Params) { p.NumWorkers = 21 },
		"unknown sim type":  func(p *Params) { p.SimType = "fva" },
		"zero fraction":     func(p *Params) { p.FractionOf = 0 },
		"fraction above 1":  func(p *Params) { p.FractionOf = 1.5 },
		"negative fraction": func(p *Params) { p.FractionOf = -1 },
		"missing target":    func(p *Params) { p.TargetReaction = "" },
		"multi mismatch": func(p *Params) {
			p.SimType = SimMultiFBA
			p.Reactions = []string{"a", "b"}
			p.Coefficients = []float64{1}
		},
		"multi empty": func(p *Params) { p.SimType = SimMultiFBA },
	}
	for name, edit := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			edit(&p)
			assert.ErrorIs(t, p.Validate(), apperr.ErrConfig)
		})
	}

	fbaOnly := DefaultParams()
	fbaOnly.SimType = SimFBA
	fbaOnly.FractionOf = 0
	assert.NoError(t, fbaOnly.Validate())
}

func TestProcessLauncherRoundTrip(t *testing.T) {
	res, err := helper("serve").Launch(context.Background(), request(t, "rp_001", DefaultParams()))
	require.NoError(t, err)
	assert.Equal(t, "rp_001", res.JobID)
	assert.True(t, res.OK)
	assert.InDelta(t, 2.5, res.Value, 1e-9)
	assert.NotEmpty(t, res.Model)
}

func TestProcessLauncherMergeError(t *testing.T) {
	req := request(t, "rp_bad", DefaultParams())
	req.Pathway = testutil.SBML(t, testutil.AcetateSinkPathway(t, "rp_bad"))

	_, err := helper("serve").Launch(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrMerge)
	var jerr *JobError
	require.True(t, errors.As(err, &jerr))
	assert.Contains(t, jerr.Message, "sink collision")
}

func TestProcessLauncherCrash(t *testing.T) {
	_, err := helper("crash").Launch(context.Background(), request(t, "rp_crash", DefaultParams()))
	var crash *CrashError
	require.True(t, errors.As(err, &crash), "got %v", err)
	assert.Equal(t, "rp_crash", crash.JobID)
	assert.Equal(t, syscall.SIGKILL, crash.Signal)
}

func TestInProcessLauncher(t *testing.T) {
	res, err := InProcessLauncher{}.Launch(context.Background(), request(t, "rp_001", DefaultParams()))
	require.NoError(t, err)
	assert.True(t, res.OK)
}
