package main

import (
	"context"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/starford/rpfba/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyArgs(t *testing.T, args ...string) (*internal.Config, error) {
	t.Helper()
	cfg := internal.NewDefaultConfig()
	var applyErr error
	cmd := &cli.Command{
		Name:  "rpfba",
		Flags: simulationFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			applyErr = applySimulationFlags(cmd, cfg)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"rpfba"}, args...)))
	return cfg, applyErr
}

func TestApplySimulationFlagsGroupIDs(t *testing.T) {
	cfg, err := applyArgs(t,
		"--species-group-id", "my_central",
		"--sink-species-group-id", "my_sinks",
		"--pathway-group-id", "my_pathway",
	)
	require.NoError(t, err)
	assert.Equal(t, "my_central", cfg.Simulation.SpeciesGroupID)
	assert.Equal(t, "my_sinks", cfg.Simulation.SinkSpeciesGroupID)
	assert.Equal(t, "my_pathway", cfg.Simulation.PathwayGroupID)

	opts := cfg.Simulation.MergeOptions()
	assert.Equal(t, "my_central", opts.SpeciesGroupID)
	assert.Equal(t, "my_sinks", opts.SinkSpeciesGroupID)
}

func TestApplySimulationFlagsKeepsDefaults(t *testing.T) {
	cfg, err := applyArgs(t, "--sim-type", "fba", "--num-workers", "4")
	require.NoError(t, err)
	assert.Equal(t, "fba", string(cfg.Simulation.SimType))
	assert.Equal(t, 4, cfg.Simulation.NumWorkers)
	assert.Equal(t, "central_species", cfg.Simulation.SpeciesGroupID)
	assert.Equal(t, "rp_sink_species", cfg.Simulation.SinkSpeciesGroupID)
}

func TestApplySimulationFlagsRejectsInvalid(t *testing.T) {
	_, err := applyArgs(t, "--fraction-of", "1.5")
	assert.Error(t, err)

	_, err = applyArgs(t, "--compression", "zip")
	assert.Error(t, err)
}
