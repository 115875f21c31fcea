package main

import (
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/starford/rpfba/internal"
	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/worker"
)

// simulationFlags mirror the simulation section of the config file.
func simulationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "sim-type", Usage: "fraction, fba, pfba or multi_fba"},
		&cli.StringFlag{Name: "source-reaction", Usage: "Reaction optimized first (fraction) or alone (fba, pfba)"},
		&cli.StringFlag{Name: "target-reaction", Usage: "Reaction optimized under the pinned source"},
		&cli.FloatFlag{Name: "source-coefficient", Usage: "Objective coefficient of the source reaction"},
		&cli.FloatFlag{Name: "target-coefficient", Usage: "Objective coefficient of the target reaction"},
		&cli.BoolFlag{Name: "is-max", Usage: "Maximize the objective"},
		&cli.FloatFlag{Name: "fraction-of", Usage: "Share of the source optimum to pin, in (0, 1]"},
		&cli.BoolFlag{Name: "dont-merge", Usage: "Write results onto the pathway model only"},
		&cli.StringFlag{Name: "pathway-group-id", Usage: "Group holding the pathway reactions"},
		&cli.StringFlag{Name: "objective-id", Usage: "Id of the final objective"},
		&cli.StringFlag{Name: "compartment-id", Usage: "Compartment of the pathway species"},
		&cli.StringFlag{Name: "species-group-id", Usage: "Group holding the central species"},
		&cli.StringFlag{Name: "sink-species-group-id", Usage: "Group holding the species drained by the pathway sink"},
		&cli.IntFlag{Name: "num-workers", Usage: "Parallel jobs, 1 to 20"},
		&cli.BoolFlag{Name: "fill-orphan-species", Usage: "Add source reactions for species no reaction produces"},
		&cli.StringSliceFlag{Name: "reaction", Usage: "multi_fba reaction id, repeatable"},
		&cli.FloatSliceFlag{Name: "coefficient", Usage: "multi_fba coefficient, repeatable"},
		&cli.StringFlag{Name: "compression", Usage: "Result archive compression: xz, gzip or none"},
	}
}

// applySimulationFlags overrides config values with the flags that were
// set, then validates the result.
func applySimulationFlags(cmd *cli.Command, cfg *internal.Config) error {
	p := &cfg.Simulation
	strs := map[string]*string{
		"source-reaction":       &p.SourceReaction,
		"target-reaction":       &p.TargetReaction,
		"pathway-group-id":      &p.PathwayGroupID,
		"objective-id":          &p.ObjectiveID,
		"compartment-id":        &p.CompartmentID,
		"species-group-id":      &p.SpeciesGroupID,
		"sink-species-group-id": &p.SinkSpeciesGroupID,
	}
	for name, dst := range strs {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	floats := map[string]*float64{
		"source-coefficient": &p.SourceCoefficient,
		"target-coefficient": &p.TargetCoefficient,
		"fraction-of":        &p.FractionOf,
	}
	for name, dst := range floats {
		if cmd.IsSet(name) {
			*dst = cmd.Float(name)
		}
	}
	bools := map[string]*bool{
		"is-max":              &p.IsMax,
		"dont-merge":          &p.DontMerge,
		"fill-orphan-species": &p.FillOrphanSpecies,
	}
	for name, dst := range bools {
		if cmd.IsSet(name) {
			*dst = cmd.Bool(name)
		}
	}
	if cmd.IsSet("sim-type") {
		p.SimType = worker.SimType(cmd.String("sim-type"))
	}
	if cmd.IsSet("num-workers") {
		p.NumWorkers = int(cmd.Int("num-workers"))
	}
	if cmd.IsSet("reaction") {
		p.Reactions = cmd.StringSlice("reaction")
	}
	if cmd.IsSet("coefficient") {
		p.Coefficients = cmd.FloatSlice("coefficient")
	}
	if err := compressionFlag(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// compressionFlag parses --compression into the config.
func compressionFlag(cmd *cli.Command, cfg *internal.Config) error {
	if !cmd.IsSet("compression") {
		return nil
	}
	if _, err := archive.ParseCompression(cmd.String("compression")); err != nil {
		return err
	}
	cfg.App.Compression = cmd.String("compression")
	return nil
}
