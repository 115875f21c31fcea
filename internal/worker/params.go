package worker

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/fba"
	"github.com/starford/rpfba/internal/merge"
)

// SimType selects the analysis run on each merged model.
type SimType string

const (
	SimFraction SimType = "fraction"
	SimFBA      SimType = "fba"
	SimPFBA     SimType = "pfba"
	SimMultiFBA SimType = "multi_fba"
)

// ErrUnknownSimType is returned for a sim_type outside the known analyses.
var ErrUnknownSimType = fmt.Errorf("%w: unknown sim_type", apperr.ErrConfig)

// Worker pool bounds.
const (
	MinWorkers     = 1
	MaxWorkers     = 20
	DefaultWorkers = 10
)

// Params are the simulation request parameters shared by the CLI, the REST
// surface and the config file.
type Params struct {
	SimType            SimType   `yaml:"sim_type" json:"sim_type"`
	SourceReaction     string    `yaml:"source_reaction" json:"source_reaction"`
	TargetReaction     string    `yaml:"target_reaction" json:"target_reaction"`
	SourceCoefficient  float64   `yaml:"source_coefficient" json:"source_coefficient"`
	TargetCoefficient  float64   `yaml:"target_coefficient" json:"target_coefficient"`
	IsMax              bool      `yaml:"is_max" json:"is_max"`
	FractionOf         float64   `yaml:"fraction_of" json:"fraction_of"`
	DontMerge          bool      `yaml:"dont_merge" json:"dont_merge"`
	PathwayGroupID     string    `yaml:"pathway_group_id" json:"pathway_group_id"`
	ObjectiveID        string    `yaml:"objective_id" json:"objective_id"`
	CompartmentID      string    `yaml:"compartment_id" json:"compartment_id"`
	NumWorkers         int       `yaml:"num_workers" json:"num_workers"`
	SpeciesGroupID     string    `yaml:"species_group_id" json:"species_group_id"`
	SinkSpeciesGroupID string    `yaml:"sink_species_group_id" json:"sink_species_group_id"`
	FillOrphanSpecies  bool      `yaml:"fill_orphan_species" json:"fill_orphan_species"`
	Reactions          []string  `yaml:"reactions" json:"reactions"`
	Coefficients       []float64 `yaml:"coefficients" json:"coefficients"`
}

// DefaultParams returns the parameters of a fraction analysis of the
// heterologous sink against biomass.
func DefaultParams() Params {
	return Params{
		SimType:            SimFraction,
		SourceReaction:     "biomass",
		TargetReaction:     "RP1_sink",
		SourceCoefficient:  1,
		TargetCoefficient:  1,
		IsMax:              true,
		FractionOf:         0.75,
		DontMerge:          true,
		PathwayGroupID:     merge.DefaultPathwayGroupID,
		CompartmentID:      merge.DefaultCompartmentID,
		NumWorkers:         DefaultWorkers,
		SpeciesGroupID:     merge.DefaultSpeciesGroupID,
		SinkSpeciesGroupID: merge.DefaultSinkSpeciesGroupID,
	}
}

// Validate rejects parameters that cannot start a run. The returned error
// matches apperr.ErrConfig.
func (p *Params) Validate() error {
	if err := validation.ValidateStruct(p,
		validation.Field(&p.SimType, validation.Required,
			validation.In(SimFraction, SimFBA, SimPFBA, SimMultiFBA)),
		validation.Field(&p.NumWorkers, validation.Required,
			validation.Min(MinWorkers), validation.Max(MaxWorkers)),
		validation.Field(&p.PathwayGroupID, validation.Required),
		validation.Field(&p.CompartmentID, validation.Required),
		validation.Field(&p.SourceReaction,
			validation.When(p.SimType == SimFraction || p.SimType == SimFBA || p.SimType == SimPFBA, validation.Required)),
		validation.Field(&p.TargetReaction,
			validation.When(p.SimType == SimFraction, validation.Required)),
		validation.Field(&p.Reactions,
			validation.When(p.SimType == SimMultiFBA, validation.Required)),
	); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrConfig, err)
	}
	if p.SimType == SimFraction || p.SimType == SimPFBA {
		if err := fba.ValidateFraction(p.FractionOf); err != nil {
			return err
		}
	}
	if p.SimType == SimMultiFBA && len(p.Reactions) != len(p.Coefficients) {
		return fmt.Errorf("%w: %d reactions but %d coefficients", apperr.ErrConfig, len(p.Reactions), len(p.Coefficients))
	}
	return nil
}

// MergeOptions returns the merge settings carried by p.
func (p *Params) MergeOptions() merge.Options {
	return merge.Options{
		CompartmentID:      p.CompartmentID,
		PathwayGroupID:     p.PathwayGroupID,
		SpeciesGroupID:     p.SpeciesGroupID,
		SinkSpeciesGroupID: p.SinkSpeciesGroupID,
		FillOrphanSpecies:  p.FillOrphanSpecies,
	}
}
