package fba

import (
	"fmt"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/model"
	"github.com/starford/rpfba/internal/solver"
)

// Annotation keys written by the result writer.
const (
	KeyFluxValue        = "flux_value"
	KeyPrimaryFluxValue = "primary_flux_value"
	// ResultKeyPrefix starts every per-objective key on groups and reactions.
	ResultKeyPrefix = "fba_"
)

// GroupKey is the annotation key holding the result of objectiveID on the
// pathway group and its reactions.
func GroupKey(objectiveID string) string {
	return ResultKeyPrefix + objectiveID
}

// WriteResults records sol on m. A nil sol records a failed optimization as
// zero everywhere. Missing per-reaction fluxes are written as zero. The
// pathway group is created when absent. Writing twice overwrites.
func WriteResults(m *model.Model, objectiveID string, sol *solver.Solution, pathwayGroupID string) error {
	obj := m.Objective(objectiveID)
	if obj == nil {
		return fmt.Errorf("fba: objective %q: %w", objectiveID, apperr.ErrNotFound)
	}

	var value float64
	if sol != nil {
		value = sol.ObjectiveValue
	}
	flux := func(rid string) float64 {
		if sol == nil {
			return 0
		}
		v, _ := sol.Flux(rid)
		return v
	}

	group := m.EnsureGroup(pathwayGroupID)
	group.Annotations.SetFloat(GroupKey(objectiveID), value, model.FluxUnits)
	obj.Annotations.SetFloat(KeyFluxValue, value, model.FluxUnits)
	for _, fo := range obj.FluxObjectives {
		fo.Annotations.SetFloat(KeyFluxValue, flux(fo.Reaction), model.FluxUnits)
	}
	for _, id := range group.Members {
		r := m.Reaction(id)
		if r == nil {
			continue
		}
		r.Annotations.SetFloat(GroupKey(objectiveID), flux(id), model.FluxUnits)
	}
	return nil
}

// cachedFlux returns the flux of reactionID recorded on objective
// objectiveID by an earlier run.
func cachedFlux(m *model.Model, objectiveID, reactionID string) (float64, bool) {
	obj := m.Objective(objectiveID)
	if obj == nil {
		return 0, false
	}
	for _, fo := range obj.FluxObjectives {
		if fo.Reaction == reactionID {
			return fo.Annotations.Float(KeyFluxValue)
		}
	}
	return 0, false
}
