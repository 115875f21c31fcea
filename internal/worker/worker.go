// Package worker runs one merge and simulate job and isolates it in a child
// process when asked to.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/rpfba/internal/fba"
	"github.com/starford/rpfba/internal/merge"
	"github.com/starford/rpfba/internal/model"
	"github.com/starford/rpfba/internal/sbml"
	"github.com/starford/rpfba/internal/solver"
)

// Request is one job: a pathway model, the host model and the analysis to
// run.
type Request struct {
	JobID   string `msgpack:"job_id"`
	Pathway []byte `msgpack:"pathway"`
	GEM     []byte `msgpack:"gem"`
	Params  Params `msgpack:"params"`
}

// Result is the output of a finished job. OK is false when the solver
// failed and zero fluxes were recorded. Renamed lists the pathway reactions
// that took a new id in the merged model and SinkSpecies the merged ids of
// the sink species group.
type Result struct {
	JobID       string   `msgpack:"job_id"`
	Model       []byte   `msgpack:"model"`
	ObjectiveID string   `msgpack:"objective_id"`
	Value       float64  `msgpack:"value"`
	OK          bool     `msgpack:"ok"`
	SolverError string   `msgpack:"solver_error,omitempty"`
	Renamed     []string `msgpack:"renamed,omitempty"`
	SinkSpecies []string `msgpack:"sink_species,omitempty"`
}

// Execute merges the pathway into the host, runs the requested analysis and
// serializes either the annotated pathway or the full merged model.
func Execute(ctx context.Context, req Request, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job_id", req.JobID))

	pathway, err := sbml.ReadBytes(req.Pathway)
	if err != nil {
		return nil, fmt.Errorf("worker: pathway: %w", err)
	}
	gem, err := sbml.ReadBytes(req.GEM)
	if err != nil {
		return nil, fmt.Errorf("worker: gem: %w", err)
	}
	if err := pathway.Validate(); err != nil {
		return nil, fmt.Errorf("worker: pathway: %w", err)
	}
	if err := gem.Validate(); err != nil {
		return nil, fmt.Errorf("worker: gem: %w", err)
	}

	merged, err := merge.Merge(pathway, gem, req.Params.MergeOptions())
	if err != nil {
		return nil, err
	}
	logger.Debug("worker: merged", slog.String("summary", merged.String()))

	engine := fba.NewEngine(merged.Model, solver.NewSimplex(), logger)
	out, err := simulate(ctx, engine, &req.Params)
	if err != nil {
		return nil, err
	}

	target := merged.Model
	if req.Params.DontMerge {
		if err := Project(pathway, merged, engine.Annotated(), req.Params.PathwayGroupID); err != nil {
			return nil, err
		}
		target = pathway
	}
	data, err := sbml.WriteBytes(target)
	if err != nil {
		return nil, fmt.Errorf("worker: write: %w", err)
	}

	res := &Result{
		JobID:       req.JobID,
		Model:       data,
		ObjectiveID: out.ObjectiveID,
		Value:       out.Value,
		OK:          out.OK,
		Renamed:     merged.Reactions.Renamed(),
	}
	if out.Err != nil {
		res.SolverError = out.Err.Error()
	}
	if g := merged.Model.Group(req.Params.SinkSpeciesGroupID); g != nil {
		res.SinkSpecies = append(res.SinkSpecies, g.Members...)
	}
	return res, nil
}

func simulate(ctx context.Context, e *fba.Engine, p *Params) (fba.Outcome, error) {
	switch p.SimType {
	case SimFraction:
		return e.RunFractionReaction(ctx, fba.FractionRequest{
			Source:            p.SourceReaction,
			SourceCoefficient: p.SourceCoefficient,
			Target:            p.TargetReaction,
			TargetCoefficient: p.TargetCoefficient,
			Fraction:          p.FractionOf,
			Maximize:          p.IsMax,
			PathwayGroupID:    p.PathwayGroupID,
			ObjectiveID:       p.ObjectiveID,
		})
	case SimFBA:
		return e.RunFBA(ctx, p.SourceReaction, p.SourceCoefficient, p.IsMax, p.PathwayGroupID, p.ObjectiveID)
	case SimPFBA:
		return e.RunParsimoniousFBA(ctx, p.SourceReaction, p.SourceCoefficient, p.FractionOf, p.IsMax, p.PathwayGroupID, p.ObjectiveID)
	case SimMultiFBA:
		return e.RunMultiObjective(ctx, p.Reactions, p.Coefficients, p.IsMax, p.PathwayGroupID, p.ObjectiveID)
	default:
		return fba.Outcome{}, fmt.Errorf("worker: sim_type %q: %w", p.SimType, ErrUnknownSimType)
	}
}

// Project copies simulation results from the merged model back onto the
// pathway: result annotations of every pathway reaction and of the pathway
// group, and every objective listed in annotated. Objective terms on
// reactions the pathway does not have are left out.
func Project(pathway *model.Model, merged *merge.Result, annotated []string, pathwayGroupID string) error {
	inverse := merged.Reactions.Inverse()
	for _, r := range pathway.Reactions() {
		to, ok := merged.Reactions.Get(r.ID)
		if !ok {
			continue
		}
		if src := merged.Model.Reaction(to); src != nil {
			copyResults(&r.Annotations, &src.Annotations)
		}
	}
	if g := merged.Model.Group(pathwayGroupID); g != nil {
		copyResults(&pathway.EnsureGroup(pathwayGroupID).Annotations, &g.Annotations)
	}

	for _, id := range annotated {
		o := merged.Model.Objective(id)
		if o == nil {
			continue
		}
		proj := o.Clone()
		terms := proj.FluxObjectives[:0]
		for _, fo := range proj.FluxObjectives {
			if from, ok := inverse.Get(fo.Reaction); ok {
				fo.Reaction = from
			}
			if pathway.Reaction(fo.Reaction) != nil {
				terms = append(terms, fo)
			}
		}
		proj.FluxObjectives = terms

		existing := pathway.Objective(o.ID)
		if existing == nil {
			if err := pathway.AddObjective(proj); err != nil {
				return fmt.Errorf("worker: project objective: %w", err)
			}
			continue
		}
		existing.Annotations.CopyFrom(&proj.Annotations)
		for _, fo := range existing.FluxObjectives {
			for _, pf := range proj.FluxObjectives {
				if pf.Reaction == fo.Reaction {
					fo.Annotations.CopyFrom(&pf.Annotations)
				}
			}
		}
	}
	if active := merged.Model.ActiveObjective(); active != nil && pathway.Objective(active.ID) != nil {
		return pathway.SetActiveObjective(active.ID)
	}
	return nil
}

func copyResults(dst, src *model.Annotations) {
	for _, k := range src.Keys() {
		if !strings.HasPrefix(k, fba.ResultKeyPrefix) {
			continue
		}
		a, _ := src.Get(k)
		dst.Set(k, a.Value, a.Units)
	}
}
