// Package fba runs flux balance analyses on a merged model and writes the
// results back onto it as annotations.
package fba

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/model"
	"github.com/starford/rpfba/internal/objective"
	"github.com/starford/rpfba/internal/solver"
)

// ErrFraction is returned for a fraction of optimum outside (0, 1].
var ErrFraction = fmt.Errorf("%w: fraction must lie in (0, 1]", apperr.ErrConfig)

// State is the position of an Engine in its per-request cycle.
type State int

const (
	Idle State = iota
	ObjectiveSelected
	Solved
	ResultsWritten
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ObjectiveSelected:
		return "objective_selected"
	case Solved:
		return "solved"
	case ResultsWritten:
		return "results_written"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the result of one analysis. OK is false when the solver failed;
// the zero value was then written in place of the results and Err holds the
// solver error.
type Outcome struct {
	ObjectiveID string
	Value       float64
	OK          bool
	Err         error
}

// Engine runs analyses against a single model. It is not safe for
// concurrent use.
type Engine struct {
	m          *model.Model
	objectives *objective.Manager
	solver     solver.Solver
	logger     *slog.Logger
	state      State
	annotated  []string
}

// NewEngine returns an Engine over m.
func NewEngine(m *model.Model, s solver.Solver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		m:          m,
		objectives: objective.New(m),
		solver:     s,
		logger:     logger,
	}
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Annotated returns the ids of the objectives this engine wrote results
// onto, in first-write order.
func (e *Engine) Annotated() []string {
	return append([]string(nil), e.annotated...)
}

// Model returns the model the engine writes to.
func (e *Engine) Model() *model.Model { return e.m }

// ValidateFraction checks that f lies in (0, 1].
func ValidateFraction(f float64) error {
	if !(f > 0 && f <= 1) {
		return fmt.Errorf("fba: fraction %v: %w", f, ErrFraction)
	}
	return nil
}

// RunFBA maximizes or minimizes coefficient * flux(reactionID). An empty
// objectiveID selects the default single-reaction id.
func (e *Engine) RunFBA(ctx context.Context, reactionID string, coefficient float64, maximize bool, pathwayGroupID, objectiveID string) (Outcome, error) {
	e.state = Idle
	id, err := e.objectives.FindOrCreate([]string{reactionID}, []float64{coefficient}, maximize, objectiveID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fba: %w", err)
	}
	return e.solve(ctx, id, pathwayGroupID, 0)
}

// RunParsimoniousFBA returns the minimum total flux solution among those
// reaching fraction of the optimum of reactionID.
func (e *Engine) RunParsimoniousFBA(ctx context.Context, reactionID string, coefficient, fraction float64, maximize bool, pathwayGroupID, objectiveID string) (Outcome, error) {
	if err := ValidateFraction(fraction); err != nil {
		return Outcome{}, err
	}
	e.state = Idle
	id, err := e.objectives.FindOrCreate([]string{reactionID}, []float64{coefficient}, maximize, objectiveID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fba: %w", err)
	}
	return e.solve(ctx, id, pathwayGroupID, fraction)
}

// FractionRequest parameterizes RunFractionReaction.
type FractionRequest struct {
	Source            string
	SourceCoefficient float64
	Target            string
	TargetCoefficient float64
	Fraction          float64
	Maximize          bool
	PathwayGroupID    string
	// ObjectiveID overrides the id of the target objective.
	ObjectiveID string
}

// RunFractionReaction optimizes the source reaction (or reuses a recorded
// optimum), fixes its flux to Fraction of that optimum and optimizes the
// target reaction. The source bounds are restored before returning on every
// path.
func (e *Engine) RunFractionReaction(ctx context.Context, req FractionRequest) (out Outcome, err error) {
	if err := ValidateFraction(req.Fraction); err != nil {
		return Outcome{}, err
	}
	e.state = Idle

	targetID := req.ObjectiveID
	if targetID == "" {
		targetID = objective.FractionID(req.Target, req.Source)
	}

	sourceID := objective.DefaultID([]string{req.Source})
	sourceFlux, cached := cachedFlux(e.m, sourceID, req.Source)
	if cached {
		e.logger.Debug("fba: reusing source optimum",
			slog.String("objective_id", sourceID),
			slog.Float64("flux", sourceFlux))
	} else {
		first, err := e.RunFBA(ctx, req.Source, req.SourceCoefficient, req.Maximize, req.PathwayGroupID, "")
		if err != nil {
			return Outcome{}, err
		}
		if !first.OK {
			id, err := e.objectives.FindOrCreate([]string{req.Target}, []float64{req.TargetCoefficient}, req.Maximize, targetID)
			if err != nil {
				return Outcome{}, fmt.Errorf("fba: %w", err)
			}
			if err := e.write(id, nil, req.PathwayGroupID); err != nil {
				return Outcome{}, err
			}
			e.state = ResultsWritten
			return Outcome{ObjectiveID: id, Err: first.Err}, nil
		}
		sourceFlux, _ = cachedFlux(e.m, sourceID, req.Source)
	}

	pinned := sourceFlux * req.Fraction
	prev, err := e.objectives.SetReactionBounds(req.Source, pinned, pinned)
	if err != nil {
		return Outcome{}, fmt.Errorf("fba: pin %q: %w", req.Source, err)
	}
	defer func() {
		if rerr := e.objectives.RestoreBounds(req.Source, prev); rerr != nil && err == nil {
			err = fmt.Errorf("fba: restore %q: %w", req.Source, rerr)
		}
	}()

	id, err := e.objectives.FindOrCreate([]string{req.Target}, []float64{req.TargetCoefficient}, req.Maximize, targetID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fba: %w", err)
	}
	return e.solve(ctx, id, req.PathwayGroupID, 0)
}

// RunMultiObjective optimizes a weighted sum of several reaction fluxes in
// one solve.
func (e *Engine) RunMultiObjective(ctx context.Context, reactionIDs []string, coefficients []float64, maximize bool, pathwayGroupID, objectiveID string) (Outcome, error) {
	e.state = Idle
	id, err := e.objectives.FindOrCreate(reactionIDs, coefficients, maximize, objectiveID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fba: %w", err)
	}
	return e.solve(ctx, id, pathwayGroupID, 0)
}

// solve activates objectiveID, optimizes and writes the results. A positive
// fraction requests a parsimonious solve.
func (e *Engine) solve(ctx context.Context, objectiveID, pathwayGroupID string, fraction float64) (Outcome, error) {
	if err := e.objectives.SetActive(objectiveID); err != nil {
		return Outcome{}, fmt.Errorf("fba: %w", err)
	}
	e.state = ObjectiveSelected

	var (
		sol *solver.Solution
		err error
	)
	if fraction > 0 {
		sol, err = e.solver.Parsimonious(ctx, e.m, fraction)
	} else {
		sol, err = e.solver.Optimize(ctx, e.m)
	}
	e.state = Solved
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, fmt.Errorf("fba: %w", err)
		}
		e.logger.Warn("fba: optimization failed",
			slog.String("objective_id", objectiveID),
			slog.String("error", err.Error()))
		if werr := e.write(objectiveID, nil, pathwayGroupID); werr != nil {
			return Outcome{}, werr
		}
		e.state = ResultsWritten
		return Outcome{ObjectiveID: objectiveID, Err: err}, nil
	}

	if err := e.write(objectiveID, sol, pathwayGroupID); err != nil {
		return Outcome{}, err
	}
	if fraction > 0 {
		e.m.Objective(objectiveID).Annotations.SetFloat(KeyPrimaryFluxValue, sol.PrimaryValue, model.FluxUnits)
	}
	e.state = ResultsWritten
	e.logger.Debug("fba: solved",
		slog.String("objective_id", objectiveID),
		slog.Float64("value", sol.ObjectiveValue))
	return Outcome{ObjectiveID: objectiveID, Value: sol.ObjectiveValue, OK: true}, nil
}

func (e *Engine) write(objectiveID string, sol *solver.Solution, pathwayGroupID string) error {
	if err := WriteResults(e.m, objectiveID, sol, pathwayGroupID); err != nil {
		return err
	}
	if !slices.Contains(e.annotated, objectiveID) {
		e.annotated = append(e.annotated, objectiveID)
	}
	return nil
}
