// Package solver turns a model's flux network into a linear program and
// optimizes its active objective.
package solver

import (
	"context"
	"errors"

	"github.com/starford/rpfba/internal/model"
)

var (
	// ErrInfeasible is returned when no flux assignment satisfies the constraints.
	ErrInfeasible = errors.New("solver: infeasible")

	// ErrUnbounded is returned when the objective can grow without limit.
	ErrUnbounded = errors.New("solver: unbounded")

	// ErrNumerical is returned when the simplex iterations break down.
	ErrNumerical = errors.New("solver: numerical failure")

	// ErrNoObjective is returned when the model has no active objective.
	ErrNoObjective = errors.New("solver: no active objective")
)

// Solution is an optimal flux assignment.
type Solution struct {
	// ObjectiveValue is the optimum of the solved problem. For parsimonious
	// solves it is the minimal total absolute flux.
	ObjectiveValue float64
	// PrimaryValue is the active objective evaluated at the returned fluxes.
	PrimaryValue float64
	Fluxes       map[string]float64
}

// Flux returns the flux of a reaction. ok is false when the solution has no
// value for it.
func (s *Solution) Flux(reactionID string) (float64, bool) {
	v, ok := s.Fluxes[reactionID]
	return v, ok
}

// Solver optimizes the active objective of a model subject to mass balance
// over non-boundary species and reaction flux bounds.
type Solver interface {
	Optimize(ctx context.Context, m *model.Model) (*Solution, error)
	// Parsimonious returns the minimum total flux solution among those
	// reaching at least fractionOfOptimum of the objective optimum.
	Parsimonious(ctx context.Context, m *model.Model, fractionOfOptimum float64) (*Solution, error)
}
