package solver

import (
	"context"
	"fmt"
	"maps"
	"math"

	"github.com/starford/rpfba/internal/model"
)

const (
	defaultTol = 1e-9
	// relaxTol loosens the optimum constraint of the parsimonious stage.
	relaxTol = 1e-9
)

// Simplex is a Solver backed by a bounded-variable revised simplex over the
// sparse stoichiometric matrix. Flux bounds stay column bounds and never
// become rows.
type Simplex struct {
	// Tol is the reduced cost tolerance. Zero means 1e-9.
	Tol float64
}

// NewSimplex returns a Simplex with default tolerances.
func NewSimplex() *Simplex {
	return &Simplex{Tol: defaultTol}
}

var _ Solver = (*Simplex)(nil)

// Optimize solves the flux balance problem of m's active objective.
func (s *Simplex) Optimize(ctx context.Context, m *model.Model) (*Solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := buildNetwork(m)
	if err != nil {
		return nil, err
	}
	x, err := s.solve(ctx, &n.problem)
	if err != nil {
		return nil, err
	}
	value := n.objectiveValue(x)
	return &Solution{ObjectiveValue: value, PrimaryValue: value, Fluxes: n.fluxes(x)}, nil
}

// Parsimonious first solves the objective, then minimizes the sum of absolute
// fluxes while keeping the objective within fractionOfOptimum of its optimum.
// Reactions that can run both ways are split into a forward and a reverse
// column so that the second stage adds a single row.
func (s *Simplex) Parsimonious(ctx context.Context, m *model.Model, fractionOfOptimum float64) (*Solution, error) {
	if fractionOfOptimum <= 0 || fractionOfOptimum > 1 {
		return nil, fmt.Errorf("solver: fraction of optimum %v outside (0, 1]", fractionOfOptimum)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := buildNetwork(m)
	if err != nil {
		return nil, err
	}
	x, err := s.solve(ctx, &n.problem)
	if err != nil {
		return nil, err
	}
	optimum := n.objectiveValue(x)

	p, reverse := n.splitReversible()
	slack := (1-fractionOfOptimum)*math.Abs(optimum) + relaxTol
	bound := constraint{coef: map[int]float64{}}
	sign := 1.0
	if n.maximize {
		sign = -1
	}
	for j, c := range n.objective {
		if c == 0 {
			continue
		}
		bound.coef[j] = sign * c
		if r := reverse[j]; r >= 0 {
			bound.coef[r] = -sign * c
		}
	}
	if n.maximize {
		bound.rhs = -(optimum - slack)
	} else {
		bound.rhs = optimum + slack
	}
	p.le = append(p.le, bound)

	y, err := s.solve(ctx, p)
	if err != nil {
		return nil, err
	}
	flux := make([]float64, len(n.reactions))
	var total float64
	for j := range flux {
		flux[j] = y[j]
		if r := reverse[j]; r >= 0 {
			flux[j] -= y[r]
		}
		total += math.Abs(flux[j])
	}
	return &Solution{
		ObjectiveValue: cleanZero(total),
		PrimaryValue:   n.objectiveValue(flux),
		Fluxes:         n.fluxes(flux),
	}, nil
}

// splitReversible returns the total flux minimization problem of n. A
// reaction whose bounds straddle zero keeps its column for the forward part
// and gains a reverse column, recorded in reverse; other reactions keep
// their column, priced by the sign of their flux. reverse holds -1 for
// unsplit reactions.
func (n *network) splitReversible() (*problem, []int) {
	p := &problem{
		cost:  make([]float64, len(n.reactions)),
		lower: append([]float64(nil), n.lower...),
		upper: append([]float64(nil), n.upper...),
		eq:    make([]constraint, len(n.eq)),
		le:    append([]constraint(nil), n.le...),
	}
	rowsOf := make([][]int, len(n.reactions))
	for i, row := range n.eq {
		p.eq[i] = constraint{coef: maps.Clone(row.coef), rhs: row.rhs}
		for j := range row.coef {
			if j < len(rowsOf) {
				rowsOf[j] = append(rowsOf[j], i)
			}
		}
	}

	reverse := make([]int, len(n.reactions))
	for j := range n.reactions {
		reverse[j] = -1
		lo, up := n.lower[j], n.upper[j]
		switch {
		case lo >= 0:
			p.cost[j] = 1
		case up <= 0:
			p.cost[j] = -1
		default:
			p.cost[j] = 1
			p.lower[j] = 0
			r := p.addVar(1, 0, -lo)
			for _, i := range rowsOf[j] {
				p.eq[i].coef[r] = -p.eq[i].coef[j]
			}
			reverse[j] = r
		}
	}
	return p, reverse
}

// solve runs the bounded simplex on p and returns its variable values.
func (s *Simplex) solve(ctx context.Context, p *problem) ([]float64, error) {
	tol := s.Tol
	if tol == 0 {
		tol = defaultTol
	}
	x, err := solveBounded(ctx, standardForm(p), tol)
	if err != nil {
		return nil, err
	}
	return x[:len(p.cost)], nil
}
